package fetcher

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"news-search-service/model"
)

type rawObject map[string]json.RawMessage

// envelope is the top-level shape of the news endpoint response.
type envelope struct {
	Status   string      `json:"status"`
	Code     string      `json:"code"`
	Message  string      `json:"message"`
	Articles []rawObject `json:"articles"`
}

var errEmptyResponse = errors.New("empty response")

func decodeEnvelope(body []byte) (*envelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errEmptyResponse
	}

	var doc rawObject
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, err
	}
	if len(doc) == 0 {
		return nil, errEmptyResponse
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// decodeArticle maps one upstream element onto the fixed Article shape.
// Absent string fields become model.Placeholder, JSON null becomes "",
// and publishedAt is nil unless it parses as RFC 3339.
func decodeArticle(raw rawObject) model.Article {
	a := model.Article{
		Author:      stringField(raw, "author"),
		Title:       stringField(raw, "title"),
		Description: stringField(raw, "description"),
		URL:         stringField(raw, "url"),
		URLToImage:  stringField(raw, "urlToImage"),
		PublishedAt: timeField(raw, "publishedAt"),
		Content:     stringField(raw, "content"),
	}

	var source rawObject
	if v, ok := raw["source"]; ok && !isNull(v) {
		_ = json.Unmarshal(v, &source)
	}
	a.Source = model.Source{
		ID:   stringField(source, "id"),
		Name: stringField(source, "name"),
	}
	return a
}

func stringField(raw rawObject, key string) string {
	v, ok := raw[key]
	if !ok {
		return model.Placeholder
	}
	if isNull(v) {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		// non-string values are stored as their JSON text
		return string(bytes.TrimSpace(v))
	}
	return s
}

func timeField(raw rawObject, key string) *time.Time {
	v, ok := raw[key]
	if !ok || isNull(v) {
		return nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func responseSnippet(body []byte) string {
	const maxLen = 512
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	if s == "" {
		return "<empty>"
	}
	return s
}
