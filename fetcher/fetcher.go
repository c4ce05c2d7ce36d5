package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"news-search-service/model"
)

// Fetcher returns the upstream articles for a keyword.
type Fetcher interface {
	Fetch(ctx context.Context, keyword string) ([]model.Article, error)
}

// Options configures the upstream client.
type Options struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// Client calls the news endpoint with `q` and `apiKey` query parameters.
type Client struct {
	http    *resty.Client
	baseURL string
	apiKey  string
	log     *zap.Logger
}

// New creates a client that never retries; Timeout defaults to 30s.
func New(opts Options, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "news-search-service/1.0"
	}

	rc := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", opts.UserAgent)

	return &Client{
		http:    rc,
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		log:     log,
	}
}

// Fetch performs one GET against the endpoint. Every failure is an *UpstreamError.
// Returned articles carry no keyword, user or fetch time.
func (c *Client) Fetch(ctx context.Context, keyword string) ([]model.Article, error) {
	start := time.Now()
	c.log.Debug("Fetching upstream news", zap.String("keyword", keyword))

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":      keyword,
			"apiKey": c.apiKey,
		}).
		Get(c.baseURL)
	if err != nil {
		return nil, &UpstreamError{Keyword: keyword, Message: "transport error", Err: redact(err)}
	}

	env, err := decodeEnvelope(resp.Body())
	if err != nil {
		return nil, &UpstreamError{
			Keyword:    keyword,
			StatusCode: resp.StatusCode(),
			Message:    "malformed response: " + responseSnippet(resp.Body()),
			Err:        err,
		}
	}
	if env.Status == "error" {
		msg := env.Message
		if msg == "" {
			msg = env.Code
		}
		return nil, &UpstreamError{Keyword: keyword, StatusCode: resp.StatusCode(), Message: msg}
	}
	if resp.IsError() {
		return nil, &UpstreamError{
			Keyword:    keyword,
			StatusCode: resp.StatusCode(),
			Message:    "unexpected status: " + responseSnippet(resp.Body()),
		}
	}

	articles := make([]model.Article, 0, len(env.Articles))
	for _, raw := range env.Articles {
		articles = append(articles, decodeArticle(raw))
	}

	c.log.Info("Fetched upstream news",
		zap.String("keyword", keyword),
		zap.Int("articles", len(articles)),
		zap.Duration("took", time.Since(start)))
	return articles, nil
}

// redact strips the query string, which carries the API key, from URL errors.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if u, perr := url.Parse(urlErr.URL); perr == nil {
			u.RawQuery = ""
			return &url.Error{Op: urlErr.Op, URL: u.String(), Err: urlErr.Err}
		}
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}
