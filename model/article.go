// model/article.go
package model

import "time"

// Placeholder is stored for string fields the upstream omitted entirely.
const Placeholder = "-"

// Source identifies the publisher of an article.
type Source struct {
	ID   string `json:"id" bson:"id"`
	Name string `json:"name" bson:"name"`
}

// Article is one cached upstream result owned by a (keyword, user) pair.
type Article struct {
	Keyword     string     `json:"keyword" bson:"keyword"`
	User        string     `json:"-" bson:"user"`
	Source      Source     `json:"source" bson:"source"`
	Author      string     `json:"author" bson:"author"`
	Title       string     `json:"title" bson:"title"`
	Description string     `json:"description" bson:"description"`
	URL         string     `json:"url" bson:"url"`
	URLToImage  string     `json:"urlToImage" bson:"urlToImage"`
	PublishedAt *time.Time `json:"publishedAt" bson:"publishedAt,omitempty"`
	Content     string     `json:"content" bson:"content"`
	FetchedAt   time.Time  `json:"fetchedAt" bson:"fetchedAt"`
}

// SearchRecord is one entry of the append-only search log.
type SearchRecord struct {
	Keyword   string    `json:"keyword" bson:"keyword"`
	User      string    `json:"user" bson:"user"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// FetchResult summarizes one fetch-and-replace attempt.
type FetchResult struct {
	Keyword      string    `json:"keyword"`
	User         string    `json:"user"`
	ArticleCount int       `json:"articleCount"`
	Replaced     bool      `json:"replaced"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	FetchedAt    time.Time `json:"fetchedAt"`
	RequestID    string    `json:"requestId"`
}
