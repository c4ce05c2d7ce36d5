// Package store persists cached articles per (keyword, user) and the
// append-only search log.
package store

import (
	"context"
	"time"

	"news-search-service/model"
)

// ArticleStore is implemented by the SQLite and MongoDB backends.
type ArticleStore interface {
	// RecordSearch appends one entry to the search log.
	RecordSearch(ctx context.Context, rec model.SearchRecord) error

	// LatestFetch returns the most recent fetch time for (keyword, user).
	// ok is false when nothing is cached for the key.
	LatestFetch(ctx context.Context, keyword, user string) (fetchedAt time.Time, ok bool, err error)

	// ReplaceArticles deletes every article for (keyword, user) and inserts
	// the given set in one transaction.
	ReplaceArticles(ctx context.Context, keyword, user string, articles []model.Article) error

	// Keywords returns the distinct keywords the user has cached articles for.
	Keywords(ctx context.Context, user string) ([]string, error)

	// Articles returns cached articles ordered by published-at descending,
	// unknown dates last. limit <= 0 returns all.
	Articles(ctx context.Context, keyword, user string, limit int) ([]model.Article, error)

	// Searches returns the user's most recent search log entries, newest first.
	Searches(ctx context.Context, user string, limit int) ([]model.SearchRecord, error)

	Close() error
}
