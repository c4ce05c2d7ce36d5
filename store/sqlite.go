package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"news-search-service/model"
)

const sqliteBackend = "sqlite"

// SQLite keeps fetch times as unix nanoseconds so ordering is numeric.
// Published times come from upstream and may fall outside the int64
// nanosecond range, so they are split into seconds and a nanosecond part.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at dbPath and migrates its schema.
func OpenSQLite(dbPath string) (*SQLite, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS articles (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			keyword      TEXT NOT NULL,
			user_id      TEXT NOT NULL,
			source_id    TEXT NOT NULL DEFAULT '',
			source_name  TEXT NOT NULL DEFAULT '',
			author       TEXT NOT NULL DEFAULT '',
			title        TEXT NOT NULL DEFAULT '',
			description  TEXT NOT NULL DEFAULT '',
			url          TEXT NOT NULL DEFAULT '',
			url_to_image TEXT NOT NULL DEFAULT '',
			published_at INTEGER,
			published_ns INTEGER NOT NULL DEFAULT 0,
			content      TEXT NOT NULL DEFAULT '',
			fetched_at   INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS search_history (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			keyword    TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}

	if err := s.migratePublishedAt(); err != nil {
		return err
	}

	_, err = s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_articles_key ON articles(user_id, keyword, fetched_at DESC);
		CREATE INDEX IF NOT EXISTS idx_articles_published_ns ON articles(user_id, keyword, published_at DESC, published_ns DESC);
		CREATE INDEX IF NOT EXISTS idx_search_history_user ON search_history(user_id, created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("creating indexes: %w", err)
	}
	return nil
}

// migratePublishedAt converts databases that stored published_at as unix
// nanoseconds to the seconds plus published_ns layout.
func (s *SQLite) migratePublishedAt() error {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('articles') WHERE name = 'published_ns'`).Scan(&n)
	if err != nil {
		return fmt.Errorf("inspecting articles schema: %w", err)
	}
	if n > 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`ALTER TABLE articles ADD COLUMN published_ns INTEGER NOT NULL DEFAULT 0`); err != nil {
		return fmt.Errorf("adding published_ns: %w", err)
	}
	if _, err := tx.Exec(`
		UPDATE articles
		SET published_ns = published_at % 1000000000, published_at = published_at / 1000000000
		WHERE published_at IS NOT NULL
	`); err != nil {
		return fmt.Errorf("converting published_at: %w", err)
	}
	if _, err := tx.Exec(`DROP INDEX IF EXISTS idx_articles_published`); err != nil {
		return fmt.Errorf("dropping old index: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) RecordSearch(ctx context.Context, rec model.SearchRecord) (err error) {
	defer observe(sqliteBackend, "record_search", time.Now(), &err)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO search_history (keyword, user_id, created_at) VALUES (?, ?, ?)`,
		rec.Keyword, rec.User, rec.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("recording search %q: %w", rec.Keyword, err)
	}
	return nil
}

func (s *SQLite) LatestFetch(ctx context.Context, keyword, user string) (_ time.Time, _ bool, err error) {
	defer observe(sqliteBackend, "latest_fetch", time.Now(), &err)

	var fetched sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT MAX(fetched_at) FROM articles WHERE keyword = ? AND user_id = ?`,
		keyword, user).Scan(&fetched)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("querying latest fetch: %w", err)
	}
	if !fetched.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(0, fetched.Int64).UTC(), true, nil
}

// ReplaceArticles swaps the set for (keyword, user) inside a transaction.
func (s *SQLite) ReplaceArticles(ctx context.Context, keyword, user string, articles []model.Article) (err error) {
	defer observe(sqliteBackend, "replace", time.Now(), &err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM articles WHERE keyword = ? AND user_id = ?`, keyword, user); err != nil {
		return fmt.Errorf("deleting articles for %q: %w", keyword, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO articles (keyword, user_id, source_id, source_name, author, title, description,
			url, url_to_image, published_at, published_ns, content, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range articles {
		var (
			published   sql.NullInt64
			publishedNs int64
		)
		if a.PublishedAt != nil {
			published = sql.NullInt64{Int64: a.PublishedAt.Unix(), Valid: true}
			publishedNs = int64(a.PublishedAt.Nanosecond())
		}
		_, err := stmt.ExecContext(ctx, keyword, user, a.Source.ID, a.Source.Name, a.Author, a.Title,
			a.Description, a.URL, a.URLToImage, published, publishedNs, a.Content, a.FetchedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("inserting article %s: %w", a.URL, err)
		}
	}

	return tx.Commit()
}

func (s *SQLite) Keywords(ctx context.Context, user string) (_ []string, err error) {
	defer observe(sqliteBackend, "keywords", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT keyword FROM articles WHERE user_id = ? ORDER BY keyword`, user)
	if err != nil {
		return nil, fmt.Errorf("querying keywords: %w", err)
	}
	defer rows.Close()

	var keywords []string
	for rows.Next() {
		var kw string
		if err := rows.Scan(&kw); err != nil {
			return nil, fmt.Errorf("scanning keyword: %w", err)
		}
		keywords = append(keywords, kw)
	}
	return keywords, rows.Err()
}

// Articles returns the cached set, newest publication first, undated last.
func (s *SQLite) Articles(ctx context.Context, keyword, user string, limit int) (_ []model.Article, err error) {
	defer observe(sqliteBackend, "articles", time.Now(), &err)

	query := `SELECT keyword, user_id, source_id, source_name, author, title, description, url,
			url_to_image, published_at, published_ns, content, fetched_at
		FROM articles WHERE keyword = ? AND user_id = ?
		ORDER BY published_at IS NULL, published_at DESC, published_ns DESC, id`
	args := []any{keyword, user}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying articles: %w", err)
	}
	defer rows.Close()

	var articles []model.Article
	for rows.Next() {
		var (
			a           model.Article
			published   sql.NullInt64
			publishedNs int64
			fetched     int64
		)
		if err := rows.Scan(&a.Keyword, &a.User, &a.Source.ID, &a.Source.Name, &a.Author, &a.Title,
			&a.Description, &a.URL, &a.URLToImage, &published, &publishedNs, &a.Content, &fetched); err != nil {
			return nil, fmt.Errorf("scanning article: %w", err)
		}
		if published.Valid {
			t := time.Unix(published.Int64, publishedNs).UTC()
			a.PublishedAt = &t
		}
		a.FetchedAt = time.Unix(0, fetched).UTC()
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

func (s *SQLite) Searches(ctx context.Context, user string, limit int) (_ []model.SearchRecord, err error) {
	defer observe(sqliteBackend, "searches", time.Now(), &err)

	query := `SELECT keyword, user_id, created_at FROM search_history WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{user}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying searches: %w", err)
	}
	defer rows.Close()

	var records []model.SearchRecord
	for rows.Next() {
		var (
			rec     model.SearchRecord
			created int64
		)
		if err := rows.Scan(&rec.Keyword, &rec.User, &created); err != nil {
			return nil, fmt.Errorf("scanning search: %w", err)
		}
		rec.Timestamp = time.Unix(0, created).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}
