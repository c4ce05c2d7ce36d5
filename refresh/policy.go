// Package refresh decides when cached articles for a (keyword, user) pair are
// served as-is and when they are fetched again and replaced.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"news-search-service/events"
	"news-search-service/fetcher"
	"news-search-service/metrics"
	"news-search-service/model"
	"news-search-service/store"
)

const (
	historyLimit       = 5
	defaultConcurrency = 4
)

var (
	ErrEmptyKeyword = errors.New("keyword must not be empty")
	ErrEmptyUser    = errors.New("user must not be empty")
)

// Option mutates policy configuration.
type Option func(*Policy)

// WithLogger injects a logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *Policy) {
		if log != nil {
			p.log = log
		}
	}
}

// WithPublisher sets where fetch results are reported.
func WithPublisher(pub events.Publisher) Option {
	return func(p *Policy) {
		if pub != nil {
			p.publisher = pub
		}
	}
}

// WithClock overrides the source of fetch timestamps.
func WithClock(clock func() time.Time) Option {
	return func(p *Policy) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithConcurrency bounds how many keywords RefreshAll fetches at once.
func WithConcurrency(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// Policy applies the staleness threshold to a store and an upstream fetcher.
type Policy struct {
	store       store.ArticleStore
	fetcher     fetcher.Fetcher
	threshold   time.Duration
	publisher   events.Publisher
	log         *zap.Logger
	clock       func() time.Time
	concurrency int
	locks       keyLocks
}

// New builds a policy that treats cached articles older than threshold as stale.
func New(st store.ArticleStore, f fetcher.Fetcher, threshold time.Duration, opts ...Option) *Policy {
	p := &Policy{
		store:       st,
		fetcher:     f,
		threshold:   threshold,
		publisher:   events.Nop{},
		log:         zap.NewNop(),
		clock:       func() time.Time { return time.Now().UTC() },
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnsureFresh records the search, then fetches and replaces the cached
// articles if there are none or they are older than the threshold.
// fetched reports whether a fetch-and-replace was attempted.
func (p *Policy) EnsureFresh(ctx context.Context, keyword, user string, now time.Time) (fetched bool, err error) {
	if err := validate(keyword, user); err != nil {
		return false, err
	}

	rec := model.SearchRecord{Keyword: keyword, User: user, Timestamp: now.UTC()}
	if err := p.store.RecordSearch(ctx, rec); err != nil {
		return false, err
	}

	fetchedAt, ok, err := p.store.LatestFetch(ctx, keyword, user)
	if err != nil {
		return false, err
	}

	decision := "fresh"
	switch {
	case !ok:
		decision = "miss"
	case now.Sub(fetchedAt) > p.threshold:
		decision = "stale"
	}
	metrics.CacheDecisions.WithLabelValues(decision).Inc()

	if decision == "fresh" {
		p.log.Debug("Serving cached articles",
			zap.String("keyword", keyword),
			zap.String("user", user),
			zap.Duration("age", now.Sub(fetchedAt)))
		return false, nil
	}

	p.log.Info("Refreshing articles",
		zap.String("keyword", keyword),
		zap.String("user", user),
		zap.String("decision", decision))
	_, err = p.FetchAndReplace(ctx, keyword, user)
	return true, err
}

// FetchAndReplace calls upstream and, when it returns at least one article,
// swaps the cached set for (keyword, user). On any error the cached set is
// left as it was.
func (p *Policy) FetchAndReplace(ctx context.Context, keyword, user string) (model.FetchResult, error) {
	if err := validate(keyword, user); err != nil {
		return model.FetchResult{Keyword: keyword, User: user, Error: err.Error()}, err
	}

	unlock := p.locks.lock(cacheKey{keyword: keyword, user: user})
	defer unlock()

	result := model.FetchResult{
		Keyword:   keyword,
		User:      user,
		RequestID: uuid.NewString(),
	}

	start := time.Now()
	articles, err := p.fetcher.Fetch(ctx, keyword)
	metrics.UpstreamFetchDuration.Observe(time.Since(start).Seconds())
	result.FetchedAt = p.clock()
	if err != nil {
		metrics.NewsArticlesFetched.WithLabelValues("error").Inc()
		p.log.Error("Upstream fetch failed",
			zap.String("keyword", keyword),
			zap.String("user", user),
			zap.Error(err))
		return p.finish(ctx, result, err)
	}

	result.ArticleCount = len(articles)
	if len(articles) == 0 {
		p.log.Info("Upstream returned no articles, keeping cached set",
			zap.String("keyword", keyword),
			zap.String("user", user))
		return p.finish(ctx, result, nil)
	}

	for i := range articles {
		articles[i].Keyword = keyword
		articles[i].User = user
		articles[i].FetchedAt = result.FetchedAt
	}
	if err := p.store.ReplaceArticles(ctx, keyword, user, articles); err != nil {
		p.log.Error("Replacing cached articles failed",
			zap.String("keyword", keyword),
			zap.String("user", user),
			zap.Error(err))
		return p.finish(ctx, result, fmt.Errorf("replacing articles for %q: %w", keyword, err))
	}

	result.Replaced = true
	metrics.NewsArticlesFetched.WithLabelValues("success").Add(float64(len(articles)))
	p.log.Info("Replaced cached articles",
		zap.String("keyword", keyword),
		zap.String("user", user),
		zap.Int("articles", len(articles)),
		zap.String("request_id", result.RequestID))
	return p.finish(ctx, result, nil)
}

func (p *Policy) finish(ctx context.Context, result model.FetchResult, err error) (model.FetchResult, error) {
	result.Success = err == nil
	if err != nil {
		result.Error = err.Error()
	}
	if perr := p.publisher.PublishResult(ctx, result); perr != nil {
		p.log.Warn("Failed to publish fetch result",
			zap.String("keyword", result.Keyword),
			zap.Error(perr))
	}
	return result, err
}

// RefreshAll force-refreshes every keyword the user has cached articles for.
// Every keyword is attempted; the returned error joins the individual
// failures. Results are ordered by keyword.
func (p *Policy) RefreshAll(ctx context.Context, user string) ([]model.FetchResult, error) {
	if strings.TrimSpace(user) == "" {
		return nil, ErrEmptyUser
	}

	keywords, err := p.store.Keywords(ctx, user)
	if err != nil {
		return nil, err
	}
	p.log.Warn("Refreshing all cached keywords",
		zap.String("user", user),
		zap.Int("keywords", len(keywords)))

	results := make([]model.FetchResult, len(keywords))
	errs := make([]error, len(keywords))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, kw := range keywords {
		i, kw := i, kw
		g.Go(func() error {
			results[i], errs[i] = p.FetchAndReplace(ctx, kw, user)
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

// TopFive returns, per cached keyword, the five most recently published articles.
func (p *Policy) TopFive(ctx context.Context, user string) (map[string][]model.Article, error) {
	if strings.TrimSpace(user) == "" {
		return nil, ErrEmptyUser
	}

	keywords, err := p.store.Keywords(ctx, user)
	if err != nil {
		return nil, err
	}

	history := make(map[string][]model.Article, len(keywords))
	for _, kw := range keywords {
		articles, err := p.store.Articles(ctx, kw, user, historyLimit)
		if err != nil {
			return nil, err
		}
		history[kw] = articles
	}
	return history, nil
}

// Articles returns every cached article for the key, newest publication first.
func (p *Policy) Articles(ctx context.Context, keyword, user string) ([]model.Article, error) {
	if err := validate(keyword, user); err != nil {
		return nil, err
	}
	return p.store.Articles(ctx, keyword, user, 0)
}

// Searches returns the user's latest search log entries.
func (p *Policy) Searches(ctx context.Context, user string, limit int) ([]model.SearchRecord, error) {
	if strings.TrimSpace(user) == "" {
		return nil, ErrEmptyUser
	}
	return p.store.Searches(ctx, user, limit)
}

func validate(keyword, user string) error {
	if strings.TrimSpace(keyword) == "" {
		return ErrEmptyKeyword
	}
	if strings.TrimSpace(user) == "" {
		return ErrEmptyUser
	}
	return nil
}
