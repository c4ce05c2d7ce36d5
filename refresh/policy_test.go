package refresh

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"news-search-service/fetcher"
	"news-search-service/model"
	"news-search-service/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const threshold = 15 * time.Minute

// fakeFetcher returns canned articles per keyword and counts calls.
type fakeFetcher struct {
	mu       sync.Mutex
	calls    map[string]int
	articles map[string][]model.Article
	errs     map[string]error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		calls:    make(map[string]int),
		articles: make(map[string][]model.Article),
		errs:     make(map[string]error),
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, keyword string) ([]model.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[keyword]++
	if err := f.errs[keyword]; err != nil {
		return nil, err
	}
	src := f.articles[keyword]
	out := make([]model.Article, len(src))
	copy(out, src)
	return out, nil
}

func (f *fakeFetcher) set(keyword string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	articles := make([]model.Article, n)
	for i := range articles {
		published := base.Add(time.Duration(i) * time.Hour)
		articles[i] = model.Article{
			Title:       fmt.Sprintf("%s %d", keyword, i),
			URL:         fmt.Sprintf("https://news/%s/%d", keyword, i),
			PublishedAt: &published,
		}
	}
	f.articles[keyword] = articles
	delete(f.errs, keyword)
}

func (f *fakeFetcher) fail(keyword string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[keyword] = err
}

func (f *fakeFetcher) count(keyword string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[keyword]
}

type recordingPublisher struct {
	mu      sync.Mutex
	results []model.FetchResult
}

func (r *recordingPublisher) PublishResult(_ context.Context, result model.FetchResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	return nil
}

func (r *recordingPublisher) Close() {}

type fixture struct {
	policy    *Policy
	store     *store.SQLite
	fetcher   *fakeFetcher
	publisher *recordingPublisher
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "news.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	fx := &fixture{
		store:     db,
		fetcher:   newFakeFetcher(),
		publisher: &recordingPublisher{},
		now:       time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC),
	}
	fx.policy = New(db, fx.fetcher, threshold,
		WithPublisher(fx.publisher),
		WithClock(func() time.Time { return fx.now }),
		WithConcurrency(2),
	)
	return fx
}

func (fx *fixture) articles(t *testing.T, keyword, user string) []model.Article {
	t.Helper()
	got, err := fx.store.Articles(context.Background(), keyword, user, 0)
	if err != nil {
		t.Fatalf("articles: %v", err)
	}
	return got
}

func (fx *fixture) searches(t *testing.T, user string) []model.SearchRecord {
	t.Helper()
	got, err := fx.store.Searches(context.Background(), user, 0)
	if err != nil {
		t.Fatalf("searches: %v", err)
	}
	return got
}

func TestEnsureFreshFetchesWhenAbsent(t *testing.T) {
	fx := newFixture(t)
	fx.fetcher.set("go", 3)

	fetched, err := fx.policy.EnsureFresh(context.Background(), "go", "alice", fx.now)
	if err != nil {
		t.Fatalf("ensure fresh: %v", err)
	}
	if !fetched {
		t.Error("expected a fetch for an uncached keyword")
	}
	if n := fx.fetcher.count("go"); n != 1 {
		t.Errorf("expected exactly 1 fetch, got %d", n)
	}
	if got := fx.articles(t, "go", "alice"); len(got) != 3 {
		t.Errorf("expected 3 cached articles, got %d", len(got))
	}
}

func TestEnsureFreshThreshold(t *testing.T) {
	const eps = time.Second
	tests := []struct {
		name      string
		age       time.Duration
		wantFetch bool
	}{
		{"just fresh", threshold - eps, false},
		{"exactly threshold", threshold, false},
		{"just stale", threshold + eps, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			fx.fetcher.set("go", 2)
			ctx := context.Background()

			if _, err := fx.policy.FetchAndReplace(ctx, "go", "alice"); err != nil {
				t.Fatalf("seed: %v", err)
			}
			before := fx.fetcher.count("go")

			fetched, err := fx.policy.EnsureFresh(ctx, "go", "alice", fx.now.Add(tt.age))
			if err != nil {
				t.Fatalf("ensure fresh: %v", err)
			}
			if fetched != tt.wantFetch {
				t.Errorf("fetched = %v, want %v", fetched, tt.wantFetch)
			}
			want := 0
			if tt.wantFetch {
				want = 1
			}
			if got := fx.fetcher.count("go") - before; got != want {
				t.Errorf("expected %d fetches, got %d", want, got)
			}
		})
	}
}

func TestEnsureFreshAlwaysRecordsSearch(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.fetcher.set("go", 1)

	// miss, then fresh hit, then a failing stale refresh
	if _, err := fx.policy.EnsureFresh(ctx, "go", "alice", fx.now); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := fx.policy.EnsureFresh(ctx, "go", "alice", fx.now.Add(time.Minute)); err != nil {
		t.Fatalf("second: %v", err)
	}
	fx.fetcher.fail("go", &fetcher.UpstreamError{Keyword: "go", Message: "boom"})
	if _, err := fx.policy.EnsureFresh(ctx, "go", "alice", fx.now.Add(time.Hour)); err == nil {
		t.Fatal("expected upstream error on stale refresh")
	}

	if got := fx.searches(t, "alice"); len(got) != 3 {
		t.Errorf("expected 3 search records, got %d", len(got))
	}
}

func TestEnsureFreshValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.policy.EnsureFresh(ctx, "  ", "alice", fx.now); !errors.Is(err, ErrEmptyKeyword) {
		t.Errorf("expected ErrEmptyKeyword, got %v", err)
	}
	if _, err := fx.policy.EnsureFresh(ctx, "go", "", fx.now); !errors.Is(err, ErrEmptyUser) {
		t.Errorf("expected ErrEmptyUser, got %v", err)
	}
	if got := fx.searches(t, "alice"); len(got) != 0 {
		t.Errorf("invalid searches must not be recorded, got %d", len(got))
	}
}

func TestFetchAndReplaceReplacesWholeSet(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.fetcher.set("go", 4)
	if _, err := fx.policy.FetchAndReplace(ctx, "go", "alice"); err != nil {
		t.Fatalf("first: %v", err)
	}

	fx.now = fx.now.Add(time.Hour)
	fx.fetcher.set("go", 2)
	result, err := fx.policy.FetchAndReplace(ctx, "go", "alice")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !result.Replaced || !result.Success || result.ArticleCount != 2 {
		t.Errorf("unexpected result: %+v", result)
	}

	got := fx.articles(t, "go", "alice")
	if len(got) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(got))
	}
	for _, a := range got {
		if !a.FetchedAt.Equal(fx.now) {
			t.Errorf("article %q left over from prior set", a.Title)
		}
	}
}

func TestFetchAndReplaceEmptyKeepsCache(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.fetcher.set("go", 3)
	if _, err := fx.policy.FetchAndReplace(ctx, "go", "alice"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	before := fx.articles(t, "go", "alice")

	fx.fetcher.set("go", 0)
	fx.now = fx.now.Add(time.Hour)
	result, err := fx.policy.FetchAndReplace(ctx, "go", "alice")
	if err != nil {
		t.Fatalf("empty fetch should not fail: %v", err)
	}
	if result.Replaced {
		t.Error("empty fetch must not replace")
	}

	after := fx.articles(t, "go", "alice")
	if len(after) != len(before) {
		t.Fatalf("expected %d articles, got %d", len(before), len(after))
	}
	for i := range before {
		if before[i].Title != after[i].Title || !before[i].FetchedAt.Equal(after[i].FetchedAt) {
			t.Errorf("article %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
}

func TestFetchAndReplaceErrorKeepsCache(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.fetcher.set("go", 3)
	if _, err := fx.policy.FetchAndReplace(ctx, "go", "alice"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	fx.fetcher.fail("go", &fetcher.UpstreamError{Keyword: "go", Message: "x"})
	result, err := fx.policy.FetchAndReplace(ctx, "go", "alice")
	var upErr *fetcher.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if result.Success || result.Error == "" {
		t.Errorf("failure not reflected in result: %+v", result)
	}
	if got := fx.articles(t, "go", "alice"); len(got) != 3 {
		t.Errorf("cache should be untouched, got %d articles", len(got))
	}
}

func TestFetchAndReplacePublishesResults(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.fetcher.set("go", 1)
	if _, err := fx.policy.FetchAndReplace(ctx, "go", "alice"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	fx.fetcher.fail("go", errors.New("down"))
	_, _ = fx.policy.FetchAndReplace(ctx, "go", "alice")

	if len(fx.publisher.results) != 2 {
		t.Fatalf("expected 2 published results, got %d", len(fx.publisher.results))
	}
	if !fx.publisher.results[0].Success || fx.publisher.results[1].Success {
		t.Errorf("unexpected published results: %+v", fx.publisher.results)
	}
	if fx.publisher.results[0].RequestID == "" || fx.publisher.results[0].RequestID == fx.publisher.results[1].RequestID {
		t.Errorf("request ids should be set and unique: %+v", fx.publisher.results)
	}
}

func TestConcurrentReplaceSameKey(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.fetcher.set("go", 5)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := fx.policy.FetchAndReplace(ctx, "go", "alice"); err != nil {
				t.Errorf("fetch: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := fx.articles(t, "go", "alice"); len(got) != 5 {
		t.Errorf("expected exactly one set of 5 articles, got %d", len(got))
	}
	if n := fx.policy.locks.size(); n != 0 {
		t.Errorf("expected key locks to be released, %d remain", n)
	}
}

func TestRefreshAll(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.fetcher.set("a", 2)
	fx.fetcher.set("b", 2)
	for _, kw := range []string{"a", "b"} {
		if _, err := fx.policy.FetchAndReplace(ctx, kw, "alice"); err != nil {
			t.Fatalf("seed %s: %v", kw, err)
		}
	}

	results, err := fx.policy.RefreshAll(ctx, "alice")
	if err != nil {
		t.Fatalf("refresh all: %v", err)
	}
	if len(results) != 2 || results[0].Keyword != "a" || results[1].Keyword != "b" {
		t.Fatalf("unexpected results: %+v", results)
	}
	for _, kw := range []string{"a", "b"} {
		if n := fx.fetcher.count(kw); n != 2 {
			t.Errorf("keyword %s: expected 1 seed + 1 refresh fetch, got %d", kw, n)
		}
	}
}

func TestRefreshAllContinuesPastFailures(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.fetcher.set("a", 2)
	fx.fetcher.set("b", 2)
	for _, kw := range []string{"a", "b"} {
		if _, err := fx.policy.FetchAndReplace(ctx, kw, "alice"); err != nil {
			t.Fatalf("seed %s: %v", kw, err)
		}
	}

	fx.fetcher.fail("a", &fetcher.UpstreamError{Keyword: "a", Message: "x"})
	fx.fetcher.set("b", 3)
	fx.now = fx.now.Add(time.Hour)

	results, err := fx.policy.RefreshAll(ctx, "alice")
	var upErr *fetcher.UpstreamError
	if !errors.As(err, &upErr) || upErr.Keyword != "a" {
		t.Fatalf("expected joined upstream error for a, got %v", err)
	}
	if results[0].Success || !results[1].Success {
		t.Errorf("unexpected results: %+v", results)
	}
	if got := fx.articles(t, "b", "alice"); len(got) != 3 {
		t.Errorf("b should have been refreshed despite a failing, got %d articles", len(got))
	}
	if got := fx.articles(t, "a", "alice"); len(got) != 2 {
		t.Errorf("a should keep its cached articles, got %d", len(got))
	}
}

func TestRefreshAllNoKeywords(t *testing.T) {
	fx := newFixture(t)
	results, err := fx.policy.RefreshAll(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("refresh all: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestTopFive(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.fetcher.set("go", 8)
	fx.fetcher.set("rust", 3)
	for _, kw := range []string{"go", "rust"} {
		if _, err := fx.policy.FetchAndReplace(ctx, kw, "alice"); err != nil {
			t.Fatalf("seed %s: %v", kw, err)
		}
	}
	if _, err := fx.policy.FetchAndReplace(ctx, "go", "bob"); err != nil {
		t.Fatalf("seed bob: %v", err)
	}

	history, err := fx.policy.TopFive(ctx, "alice")
	if err != nil {
		t.Fatalf("top five: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 keywords, got %d", len(history))
	}
	if len(history["go"]) != 5 {
		t.Errorf("expected 5 go articles, got %d", len(history["go"]))
	}
	if len(history["rust"]) != 3 {
		t.Errorf("expected 3 rust articles, got %d", len(history["rust"]))
	}
	for kw, articles := range history {
		for i := 1; i < len(articles); i++ {
			if articles[i].PublishedAt.After(*articles[i-1].PublishedAt) {
				t.Errorf("%s: articles not ordered by publishedAt desc at %d", kw, i)
			}
		}
	}
	if history["go"][0].Title != "go 7" {
		t.Errorf("expected newest article first, got %q", history["go"][0].Title)
	}
}
