package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"news-search-service/metrics"
	"news-search-service/model"
)

const (
	articlesCollection = "articles"
	searchesCollection = "search_history"
	mongoBackend       = "mongo"
)

// Mongo stores articles in MongoDB. ReplaceArticles runs in a multi-document
// transaction, so the server must be a replica set or sharded cluster.
type Mongo struct {
	client   *mongo.Client
	articles *mongo.Collection
	searches *mongo.Collection
	log      *zap.Logger
}

// OpenMongo connects, pings and ensures indexes on the given database.
func OpenMongo(ctx context.Context, uri, database string, log *zap.Logger) (*Mongo, error) {
	if log == nil {
		log = zap.NewNop()
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	db := client.Database(database)
	m := &Mongo{
		client:   client,
		articles: db.Collection(articlesCollection),
		searches: db.Collection(searchesCollection),
		log:      log,
	}
	m.ensureIndexes(ctx)

	log.Info("Connected to MongoDB", zap.String("database", database))
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := m.articles.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user", Value: 1}, {Key: "keyword", Value: 1}, {Key: "fetchedAt", Value: -1}}},
		{Keys: bson.D{{Key: "user", Value: 1}, {Key: "keyword", Value: 1}, {Key: "publishedAt", Value: -1}}},
	})
	if err != nil {
		m.log.Warn("Failed to create article indexes", zap.Error(err))
	}

	_, err = m.searches.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	if err != nil {
		m.log.Warn("Failed to create search history index", zap.Error(err))
	}
}

// Close disconnects the client.
func (m *Mongo) Close() error {
	return m.client.Disconnect(context.Background())
}

func (m *Mongo) RecordSearch(ctx context.Context, rec model.SearchRecord) (err error) {
	defer observe(mongoBackend, "record_search", time.Now(), &err)

	if _, err = m.searches.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("recording search %q: %w", rec.Keyword, err)
	}
	return nil
}

func (m *Mongo) LatestFetch(ctx context.Context, keyword, user string) (_ time.Time, _ bool, err error) {
	defer observe(mongoBackend, "latest_fetch", time.Now(), &err)

	opts := options.FindOne().
		SetSort(bson.D{{Key: "fetchedAt", Value: -1}}).
		SetProjection(bson.M{"fetchedAt": 1})

	var doc struct {
		FetchedAt time.Time `bson:"fetchedAt"`
	}
	err = m.articles.FindOne(ctx, keyFilter(keyword, user), opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("querying latest fetch: %w", err)
	}
	return doc.FetchedAt.UTC(), true, nil
}

// ReplaceArticles swaps the set for (keyword, user) inside a transaction.
func (m *Mongo) ReplaceArticles(ctx context.Context, keyword, user string, articles []model.Article) (err error) {
	defer observe(mongoBackend, "replace", time.Now(), &err)

	sess, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer sess.EndSession(ctx)

	docs := make([]interface{}, 0, len(articles))
	for _, a := range articles {
		a.Keyword = keyword
		a.User = user
		docs = append(docs, a)
	}

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := m.articles.DeleteMany(sc, keyFilter(keyword, user)); err != nil {
			return nil, fmt.Errorf("deleting articles for %q: %w", keyword, err)
		}
		if len(docs) == 0 {
			return nil, nil
		}
		if _, err := m.articles.InsertMany(sc, docs); err != nil {
			return nil, fmt.Errorf("inserting articles for %q: %w", keyword, err)
		}
		return nil, nil
	})
	return err
}

// Keywords returns the user's distinct keywords, sorted.
func (m *Mongo) Keywords(ctx context.Context, user string) (_ []string, err error) {
	defer observe(mongoBackend, "keywords", time.Now(), &err)

	values, err := m.articles.Distinct(ctx, "keyword", bson.M{"user": user})
	if err != nil {
		return nil, fmt.Errorf("querying keywords: %w", err)
	}

	keywords := make([]string, 0, len(values))
	for _, v := range values {
		if kw, ok := v.(string); ok {
			keywords = append(keywords, kw)
		}
	}
	sort.Strings(keywords)
	return keywords, nil
}

// Articles returns the cached set, newest publication first.
func (m *Mongo) Articles(ctx context.Context, keyword, user string, limit int) (_ []model.Article, err error) {
	defer observe(mongoBackend, "articles", time.Now(), &err)

	// documents without publishedAt sort lowest, so they come last
	opts := options.Find().SetSort(bson.D{{Key: "publishedAt", Value: -1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := m.articles.Find(ctx, keyFilter(keyword, user), opts)
	if err != nil {
		return nil, fmt.Errorf("querying articles: %w", err)
	}
	defer cursor.Close(ctx)

	var articles []model.Article
	if err := cursor.All(ctx, &articles); err != nil {
		return nil, fmt.Errorf("decoding articles: %w", err)
	}
	for i := range articles {
		articles[i].FetchedAt = articles[i].FetchedAt.UTC()
		if p := articles[i].PublishedAt; p != nil {
			t := p.UTC()
			articles[i].PublishedAt = &t
		}
	}
	return articles, nil
}

func (m *Mongo) Searches(ctx context.Context, user string, limit int) (_ []model.SearchRecord, err error) {
	defer observe(mongoBackend, "searches", time.Now(), &err)

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := m.searches.Find(ctx, bson.M{"user": user}, opts)
	if err != nil {
		return nil, fmt.Errorf("querying searches: %w", err)
	}
	defer cursor.Close(ctx)

	var records []model.SearchRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decoding searches: %w", err)
	}
	return records, nil
}

func keyFilter(keyword, user string) bson.M {
	return bson.M{"keyword": keyword, "user": user}
}

func observe(backend, op string, start time.Time, err *error) {
	metrics.StoreOperationsTotal.WithLabelValues(backend, op, metrics.Status(*err)).Inc()
	metrics.StoreOperationDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}
