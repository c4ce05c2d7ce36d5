package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"news-search-service/config"
	"news-search-service/events"
	"news-search-service/fetcher"
	"news-search-service/logger"
	"news-search-service/metrics"
	"news-search-service/refresh"
	"news-search-service/store"
)

// app holds the wired dependencies shared by every command.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	store     store.ArticleStore
	publisher events.Publisher
	policy    *refresh.Policy
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.LogEnv)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		logger.Sync(log)
		return nil, err
	}

	var pub events.Publisher = events.Nop{}
	if cfg.NATSUrl != "" {
		np, err := events.NewNATSPublisher(events.NATSConfig{URL: cfg.NATSUrl, Subject: cfg.NATSSubject}, log)
		if err != nil {
			// results are informational; run without them
			log.Warn("NATS unavailable, fetch results will not be published",
				zap.String("url", cfg.NATSUrl),
				zap.Error(err))
		} else {
			log.Info("Connected to NATS", zap.String("url", cfg.NATSUrl))
			pub = np
		}
	}

	f := fetcher.New(fetcher.Options{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		Timeout:   cfg.RequestTimeout,
		UserAgent: "news-search-service/" + version,
	}, log)

	policy := refresh.New(st, f, cfg.RefreshThreshold,
		refresh.WithLogger(log),
		refresh.WithPublisher(pub),
		refresh.WithConcurrency(cfg.RefreshConcurrency),
	)

	metrics.Init("news-search-service", version, cfg.LogEnv)

	return &app{cfg: cfg, log: log, store: st, publisher: pub, policy: policy}, nil
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.ArticleStore, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		st, err := store.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		st, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info("Opened SQLite store", zap.String("path", cfg.SQLitePath))
		return st, nil
	}
}

func (a *app) Close() {
	a.publisher.Close()
	if err := a.store.Close(); err != nil {
		a.log.Warn("Closing store failed", zap.Error(err))
	}
	logger.Sync(a.log)
}
