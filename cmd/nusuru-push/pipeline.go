package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/urfave/cli/v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/KodeKenobi/nusuru-admin/internal/auth"
	"github.com/KodeKenobi/nusuru-admin/internal/config"
	"github.com/KodeKenobi/nusuru-admin/internal/credentials"
	"github.com/KodeKenobi/nusuru-admin/internal/repository"
	"github.com/KodeKenobi/nusuru-admin/internal/services"
	"github.com/KodeKenobi/nusuru-admin/pkg/logger"
	"github.com/KodeKenobi/nusuru-admin/pkg/metrics"
	"github.com/KodeKenobi/nusuru-admin/pkg/retry"
)

// pipeline holds everything a command needs to dispatch.
type pipeline struct {
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	dispatcher *services.Dispatcher
	statuses   *repository.StatusStore
	closers    []func() error
}

func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			p.logger.Warn("failed to close resource", slog.Any("error", err))
		}
	}
}

// loadConfig reads the configuration and builds the process logger on w.
func loadConfig(cCtx *cli.Context, w io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cCtx.StringSlice("env-file")...)
	if err != nil {
		return nil, nil, fmt.Errorf("config error: %w", err)
	}
	logr := logger.NewWithOptions(w, logger.Options{
		Level:   cfg.LogLevel,
		JSON:    cfg.LogJSON,
		Service: cfg.AppName,
	})
	return cfg, logr, nil
}

// newPipeline loads the credential and wires signer, exchanger, token cache,
// provider, engine and the optional status store.
func newPipeline(cfg *config.Config, logr *slog.Logger, withStatus bool) (*pipeline, error) {
	p := &pipeline{
		cfg:     cfg,
		logger:  logr,
		metrics: metrics.New(),
	}

	store, err := credentials.Load(credentials.Source{
		JSON: cfg.ServiceAccountJSON,
		File: cfg.ServiceAccountFile,
	})
	if err != nil {
		return nil, err
	}
	cred := store.Credential()
	logr.Info("loaded service account",
		slog.String("project_id", cred.ProjectID),
		slog.String("client_email", cred.ClientEmail))

	var tokens auth.TokenSource = auth.NewAssertionTokenSource(
		store,
		auth.NewSigner(cfg.TokenURL, cfg.Scope),
		auth.NewExchanger(cfg.TokenURL, cfg.ProviderTimeout),
	)
	tokens, err = p.withTokenCache(tokens, cred.ClientEmail)
	if err != nil {
		p.Close()
		return nil, err
	}

	var recorder services.StatusRecorder
	if withStatus && cfg.DatabaseURL != "" {
		db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			p.closers = append(p.closers, sqlDB.Close)
		}
		p.statuses, err = repository.NewStatusStore(db, cfg.StatusTable)
		if err != nil {
			p.Close()
			return nil, err
		}
		recorder = services.NewStatusUpdater(p.statuses, "fcm", logr)
	}

	var strategy retry.Strategy
	if cfg.RetryMaxAttempts > 1 {
		strategy = retry.Config{
			MaxAttempts:    cfg.RetryMaxAttempts,
			InitialBackoff: cfg.RetryInitialBackoff,
			MaxBackoff:     cfg.RetryMaxBackoff,
		}
	}

	provider := services.NewFCMProvider(cfg.FCMBaseURL, cred.ProjectID, cfg.ProviderTimeout, logr)
	engine := services.NewDispatchEngine(provider, strategy, cfg.MaxConcurrency, p.metrics, logr)
	p.dispatcher = services.NewDispatcher(tokens, engine, recorder, p.metrics, logr, cfg.RequestTimeout)

	logr.Info("dispatch pipeline ready",
		slog.String("endpoint", provider.Endpoint()),
		slog.String("token_cache", cfg.TokenCache),
		slog.Int("retry_max_attempts", cfg.RetryMaxAttempts),
		slog.Bool("status_store", p.statuses != nil))
	return p, nil
}

func (p *pipeline) withTokenCache(src auth.TokenSource, key string) (auth.TokenSource, error) {
	switch p.cfg.TokenCache {
	case config.TokenCacheMemory:
		return auth.NewCachedTokenSource(src, auth.NewMemoryTokenStore(), key, p.cfg.TokenCacheSkew, p.logger), nil
	case config.TokenCacheRedis:
		opts, err := redisOptions(p.cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		repo := repository.NewRedisRepository(redis.NewClient(opts))
		p.closers = append(p.closers, repo.Close)
		return auth.NewCachedTokenSource(src, repo, key, p.cfg.TokenCacheSkew, p.logger), nil
	default:
		return src, nil
	}
}

// redisOptions accepts either a redis:// URL or a bare host:port.
func redisOptions(raw string) (*redis.Options, error) {
	if strings.Contains(raw, "://") {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: raw}, nil
}
