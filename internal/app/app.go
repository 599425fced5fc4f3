// Package app wires the conversion services from configuration. The API
// server and the worker share it so both see the same queue, status store
// and engines.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/document-converter/config"
	"github.com/feichai0017/document-converter/internal/engine"
	"github.com/feichai0017/document-converter/internal/engine/builtin"
	"github.com/feichai0017/document-converter/internal/service/convert"
	"github.com/feichai0017/document-converter/internal/source"
	"github.com/feichai0017/document-converter/internal/status"
	"github.com/feichai0017/document-converter/pkg/logger"
	"github.com/feichai0017/document-converter/pkg/queue"
	"github.com/feichai0017/document-converter/pkg/storage"
)

type App struct {
	Convert *convert.Service
	Status  *status.Service

	redis    *redis.Client
	queue    *queue.AsynqQueue
	registry *engine.Registry
	logger   logger.Logger
}

// New connects to redis and builds every service. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	// 初始化 redis
	client := queue.NewRedisClient(cfg.Redis)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}

	// 初始化引擎
	registry, err := builtin.NewRegistry(ctx, cfg.Engine, log)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	statuses := queue.NewRedisStatusStore(client, cfg.Queue.StatusTTL, log)
	q := queue.NewAsynqQueue(cfg.Redis, cfg.Queue, log)
	resolver := storage.NewResolver(cfg.Storage, log)
	materializer := source.NewMaterializer(
		resolver,
		source.NewHTTPFetcher(cfg.Sources.HTTPTimeout),
		log,
		source.WithMaxConcurrent(cfg.Sources.MaxConcurrent),
	)

	a := &App{
		Convert: convert.NewService(
			materializer, registry, resolver, q, statuses, log,
			convert.WithResultsURI(cfg.Storage.ResultsURI),
		),
		Status:   status.NewService(statuses, q, log),
		redis:    client,
		queue:    q,
		registry: registry,
		logger:   log,
	}
	log.Info("Services initialized",
		logger.String("redis", cfg.Redis.Addr),
		logger.String("queue", cfg.Queue.Name),
		logger.String("resultsUri", cfg.Storage.ResultsURI),
		logger.Bool("textract", cfg.Engine.Textract.Enabled),
	)
	return a, nil
}

func (a *App) Close() error {
	return errors.Join(a.queue.Close(), a.registry.Close(), a.redis.Close())
}
