package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/feichai0017/document-converter/config"
	"github.com/feichai0017/document-converter/internal/app"
	"github.com/feichai0017/document-converter/pkg/logger"
	"github.com/feichai0017/document-converter/pkg/worker"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	// 初始化日志
	log, err := logger.NewLogger(logger.WithConfig(cfg.Log))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 创建转换服务
	services, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize services", logger.Error(err))
		os.Exit(1)
	}
	defer func() {
		if err := services.Close(); err != nil {
			log.Error("Failed to close services", logger.Error(err))
		}
	}()

	// 创建 worker
	documentWorker := worker.NewDocumentWorker(cfg.Redis, cfg.Queue, services.Convert, log)
	if err := documentWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Worker started",
		logger.Int("concurrency", cfg.Queue.Concurrency),
		logger.String("queue", cfg.Queue.Name),
	)

	// 等待中断信号
	<-ctx.Done()

	// 优雅关闭
	log.Info("Shutting down worker...")
	if err := documentWorker.Stop(); err != nil {
		log.Error("Failed to stop worker", logger.Error(err))
	}
	log.Info("Worker stopped")
}
