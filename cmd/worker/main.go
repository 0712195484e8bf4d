package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"golang.org/x/sync/errgroup"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/cmd/mainconfig"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/app/bootstrap"
	appconfig "github.com/knowzek/gpt-lead-autoresponder-sub000/internal/config"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/events"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/scanner"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/pkg/logging"
)

const memoryQueueBuffer = 1024

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	rt, err := bootstrap.NewRuntime(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to initialise runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()
	svc, err := bootstrap.BuildEngine(ctx, rt)
	if err != nil {
		logger.Error("failed to build lead engine", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	var queue scanner.Queue
	switch cfg.TickQueue {
	case "sqs":
		queue = scanner.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.SQSTickQueueURL)
	default:
		queue = scanner.NewMemoryQueue(memoryQueueBuffer)
	}

	scan := scanner.New(rt.Store, nil, scanner.Config{
		Interval:    cfg.ScanInterval,
		BatchSize:   cfg.ScanBatchSize,
		Concurrency: cfg.ScanConcurrency,
	}, logger, scanner.WithQueue(queue), scanner.WithMetrics(rt.ScannerMetrics))
	consumer := scanner.NewConsumer(queue, svc.Machine, cfg.ScanConcurrency, rt.ScannerMetrics, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scan.Run(gctx) })
	g.Go(func() error { return consumer.Run(gctx) })
	if cfg.RedisAddr != "" && !cfg.OfflineMode {
		worker := scanner.NewAsynqWorker(
			scanner.RedisClientOpt(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisTLS),
			cfg.AsynqQueue,
			cfg.ScanConcurrency,
			svc.Machine,
			rt.ScannerMetrics,
			logger,
		)
		g.Go(func() error { return worker.Run(gctx) })
	}
	if pruner, ok := rt.Deduper.(events.Pruner); ok {
		g.Go(func() error {
			return events.PruneLoop(gctx, pruner, cfg.ProcessedEventRetention, cfg.ProcessedEventPruneInterval, logger)
		})
	}

	logger.Info("lead worker started", "tick_queue", cfg.TickQueue, "precise_ticks", cfg.RedisAddr != "")
	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("lead worker stopped")
}
