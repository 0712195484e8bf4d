package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/knowzek/gpt-lead-autoresponder-sub000/internal/config"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/events"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/observability/metrics"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/pkg/logging"
)

const leaseKeyPrefix = "leadengine:lease:"

// Runtime holds the process-wide resources every binary shares: the lead
// store and its lease backend, the dedupe ledger and the metrics registry.
type Runtime struct {
	Config *appconfig.Config
	Logger *logging.Logger
	AWS    aws.Config

	Pool  *pgxpool.Pool
	SQL   *sql.DB
	Redis *redis.Client

	Store   leads.Store
	Leaser  leads.Leaser
	Deduper events.Deduper

	Registry       *prometheus.Registry
	WebhookMetrics *metrics.WebhookMetrics
	EngineMetrics  *metrics.EngineMetrics
	ScannerMetrics *metrics.ScannerMetrics
	StoreBackend   string
	closers        []func() error
}

// NewRuntime opens the configured backends. Offline mode never dials out.
func NewRuntime(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rt := &Runtime{Config: cfg, Logger: logger, AWS: awsCfg}
	rt.Registry = prometheus.NewRegistry()
	rt.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.WebhookMetrics = metrics.NewWebhookMetrics(rt.Registry)
	rt.EngineMetrics = metrics.NewEngineMetrics(rt.Registry)
	rt.ScannerMetrics = metrics.NewScannerMetrics(rt.Registry)

	if !cfg.OfflineMode && strings.TrimSpace(cfg.DatabaseURL) != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
		}
		rt.Pool = pool
		rt.SQL = stdlib.OpenDBFromPool(pool)
		rt.addCloser(rt.SQL.Close)
		rt.addCloser(func() error { pool.Close(); return nil })
	}

	if !cfg.OfflineMode {
		rt.Redis = BuildRedisClient(ctx, cfg, logger, true)
		if rt.Redis != nil {
			rt.addCloser(rt.Redis.Close)
		}
	}

	if err := rt.openStore(); err != nil {
		_ = rt.Close()
		return nil, err
	}

	if rt.Pool != nil {
		rt.Deduper = events.NewProcessedStore(rt.Pool)
	} else {
		rt.Deduper = events.NewMemoryDeduper()
	}

	logger.Info("runtime ready",
		"lead_store", rt.StoreBackend,
		"redis_leases", rt.Redis != nil,
		"offline", cfg.OfflineMode,
		"dry_run", cfg.DryRun,
	)
	return rt, nil
}

func (rt *Runtime) openStore() error {
	rt.StoreBackend = rt.Config.ResolvedLeadStore()
	switch rt.StoreBackend {
	case "memory":
		store := leads.NewMemoryStore()
		rt.Store, rt.Leaser = store, store
	case "postgres":
		if rt.Pool == nil {
			return fmt.Errorf("bootstrap: postgres lead store requires DATABASE_URL")
		}
		store := leads.NewPostgresStore(rt.Pool)
		rt.Store, rt.Leaser = store, store
	case "dynamodb":
		store := leads.NewDynamoStore(dynamodb.NewFromConfig(rt.AWS), rt.Config.DynamoDBLeadsTable)
		rt.Store, rt.Leaser = store, store
	default:
		return fmt.Errorf("bootstrap: unknown lead store %q", rt.StoreBackend)
	}
	// Redis leases take precedence over the store's own.
	if rt.Redis != nil {
		rt.Leaser = leads.NewRedisLeaser(rt.Redis, leaseKeyPrefix)
	}
	return nil
}

// MetricsHandler serves the runtime registry.
func (rt *Runtime) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{Registry: rt.Registry})
}

// Ready pings the backends the lead store depends on.
func (rt *Runtime) Ready(ctx context.Context) error {
	if rt.Pool != nil {
		if err := rt.Pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if rt.Redis != nil {
		if err := rt.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (rt *Runtime) addCloser(fn func() error) {
	rt.closers = append(rt.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available; falling back to store leases", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}
