package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/toko-rates/internal/cache"
	"github.com/noah-isme/toko-rates/internal/config"
	"github.com/noah-isme/toko-rates/internal/events"
	"github.com/noah-isme/toko-rates/internal/health"
	"github.com/noah-isme/toko-rates/internal/obs"
	"github.com/noah-isme/toko-rates/internal/quote"
	"github.com/noah-isme/toko-rates/internal/ratelimit"
	"github.com/noah-isme/toko-rates/internal/repo"
	"github.com/noah-isme/toko-rates/internal/resilience"
	"github.com/noah-isme/toko-rates/internal/snapshot"
)

// QuoteCache is a quote cache whose entries can be dropped per entity digest.
type QuoteCache interface {
	quote.Cache
	PurgeDigest(ctx context.Context, digest string) (int, error)
}

// Dependencies holds the shared services of a process. Optional infrastructure is nil when it is
// not configured.
type Dependencies struct {
	Config       *config.Config
	Logger       zerolog.Logger
	DB           *pgxpool.Pool
	Redis        *redis.Client
	LimiterStore limiter.Store
	Snapshots    *snapshot.Holder
	Cache        QuoteCache
	Bus          *events.Bus
	Engine       *quote.Engine

	closers []func()
}

// New connects the configured infrastructure and assembles the engine.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Dependencies, error) {
	d := &Dependencies{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			d.Close()
		}
	}()

	if cfg.RedisURL != "" {
		client, err := NewRedis(ctx, cfg.RedisURL, cfg.MetricsEnabled)
		if err != nil {
			return nil, err
		}
		d.Redis = client
		d.closers = append(d.closers, func() {
			if err := client.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		})
	}

	var loader snapshot.Loader
	switch {
	case cfg.DatabaseURL != "":
		pool, err := NewPool(ctx, cfg.DatabaseURL, cfg.ServiceName)
		if err != nil {
			return nil, err
		}
		d.DB = pool
		d.closers = append(d.closers, pool.Close)
		loader = guardedLoader(repo.RatesRepo{DB: pool}, cfg, logger)
	case cfg.SnapshotFile != "":
		loader = snapshot.FileLoader{Path: cfg.SnapshotFile}
	default:
		return nil, errors.New("app: no entity source configured")
	}

	switch cfg.QuoteCacheBackend {
	case config.CacheRedis:
		d.Cache = cache.NewRedis(d.Redis, cfg.QuoteCacheTTL)
	case config.CacheMemory:
		d.Cache = cache.NewMemory(cfg.QuoteCacheTTL)
	}

	store, err := ratelimit.NewStore(d.Redis, "rates:ratelimit")
	if err != nil {
		return nil, err
	}
	d.LimiterStore = store

	d.Snapshots = snapshot.NewHolder(loader, logger.With().Str("component", "snapshot").Logger(), d.purgeOnReload)

	d.Bus = &events.Bus{Notifiers: []events.Notifier{d.Snapshots}, Origin: origin()}
	if d.Redis != nil {
		d.Bus.Publisher = events.RedisPublisher{Client: d.Redis, Channel: cfg.InvalidationTopic}
	}

	engineCfg := quote.EngineConfig{
		Source:   d.Snapshots,
		Currency: cfg.Currency,
		Policy:   cfg.OverweightPolicy,
		Settings: cfg.TaxSettings,
		Timeout:  cfg.QuoteTimeout,
		Logger:   logger.With().Str("component", "quote").Logger(),
	}
	if d.Cache != nil {
		engineCfg.Cache = d.Cache
	}
	engine, err := quote.NewEngine(engineCfg)
	if err != nil {
		return nil, err
	}
	d.Engine = engine

	ok = true
	return d, nil
}

// guardedLoader retries transient database failures and stops hammering the database once the
// breaker opens.
func guardedLoader(next snapshot.Loader, cfg *config.Config, logger zerolog.Logger) snapshot.Loader {
	policy := resilience.Policy{
		Target:      "entity_source",
		Breaker:     resilience.NewBreaker(cfg.LoaderMaxAttempts, 0.5, cfg.LoaderBreakerOpenFor).WithTarget("entity_source").WithLogger(logger),
		MaxAttempts: cfg.LoaderMaxAttempts,
		BaseBackoff: cfg.LoaderBackoff,
		Jitter:      0.2,
		Timeout:     cfg.LoaderTimeout,
	}
	return snapshot.LoaderFunc(func(ctx context.Context) (snapshot.Entities, error) {
		return resilience.Call(ctx, policy, next.Load)
	})
}

func (d *Dependencies) purgeOnReload(ctx context.Context, prev, next *snapshot.Snapshot) {
	if prev == nil || d.Cache == nil || prev.Digest == next.Digest {
		return
	}
	n, err := d.Cache.PurgeDigest(ctx, prev.Digest)
	if err != nil {
		d.Logger.Warn().Err(err).Str("digest", prev.Digest).Msg("purge cached quotes")
		return
	}
	d.Logger.Debug().Int("purged", n).Str("previous", prev.Digest).Str("digest", next.Digest).Msg("purged cached quotes")
}

// Subscriber returns the pub/sub consumer that applies changes broadcast by other replicas, or nil
// without Redis.
func (d *Dependencies) Subscriber() *events.RedisSubscriber {
	if d.Redis == nil {
		return nil
	}
	return &events.RedisSubscriber{
		Client:  d.Redis,
		Channel: d.Config.InvalidationTopic,
		Bus:     d.Bus,
		Logger:  d.Logger.With().Str("component", "subscriber").Logger(),
	}
}

// HealthChecks returns readiness probes for the connected infrastructure.
func (d *Dependencies) HealthChecks() map[string]health.Check {
	checks := map[string]health.Check{}
	if d.DB != nil {
		checks["postgres"] = d.DB.Ping
	}
	if d.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return d.Redis.Ping(ctx).Err() }
	}
	return checks
}

// Close releases connections in reverse order of acquisition.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// NewRedis connects to Redis with OpenTelemetry instrumentation.
func NewRedis(ctx context.Context, url string, metrics bool) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("instrument redis tracing: %w", err)
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("instrument redis metrics: %w", err)
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewPool connects to Postgres with query tracing.
func NewPool(ctx context.Context, url, appName string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = appName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// TaskRedisOpt converts REDIS_URL for asynq clients and servers.
func TaskRedisOpt(url string) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url for tasks: %w", err)
	}
	return opt, nil
}

func origin() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "rates"
	}
	return host + "-" + uuid.NewString()[:8]
}
