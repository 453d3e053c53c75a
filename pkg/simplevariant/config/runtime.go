package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-variant/pkg/simplevariant"
	"github.com/tendant/simple-variant/pkg/simplevariant/api"
	memorycache "github.com/tendant/simple-variant/pkg/simplevariant/cache/memory"
	rediscache "github.com/tendant/simple-variant/pkg/simplevariant/cache/redis"
	"github.com/tendant/simple-variant/pkg/simplevariant/metrics"
	"github.com/tendant/simple-variant/pkg/simplevariant/reconcile"
	"github.com/tendant/simple-variant/pkg/simplevariant/remote"
	"github.com/tendant/simple-variant/pkg/simplevariant/repo/memory"
	repopg "github.com/tendant/simple-variant/pkg/simplevariant/repo/postgres"
	fsstorage "github.com/tendant/simple-variant/pkg/simplevariant/storage/fs"
	memorystorage "github.com/tendant/simple-variant/pkg/simplevariant/storage/memory"
	s3storage "github.com/tendant/simple-variant/pkg/simplevariant/storage/s3"
)

// FilesPath is where filesystem storage is served when no public URL is configured.
const FilesPath = "/files"

const cacheSweepInterval = 10 * time.Minute

// Runtime holds every component built from a ServerConfig.
type Runtime struct {
	Config     *ServerConfig
	Logger     *slog.Logger
	Repository simplevariant.Repository
	Store      simplevariant.BlobStore
	Cache      simplevariant.Cache
	Service    simplevariant.Service
	Activity   *simplevariant.ActivityClock
	Reconciler *reconcile.Reconciler
	Metrics    *metrics.Metrics

	// Pool is the Postgres pool when DATABASE_URL points at Postgres.
	Pool *pgxpool.Pool

	files       http.Handler
	memoryCache *memorycache.Cache
	closers     []func() error
}

// Build creates the repository, storage, cache, service, reconciler and
// metrics described by the configuration.
func (c *ServerConfig) Build(ctx context.Context, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{
		Config:   c,
		Logger:   logger,
		Activity: simplevariant.NewActivityClock(nil),
		Metrics:  metrics.New(),
	}

	if err := rt.buildRepository(ctx); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	if err := rt.buildStore(); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build storage: %w", err)
	}
	if err := rt.buildCache(ctx); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build cache: %w", err)
	}

	options := []simplevariant.Option{
		simplevariant.WithRepository(rt.Repository),
		simplevariant.WithBlobStore(rt.Store),
		simplevariant.WithCache(rt.Cache),
		simplevariant.WithCatalog(c.VariantCatalog()),
		simplevariant.WithEventSink(rt.Metrics),
		simplevariant.WithLogger(logger),
		simplevariant.WithAssetProbing(c.ProbeAssets),
		simplevariant.WithProbeTimeout(c.ProbeTimeout),
		simplevariant.WithFetchTimeout(c.FetchTimeout),
		simplevariant.WithGeneratorOptions(
			simplevariant.WithGeneratorConcurrency(c.GenerateConcurrency),
			simplevariant.WithVariantTimeout(c.VariantTimeout),
		),
	}
	if c.ProbeRemote || c.RemoteFetch {
		client := remote.New(remote.Config{Timeout: c.FetchTimeout, UserAgent: "simple-variant"})
		if c.ProbeRemote {
			options = append(options, simplevariant.WithProber(client))
		}
		if c.RemoteFetch {
			options = append(options, simplevariant.WithFetcher(client))
		}
	}

	service, err := simplevariant.New(options...)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build service: %w", err)
	}
	rt.Service = service

	rt.Reconciler, err = reconcile.New(service, rt.Activity, reconcile.Config{
		Interval:      c.Reconcile.Interval,
		IdleThreshold: c.Reconcile.IdleThreshold,
		ScanLimit:     c.Reconcile.ScanLimit,
		BatchSize:     c.Reconcile.BatchSize,
		ItemDelay:     c.Reconcile.ItemDelay,
		RetryBackoff:  c.Reconcile.RetryBackoff,
		Logger:        logger,
		Recorder:      rt.Metrics,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build reconciler: %w", err)
	}

	return rt, nil
}

func (rt *Runtime) buildRepository(ctx context.Context) error {
	c := rt.Config
	if c.DatabaseType() == "memory" {
		rt.Repository = memory.New()
		return nil
	}

	pool, err := NewPool(ctx, c.DatabaseURL, c.DBSchema)
	if err != nil {
		return err
	}
	rt.Pool = pool
	rt.closers = append(rt.closers, func() error {
		pool.Close()
		return nil
	})
	rt.Repository = repopg.NewWithPool(pool)
	return nil
}

// NewPool creates a pgx pool whose sessions use schema as search_path.
func NewPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("database_url is required for postgres")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if schema == "" {
			return nil
		}
		_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
		return err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}

func (rt *Runtime) buildStore() error {
	storage, err := rt.Config.Storage()
	if err != nil {
		return err
	}

	switch storage.Type {
	case "memory":
		rt.Store = memorystorage.NewWithBaseURL(storage.PublicURL)
	case "fs":
		prefix := storage.PublicURL
		if prefix == "" {
			prefix = FilesPath
		}
		backend, err := fsstorage.New(fsstorage.Config{BaseDir: storage.BaseDir, URLPrefix: prefix})
		if err != nil {
			return err
		}
		rt.Store = backend
		rt.files = backend.Handler()
	case "s3":
		backend, err := s3storage.New(s3storage.Config{
			Region:                 storage.Region,
			Bucket:                 storage.Bucket,
			AccessKeyID:            storage.AccessKeyID,
			SecretAccessKey:        storage.SecretAccessKey,
			Endpoint:               storage.Endpoint,
			UsePathStyle:           storage.UsePathStyle,
			PublicBaseURL:          storage.PublicURL,
			CreateBucketIfNotExist: storage.CreateBucket,
		})
		if err != nil {
			return err
		}
		rt.Store = backend
	default:
		return fmt.Errorf("unsupported storage backend type: %s", storage.Type)
	}
	return nil
}

func (rt *Runtime) buildCache(ctx context.Context) error {
	c := rt.Config
	cacheType, err := c.CacheType()
	if err != nil {
		return err
	}

	switch cacheType {
	case "none":
		rt.Cache = simplevariant.NewNoopCache()
	case "memory":
		cache, err := memorycache.New(memorycache.Config{TTL: c.CacheTTL, Capacity: c.CacheCapacity})
		if err != nil {
			return err
		}
		rt.Cache = cache
		rt.memoryCache = cache
	case "redis":
		cache, err := rediscache.NewFromURL(c.CacheURL, rediscache.Config{TTL: c.CacheTTL, Logger: rt.Logger})
		if err != nil {
			return fmt.Errorf("invalid CACHE_URL: %w", err)
		}
		if err := cache.Ping(ctx); err != nil {
			rt.Logger.Warn("redis cache unreachable, lookups will miss until it recovers", "err", err)
		}
		rt.Cache = cache
		rt.closers = append(rt.closers, cache.Close)
	}
	return nil
}

// Start launches background work: the cache sweeper and, when enabled, the
// reconciliation scheduler. Both stop when ctx is done.
func (rt *Runtime) Start(ctx context.Context) error {
	if rt.memoryCache != nil {
		rt.memoryCache.StartSweeper(ctx, cacheSweepInterval)
	}
	if rt.Config.Reconcile.Enabled {
		if err := rt.Reconciler.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Router builds the HTTP router, including the file server for filesystem storage.
func (rt *Runtime) Router() (*chi.Mux, error) {
	r, err := api.NewRouter(api.RouterConfig{
		Service:           rt.Service,
		Reconciler:        rt.Reconciler,
		Activity:          rt.Activity,
		Metrics:           rt.Metrics,
		AdminAPIKeySHA256: rt.Config.AdminAPIKeySHA256,
		MaxUploadBytes:    rt.Config.MaxUploadBytes,
	})
	if err != nil {
		return nil, err
	}

	if rt.files != nil && rt.Config.StoragePublicURL == "" {
		r.Handle(FilesPath+"/*", http.StripPrefix(FilesPath, rt.files))
	}
	return r, nil
}

// Close stops the scheduler and releases connections.
func (rt *Runtime) Close() error {
	if rt.Reconciler != nil {
		_ = rt.Reconciler.Close()
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
