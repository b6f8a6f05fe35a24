package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/entity-resolver/internal/backflow"
	"github.com/sells-group/entity-resolver/internal/cache"
	"github.com/sells-group/entity-resolver/internal/directory"
	"github.com/sells-group/entity-resolver/internal/learn"
	"github.com/sells-group/entity-resolver/internal/override"
	"github.com/sells-group/entity-resolver/internal/queue"
	"github.com/sells-group/entity-resolver/internal/resilience"
	"github.com/sells-group/entity-resolver/internal/resolver"
	"github.com/sells-group/entity-resolver/internal/store"
	"github.com/sells-group/entity-resolver/internal/tempid"
)

// defaultSQLitePath is used when the sqlite driver has no database_url.
const defaultSQLitePath = "resolver.db"

// backend holds the opened store and the adapters built on it.
type backend struct {
	store store.Store
	cache cache.Store
	queue queue.Store
}

// Close closes the underlying store.
func (b *backend) Close() {
	if err := b.store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

// openBackend opens the configured store. SQLite databases are migrated on
// open; Postgres schemas are managed with the migrate command.
func openBackend(ctx context.Context) (*backend, error) {
	switch cfg.Store.Driver {
	case store.DriverSQLite:
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = defaultSQLitePath
		}
		s, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close() //nolint:errcheck
			return nil, err
		}
		return &backend{store: s, cache: cache.NewSQLiteStore(s.DB()), queue: queue.NewSQLiteStore(s.DB())}, nil
	case store.DriverPostgres:
		s, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		return &backend{store: s, cache: cache.NewPostgresStore(s.Pool()), queue: queue.NewPostgresStore(s.Pool())}, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// newDirectoryClient builds the directory client, or returns nil when no
// base URL is configured.
func newDirectoryClient() (directory.Client, error) {
	if cfg.Directory.BaseURL == "" {
		return nil, nil
	}
	exp, err := directory.ParseExpiry(cfg.Directory.TokenExpiresAt)
	if err != nil {
		return nil, eris.Wrap(err, "parse directory.token_expires_at")
	}
	token := directory.Token{Value: cfg.Directory.Token, ExpiresAt: exp}
	if !token.Valid(time.Now()) {
		zap.L().Warn("directory token is missing or expired, external lookups will be skipped",
			zap.Bool("token_set", token.Value != ""),
			zap.Time("expires_at", exp),
		)
	}
	return directory.NewClient(token,
		directory.WithBaseURL(cfg.Directory.BaseURL),
		directory.WithTimeout(cfg.Directory.Timeout()),
		directory.WithRateLimit(cfg.Directory.RatePerSec),
		directory.WithDefaultConfidence(cfg.Directory.DefaultConfidence),
	), nil
}

// loadOverrides reads the configured override files. Unset files are skipped.
func loadOverrides(ctx context.Context) (*override.Store, error) {
	return override.Load(ctx, override.Files{
		PlanCode:     cfg.Overrides.PlanCodeFile,
		Composite:    cfg.Overrides.CompositeFile,
		CustomerName: cfg.Overrides.CustomerNameFile,
	})
}

// resolverEnv wires every component the commands need.
type resolverEnv struct {
	*backend
	overrides *override.Store
	tempIDs   *tempid.Generator
	directory directory.Client
	resolver  *resolver.Resolver
	learner   *learn.Learner
}

// initResolver opens the backend and builds the resolver. A salt is only
// required when withTempIDs is set.
func initResolver(ctx context.Context, withTempIDs bool) (*resolverEnv, error) {
	b, err := openBackend(ctx)
	if err != nil {
		return nil, err
	}
	env := &resolverEnv{backend: b, learner: learn.New(backflow.NewWriter(b.cache))}

	env.overrides, err = loadOverrides(ctx)
	if err != nil {
		b.Close()
		return nil, err
	}

	env.directory, err = newDirectoryClient()
	if err != nil {
		b.Close()
		return nil, err
	}

	if withTempIDs {
		env.tempIDs, err = tempid.New(cfg.TempID.Salt)
		if err != nil {
			b.Close()
			return nil, err
		}
		opts := []resolver.Option{
			resolver.WithOverrides(env.overrides),
			resolver.WithQueue(b.queue),
		}
		if env.directory != nil {
			opts = append(opts, resolver.WithDirectory(env.directory))
		}
		env.resolver = resolver.New(b.cache, env.tempIDs, opts...)
	}
	return env, nil
}

// newWorker builds the queue worker from config. It fails when no
// directory is configured.
func newWorker(b *backend, client directory.Client) (*queue.Worker, error) {
	if client == nil {
		return nil, eris.New("queue worker needs directory.base_url")
	}
	sched, err := cfg.Queue.Schedule()
	if err != nil {
		return nil, err
	}
	return queue.NewWorker(b.queue, client, backflow.NewWriter(b.cache), queue.WorkerConfig{
		BatchSize:  cfg.Queue.BatchSize,
		Schedule:   sched,
		StaleAfter: cfg.Queue.StaleAfter(),
		Breaker:    resilience.FromCircuitConfig("directory", cfg.Queue.BreakerFailures, cfg.Queue.BreakerResetSecs),
	}), nil
}
