// Package kit assembles the configured components into a ready-to-use
// integration surface: the OAuth flow controller and the lifecycle
// manager, wired to the chosen storage and cache backends.
package kit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/marketforge/ads-sync-kit/pkg/config"
	"github.com/marketforge/ads-sync-kit/pkg/graph"
	"github.com/marketforge/ads-sync-kit/pkg/lifecycle"
	"github.com/marketforge/ads-sync-kit/pkg/metrics"
	"github.com/marketforge/ads-sync-kit/pkg/oauthflow"
	"github.com/marketforge/ads-sync-kit/pkg/quota"
	"github.com/marketforge/ads-sync-kit/pkg/ratelimit"
	"github.com/marketforge/ads-sync-kit/pkg/statecache"
	"github.com/marketforge/ads-sync-kit/pkg/store"
)

// Options selects the backends the kit is assembled with.
type Options struct {
	// Config is the full configuration. Nil loads it from the
	// environment.
	Config *config.Config

	// Logger receives structured logs from every component. Nil
	// silences them.
	Logger *zap.Logger

	// DatabaseDSN selects the durable SQLite backend for integrations,
	// campaigns, and quota counters. Empty keeps everything in memory.
	DatabaseDSN string

	// Redis, when set, backs the OAuth state and session cache so
	// callbacks can land on any replica. Nil uses the in-process cache.
	Redis redis.UniversalClient

	// Metrics, when set, receives API call and lifecycle counters.
	Metrics *metrics.Collector
}

// Kit is the assembled module. Components are exported so callers can
// mount the flow controller behind their own HTTP layer and drive the
// lifecycle manager from their own schedulers.
type Kit struct {
	Config       *config.Config
	Flow         *oauthflow.Controller
	Lifecycle    *lifecycle.Manager
	Graph        *graph.Client
	Integrations store.IntegrationStore
	Campaigns    store.CampaignStore
	Quota        quota.Tracker
	States       statecache.Store
	Metrics      *metrics.Collector

	limiter   *ratelimit.Limiter
	memStates *statecache.MemoryStore
	db        *bun.DB
}

// New assembles a kit. The context bounds backend setup (migrations);
// it is not retained.
func New(ctx context.Context, opts Options) (*Kit, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.FromEnv()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	loc, err := cfg.QuotaLocation()
	if err != nil {
		return nil, err
	}

	k := &Kit{Config: cfg, Metrics: opts.Metrics}
	k.limiter = ratelimit.New(cfg.RateLimit)
	k.Graph = graph.NewClient(cfg, k.limiter, logger).WithMetrics(opts.Metrics)

	if opts.DatabaseDSN != "" {
		if err := k.openDurable(ctx, opts.DatabaseDSN, loc); err != nil {
			k.limiter.Close()
			return nil, err
		}
	} else {
		k.Integrations = store.NewMemoryIntegrationStore()
		k.Campaigns = store.NewMemoryCampaignStore()
		k.Quota = quota.NewMemoryTracker(cfg.Quota.DailyLaunchLimits, loc)
	}

	if opts.Redis != nil {
		k.States = statecache.NewRedisStore(opts.Redis)
	} else {
		k.memStates = statecache.NewMemoryStore()
		k.States = k.memStates
	}

	k.Flow = oauthflow.NewController(cfg, k.Graph, k.States, k.Integrations, logger)
	k.Lifecycle = lifecycle.NewManager(cfg, k.Graph, k.Integrations, k.Campaigns, k.Quota, logger).
		WithMetrics(opts.Metrics)
	return k, nil
}

// openDurable opens the SQLite backend and runs migrations for the
// integration, campaign, and quota tables. Tokens are encrypted at rest
// when an encryption key is configured.
func (k *Kit) openDurable(ctx context.Context, dsn string, loc *time.Location) error {
	db, err := store.OpenSQLite(dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	cipher, err := store.NewCipher(k.Config.EncryptionKey)
	if err != nil {
		_ = db.Close()
		return err
	}

	integrations := store.NewSQLIntegrationStore(db, cipher)
	campaigns := store.NewSQLCampaignStore(db)
	tracker := quota.NewSQLTracker(db, k.Config.Quota.DailyLaunchLimits, loc)

	for _, migrate := range []func(context.Context) error{
		integrations.Migrate, campaigns.Migrate, tracker.Migrate,
	} {
		if err := migrate(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("migrate: %w", err)
		}
	}

	k.db = db
	k.Integrations = integrations
	k.Campaigns = campaigns
	k.Quota = tracker
	return nil
}

// Close releases the kit's background resources: the rate limiter's
// refill goroutines, the in-memory state janitor, and the database
// handle when one was opened.
func (k *Kit) Close() error {
	k.limiter.Close()
	if k.memStates != nil {
		k.memStates.Close()
	}
	if k.db != nil {
		if err := k.db.Close(); err != nil {
			return fmt.Errorf("close database: %w", err)
		}
	}
	return nil
}
