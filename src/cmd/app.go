package cmd

import (
	"context"
	"fmt"
	"time"

	"budgeteer-server/src/config"
	"budgeteer-server/src/db"
	sqlstore "budgeteer-server/src/db/sql"
	"budgeteer-server/src/observability"
	"budgeteer-server/src/plaid"
	"budgeteer-server/src/plaidsync"
	"budgeteer-server/src/resilience"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// app is the wired object graph shared by the commands.
type app struct {
	metrics *observability.Metrics
	pool    *pgxpool.Pool
	cache   *db.AccountCache
	store   *sqlstore.Store
	plaid   *plaid.Client
	syncer  *plaidsync.Syncer

	shutdownTracer func(context.Context) error
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{metrics: observability.NewMetrics()}

	shutdown, err := observability.InitTracer(ctx, cfg.OTLPEndpoint, "budgeteer-server")
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.shutdownTracer = shutdown

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("DB connection failed: %w", err)
	}
	a.pool = pool

	sealer, err := db.NewTokenSealer(cfg.TokenEncryptionKey)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY: %w", err)
	}
	if sealer == nil {
		logger.Warn("TOKEN_ENCRYPTION_KEY not set, access tokens are stored unencrypted")
	}

	cache, err := db.NewAccountCache(cfg.CacheTTL, a.metrics)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("account cache: %w", err)
	}
	a.cache = cache
	a.store = sqlstore.NewStore(pool, sealer, cache)

	api, err := plaid.NewPlaidClient(cfg.PlaidClientID, cfg.PlaidSecret, cfg.PlaidEnv)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.plaid = plaid.NewClient(api, plaid.Config{
		WebhookURL: cfg.PlaidWebhookURL,
		Timeout:    cfg.PlaidTimeout,
		Retry: resilience.Config{
			MaxRetries:     cfg.PlaidMaxRetries,
			InitialBackoff: cfg.PlaidInitialBackoff,
		},
	}, a.metrics, logger)

	a.syncer = plaidsync.NewSyncer(a.store, a.plaid, plaidsync.Config{
		PageSize:    cfg.Sync.PageSize,
		MaxPages:    cfg.Sync.MaxPages,
		MaxDuration: cfg.Sync.MaxDuration,
		LeaseTTL:    cfg.Sync.LeaseTTL,
		MaxRestarts: cfg.Sync.MaxRestarts,
		Concurrency: cfg.Sync.Concurrency,
	}, a.metrics, logger)

	return a, nil
}

func (a *app) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.shutdownTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.shutdownTracer(ctx)
	}
}
