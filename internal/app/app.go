package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"nft-market-sync/internal/alerting"
	"nft-market-sync/internal/auction"
	"nft-market-sync/internal/chain"
	"nft-market-sync/internal/config"
	"nft-market-sync/internal/metadata"
	"nft-market-sync/internal/observability"
	"nft-market-sync/internal/reconcile"
	"nft-market-sync/internal/service"
	"nft-market-sync/internal/storage"
	"nft-market-sync/internal/storage/memory"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// components is the object graph shared by every command.
type components struct {
	store      storage.Backend
	registry   *chain.Registry
	metrics    *observability.Metrics
	reconciler *reconcile.Reconciler
	service    *service.Service
}

func (c *components) close() {
	if c.registry != nil {
		c.registry.Close()
	}
	if c.store != nil {
		c.store.Close()
	}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newMetrics() *observability.Metrics {
	if !a.Config.Metrics.Enabled {
		return nil
	}
	return observability.NewMetrics(a.Config.Metrics.Namespace)
}

// openPostgres connects to the configured database, applying migrations when
// database.auto_migrate is set. It returns nil when no DSN is configured.
func (a *App) openPostgres(ctx context.Context) (*storage.Store, error) {
	if a.Config.Database.DSN == "" {
		return nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	store := storage.NewStore(pool)

	if a.Config.Database.AutoMigrate {
		applied, err := store.Migrate(ctx)
		if err != nil {
			store.Close()
			return nil, err
		}
		if len(applied) > 0 {
			a.Logger.Info().Strs("versions", applied).Msg("migrations applied")
		}
	}
	return store, nil
}

func (a *App) openStore(ctx context.Context) (storage.Backend, error) {
	store, err := a.openPostgres(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store")
		return memory.New(), nil
	}
	return store, nil
}

func (a *App) newRegistry(ctx context.Context, metrics *observability.Metrics) *chain.Registry {
	if a.Config.Indexer.UseMockEvents {
		return chain.NewMockRegistry(a.Config.Chains)
	}
	return chain.NewRegistry(ctx, a.Config.Chains, chain.Options{
		RequestTimeout: a.Config.Indexer.RequestTimeout,
		Metrics:        metrics,
	}, a.Logger)
}

func (a *App) build(ctx context.Context) (*components, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	c := &components{store: store, metrics: a.newMetrics()}
	c.registry = a.newRegistry(ctx, c.metrics)
	c.reconciler = reconcile.New(store, c.registry, reconcile.OptionsFromConfig(a.Config.Indexer), c.metrics, a.Logger)

	fetcher := metadata.NewHTTPFetcher(metadata.FetcherOptions{
		Timeout:   a.Config.Metadata.FetchTimeout,
		UserAgent: a.Config.Metadata.UserAgent,
	}, a.Logger)
	enricher := metadata.NewEnricher(store, c.registry, fetcher,
		metadata.OptionsFromConfig(a.Config.Metadata, a.Config.Indexer.UseMockEvents), c.metrics, a.Logger)

	engine := auction.NewEngine(store, a.Logger,
		auction.WithRetryLimit(a.Config.Auction.BidRetryLimit),
		auction.WithMetrics(c.metrics),
	)

	c.service = service.New(a.Config, c.reconciler, enricher, engine, store, a.newNotifier(), a.Logger)
	return c, nil
}

// Run executes the long-running sync and auction service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	if c.metrics != nil {
		srv := a.serveMetrics(c.metrics)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	a.Logger.Info().
		Bool("mock_events", a.Config.Indexer.UseMockEvents).
		Int("chains", len(c.registry.ChainIDs())).
		Msg("starting marketplace sync service")
	err = c.service.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("marketplace sync service stopped")
	return nil
}

func (a *App) serveMetrics(metrics *observability.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              a.Config.Metrics.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.Logger.Info().Str("addr", srv.Addr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}

// ExportOptions hold parameters for exporting an auction's bid history.
type ExportOptions struct {
	AuctionID int64
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ReconcileOptions configure a one-shot reconciliation.
type ReconcileOptions struct {
	ChainID int64
}

// UploadOptions configure an IPFS upload.
type UploadOptions struct {
	Path        string
	MimeType    string
	Name        string
	Description string
}
