package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"nft-market-sync/internal/alerting"
	"nft-market-sync/internal/auction"
	"nft-market-sync/internal/config"
	"nft-market-sync/internal/metadata"
	"nft-market-sync/internal/reconcile"
	"nft-market-sync/internal/scheduler"
	"nft-market-sync/internal/storage"
)

// ListingReader is the listing surface read by the service.
type ListingReader interface {
	ListActiveListings(ctx context.Context) ([]storage.Listing, error)
}

// Service orchestrates reconciliation, enrichment, auctions and notifications.
type Service struct {
	reconciler *reconcile.Reconciler
	enricher   *metadata.Enricher
	engine     *auction.Engine
	listings   ListingReader
	notifier   alerting.Notifier
	logger     zerolog.Logger

	reconcileEvery time.Duration
	sweepEvery     time.Duration
	runOnStart     bool
	alignReconcile bool
	startupDelay   time.Duration
}

// New constructs the service. enricher and notifier may be nil.
func New(cfg *config.Config, reconciler *reconcile.Reconciler, enricher *metadata.Enricher, engine *auction.Engine, listings ListingReader, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	return &Service{
		reconciler:     reconciler,
		enricher:       enricher,
		engine:         engine,
		listings:       listings,
		notifier:       notifier,
		logger:         logger.With().Str("component", "service").Logger(),
		reconcileEvery: cfg.Indexer.Interval,
		sweepEvery:     cfg.Auction.SweepInterval,
		runOnStart:     cfg.Indexer.RunOnStart,
		alignReconcile: cfg.Indexer.AlignToInterval,
		startupDelay:   cfg.Indexer.StartupDelay,
	}
}

// Run drives the reconcile and sweep loops until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.reconcileEvery <= 0 || s.sweepEvery <= 0 {
		return fmt.Errorf("scheduler intervals not configured")
	}

	reconcileLoop := scheduler.New(scheduler.Options{
		Name:         "reconcile",
		Interval:     s.reconcileEvery,
		AlignToStart: s.alignReconcile,
		StartupDelay: s.startupDelay,
		RunOnStart:   s.runOnStart,
	}, s.logger)
	sweepLoop := scheduler.New(scheduler.Options{
		Name:       "auction_sweep",
		Interval:   s.sweepEvery,
		RunOnStart: true,
	}, s.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return reconcileLoop.Run(gctx, func(ctx context.Context, _ time.Time) error {
			s.ReconcileAll(ctx)
			return nil
		})
	})
	g.Go(func() error {
		return sweepLoop.Run(gctx, func(ctx context.Context, _ time.Time) error {
			_, err := s.SweepExpiredAuctions(ctx)
			return err
		})
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// ReconcileAll runs one reconciliation cycle for every configured chain.
func (s *Service) ReconcileAll(ctx context.Context) []reconcile.ChainResult {
	results := s.reconciler.ReconcileAll(ctx)

	var failed, skipped int
	for _, res := range results {
		switch res.Status {
		case storage.RunFailed:
			failed++
		case storage.RunSkipped:
			skipped++
		}
	}
	s.logger.Info().
		Int("chains", len(results)).
		Int("failed", failed).
		Int("skipped", skipped).
		Msg("reconcile pass finished")
	return results
}

// ListActiveListings returns unsold listings of every chain, filling missing
// metadata on the way out.
func (s *Service) ListActiveListings(ctx context.Context) ([]storage.Listing, error) {
	listings, err := s.listings.ListActiveListings(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active listings: %w", err)
	}
	return s.enricher.Enrich(ctx, listings), nil
}

// CreateAuction opens a new auction.
func (s *Service) CreateAuction(ctx context.Context, req auction.CreateAuctionRequest) (storage.Auction, error) {
	return s.engine.CreateAuction(ctx, req)
}

// PlaceBid submits a bid on an auction.
func (s *Service) PlaceBid(ctx context.Context, auctionID int64, bidder, amountWei string) (storage.Auction, error) {
	return s.engine.PlaceBid(ctx, auctionID, bidder, amountWei)
}

// ListActiveAuctions returns auctions still accepting bids.
func (s *Service) ListActiveAuctions(ctx context.Context) ([]storage.Auction, error) {
	return s.engine.ListActiveAuctions(ctx)
}

// ListBids returns the bid history of an auction.
func (s *Service) ListBids(ctx context.Context, auctionID int64) ([]storage.Bid, error) {
	return s.engine.ListBids(ctx, auctionID)
}

// SweepExpiredAuctions ends every auction past its deadline and notifies
// about each one.
func (s *Service) SweepExpiredAuctions(ctx context.Context) ([]storage.Auction, error) {
	ended, err := s.engine.SweepExpiredAuctions(ctx)
	if err != nil {
		return nil, err
	}
	if s.notifier == nil {
		return ended, nil
	}
	for _, a := range ended {
		if err := s.notifier.Notify(ctx, alerting.NewAuctionEnded(a)); err != nil {
			s.logger.Error().Err(err).Int64("auction_id", a.ID).Msg("failed to dispatch auction-ended notification")
		}
	}
	return ended, nil
}
