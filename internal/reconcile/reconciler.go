// Package reconcile rebuilds the local listings mirror from marketplace events.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"nft-market-sync/internal/chain"
	"nft-market-sync/internal/config"
	"nft-market-sync/internal/events"
	"nft-market-sync/internal/observability"
	"nft-market-sync/internal/storage"
	"nft-market-sync/internal/wei"
)

// Event sources recorded on each run.
const (
	ModeMock = "mock"
	ModeLive = "live"
)

// Store is the storage surface used by the reconciler.
type Store interface {
	storage.ListingStore
	storage.RunStore
	storage.AdvisoryLocker
}

// Options tune reconciliation.
type Options struct {
	UseMockEvents   bool
	BlockLookback   uint64
	RebuildMode     string
	MaxParallel     int
	AdvisoryLockKey int64
}

// OptionsFromConfig maps indexer configuration onto Options.
func OptionsFromConfig(cfg config.IndexerConfig) Options {
	return Options{
		UseMockEvents:   cfg.UseMockEvents,
		BlockLookback:   cfg.BlockLookback,
		RebuildMode:     cfg.RebuildMode,
		MaxParallel:     cfg.MaxParallel,
		AdvisoryLockKey: cfg.AdvisoryLockKey,
	}
}

// ChainResult summarises one chain cycle.
type ChainResult struct {
	ChainID   int64
	RunID     uuid.UUID
	Mode      string
	Status    string
	FromBlock *int64
	ToBlock   *int64
	Events    int
	Listings  int
	Sold      int
	Duration  time.Duration
	Err       error
}

// Reconciler runs reconciliation cycles per chain.
type Reconciler struct {
	store   Store
	chains  *chain.Registry
	opts    Options
	metrics *observability.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// New constructs a Reconciler.
func New(store Store, chains *chain.Registry, opts Options, metrics *observability.Metrics, logger zerolog.Logger) *Reconciler {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}
	if opts.RebuildMode == "" {
		opts.RebuildMode = config.RebuildAtomic
	}
	return &Reconciler{
		store:   store,
		chains:  chains,
		opts:    opts,
		metrics: metrics,
		logger:  logger.With().Str("component", "reconciler").Logger(),
		now:     time.Now,
	}
}

// ReconcileAll runs one cycle for every registered chain. A failing chain
// never affects the others; failures are reported in the results.
func (r *Reconciler) ReconcileAll(ctx context.Context) []ChainResult {
	ids := r.chains.ChainIDs()
	results := make([]ChainResult, len(ids))

	var g errgroup.Group
	g.SetLimit(r.opts.MaxParallel)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			results[i], _ = r.ReconcileChain(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ReconcileChain runs one cycle for chainID.
func (r *Reconciler) ReconcileChain(ctx context.Context, chainID int64) (ChainResult, error) {
	started := r.now()
	res := ChainResult{ChainID: chainID, RunID: uuid.New(), Mode: ModeLive}
	if r.opts.UseMockEvents {
		res.Mode = ModeMock
	}
	log := r.logger.With().Int64("chain_id", chainID).Str("run_id", res.RunID.String()).Logger()

	r.cycle(ctx, &res, log)

	res.Duration = r.now().Sub(started)
	switch {
	case res.Status == storage.RunSkipped:
		log.Info().Msg("reconciliation skipped: another worker holds the chain lock")
	case res.Err != nil:
		res.Status = storage.RunFailed
		log.Error().Err(res.Err).Dur("duration", res.Duration).Msg("reconciliation failed")
	default:
		res.Status = storage.RunComplete
		log.Info().
			Str("mode", res.Mode).
			Int("events", res.Events).
			Int("listings", res.Listings).
			Int("sold", res.Sold).
			Dur("duration", res.Duration).
			Msg("reconciliation complete")
	}

	r.metrics.ObserveReconcile(chainID, res.Status, res.Duration, res.Listings)
	r.recordRun(ctx, res, started, log)
	return res, res.Err
}

func (r *Reconciler) cycle(ctx context.Context, res *ChainResult, log zerolog.Logger) {
	unlock, acquired, err := r.store.TryAdvisoryLock(ctx, r.opts.AdvisoryLockKey+res.ChainID)
	if err != nil {
		res.Err = fmt.Errorf("acquire chain lock: %w", err)
		return
	}
	if !acquired {
		res.Status = storage.RunSkipped
		return
	}
	defer unlock()

	if r.opts.RebuildMode == config.RebuildClearFirst {
		cleared, err := r.store.ClearListings(ctx, res.ChainID)
		if err != nil {
			res.Err = err
			return
		}
		log.Debug().Int64("cleared", cleared).Msg("cleared chain listings")
	}

	evts, err := r.loadEvents(ctx, res)
	if err != nil {
		res.Err = err
		return
	}
	res.Events = len(evts)

	err = r.store.RebuildListings(ctx, res.ChainID, res.RunID, func(w storage.ListingWriter) error {
		listings, sold, err := Replay(ctx, w, res.ChainID, evts)
		res.Listings, res.Sold = listings, sold
		return err
	})
	if err != nil {
		res.Err = fmt.Errorf("rebuild listings: %w", err)
	}
}

func (r *Reconciler) loadEvents(ctx context.Context, res *ChainResult) ([]events.Event, error) {
	reader, err := r.chains.Reader(res.ChainID)
	if r.opts.UseMockEvents {
		if errors.Is(err, chain.ErrUnknownChain) {
			return nil, err
		}
		return events.MockEvents(res.ChainID), nil
	}
	if err != nil {
		return nil, err
	}

	head, err := reader.BlockHeight(ctx)
	if err != nil {
		return nil, err
	}
	from := uint64(0)
	if head > r.opts.BlockLookback {
		from = head - r.opts.BlockLookback
	}
	fromBlock, toBlock := int64(from), int64(head)
	res.FromBlock, res.ToBlock = &fromBlock, &toBlock

	created, err := reader.FetchLogs(ctx, events.KindListingCreated, from, head)
	if err != nil {
		return nil, err
	}
	sold, err := reader.FetchLogs(ctx, events.KindListingSold, from, head)
	if err != nil {
		return nil, err
	}
	return events.Normalize(created, sold), nil
}

// Replay applies ordered events to w. It returns the number of distinct
// listings written and the number marked sold.
func Replay(ctx context.Context, w storage.ListingWriter, chainID int64, evts []events.Event) (int, int, error) {
	written := make(map[storage.ListingKey]struct{})
	sold := make(map[storage.ListingKey]struct{})
	for _, evt := range evts {
		key := storage.ListingKey{ChainID: chainID, TokenID: evt.TokenID.String(), NFTAddress: evt.NFTAddress}
		switch evt.Kind {
		case events.KindListingCreated:
			if err := w.UpsertListing(ctx, storage.ListingUpsert{
				Key:           key,
				PriceWei:      evt.PriceWei.String(),
				PriceEth:      wei.ToEth(evt.PriceWei),
				SellerAddress: evt.Seller,
			}); err != nil {
				return len(written), len(sold), err
			}
			written[key] = struct{}{}
		case events.KindListingSold:
			ok, err := w.MarkListingSold(ctx, key)
			if err != nil {
				return len(written), len(sold), err
			}
			if ok {
				sold[key] = struct{}{}
			}
		}
	}
	return len(written), len(sold), nil
}

func (r *Reconciler) recordRun(ctx context.Context, res ChainResult, started time.Time, log zerolog.Logger) {
	run := storage.ReconcileRun{
		RunID:      res.RunID,
		ChainID:    res.ChainID,
		Mode:       res.Mode,
		FromBlock:  res.FromBlock,
		ToBlock:    res.ToBlock,
		Events:     res.Events,
		Listings:   res.Listings,
		Status:     res.Status,
		StartedAt:  started,
		FinishedAt: started.Add(res.Duration),
	}
	if res.Err != nil {
		msg := res.Err.Error()
		run.Error = &msg
	}
	// the audit row outlives a cancelled cycle
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.store.InsertReconcileRun(recordCtx, run); err != nil {
		log.Warn().Err(err).Msg("failed to record reconcile run")
	}
}
