// Package auction arbitrates bids on time-boxed English auctions.
package auction

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"nft-market-sync/internal/observability"
	"nft-market-sync/internal/storage"
	"nft-market-sync/internal/wei"
)

const defaultRetryLimit = 5

// CreateAuctionRequest describes a new auction.
type CreateAuctionRequest struct {
	ChainID       int64  `validate:"gt=0"`
	TokenID       string `validate:"required,wei"`
	NFTAddress    string `validate:"required,eth_addr"`
	SellerAddress string `validate:"required,eth_addr"`
	StartPriceWei string `validate:"required,wei"`
	StartTime     int64  `validate:"gte=0"`
	EndTime       int64  `validate:"gtfield=StartTime"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRetryLimit bounds the compare-and-swap attempts of one bid.
func WithRetryLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.retryLimit = n
		}
	}
}

// WithMetrics records bid outcomes and sweeps.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine owns the auction and bid lifecycle.
type Engine struct {
	store      storage.AuctionStore
	validate   *validator.Validate
	now        func() time.Time
	retryLimit int
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(store storage.AuctionStore, logger zerolog.Logger, opts ...Option) *Engine {
	v := validator.New()
	// integer amounts only, no sign or fraction
	_ = v.RegisterValidation("wei", func(fl validator.FieldLevel) bool {
		_, err := wei.ParseWei(fl.Field().String())
		return err == nil
	})

	e := &Engine{
		store:      store,
		validate:   v,
		now:        time.Now,
		retryLimit: defaultRetryLimit,
		logger:     logger.With().Str("component", "auction_engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateAuction inserts a new ACTIVE auction.
func (e *Engine) CreateAuction(ctx context.Context, req CreateAuctionRequest) (storage.Auction, error) {
	req.TokenID = strings.TrimSpace(req.TokenID)
	req.NFTAddress = strings.ToLower(strings.TrimSpace(req.NFTAddress))
	req.SellerAddress = strings.ToLower(strings.TrimSpace(req.SellerAddress))
	req.StartPriceWei = strings.TrimSpace(req.StartPriceWei)

	if err := e.validate.Struct(req); err != nil {
		return storage.Auction{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	// canonical decimal form, so that "007" and "7" are the same token
	tokenID, _ := wei.ParseWei(req.TokenID)
	startPrice, _ := wei.ParseWei(req.StartPriceWei)

	created, err := e.store.InsertAuction(ctx, storage.Auction{
		ChainID:       req.ChainID,
		TokenID:       tokenID.String(),
		NFTAddress:    req.NFTAddress,
		SellerAddress: req.SellerAddress,
		StartPriceWei: startPrice.String(),
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return storage.Auction{}, fmt.Errorf("%w: token %s at %s on chain %d", ErrConflict, tokenID, req.NFTAddress, req.ChainID)
		}
		return storage.Auction{}, fmt.Errorf("create auction: %w", err)
	}

	e.logger.Info().
		Int64("auction_id", created.ID).
		Int64("chain_id", created.ChainID).
		Str("token_id", created.TokenID).
		Str("nft_address", created.NFTAddress).
		Int64("end_time", created.EndTime).
		Msg("auction created")
	return created, nil
}

// PlaceBid validates and commits a bid. The commit is a compare-and-swap on
// the current bid observed during validation; a lost race re-reads and
// re-validates.
func (e *Engine) PlaceBid(ctx context.Context, auctionID int64, bidder, amountWei string) (storage.Auction, error) {
	bidder = strings.ToLower(strings.TrimSpace(bidder))
	if err := e.validate.Var(bidder, "required,eth_addr"); err != nil {
		e.metrics.IncBid("invalid")
		return storage.Auction{}, fmt.Errorf("%w: bidder %q", ErrInvalidInput, bidder)
	}
	amount, err := wei.ParseWei(strings.TrimSpace(amountWei))
	if err != nil {
		e.metrics.IncBid("invalid")
		return storage.Auction{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	for attempt := 1; attempt <= e.retryLimit; attempt++ {
		a, err := e.store.GetAuction(ctx, auctionID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				e.metrics.IncBid("not_found")
				return storage.Auction{}, fmt.Errorf("%w: id %d", ErrNotFound, auctionID)
			}
			return storage.Auction{}, fmt.Errorf("load auction: %w", err)
		}

		if err := e.checkBid(a, amount); err != nil {
			e.metrics.IncBid(outcome(err))
			return storage.Auction{}, err
		}

		updated, err := e.store.CommitBid(ctx, a.ID, bidder, amount.String(), a.CurrentBidWei)
		if errors.Is(err, storage.ErrStaleWrite) {
			e.logger.Debug().Int64("auction_id", auctionID).Int("attempt", attempt).Msg("bid lost race, retrying")
			continue
		}
		if err != nil {
			return storage.Auction{}, fmt.Errorf("commit bid: %w", err)
		}

		e.metrics.IncBid("accepted")
		e.logger.Info().
			Int64("auction_id", auctionID).
			Str("bidder", bidder).
			Str("amount_wei", amount.String()).
			Msg("bid accepted")
		return updated, nil
	}

	e.metrics.IncBid("contention")
	return storage.Auction{}, fmt.Errorf("%w: auction %d after %d attempts", ErrBidContention, auctionID, e.retryLimit)
}

// checkBid applies the bid rules in order: expiry, state, then price floor.
func (e *Engine) checkBid(a storage.Auction, amount *big.Int) error {
	now := e.now().Unix()
	if now > a.EndTime {
		return fmt.Errorf("%w: auction %d ended at %d, now %d", ErrExpired, a.ID, a.EndTime, now)
	}
	if a.Status != storage.AuctionActive {
		return fmt.Errorf("%w: auction %d is %s", ErrInvalidState, a.ID, a.Status)
	}

	floor, err := wei.ParseWei(a.StartPriceWei)
	if err != nil {
		return fmt.Errorf("auction %d start price: %w", a.ID, err)
	}
	if a.CurrentBidWei != nil {
		current, err := wei.ParseWei(*a.CurrentBidWei)
		if err != nil {
			return fmt.Errorf("auction %d current bid: %w", a.ID, err)
		}
		floor = wei.Max(floor, current)
	}
	if amount.Cmp(floor) <= 0 {
		return fmt.Errorf("%w: %s wei must exceed %s wei", ErrBidTooLow, amount, floor)
	}
	return nil
}

// SweepExpiredAuctions ends every ACTIVE auction whose end time has passed
// and returns the auctions it ended.
func (e *Engine) SweepExpiredAuctions(ctx context.Context) ([]storage.Auction, error) {
	ended, err := e.store.EndExpiredAuctions(ctx, e.now().Unix())
	if err != nil {
		return nil, fmt.Errorf("sweep expired auctions: %w", err)
	}
	e.metrics.AddAuctionsEnded(len(ended))
	if len(ended) > 0 {
		e.logger.Info().Int("ended", len(ended)).Msg("expired auctions ended")
	}
	return ended, nil
}

// ListActiveAuctions returns ACTIVE auctions ordered by end time.
func (e *Engine) ListActiveAuctions(ctx context.Context) ([]storage.Auction, error) {
	auctions, err := e.store.ListActiveAuctions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active auctions: %w", err)
	}
	return auctions, nil
}

// ListBids returns the bid ladder of one auction, oldest first.
func (e *Engine) ListBids(ctx context.Context, auctionID int64) ([]storage.Bid, error) {
	if _, err := e.store.GetAuction(ctx, auctionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrNotFound, auctionID)
		}
		return nil, fmt.Errorf("load auction: %w", err)
	}
	bids, err := e.store.ListBids(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	return bids, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrBidTooLow):
		return "too_low"
	default:
		return "error"
	}
}
