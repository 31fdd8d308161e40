package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"nft-market-sync/internal/config"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicateKey is returned on a unique constraint violation.
	ErrDuplicateKey = errors.New("storage: duplicate key")
	// ErrStaleWrite is returned when a conditional update lost a race.
	ErrStaleWrite = errors.New("storage: stale write")
)

// ListingWriter is the write surface handed to a rebuild callback.
type ListingWriter interface {
	// UpsertListing creates or overwrites the chain-derived columns of a
	// listing, resets the sold flag and leaves metadata columns untouched.
	UpsertListing(ctx context.Context, u ListingUpsert) error
	// MarkListingSold flags a listing written earlier in the same rebuild.
	// It reports false when no such listing exists.
	MarkListingSold(ctx context.Context, key ListingKey) (bool, error)
}

// ListingStore defines operations for the listings mirror.
type ListingStore interface {
	// ClearListings deletes every listing of one chain.
	ClearListings(ctx context.Context, chainID int64) (int64, error)
	// RebuildListings runs fn inside one transaction stamped with cycleID and,
	// when fn succeeds, deletes the chain's rows not written by this cycle.
	RebuildListings(ctx context.Context, chainID int64, cycleID uuid.UUID, fn func(ListingWriter) error) error
	ListActiveListings(ctx context.Context) ([]Listing, error)
	ListListings(ctx context.Context, chainID int64) ([]Listing, error)
	// CoalesceListingMetadata fills empty metadata columns with non-empty values.
	CoalesceListingMetadata(ctx context.Context, key ListingKey, meta ListingMetadata) error
}

// AuctionStore defines auction and bid persistence.
type AuctionStore interface {
	InsertAuction(ctx context.Context, a Auction) (Auction, error)
	GetAuction(ctx context.Context, id int64) (Auction, error)
	// CommitBid records a bid and moves the auction's current bid, provided the
	// auction is still ACTIVE and its current bid equals expectedCurrent.
	CommitBid(ctx context.Context, auctionID int64, bidder, amountWei string, expectedCurrent *string) (Auction, error)
	EndExpiredAuctions(ctx context.Context, now int64) ([]Auction, error)
	ListActiveAuctions(ctx context.Context) ([]Auction, error)
	ListBids(ctx context.Context, auctionID int64) ([]Bid, error)
}

// RunStore defines the reconcile audit trail.
type RunStore interface {
	InsertReconcileRun(ctx context.Context, run ReconcileRun) error
	ListRecentRuns(ctx context.Context, limit int) ([]ReconcileRun, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Backend is everything the application needs from a store.
type Backend interface {
	ListingStore
	AuctionStore
	RunStore
	AdvisoryLocker
	Close()
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}
