package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestStore starts a PostgreSQL container and applies migrations.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("marketsync"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := NewStore(pool)
	applied, err := store.Migrate(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, applied)
	return store
}

func TestStoreNotConfigured(t *testing.T) {
	var s *Store
	_, err := s.ListActiveListings(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, _, err = s.TryAdvisoryLock(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestMigrationFilesAreOrdered(t *testing.T) {
	files, err := migrationFiles()
	require.NoError(t, err)
	require.Equal(t, []string{"001_init.sql", "002_listing_metadata.sql", "003_reconcile_runs.sql"}, files)
}

func TestStoreMigrateIsIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	again, err := store.Migrate(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)

	versions, err := store.AppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_init", "002_listing_metadata", "003_reconcile_runs"}, versions)
}

func TestStoreRebuildAndMetadata(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	k1 := ListingKey{ChainID: 1, TokenID: "1", NFTAddress: "0x1111111111111111111111111111111111111111"}
	k2 := ListingKey{ChainID: 1, TokenID: "2", NFTAddress: "0x2222222222222222222222222222222222222222"}
	other := ListingKey{ChainID: 2, TokenID: "1", NFTAddress: k1.NFTAddress}

	require.NoError(t, store.RebuildListings(ctx, 2, uuid.New(), func(w ListingWriter) error {
		return w.UpsertListing(ctx, ListingUpsert{Key: other, PriceWei: "1", PriceEth: "0.000000000000000001", SellerAddress: "0xcc"})
	}))

	first := uuid.New()
	require.NoError(t, store.RebuildListings(ctx, 1, first, func(w ListingWriter) error {
		require.NoError(t, w.UpsertListing(ctx, ListingUpsert{Key: k1, PriceWei: "250000000000000000", PriceEth: "0.25", SellerAddress: "0xaa"}))
		require.NoError(t, w.UpsertListing(ctx, ListingUpsert{Key: k2, PriceWei: "1500000000000000000", PriceEth: "1.5", SellerAddress: "0xbb"}))
		sold, err := w.MarkListingSold(ctx, k2)
		require.NoError(t, err)
		assert.True(t, sold)
		missing, err := w.MarkListingSold(ctx, ListingKey{ChainID: 1, TokenID: "404", NFTAddress: k1.NFTAddress})
		require.NoError(t, err)
		assert.False(t, missing)
		return nil
	}))

	require.NoError(t, store.CoalesceListingMetadata(ctx, k1, ListingMetadata{Name: "One", ImageURL: "https://img/1.png"}))
	require.NoError(t, store.CoalesceListingMetadata(ctx, k1, ListingMetadata{Name: "Ignored", Description: "first"}))

	second := uuid.New()
	require.NoError(t, store.RebuildListings(ctx, 1, second, func(w ListingWriter) error {
		return w.UpsertListing(ctx, ListingUpsert{Key: k1, PriceWei: "300000000000000000", PriceEth: "0.3", SellerAddress: "0xaa"})
	}))

	rows, err := store.ListListings(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "0.3", rows[0].PriceEth)
	assert.Equal(t, "One", *rows[0].Name)
	assert.Equal(t, "first", *rows[0].Description)
	assert.Equal(t, second, *rows[0].CycleID)

	active, err := store.ListActiveListings(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2, "other chain untouched")

	n, err := store.ClearListings(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStoreBidCompareAndSwap(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	a, err := store.InsertAuction(ctx, Auction{ChainID: 1, TokenID: "1", NFTAddress: "0x1", SellerAddress: "0xaa", StartPriceWei: "100", StartTime: 0, EndTime: 100})
	require.NoError(t, err)
	assert.Equal(t, AuctionActive, a.Status)

	_, err = store.InsertAuction(ctx, Auction{ChainID: 1, TokenID: "1", NFTAddress: "0x1", SellerAddress: "0xbb", StartPriceWei: "1", StartTime: 0, EndTime: 10})
	assert.ErrorIs(t, err, ErrDuplicateKey)

	_, err = store.GetAuction(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.CommitBid(ctx, a.ID, "0xb1", "150", nil); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	bids, err := store.ListBids(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, bids, 1)

	ended, err := store.EndExpiredAuctions(ctx, 101)
	require.NoError(t, err)
	require.Len(t, ended, 1)
	assert.Equal(t, AuctionEnded, ended[0].Status)

	prev := "150"
	_, err = store.CommitBid(ctx, a.ID, "0xb2", "200", &prev)
	assert.ErrorIs(t, err, ErrStaleWrite)
}

func TestStoreRunsAndAdvisoryLock(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	from, to := int64(10), int64(20)
	msg := "rpc down"
	started := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.InsertReconcileRun(ctx, ReconcileRun{RunID: uuid.New(), ChainID: 1, Mode: "live", FromBlock: &from, ToBlock: &to, Status: RunFailed, Error: &msg, StartedAt: started, FinishedAt: started.Add(time.Second)}))
	require.NoError(t, store.InsertReconcileRun(ctx, ReconcileRun{RunID: uuid.New(), ChainID: 1, Mode: "mock", Events: 4, Listings: 3, Status: RunComplete, StartedAt: started.Add(time.Minute), FinishedAt: started.Add(time.Minute)}))

	runs, err := store.ListRecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, RunComplete, runs[0].Status)
	assert.Nil(t, runs[0].FromBlock)
	assert.Equal(t, "rpc down", *runs[1].Error)

	unlock, ok, err := store.TryAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = store.TryAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok)
	unlock()
}
