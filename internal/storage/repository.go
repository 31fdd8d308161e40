package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgErrUniqueViolation = "23505"

const (
	listingColumns = `id,
        chain_id,
        token_id,
        nft_address,
        price_wei,
        price_eth,
        seller_address,
        is_sold,
        name,
        description,
        image_url,
        token_uri,
        collection,
        cycle_id::text,
        updated_at`

	upsertListingSQL = `INSERT INTO listings (
        chain_id,
        token_id,
        nft_address,
        price_wei,
        price_eth,
        seller_address,
        is_sold,
        cycle_id,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,FALSE,$7::uuid,NOW()
    )
    ON CONFLICT (token_id, nft_address, chain_id) DO UPDATE
    SET
        price_wei      = EXCLUDED.price_wei,
        price_eth      = EXCLUDED.price_eth,
        seller_address = EXCLUDED.seller_address,
        is_sold        = FALSE,
        cycle_id       = EXCLUDED.cycle_id,
        updated_at     = NOW();`

	markListingSoldSQL = `UPDATE listings
    SET is_sold = TRUE, updated_at = NOW()
    WHERE token_id = $1
      AND nft_address = $2
      AND chain_id = $3
      AND cycle_id = $4::uuid;`

	pruneListingsSQL = `DELETE FROM listings
    WHERE chain_id = $1
      AND (cycle_id IS NULL OR cycle_id <> $2::uuid);`

	clearListingsSQL = `DELETE FROM listings WHERE chain_id = $1;`

	listActiveListingsSQL = `SELECT ` + listingColumns + `
    FROM listings
    WHERE is_sold = FALSE
    ORDER BY id DESC;`

	listChainListingsSQL = `SELECT ` + listingColumns + `
    FROM listings
    WHERE chain_id = $1
    ORDER BY id;`

	coalesceListingMetadataSQL = `UPDATE listings
    SET
        name        = COALESCE(NULLIF(name, ''), NULLIF($4::text, '')),
        description = COALESCE(NULLIF(description, ''), NULLIF($5::text, '')),
        image_url   = COALESCE(NULLIF(image_url, ''), NULLIF($6::text, '')),
        token_uri   = COALESCE(NULLIF(token_uri, ''), NULLIF($7::text, '')),
        updated_at  = NOW()
    WHERE token_id = $1
      AND nft_address = $2
      AND chain_id = $3;`

	auctionColumns = `id,
        chain_id,
        token_id,
        nft_address,
        seller_address,
        start_price_wei,
        current_bid_wei,
        current_bidder_address,
        start_time,
        end_time,
        status,
        created_at,
        updated_at`

	insertAuctionSQL = `INSERT INTO auctions (
        chain_id,
        token_id,
        nft_address,
        seller_address,
        start_price_wei,
        start_time,
        end_time,
        status
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,'ACTIVE'
    )
    RETURNING ` + auctionColumns + `;`

	getAuctionSQL = `SELECT ` + auctionColumns + `
    FROM auctions
    WHERE id = $1;`

	casCurrentBidSQL = `UPDATE auctions
    SET current_bid_wei = $2,
        current_bidder_address = $3,
        updated_at = NOW()
    WHERE id = $1
      AND status = 'ACTIVE'
      AND current_bid_wei IS NOT DISTINCT FROM $4::text
    RETURNING ` + auctionColumns + `;`

	insertBidSQL = `INSERT INTO bids (auction_id, bidder_address, bid_amount_wei)
    VALUES ($1,$2,$3);`

	endExpiredAuctionsSQL = `UPDATE auctions
    SET status = 'ENDED', updated_at = NOW()
    WHERE status = 'ACTIVE'
      AND end_time < $1
    RETURNING ` + auctionColumns + `;`

	listActiveAuctionsSQL = `SELECT ` + auctionColumns + `
    FROM auctions
    WHERE status = 'ACTIVE'
    ORDER BY end_time ASC, id ASC;`

	listBidsSQL = `SELECT id, auction_id, bidder_address, bid_amount_wei, created_at
    FROM bids
    WHERE auction_id = $1
    ORDER BY id ASC;`

	insertReconcileRunSQL = `INSERT INTO reconcile_runs (
        run_id,
        chain_id,
        mode,
        from_block,
        to_block,
        events,
        listings,
        status,
        error,
        started_at,
        finished_at
    ) VALUES (
        $1::uuid,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    );`

	listRecentRunsSQL = `SELECT
        run_id::text,
        chain_id,
        mode,
        from_block,
        to_block,
        events,
        listings,
        status,
        error,
        started_at,
        finished_at
    FROM reconcile_runs
    ORDER BY started_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store is the PostgreSQL implementation of every store interface.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session when the conn is destroyed
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			_ = conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ClearListings deletes every listing of one chain in its own transaction.
func (s *Store) ClearListings(ctx context.Context, chainID int64) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, clearListingsSQL, chainID)
	if err != nil {
		return 0, fmt.Errorf("clear listings for chain %d: %w", chainID, err)
	}
	return tag.RowsAffected(), nil
}

// RebuildListings replays one cycle inside a single transaction.
func (s *Store) RebuildListings(ctx context.Context, chainID int64, cycleID uuid.UUID, fn func(ListingWriter) error) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rebuild: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	writer := &pgListingWriter{tx: tx, chainID: chainID, cycleID: cycleID.String()}
	if err := fn(writer); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, pruneListingsSQL, chainID, writer.cycleID); err != nil {
		return fmt.Errorf("prune listings for chain %d: %w", chainID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rebuild: %w", err)
	}
	return nil
}

type pgListingWriter struct {
	tx      pgx.Tx
	chainID int64
	cycleID string
}

func (w *pgListingWriter) UpsertListing(ctx context.Context, u ListingUpsert) error {
	if u.Key.ChainID != w.chainID {
		return fmt.Errorf("upsert listing: chain %d outside rebuild of chain %d", u.Key.ChainID, w.chainID)
	}
	if _, err := w.tx.Exec(ctx, upsertListingSQL,
		u.Key.ChainID,
		u.Key.TokenID,
		u.Key.NFTAddress,
		u.PriceWei,
		u.PriceEth,
		u.SellerAddress,
		w.cycleID,
	); err != nil {
		return fmt.Errorf("upsert listing: %w", err)
	}
	return nil
}

func (w *pgListingWriter) MarkListingSold(ctx context.Context, key ListingKey) (bool, error) {
	if key.ChainID != w.chainID {
		return false, nil
	}
	tag, err := w.tx.Exec(ctx, markListingSoldSQL, key.TokenID, key.NFTAddress, key.ChainID, w.cycleID)
	if err != nil {
		return false, fmt.Errorf("mark listing sold: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListActiveListings returns unsold listings across all chains, newest first.
func (s *Store) ListActiveListings(ctx context.Context) ([]Listing, error) {
	return s.queryListings(ctx, "list active listings", listActiveListingsSQL)
}

// ListListings returns every listing of one chain.
func (s *Store) ListListings(ctx context.Context, chainID int64) ([]Listing, error) {
	return s.queryListings(ctx, "list listings", listChainListingsSQL, chainID)
}

func (s *Store) queryListings(ctx context.Context, op, query string, args ...any) ([]Listing, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", op, queryErr)
	}
	defer rows.Close()

	listings := make([]Listing, 0)
	for rows.Next() {
		listing, scanErr := scanListing(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("%s: %w", op, scanErr)
		}
		listings = append(listings, listing)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return listings, nil
}

// CoalesceListingMetadata fills empty metadata columns of an existing listing.
func (s *Store) CoalesceListingMetadata(ctx context.Context, key ListingKey, meta ListingMetadata) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, coalesceListingMetadataSQL,
		key.TokenID,
		key.NFTAddress,
		key.ChainID,
		meta.Name,
		meta.Description,
		meta.ImageURL,
		meta.TokenURI,
	)
	if execErr != nil {
		return fmt.Errorf("coalesce listing metadata: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertAuction creates an ACTIVE auction.
func (s *Store) InsertAuction(ctx context.Context, a Auction) (Auction, error) {
	pool, err := s.getPool()
	if err != nil {
		return Auction{}, err
	}
	row := pool.QueryRow(ctx, insertAuctionSQL,
		a.ChainID,
		a.TokenID,
		a.NFTAddress,
		a.SellerAddress,
		a.StartPriceWei,
		a.StartTime,
		a.EndTime,
	)
	created, scanErr := scanAuction(row)
	if scanErr != nil {
		if isDuplicateKeyError(scanErr) {
			return Auction{}, ErrDuplicateKey
		}
		return Auction{}, fmt.Errorf("insert auction: %w", scanErr)
	}
	return created, nil
}

// GetAuction loads one auction.
func (s *Store) GetAuction(ctx context.Context, id int64) (Auction, error) {
	pool, err := s.getPool()
	if err != nil {
		return Auction{}, err
	}
	a, scanErr := scanAuction(pool.QueryRow(ctx, getAuctionSQL, id))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Auction{}, ErrNotFound
		}
		return Auction{}, fmt.Errorf("get auction: %w", scanErr)
	}
	return a, nil
}

// CommitBid swaps the current bid and appends the bid row in one transaction.
func (s *Store) CommitBid(ctx context.Context, auctionID int64, bidder, amountWei string, expectedCurrent *string) (Auction, error) {
	pool, err := s.getPool()
	if err != nil {
		return Auction{}, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return Auction{}, fmt.Errorf("begin bid: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	updated, scanErr := scanAuction(tx.QueryRow(ctx, casCurrentBidSQL, auctionID, amountWei, bidder, expectedCurrent))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Auction{}, ErrStaleWrite
		}
		return Auction{}, fmt.Errorf("update current bid: %w", scanErr)
	}

	if _, err := tx.Exec(ctx, insertBidSQL, auctionID, bidder, amountWei); err != nil {
		return Auction{}, fmt.Errorf("insert bid: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Auction{}, fmt.Errorf("commit bid: %w", err)
	}
	return updated, nil
}

// EndExpiredAuctions ends ACTIVE auctions whose end_time is before now.
func (s *Store) EndExpiredAuctions(ctx context.Context, now int64) ([]Auction, error) {
	auctions, err := s.queryAuctions(ctx, "end expired auctions", endExpiredAuctionsSQL, now)
	if err != nil {
		return nil, err
	}
	sortAuctions(auctions)
	return auctions, nil
}

// ListActiveAuctions returns ACTIVE auctions ordered by end time.
func (s *Store) ListActiveAuctions(ctx context.Context) ([]Auction, error) {
	return s.queryAuctions(ctx, "list active auctions", listActiveAuctionsSQL)
}

func (s *Store) queryAuctions(ctx context.Context, op, query string, args ...any) ([]Auction, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", op, queryErr)
	}
	defer rows.Close()

	auctions := make([]Auction, 0)
	for rows.Next() {
		a, scanErr := scanAuction(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("%s: %w", op, scanErr)
		}
		auctions = append(auctions, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return auctions, nil
}

// ListBids returns the bids of one auction, oldest first.
func (s *Store) ListBids(ctx context.Context, auctionID int64) ([]Bid, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listBidsSQL, auctionID)
	if queryErr != nil {
		return nil, fmt.Errorf("list bids: %w", queryErr)
	}
	defer rows.Close()

	bids := make([]Bid, 0)
	for rows.Next() {
		var b Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderAddress, &b.BidAmountWei, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("list bids: %w", err)
		}
		bids = append(bids, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return bids, nil
}

// InsertReconcileRun records the outcome of one chain cycle.
func (s *Store) InsertReconcileRun(ctx context.Context, run ReconcileRun) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertReconcileRunSQL,
		run.RunID.String(),
		run.ChainID,
		run.Mode,
		run.FromBlock,
		run.ToBlock,
		run.Events,
		run.Listings,
		run.Status,
		run.Error,
		run.StartedAt,
		run.FinishedAt,
	); execErr != nil {
		if isDuplicateKeyError(execErr) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert reconcile run: %w", execErr)
	}
	return nil
}

// ListRecentRuns lists the most recent reconcile runs.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]ReconcileRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]ReconcileRun, 0, limit)
	for rows.Next() {
		var (
			run   ReconcileRun
			runID string
		)
		if err := rows.Scan(
			&runID,
			&run.ChainID,
			&run.Mode,
			&run.FromBlock,
			&run.ToBlock,
			&run.Events,
			&run.Listings,
			&run.Status,
			&run.Error,
			&run.StartedAt,
			&run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("list recent runs: %w", err)
		}
		parsed, err := uuid.Parse(runID)
		if err != nil {
			return nil, fmt.Errorf("parse run id: %w", err)
		}
		run.RunID = parsed
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (Listing, error) {
	var (
		l       Listing
		cycleID *string
	)
	if err := row.Scan(
		&l.ID,
		&l.ChainID,
		&l.TokenID,
		&l.NFTAddress,
		&l.PriceWei,
		&l.PriceEth,
		&l.SellerAddress,
		&l.IsSold,
		&l.Name,
		&l.Description,
		&l.ImageURL,
		&l.TokenURI,
		&l.Collection,
		&cycleID,
		&l.UpdatedAt,
	); err != nil {
		return Listing{}, err
	}
	if cycleID != nil {
		parsed, err := uuid.Parse(*cycleID)
		if err != nil {
			return Listing{}, fmt.Errorf("parse cycle id: %w", err)
		}
		l.CycleID = &parsed
	}
	return l, nil
}

func scanAuction(row rowScanner) (Auction, error) {
	var a Auction
	err := row.Scan(
		&a.ID,
		&a.ChainID,
		&a.TokenID,
		&a.NFTAddress,
		&a.SellerAddress,
		&a.StartPriceWei,
		&a.CurrentBidWei,
		&a.CurrentBidderAddress,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	return a, err
}

func sortAuctions(auctions []Auction) {
	sort.Slice(auctions, func(i, j int) bool {
		if auctions[i].EndTime != auctions[j].EndTime {
			return auctions[i].EndTime < auctions[j].EndTime
		}
		return auctions[i].ID < auctions[j].ID
	})
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}

var _ Backend = (*Store)(nil)
