// Package memory is an in-process implementation of the storage interfaces,
// used when no database is configured and by unit tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"nft-market-sync/internal/storage"
)

// Store keeps every table in maps guarded by one mutex.
type Store struct {
	mu sync.Mutex

	listings      map[storage.ListingKey]storage.Listing
	nextListingID int64

	auctions      map[int64]storage.Auction
	auctionKeys   map[storage.ListingKey]int64
	bids          map[int64][]storage.Bid
	nextAuctionID int64
	nextBidID     int64

	runs []storage.ReconcileRun

	locksMu sync.Mutex
	locks   map[int64]struct{}

	now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		listings:    make(map[storage.ListingKey]storage.Listing),
		auctions:    make(map[int64]storage.Auction),
		auctionKeys: make(map[storage.ListingKey]int64),
		bids:        make(map[int64][]storage.Bid),
		locks:       make(map[int64]struct{}),
		now:         time.Now,
	}
}

// Close is a no-op.
func (s *Store) Close() {}

// TryAdvisoryLock emulates pg_try_advisory_lock within the process.
func (s *Store) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if _, held := s.locks[key]; held {
		return nil, false, nil
	}
	s.locks[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			s.locksMu.Lock()
			delete(s.locks, key)
			s.locksMu.Unlock()
		})
	}, true, nil
}

// ClearListings deletes every listing of one chain.
func (s *Store) ClearListings(_ context.Context, chainID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key := range s.listings {
		if key.ChainID == chainID {
			delete(s.listings, key)
			n++
		}
	}
	return n, nil
}

// RebuildListings stages fn's writes on a copy of the chain's rows and
// swaps them in only if fn succeeds. Readers wait for the swap.
func (s *Store) RebuildListings(ctx context.Context, chainID int64, cycleID uuid.UUID, fn func(storage.ListingWriter) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := &writer{store: s, chainID: chainID, cycleID: cycleID, staged: make(map[storage.ListingKey]storage.Listing)}
	for key, l := range s.listings {
		if key.ChainID == chainID {
			w.staged[key] = l
		}
	}

	if err := fn(w); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for key := range s.listings {
		if key.ChainID == chainID {
			delete(s.listings, key)
		}
	}
	for key, l := range w.staged {
		if l.CycleID != nil && *l.CycleID == cycleID {
			s.listings[key] = l
		}
	}
	return nil
}

type writer struct {
	store   *Store
	chainID int64
	cycleID uuid.UUID
	staged  map[storage.ListingKey]storage.Listing
}

func (w *writer) UpsertListing(_ context.Context, u storage.ListingUpsert) error {
	if u.Key.ChainID != w.chainID {
		return fmt.Errorf("upsert listing: chain %d outside rebuild of chain %d", u.Key.ChainID, w.chainID)
	}
	l, ok := w.staged[u.Key]
	if !ok {
		w.store.nextListingID++
		l = storage.Listing{
			ID:         w.store.nextListingID,
			ChainID:    u.Key.ChainID,
			TokenID:    u.Key.TokenID,
			NFTAddress: u.Key.NFTAddress,
		}
	}
	cycle := w.cycleID
	l.PriceWei = u.PriceWei
	l.PriceEth = u.PriceEth
	l.SellerAddress = u.SellerAddress
	l.IsSold = false
	l.CycleID = &cycle
	l.UpdatedAt = w.store.now()
	w.staged[u.Key] = l
	return nil
}

func (w *writer) MarkListingSold(_ context.Context, key storage.ListingKey) (bool, error) {
	l, ok := w.staged[key]
	if !ok || l.CycleID == nil || *l.CycleID != w.cycleID {
		return false, nil
	}
	l.IsSold = true
	l.UpdatedAt = w.store.now()
	w.staged[key] = l
	return true, nil
}

// ListActiveListings returns unsold listings across all chains, newest first.
func (s *Store) ListActiveListings(_ context.Context) ([]storage.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.Listing, 0, len(s.listings))
	for _, l := range s.listings {
		if !l.IsSold {
			out = append(out, cloneListing(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// ListListings returns every listing of one chain ordered by id.
func (s *Store) ListListings(_ context.Context, chainID int64) ([]storage.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.Listing, 0)
	for key, l := range s.listings {
		if key.ChainID == chainID {
			out = append(out, cloneListing(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CoalesceListingMetadata fills empty metadata fields of an existing listing.
func (s *Store) CoalesceListingMetadata(_ context.Context, key storage.ListingKey, meta storage.ListingMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[key]
	if !ok {
		return storage.ErrNotFound
	}
	l.Name = coalesce(l.Name, meta.Name)
	l.Description = coalesce(l.Description, meta.Description)
	l.ImageURL = coalesce(l.ImageURL, meta.ImageURL)
	l.TokenURI = coalesce(l.TokenURI, meta.TokenURI)
	l.UpdatedAt = s.now()
	s.listings[key] = l
	return nil
}

// InsertAuction creates an ACTIVE auction.
func (s *Store) InsertAuction(_ context.Context, a storage.Auction) (storage.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storage.ListingKey{ChainID: a.ChainID, TokenID: a.TokenID, NFTAddress: a.NFTAddress}
	if _, exists := s.auctionKeys[key]; exists {
		return storage.Auction{}, storage.ErrDuplicateKey
	}
	s.nextAuctionID++
	now := s.now()
	a.ID = s.nextAuctionID
	a.Status = storage.AuctionActive
	a.CurrentBidWei = nil
	a.CurrentBidderAddress = nil
	a.CreatedAt = now
	a.UpdatedAt = now
	s.auctions[a.ID] = a
	s.auctionKeys[key] = a.ID
	return cloneAuction(a), nil
}

// GetAuction loads one auction.
func (s *Store) GetAuction(_ context.Context, id int64) (storage.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[id]
	if !ok {
		return storage.Auction{}, storage.ErrNotFound
	}
	return cloneAuction(a), nil
}

// CommitBid swaps the current bid when the auction still matches expectedCurrent.
func (s *Store) CommitBid(_ context.Context, auctionID int64, bidder, amountWei string, expectedCurrent *string) (storage.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[auctionID]
	if !ok || a.Status != storage.AuctionActive || !sameBid(a.CurrentBidWei, expectedCurrent) {
		return storage.Auction{}, storage.ErrStaleWrite
	}
	amount := amountWei
	who := bidder
	now := s.now()
	a.CurrentBidWei = &amount
	a.CurrentBidderAddress = &who
	a.UpdatedAt = now
	s.auctions[auctionID] = a

	s.nextBidID++
	s.bids[auctionID] = append(s.bids[auctionID], storage.Bid{
		ID:            s.nextBidID,
		AuctionID:     auctionID,
		BidderAddress: bidder,
		BidAmountWei:  amountWei,
		CreatedAt:     now,
	})
	return cloneAuction(a), nil
}

// EndExpiredAuctions ends ACTIVE auctions whose end time is before now.
func (s *Store) EndExpiredAuctions(_ context.Context, now int64) ([]storage.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ended := make([]storage.Auction, 0)
	for id, a := range s.auctions {
		if a.Status == storage.AuctionActive && a.EndTime < now {
			a.Status = storage.AuctionEnded
			a.UpdatedAt = s.now()
			s.auctions[id] = a
			ended = append(ended, cloneAuction(a))
		}
	}
	sortAuctions(ended)
	return ended, nil
}

// ListActiveAuctions returns ACTIVE auctions ordered by end time then id.
func (s *Store) ListActiveAuctions(_ context.Context) ([]storage.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.Auction, 0)
	for _, a := range s.auctions {
		if a.Status == storage.AuctionActive {
			out = append(out, cloneAuction(a))
		}
	}
	sortAuctions(out)
	return out, nil
}

// ListBids returns the bids of one auction, oldest first.
func (s *Store) ListBids(_ context.Context, auctionID int64) ([]storage.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bids := s.bids[auctionID]
	out := make([]storage.Bid, len(bids))
	copy(out, bids)
	return out, nil
}

// InsertReconcileRun records one chain cycle.
func (s *Store) InsertReconcileRun(_ context.Context, run storage.ReconcileRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.runs {
		if existing.RunID == run.RunID {
			return storage.ErrDuplicateKey
		}
	}
	s.runs = append(s.runs, run)
	return nil
}

// ListRecentRuns lists the most recent runs first.
func (s *Store) ListRecentRuns(_ context.Context, limit int) ([]storage.ReconcileRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.ReconcileRun, len(s.runs))
	copy(out, s.runs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortAuctions(auctions []storage.Auction) {
	sort.Slice(auctions, func(i, j int) bool {
		if auctions[i].EndTime != auctions[j].EndTime {
			return auctions[i].EndTime < auctions[j].EndTime
		}
		return auctions[i].ID < auctions[j].ID
	})
}

func sameBid(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func coalesce(current *string, incoming string) *string {
	if current != nil && *current != "" {
		return current
	}
	if incoming == "" {
		return current
	}
	v := incoming
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneListing(l storage.Listing) storage.Listing {
	l.Name = cloneString(l.Name)
	l.Description = cloneString(l.Description)
	l.ImageURL = cloneString(l.ImageURL)
	l.TokenURI = cloneString(l.TokenURI)
	l.Collection = cloneString(l.Collection)
	if l.CycleID != nil {
		id := *l.CycleID
		l.CycleID = &id
	}
	return l
}

func cloneAuction(a storage.Auction) storage.Auction {
	a.CurrentBidWei = cloneString(a.CurrentBidWei)
	a.CurrentBidderAddress = cloneString(a.CurrentBidderAddress)
	return a
}

var _ storage.Backend = (*Store)(nil)
