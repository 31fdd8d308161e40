package storage

import (
	"time"

	"github.com/google/uuid"
)

// Auction statuses.
const (
	AuctionActive = "ACTIVE"
	AuctionEnded  = "ENDED"
)

// Reconcile run statuses.
const (
	RunComplete = "complete"
	RunFailed   = "failed"
	RunSkipped  = "skipped"
)

// ListingKey identifies a listing within the mirror.
type ListingKey struct {
	ChainID    int64
	TokenID    string
	NFTAddress string
}

// Listing is one mirrored marketplace listing. Wei amounts are decimal strings.
type Listing struct {
	ID            int64
	ChainID       int64
	TokenID       string
	NFTAddress    string
	PriceWei      string
	PriceEth      string
	SellerAddress string
	IsSold        bool
	Name          *string
	Description   *string
	ImageURL      *string
	TokenURI      *string
	Collection    *string
	CycleID       *uuid.UUID
	UpdatedAt     time.Time
}

// Key returns the identity triple of the listing.
func (l Listing) Key() ListingKey {
	return ListingKey{ChainID: l.ChainID, TokenID: l.TokenID, NFTAddress: l.NFTAddress}
}

// NeedsMetadata reports whether name or image is still missing.
func (l Listing) NeedsMetadata() bool {
	return isBlank(l.Name) || isBlank(l.ImageURL)
}

// ListingUpsert carries the chain-derived columns of a listing.
type ListingUpsert struct {
	Key           ListingKey
	PriceWei      string
	PriceEth      string
	SellerAddress string
}

// ListingMetadata holds off-chain descriptive fields. Empty strings mean unknown.
type ListingMetadata struct {
	Name        string
	Description string
	ImageURL    string
	TokenURI    string
}

// Auction is a time-boxed English auction.
type Auction struct {
	ID                   int64
	ChainID              int64
	TokenID              string
	NFTAddress           string
	SellerAddress        string
	StartPriceWei        string
	CurrentBidWei        *string
	CurrentBidderAddress *string
	StartTime            int64
	EndTime              int64
	Status               string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Bid is an accepted bid. Bids are append-only.
type Bid struct {
	ID            int64
	AuctionID     int64
	BidderAddress string
	BidAmountWei  string
	CreatedAt     time.Time
}

// ReconcileRun is the audit row of one chain reconciliation cycle.
type ReconcileRun struct {
	RunID      uuid.UUID
	ChainID    int64
	Mode       string
	FromBlock  *int64
	ToBlock    *int64
	Events     int
	Listings   int
	Status     string
	Error      *string
	StartedAt  time.Time
	FinishedAt time.Time
}

func isBlank(s *string) bool {
	return s == nil || *s == ""
}
