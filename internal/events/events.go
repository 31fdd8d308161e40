package events

import (
	"math/big"
	"sort"
	"strings"
)

// Kind names a marketplace contract event.
type Kind string

const (
	// KindListingCreated is emitted when a seller lists a token.
	KindListingCreated Kind = "ListingCreated"
	// KindListingSold is emitted when a listed token is bought.
	KindListingSold Kind = "ListingSold"
)

// LogRecord is a decoded marketplace log as returned by a chain reader.
// Fields the decoder could not recover are left nil/empty.
type LogRecord struct {
	Kind        Kind
	BlockNumber uint64
	LogIndex    uint
	TokenID     *big.Int
	NFTAddress  string
	PriceWei    *big.Int
	Seller      string
	Buyer       string
}

// Event is one entry of the canonical, time-ordered event stream for a chain.
type Event struct {
	Kind        Kind
	TokenID     *big.Int
	NFTAddress  string
	PriceWei    *big.Int
	Seller      string
	Buyer       string
	BlockNumber uint64
	LogIndex    uint
}

// Normalize merges created and sold records of one chain into a single stream
// ordered by (block number, log index). Records that cannot be replayed are dropped.
func Normalize(created, sold []LogRecord) []Event {
	merged := make([]Event, 0, len(created)+len(sold))
	for _, rec := range created {
		if rec.TokenID == nil || rec.NFTAddress == "" || rec.PriceWei == nil || rec.PriceWei.Sign() < 0 {
			continue
		}
		merged = append(merged, fromRecord(KindListingCreated, rec))
	}
	for _, rec := range sold {
		if rec.TokenID == nil || rec.NFTAddress == "" {
			continue
		}
		merged = append(merged, fromRecord(KindListingSold, rec))
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].BlockNumber != merged[j].BlockNumber {
			return merged[i].BlockNumber < merged[j].BlockNumber
		}
		return merged[i].LogIndex < merged[j].LogIndex
	})
	return merged
}

func fromRecord(kind Kind, rec LogRecord) Event {
	evt := Event{
		Kind:        kind,
		TokenID:     rec.TokenID,
		NFTAddress:  strings.ToLower(rec.NFTAddress),
		BlockNumber: rec.BlockNumber,
		LogIndex:    rec.LogIndex,
	}
	if kind == KindListingCreated {
		evt.PriceWei = rec.PriceWei
		evt.Seller = rec.Seller
	} else {
		evt.Buyer = rec.Buyer
	}
	return evt
}
