package events

import (
	"math/big"
)

type mockListing struct {
	tokenID  int64
	nft      string
	priceWei string
	seller   string
}

// Fixed sample dataset used when no chain is available.
var mockListings = []mockListing{
	{1, "0x1111111111111111111111111111111111111111", "250000000000000000", "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"},
	{2, "0x2222222222222222222222222222222222222222", "1500000000000000000", "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"},
	{3, "0x3333333333333333333333333333333333333333", "50000000000000000", "0xcccccccccccccccccccccccccccccccccccccccc"},
}

var mockSales = []struct {
	tokenID int64
	nft     string
	buyer   string
}{
	{2, "0x2222222222222222222222222222222222222222", "0xdddddddddddddddddddddddddddddddddddddddd"},
}

// MockEvents returns the deterministic sample stream for a chain. The same
// tokens are produced for every chain id; the caller scopes them by chain.
func MockEvents(chainID int64) []Event {
	created := make([]LogRecord, 0, len(mockListings))
	block := uint64(1)
	for _, l := range mockListings {
		price, _ := new(big.Int).SetString(l.priceWei, 10)
		created = append(created, LogRecord{
			Kind:        KindListingCreated,
			BlockNumber: block,
			TokenID:     big.NewInt(l.tokenID),
			NFTAddress:  l.nft,
			PriceWei:    price,
			Seller:      l.seller,
		})
		block++
	}

	sold := make([]LogRecord, 0, len(mockSales))
	for _, s := range mockSales {
		sold = append(sold, LogRecord{
			Kind:        KindListingSold,
			BlockNumber: block,
			TokenID:     big.NewInt(s.tokenID),
			NFTAddress:  s.nft,
			Buyer:       s.buyer,
		})
		block++
	}

	return Normalize(created, sold)
}
