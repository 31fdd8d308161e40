package events

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeOrdersByBlockAndLogIndex(t *testing.T) {
	created := []LogRecord{
		{Kind: KindListingCreated, BlockNumber: 10, LogIndex: 2, TokenID: big.NewInt(1), NFTAddress: "0xABC", PriceWei: big.NewInt(5)},
		{Kind: KindListingCreated, BlockNumber: 9, LogIndex: 7, TokenID: big.NewInt(2), NFTAddress: "0xabc", PriceWei: big.NewInt(6)},
	}
	sold := []LogRecord{
		{Kind: KindListingSold, BlockNumber: 10, LogIndex: 1, TokenID: big.NewInt(2), NFTAddress: "0xAbC", Buyer: "0xbuyer"},
	}

	out := Normalize(created, sold)
	require.Len(t, out, 3)

	assert.Equal(t, uint64(9), out[0].BlockNumber)
	assert.Equal(t, KindListingCreated, out[0].Kind)
	assert.Equal(t, KindListingSold, out[1].Kind)
	assert.Equal(t, uint(1), out[1].LogIndex)
	assert.Equal(t, uint(2), out[2].LogIndex)
	for _, evt := range out {
		assert.Equal(t, "0xabc", evt.NFTAddress)
	}
	assert.Nil(t, out[1].PriceWei)
	assert.Equal(t, "0xbuyer", out[1].Buyer)
}

func TestNormalizeDropsUnreplayableRecords(t *testing.T) {
	created := []LogRecord{
		{Kind: KindListingCreated, BlockNumber: 1, TokenID: big.NewInt(1), NFTAddress: "0x1"},
		{Kind: KindListingCreated, BlockNumber: 2, NFTAddress: "0x1", PriceWei: big.NewInt(1)},
		{Kind: KindListingCreated, BlockNumber: 3, TokenID: big.NewInt(3), NFTAddress: "0x1", PriceWei: big.NewInt(1)},
		{Kind: KindListingCreated, BlockNumber: 5, TokenID: big.NewInt(5), PriceWei: big.NewInt(1)},
	}
	sold := []LogRecord{
		{Kind: KindListingSold, BlockNumber: 4, NFTAddress: "0x1"},
		{Kind: KindListingSold, BlockNumber: 6, TokenID: big.NewInt(3)},
	}

	out := Normalize(created, sold)
	require.Len(t, out, 1)
	assert.Equal(t, int64(3), out[0].TokenID.Int64())
}

func TestMockEventsAreDeterministic(t *testing.T) {
	first := MockEvents(11155111)
	second := MockEvents(11155111)
	require.Equal(t, first, second)
	require.Len(t, first, 4)

	last := first[len(first)-1]
	assert.Equal(t, KindListingSold, last.Kind)
	assert.Equal(t, int64(2), last.TokenID.Int64())
	assert.Equal(t, "0x2222222222222222222222222222222222222222", last.NFTAddress)
	assert.Equal(t, "250000000000000000", first[0].PriceWei.String())
}
