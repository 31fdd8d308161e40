package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-market-sync/internal/config"
	"nft-market-sync/internal/events"
)

const testMarketplace = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

type fakeBackend struct {
	height   uint64
	heightFn func(ctx context.Context) (uint64, error)
	logs     map[common.Hash][]types.Log
	callRes  []byte
	callErr  error
	queries  []ethereum.FilterQuery
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	if f.heightFn != nil {
		return f.heightFn(ctx)
	}
	return f.height, nil
}

func (f *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.queries = append(f.queries, q)
	return f.logs[q.Topics[0][0]], nil
}

func (f *fakeBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return f.callRes, f.callErr
}

func validChain() config.ChainConfig {
	return config.ChainConfig{ChainID: 11155111, Name: "sepolia", RPCURL: "https://rpc.example.org", MarketplaceAddress: testMarketplace}
}

func TestValidateConfig(t *testing.T) {
	cases := []struct {
		name  string
		mut   func(*config.ChainConfig)
		field string
	}{
		{"missing chain id", func(c *config.ChainConfig) { c.ChainID = 0 }, "chain_id"},
		{"empty rpc", func(c *config.ChainConfig) { c.RPCURL = " " }, "rpc_url"},
		{"placeholder rpc", func(c *config.ChainConfig) { c.RPCURL = "https://sepolia.infura.io/v3/YOUR_INFURA_KEY" }, "rpc_url"},
		{"empty address", func(c *config.ChainConfig) { c.MarketplaceAddress = "" }, "marketplace_address"},
		{"short address", func(c *config.ChainConfig) { c.MarketplaceAddress = "0x1234" }, "marketplace_address"},
		{"dead address", func(c *config.ChainConfig) { c.MarketplaceAddress = "0x0000000000000000000000000000000000dead00" }, "marketplace_address"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validChain()
			tc.mut(&cfg)
			err := ValidateConfig(cfg)
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}

	require.NoError(t, ValidateConfig(validChain()))
}

func TestFetchLogsDecodesCreatedAndSold(t *testing.T) {
	seller := common.HexToAddress("0xaAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa")
	buyer := common.HexToAddress("0xdDdDddDdDdddDDddDDddDDDDdDdDDdDDdDDDDDDd")
	nft := common.HexToAddress("0x1111111111111111111111111111111111111111")

	createdEvt := marketplaceABI.Events["ListingCreated"]
	soldEvt := marketplaceABI.Events["ListingSold"]

	createdData, err := createdEvt.Inputs.NonIndexed().Pack(big.NewInt(7), big.NewInt(250000000000000000))
	require.NoError(t, err)
	soldData, err := soldEvt.Inputs.NonIndexed().Pack(big.NewInt(7))
	require.NoError(t, err)

	backend := &fakeBackend{logs: map[common.Hash][]types.Log{
		createdEvt.ID: {
			{Topics: []common.Hash{createdEvt.ID, common.BytesToHash(seller.Bytes()), common.BytesToHash(nft.Bytes())}, Data: createdData, BlockNumber: 5, Index: 1},
			{Topics: []common.Hash{createdEvt.ID, common.BytesToHash(seller.Bytes()), common.BytesToHash(nft.Bytes())}, Data: []byte{0x01}, BlockNumber: 6, Index: 0},
			{Topics: []common.Hash{createdEvt.ID}, Data: createdData, BlockNumber: 7, Removed: true},
		},
		soldEvt.ID: {
			{Topics: []common.Hash{soldEvt.ID, common.BytesToHash(buyer.Bytes()), common.BytesToHash(nft.Bytes())}, Data: soldData, BlockNumber: 9, Index: 3},
		},
	}}

	reader, err := NewEthReader(validChain(), backend, Options{RequestTimeout: time.Second}, zerolog.Nop())
	require.NoError(t, err)

	created, err := reader.FetchLogs(context.Background(), events.KindListingCreated, 0, 100)
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, "7", created[0].TokenID.String())
	assert.Equal(t, "250000000000000000", created[0].PriceWei.String())
	assert.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", created[0].Seller)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", created[0].NFTAddress)
	assert.Nil(t, created[1].PriceWei, "undecodable data leaves price unset")

	sold, err := reader.FetchLogs(context.Background(), events.KindListingSold, 0, 100)
	require.NoError(t, err)
	require.Len(t, sold, 1)
	assert.Equal(t, "0xdddddddddddddddddddddddddddddddddddddddd", sold[0].Buyer)
	assert.Equal(t, uint(3), sold[0].LogIndex)

	require.Len(t, backend.queries, 2)
	assert.Equal(t, common.HexToAddress(testMarketplace), backend.queries[0].Addresses[0])
	assert.Equal(t, int64(100), backend.queries[0].ToBlock.Int64())
}

func TestBlockHeightTimeoutIsConnectivityError(t *testing.T) {
	backend := &fakeBackend{heightFn: func(ctx context.Context) (uint64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}}
	reader, err := NewEthReader(validChain(), backend, Options{RequestTimeout: 20 * time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)

	_, err = reader.BlockHeight(context.Background())
	var connErr *ConnectivityError
	require.ErrorAs(t, err, &connErr)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestTokenURIDegradesToEmpty(t *testing.T) {
	nft := common.HexToAddress("0x1111111111111111111111111111111111111111")

	encoded, err := erc721ABI.Methods["tokenURI"].Outputs.Pack("ipfs://bafy/1.json")
	require.NoError(t, err)

	reader, err := NewEthReader(validChain(), &fakeBackend{callRes: encoded}, Options{}, zerolog.Nop())
	require.NoError(t, err)
	uri, ok := reader.TokenURI(context.Background(), nft, big.NewInt(1))
	assert.True(t, ok)
	assert.Equal(t, "ipfs://bafy/1.json", uri)

	reader, err = NewEthReader(validChain(), &fakeBackend{callErr: errors.New("execution reverted")}, Options{}, zerolog.Nop())
	require.NoError(t, err)
	uri, ok = reader.TokenURI(context.Background(), nft, big.NewInt(1))
	assert.False(t, ok)
	assert.Empty(t, uri)
}

func TestRegistryIsolatesInvalidChains(t *testing.T) {
	bad := validChain()
	bad.ChainID = 1
	bad.MarketplaceAddress = PlaceholderAddress

	reg := NewRegistry(context.Background(), []config.ChainConfig{bad, validChain()}, Options{}, zerolog.Nop())
	defer reg.Close()

	assert.Equal(t, []int64{1, 11155111}, reg.ChainIDs())

	_, err := reg.Reader(1)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "marketplace_address", cfgErr.Field)

	reader, err := reg.Reader(11155111)
	require.NoError(t, err)
	assert.Equal(t, int64(11155111), reader.ChainID())

	_, err = reg.Reader(42)
	assert.ErrorIs(t, err, ErrUnknownChain)
}

func TestMockRegistryRefusesReads(t *testing.T) {
	reg := NewMockRegistry([]config.ChainConfig{validChain()})
	_, err := reg.Reader(11155111)
	assert.ErrorIs(t, err, ErrMockMode)
}
