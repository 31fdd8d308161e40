package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"nft-market-sync/internal/config"
	"nft-market-sync/internal/events"
	"nft-market-sync/internal/observability"
)

const (
	// PlaceholderAddress is the documented dead address shipped in sample configs.
	PlaceholderAddress = "0x0000000000000000000000000000000000dEaD00"
	// PlaceholderRPCToken marks an RPC URL copied from docs without a real project key.
	PlaceholderRPCToken = "YOUR_INFURA_KEY"

	defaultRequestTimeout = 10 * time.Second
)

// Reader is read-only access to one configured chain.
type Reader interface {
	ChainID() int64
	BlockHeight(ctx context.Context) (uint64, error)
	FetchLogs(ctx context.Context, kind events.Kind, fromBlock, toBlock uint64) ([]events.LogRecord, error)
	TokenURI(ctx context.Context, nft common.Address, tokenID *big.Int) (string, bool)
}

// Backend is the subset of ethclient.Client used by EthReader.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Options tune chain access.
type Options struct {
	RequestTimeout time.Duration
	Metrics        *observability.Metrics
}

// EthReader reads marketplace state through an Ethereum JSON-RPC backend.
type EthReader struct {
	chainID  int64
	contract common.Address
	backend  Backend
	timeout  time.Duration
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// ValidateConfig checks a chain entry before any live call is attempted.
func ValidateConfig(cfg config.ChainConfig) error {
	invalid := func(field, reason string) error {
		return &ConfigurationError{ChainID: cfg.ChainID, Field: field, Reason: reason}
	}

	if cfg.ChainID <= 0 {
		return invalid("chain_id", "must be a positive integer")
	}
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return invalid("rpc_url", "is empty")
	}
	if strings.Contains(rpcURL, PlaceholderRPCToken) {
		return invalid("rpc_url", "still contains the "+PlaceholderRPCToken+" placeholder")
	}
	addr := strings.TrimSpace(cfg.MarketplaceAddress)
	if addr == "" {
		return invalid("marketplace_address", "is empty")
	}
	if !common.IsHexAddress(addr) {
		return invalid("marketplace_address", fmt.Sprintf("%q is not a 20-byte hex address", addr))
	}
	if strings.EqualFold(addr, PlaceholderAddress) {
		return invalid("marketplace_address", "is the placeholder dead address")
	}
	return nil
}

// NewEthReader validates cfg and wraps backend.
func NewEthReader(cfg config.ChainConfig, backend Backend, opts Options, logger zerolog.Logger) (*EthReader, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &EthReader{
		chainID:  cfg.ChainID,
		contract: common.HexToAddress(cfg.MarketplaceAddress),
		backend:  backend,
		timeout:  timeout,
		metrics:  opts.Metrics,
		logger:   logger.With().Str("component", "chain_reader").Int64("chain_id", cfg.ChainID).Logger(),
	}, nil
}

// ChainID returns the configured chain id.
func (r *EthReader) ChainID() int64 {
	return r.chainID
}

// BlockHeight returns the current head block number.
func (r *EthReader) BlockHeight(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	height, err := r.backend.BlockNumber(ctx)
	r.metrics.ObserveRPC(r.chainID, "eth_blockNumber", time.Since(start))
	if err != nil {
		return 0, &ConnectivityError{ChainID: r.chainID, Op: "eth_blockNumber", Err: err}
	}
	return height, nil
}

// FetchLogs returns decoded marketplace logs of one kind in [fromBlock, toBlock].
func (r *EthReader) FetchLogs(ctx context.Context, kind events.Kind, fromBlock, toBlock uint64) ([]events.LogRecord, error) {
	event, ok := marketplaceABI.Events[string(kind)]
	if !ok {
		return nil, fmt.Errorf("unsupported event kind %q", kind)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{r.contract},
		Topics:    [][]common.Hash{{event.ID}},
	}

	start := time.Now()
	logs, err := r.backend.FilterLogs(ctx, query)
	r.metrics.ObserveRPC(r.chainID, "eth_getLogs", time.Since(start))
	if err != nil {
		return nil, &ConnectivityError{ChainID: r.chainID, Op: "eth_getLogs " + string(kind), Err: err}
	}

	records := make([]events.LogRecord, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		records = append(records, r.decode(kind, lg))
	}
	return records, nil
}

func (r *EthReader) decode(kind events.Kind, lg types.Log) events.LogRecord {
	rec := events.LogRecord{
		Kind:        kind,
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
	}

	if len(lg.Topics) >= 3 {
		party := hexAddress(lg.Topics[1])
		rec.NFTAddress = hexAddress(lg.Topics[2])
		if kind == events.KindListingCreated {
			rec.Seller = party
		} else {
			rec.Buyer = party
		}
	}

	values := make(map[string]interface{})
	if err := marketplaceABI.UnpackIntoMap(values, string(kind), lg.Data); err != nil {
		r.logger.Debug().Err(err).
			Uint64("block", lg.BlockNumber).
			Uint("log_index", lg.Index).
			Msg("undecodable marketplace log")
		return rec
	}
	if tokenID, ok := values["tokenId"].(*big.Int); ok {
		rec.TokenID = tokenID
	}
	if price, ok := values["price"].(*big.Int); ok {
		rec.PriceWei = price
	}
	return rec
}

// TokenURI calls tokenURI(uint256) on an ERC-721 contract. Errors degrade to ("", false).
func (r *EthReader) TokenURI(ctx context.Context, nft common.Address, tokenID *big.Int) (string, bool) {
	payload, err := erc721ABI.Pack("tokenURI", tokenID)
	if err != nil {
		r.logger.Debug().Err(err).Msg("pack tokenURI call")
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	res, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &nft, Data: payload}, nil)
	r.metrics.ObserveRPC(r.chainID, "eth_call", time.Since(start))
	if err != nil {
		r.logger.Debug().Err(err).Str("nft", nft.Hex()).Str("token_id", tokenID.String()).Msg("tokenURI call failed")
		return "", false
	}

	outputs, err := erc721ABI.Unpack("tokenURI", res)
	if err != nil || len(outputs) != 1 {
		r.logger.Debug().Err(err).Str("nft", nft.Hex()).Msg("unexpected tokenURI response")
		return "", false
	}
	uri, ok := outputs[0].(string)
	if !ok || strings.TrimSpace(uri) == "" {
		return "", false
	}
	return strings.TrimSpace(uri), true
}

func hexAddress(topic common.Hash) string {
	return strings.ToLower(common.BytesToAddress(topic.Bytes()).Hex())
}

var _ Reader = (*EthReader)(nil)
