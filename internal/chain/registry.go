package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"nft-market-sync/internal/config"
)

// ErrMockMode is returned by registries built without live clients.
var ErrMockMode = errors.New("chain reads disabled in mock mode")

type entry struct {
	reader Reader
	err    error
}

// Registry owns one reader per configured chain. It is built once at startup.
type Registry struct {
	entries map[int64]entry
	closers []func()
}

// NewRegistry validates and dials every configured chain. A chain that fails
// validation or dialling stays registered with its error so that only its own
// cycle is affected.
func NewRegistry(ctx context.Context, chains []config.ChainConfig, opts Options, logger zerolog.Logger) *Registry {
	reg := &Registry{entries: make(map[int64]entry, len(chains))}
	log := logger.With().Str("component", "chain_registry").Logger()

	for _, cfg := range chains {
		if err := ValidateConfig(cfg); err != nil {
			log.Error().Err(err).Int64("chain_id", cfg.ChainID).Msg("chain disabled by invalid configuration")
			reg.Add(cfg.ChainID, nil, err)
			continue
		}

		client, err := ethclient.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			connErr := &ConnectivityError{ChainID: cfg.ChainID, Op: "dial", Err: err}
			log.Error().Err(connErr).Int64("chain_id", cfg.ChainID).Msg("chain disabled by dial failure")
			reg.Add(cfg.ChainID, nil, connErr)
			continue
		}
		reg.closers = append(reg.closers, client.Close)

		reader, err := NewEthReader(cfg, client, opts, logger)
		if err != nil {
			reg.Add(cfg.ChainID, nil, err)
			continue
		}
		log.Info().Int64("chain_id", cfg.ChainID).Str("name", cfg.Name).Msg("chain reader ready")
		reg.Add(cfg.ChainID, reader, nil)
	}
	return reg
}

// NewMockRegistry registers the configured chain ids without any client.
func NewMockRegistry(chains []config.ChainConfig) *Registry {
	reg := &Registry{entries: make(map[int64]entry, len(chains))}
	for _, cfg := range chains {
		reg.Add(cfg.ChainID, nil, ErrMockMode)
	}
	return reg
}

// Add registers a reader, or the error that prevents one, under chainID.
func (r *Registry) Add(chainID int64, reader Reader, err error) {
	if r.entries == nil {
		r.entries = make(map[int64]entry)
	}
	r.entries[chainID] = entry{reader: reader, err: err}
}

// ChainIDs lists registered chains in ascending order.
func (r *Registry) ChainIDs() []int64 {
	ids := make([]int64, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Reader returns the reader for chainID or the error recorded for it.
func (r *Registry) Reader(chainID int64) (Reader, error) {
	e, ok := r.entries[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChain, chainID)
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.reader, nil
}

// Close releases all RPC clients.
func (r *Registry) Close() {
	for _, closeFn := range r.closers {
		closeFn()
	}
	r.closers = nil
}
