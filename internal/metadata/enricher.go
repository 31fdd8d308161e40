// Package metadata lazily fills listing names, descriptions and images from
// token metadata documents.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/coocood/freecache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"nft-market-sync/internal/chain"
	"nft-market-sync/internal/config"
	"nft-market-sync/internal/observability"
	"nft-market-sync/internal/storage"
)

const minCacheBytes = 512 * 1024

// errAbsent marks metadata known not to exist for a listing.
var errAbsent = errors.New("metadata absent")

// EnrichmentError describes why one listing could not be enriched.
type EnrichmentError struct {
	Key   storage.ListingKey
	Stage string
	Err   error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrich %d/%s/%s at %s: %v", e.Key.ChainID, e.Key.NFTAddress, e.Key.TokenID, e.Stage, e.Err)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }

// Store persists discovered metadata.
type Store interface {
	CoalesceListingMetadata(ctx context.Context, key storage.ListingKey, meta storage.ListingMetadata) error
}

// Chains resolves the reader of a chain.
type Chains interface {
	Reader(chainID int64) (chain.Reader, error)
}

// Options tune enrichment.
type Options struct {
	Enabled     bool
	MockMode    bool
	Gateway     string
	Workers     int
	CacheSizeMB int
	NegativeTTL time.Duration
}

// OptionsFromConfig maps configuration onto Options.
func OptionsFromConfig(cfg config.MetadataConfig, mock bool) Options {
	return Options{
		Enabled:     cfg.Enabled,
		MockMode:    mock,
		Gateway:     cfg.IPFSGateway,
		Workers:     cfg.Workers,
		CacheSizeMB: cfg.CacheSizeMB,
		NegativeTTL: cfg.NegativeTTL,
	}
}

// Enricher fills missing metadata on read.
type Enricher struct {
	store   Store
	chains  Chains
	fetcher Fetcher
	cache   *freecache.Cache
	opts    Options
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewEnricher constructs an Enricher.
func NewEnricher(store Store, chains Chains, fetcher Fetcher, opts Options, metrics *observability.Metrics, logger zerolog.Logger) *Enricher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Gateway == "" {
		opts.Gateway = DefaultGateway
	}
	cacheBytes := opts.CacheSizeMB * 1024 * 1024
	if cacheBytes < minCacheBytes {
		cacheBytes = minCacheBytes
	}
	return &Enricher{
		store:   store,
		chains:  chains,
		fetcher: fetcher,
		cache:   freecache.NewCache(cacheBytes),
		opts:    opts,
		metrics: metrics,
		logger:  logger.With().Str("component", "metadata_enricher").Logger(),
	}
}

// Enrich returns listings with missing metadata filled where it could be
// found. Failures leave the listing unchanged.
func (e *Enricher) Enrich(ctx context.Context, listings []storage.Listing) []storage.Listing {
	if e == nil || !e.opts.Enabled || e.opts.MockMode {
		return listings
	}

	out := make([]storage.Listing, len(listings))
	copy(out, listings)

	var g errgroup.Group
	g.SetLimit(e.opts.Workers)
	for i := range out {
		if !out[i].NeedsMetadata() {
			continue
		}
		i := i
		g.Go(func() error {
			out[i] = e.enrichOne(ctx, out[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *Enricher) enrichOne(ctx context.Context, l storage.Listing) storage.Listing {
	key := l.Key()
	cacheKey := []byte(fmt.Sprintf("%d:%s:%s", key.ChainID, key.NFTAddress, key.TokenID))
	if _, err := e.cache.Get(cacheKey); err == nil {
		e.metrics.IncEnrichment("cached_absent")
		return l
	}

	meta, err := e.lookup(ctx, l)
	if err != nil {
		var encErr *EnrichmentError
		if errors.As(err, &encErr) && errors.Is(encErr.Err, errAbsent) {
			e.markAbsent(cacheKey)
			e.metrics.IncEnrichment("absent")
			e.logger.Debug().Err(err).Msg("metadata not available")
		} else {
			e.metrics.IncEnrichment("error")
			e.logger.Warn().Err(err).Msg("metadata enrichment failed")
		}
		return l
	}

	if err := e.store.CoalesceListingMetadata(ctx, key, meta); err != nil {
		e.logger.Warn().Err(&EnrichmentError{Key: key, Stage: "persist", Err: err}).Msg("failed to persist metadata")
	}
	e.metrics.IncEnrichment("filled")
	merged := Merge(l, meta)
	if merged.NeedsMetadata() {
		// the document itself lacks name or image; refetching cannot help
		e.markAbsent(cacheKey)
	}
	return merged
}

func (e *Enricher) markAbsent(cacheKey []byte) {
	ttl := int(e.opts.NegativeTTL / time.Second)
	if ttl <= 0 {
		return
	}
	_ = e.cache.Set(cacheKey, []byte{1}, ttl)
}

func (e *Enricher) lookup(ctx context.Context, l storage.Listing) (storage.ListingMetadata, error) {
	key := l.Key()
	fail := func(stage string, err error) (storage.ListingMetadata, error) {
		return storage.ListingMetadata{}, &EnrichmentError{Key: key, Stage: stage, Err: err}
	}

	tokenURI := ""
	if l.TokenURI != nil {
		tokenURI = *l.TokenURI
	}
	if tokenURI == "" {
		reader, err := e.chains.Reader(l.ChainID)
		if err != nil {
			return fail("reader", err)
		}
		tokenID, ok := new(big.Int).SetString(l.TokenID, 10)
		if !ok {
			return fail("token_id", errAbsent)
		}
		uri, ok := reader.TokenURI(ctx, common.HexToAddress(l.NFTAddress), tokenID)
		if !ok {
			return fail("token_uri", errAbsent)
		}
		tokenURI = uri
	}

	url, ok := ResolveURI(tokenURI, e.opts.Gateway)
	if !ok {
		return fail("resolve", fmt.Errorf("%w: unsupported uri %q", errAbsent, tokenURI))
	}

	status, _, body, err := e.fetcher.Get(ctx, url)
	if err != nil {
		if errors.Is(err, ErrBodyTooLarge) {
			return fail("fetch", fmt.Errorf("%w: %v", errAbsent, err))
		}
		return fail("fetch", err)
	}
	if status < 200 || status > 299 {
		return fail("fetch", fmt.Errorf("%w: status %d", errAbsent, status))
	}

	doc, err := parseDocument(body)
	if err != nil {
		return fail("parse", fmt.Errorf("%w: %v", errAbsent, err))
	}

	meta := storage.ListingMetadata{
		Name:        doc.Name,
		Description: doc.Description,
		TokenURI:    tokenURI,
	}
	image := doc.Image
	if image == "" {
		image = doc.ImageURL
	}
	if image != "" {
		if resolved, ok := ResolveImageURI(image, e.opts.Gateway); ok {
			meta.ImageURL = resolved
		}
	}
	return meta, nil
}

type document struct {
	Name        string
	Description string
	Image       string
	ImageURL    string
}

// parseDocument reads the ERC-721 metadata fields, ignoring non-string values.
func parseDocument(body []byte) (document, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return document{}, err
	}
	str := func(field string) string {
		if v, ok := raw[field].(string); ok {
			return v
		}
		return ""
	}
	return document{
		Name:        str("name"),
		Description: str("description"),
		Image:       str("image"),
		ImageURL:    str("image_url"),
	}, nil
}

// Merge fills empty metadata fields of l from meta.
func Merge(l storage.Listing, meta storage.ListingMetadata) storage.Listing {
	l.Name = fill(l.Name, meta.Name)
	l.Description = fill(l.Description, meta.Description)
	l.ImageURL = fill(l.ImageURL, meta.ImageURL)
	l.TokenURI = fill(l.TokenURI, meta.TokenURI)
	return l
}

func fill(current *string, incoming string) *string {
	if (current != nil && *current != "") || incoming == "" {
		return current
	}
	v := incoming
	return &v
}
