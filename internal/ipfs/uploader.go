// Package ipfs uploads NFT assets to an IPFS node.
package ipfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	ipfsapi "github.com/ipfs/go-ipfs-api"
	"github.com/rs/zerolog"

	"nft-market-sync/internal/config"
)

var errNotConfigured = errors.New("ipfs.api_url is not set")

// UploadError is the single failure kind of an upload.
type UploadError struct {
	Filename string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("ipfs upload %q: %v", e.Filename, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Adder is the subset of the IPFS HTTP API client used for uploads.
type Adder interface {
	Add(r io.Reader, options ...ipfsapi.AddOpts) (string, error)
}

// Uploader stores files on an IPFS node and returns their CID.
type Uploader struct {
	shell  Adder
	logger zerolog.Logger
}

// NewUploader builds an uploader against the configured node API. An empty
// API URL yields an uploader whose every Put fails.
func NewUploader(cfg config.IPFSConfig, logger zerolog.Logger) *Uploader {
	var shell Adder
	if url := strings.TrimSpace(cfg.APIURL); url != "" {
		sh := ipfsapi.NewShell(url)
		if cfg.Timeout > 0 {
			sh.SetTimeout(cfg.Timeout)
		}
		shell = sh
	}
	return NewUploaderWithAdder(shell, logger)
}

// NewUploaderWithAdder wraps an existing client.
func NewUploaderWithAdder(shell Adder, logger zerolog.Logger) *Uploader {
	return &Uploader{
		shell:  shell,
		logger: logger.With().Str("component", "ipfs_uploader").Logger(),
	}
}

// Put uploads data and returns its CID with the content type it was stored
// as. mimeType is detected from the content when empty.
func (u *Uploader) Put(ctx context.Context, data []byte, filename, mimeType string) (cid, mime string, err error) {
	fail := func(err error) (string, string, error) {
		return "", "", &UploadError{Filename: filename, Err: err}
	}
	if u == nil || u.shell == nil {
		return fail(errNotConfigured)
	}
	if len(data) == 0 {
		return fail(errors.New("empty file"))
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if mimeType == "" {
		mimeType = DetectMIME(data)
	}

	start := time.Now()
	cid, err = u.shell.Add(bytes.NewReader(data), ipfsapi.CidVersion(1), ipfsapi.Pin(true))
	if err != nil {
		return fail(err)
	}
	cid = strings.TrimSpace(cid)
	if cid == "" {
		return fail(errors.New("node returned an empty cid"))
	}

	u.logger.Info().
		Str("filename", filename).
		Str("mime_type", mimeType).
		Int("bytes", len(data)).
		Str("cid", cid).
		Dur("elapsed", time.Since(start)).
		Msg("file uploaded")
	return cid, mimeType, nil
}

// DetectMIME sniffs the content type of data.
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}
