package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"nft-market-sync/internal/ipfs"
)

// Upload stores a file on IPFS. With a name it also uploads the ERC-721
// metadata document that points at the file.
func (a *App) Upload(ctx context.Context, opts UploadOptions) error {
	if opts.Path == "" {
		return errors.New("--file must be provided")
	}
	data, err := os.ReadFile(opts.Path)
	if err != nil {
		return fmt.Errorf("read %s: %w", opts.Path, err)
	}

	uploader := ipfs.NewUploader(a.Config.IPFS, a.Logger)
	return a.upload(ctx, uploader, data, opts)
}

func (a *App) upload(ctx context.Context, uploader *ipfs.Uploader, data []byte, opts UploadOptions) error {
	filename := filepath.Base(opts.Path)
	cid, mime, err := uploader.Put(ctx, data, filename, opts.MimeType)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "file_cid: %s\nmime_type: %s\n", cid, mime)

	if opts.Name == "" {
		return nil
	}

	doc, err := ipfs.BuildMetadata(opts.Name, opts.Description, cid, mime).JSON()
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	metaCID, _, err := uploader.Put(ctx, doc, "metadata.json", "application/json")
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "metadata_cid: %s\ntoken_uri: ipfs://%s\n", metaCID, metaCID)
	return nil
}
