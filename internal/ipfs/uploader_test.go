package ipfs

import (
	"context"
	"errors"
	"io"
	"testing"

	ipfsapi "github.com/ipfs/go-ipfs-api"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-market-sync/internal/config"
)

type fakeAdder struct {
	cid  string
	err  error
	body []byte
}

func (f *fakeAdder) Add(r io.Reader, _ ...ipfsapi.AddOpts) (string, error) {
	f.body, _ = io.ReadAll(r)
	return f.cid, f.err
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestPutReturnsCID(t *testing.T) {
	adder := &fakeAdder{cid: " bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi\n"}
	u := NewUploaderWithAdder(adder, zerolog.Nop())

	cid, mime, err := u.Put(context.Background(), pngHeader, "punk.png", "")
	require.NoError(t, err)
	assert.Equal(t, "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi", cid)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, pngHeader, adder.body)

	_, mime, err = u.Put(context.Background(), pngHeader, "punk.bin", "application/octet-stream")
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", mime, "an explicit type is kept")
}

func TestPutFailuresCollapseToUploadError(t *testing.T) {
	cases := map[string]*Uploader{
		"not configured": NewUploader(config.IPFSConfig{}, zerolog.Nop()),
		"node error":     NewUploaderWithAdder(&fakeAdder{err: errors.New("401 unauthorized")}, zerolog.Nop()),
		"empty cid":      NewUploaderWithAdder(&fakeAdder{cid: ""}, zerolog.Nop()),
	}
	for name, u := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := u.Put(context.Background(), pngHeader, "a.png", "image/png")
			var upErr *UploadError
			require.ErrorAs(t, err, &upErr)
			assert.Equal(t, "a.png", upErr.Filename)
		})
	}

	_, _, err := NewUploaderWithAdder(&fakeAdder{cid: "x"}, zerolog.Nop()).Put(context.Background(), nil, "empty.bin", "")
	var upErr *UploadError
	assert.ErrorAs(t, err, &upErr)
}

func TestDetectMIME(t *testing.T) {
	assert.Equal(t, "image/png", DetectMIME(pngHeader))
	assert.Equal(t, "application/json", DetectMIME([]byte(`{"name":"x"}`)))
}

func TestBuildMetadata(t *testing.T) {
	doc := BuildMetadata(" Punk #1 ", "first", "bafyimage", "")
	assert.Equal(t, Metadata{Name: "Punk #1", Description: "first", Image: "ipfs://bafyimage"}, doc)

	raw, err := doc.JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Punk #1","description":"first","image":"ipfs://bafyimage"}`, string(raw))

	raw, err = BuildMetadata("Punk #1", "", "bafyimage", "image/png").JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Punk #1","description":"","image":"ipfs://bafyimage","properties":{"mime_type":"image/png"}}`, string(raw))
}
