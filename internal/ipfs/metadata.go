package ipfs

import (
	"encoding/json"
	"strings"
)

// Metadata is an ERC-721 token metadata document.
type Metadata struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Image       string      `json:"image"`
	Properties  *Properties `json:"properties,omitempty"`
}

// Properties carries details of the uploaded asset.
type Properties struct {
	MimeType string `json:"mime_type"`
}

// BuildMetadata returns the metadata document pointing at an uploaded image.
// imageMIME is recorded under properties when known.
func BuildMetadata(name, description, imageCID, imageMIME string) Metadata {
	m := Metadata{
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
		Image:       "ipfs://" + strings.TrimSpace(imageCID),
	}
	if imageMIME != "" {
		m.Properties = &Properties{MimeType: imageMIME}
	}
	return m
}

// JSON encodes the document.
func (m Metadata) JSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
