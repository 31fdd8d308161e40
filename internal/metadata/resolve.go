package metadata

import "strings"

// DefaultGateway is the public IPFS HTTP gateway used when none is configured.
const DefaultGateway = "https://ipfs.io/ipfs/"

// ResolveURI maps a token or image URI to a fetchable HTTP URL.
// ipfs://<cid>[/path] and ipfs://ipfs/<cid>[/path] go through gateway;
// http and https pass through; anything else is unresolvable.
func ResolveURI(uri, gateway string) (string, bool) {
	uri = strings.TrimSpace(uri)
	lower := strings.ToLower(uri)

	switch {
	case strings.HasPrefix(lower, "ipfs://"):
		rest := strings.TrimLeft(uri[len("ipfs://"):], "/")
		if strings.HasPrefix(strings.ToLower(rest), "ipfs/") {
			rest = rest[len("ipfs/"):]
		}
		rest = strings.TrimLeft(rest, "/")
		if rest == "" {
			return "", false
		}
		if gateway == "" {
			gateway = DefaultGateway
		}
		return strings.TrimRight(gateway, "/") + "/" + rest, true
	case strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "http://"):
		return uri, true
	default:
		return "", false
	}
}

// ResolveImageURI is ResolveURI that also accepts inline data: URIs.
func ResolveImageURI(uri, gateway string) (string, bool) {
	trimmed := strings.TrimSpace(uri)
	if strings.HasPrefix(strings.ToLower(trimmed), "data:") {
		return trimmed, true
	}
	return ResolveURI(trimmed, gateway)
}
