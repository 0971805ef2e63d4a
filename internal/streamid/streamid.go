// Package streamid mints the opaque identifiers that stand in for upstream
// URLs at the proxy boundary. Identifiers are hash-derived: deterministic so
// repeated imports deduplicate, and irreversible so they never leak the
// upstream scheme, host or path.
package streamid

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	// StreamIDLength is the hex length of a stream identifier.
	StreamIDLength = 16
	// SegmentTokenLength is the hex length of a segment sub-resource token.
	SegmentTokenLength = 24
)

// ErrInvalidURL is returned when the input cannot be parsed as an absolute
// http(s) URL.
var ErrInvalidURL = errors.New("invalid upstream url")

// Normalize canonicalizes an upstream URL so that trivially different
// spellings of the same location mint the same identifier.
func Normalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""

	return u.String(), nil
}

// Encode derives the opaque stream identifier for an upstream URL.
func Encode(rawURL string) (string, error) {
	normalized, err := Normalize(rawURL)
	if err != nil {
		return "", err
	}
	return digest(normalized, StreamIDLength), nil
}

// SegmentToken derives the opaque sub-resource token for a segment or
// nested manifest URL. Tokens resolve back through a TokenStore; the URL is
// not recoverable from the token itself.
func SegmentToken(rawURL string) (string, error) {
	normalized, err := Normalize(rawURL)
	if err != nil {
		return "", err
	}
	return digest(normalized, SegmentTokenLength), nil
}

func digest(s string, length int) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:length]
}
