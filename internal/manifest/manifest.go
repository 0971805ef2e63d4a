// Package manifest rewrites HLS and DASH manifests so that every segment and
// nested playlist reference routes back through the proxy instead of pointing
// at the upstream host.
package manifest

import (
	"errors"
	"net/url"
)

// ErrInvalidManifest is returned when the fetched document has no
// recognizable manifest structure.
var ErrInvalidManifest = errors.New("invalid manifest")

// RewriteFunc maps an absolute upstream URL to a proxy-relative path. The
// implementation mints a sub-resource token and registers it so the proxy
// can resolve it back later.
type RewriteFunc func(upstreamURL string) (string, error)

// resolveRef resolves a manifest reference against the manifest's own URL.
// Returns ok=false for references that are not proxyable http(s) URLs
// (e.g. skd:// DRM key URIs), which are left untouched.
func resolveRef(base *url.URL, ref string) (string, bool) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	return resolved.String(), true
}
