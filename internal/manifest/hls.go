package manifest

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var uriAttrPattern = regexp.MustCompile(`URI="([^"]+)"`)

// RewriteHLS rewrites an HLS playlist. Directive lines are preserved
// byte-for-byte except for URI="..." attributes (EXT-X-KEY, EXT-X-MEDIA,
// EXT-X-MAP and friends); bare URI lines are resolved against the playlist's
// URL and replaced with proxy paths. Line count is preserved, so master
// playlists keep their EXT-X-STREAM-INF pairing.
func RewriteHLS(content string, base *url.URL, rewrite RewriteFunc) (string, error) {
	if !strings.Contains(content, "#EXTM3U") {
		return "", fmt.Errorf("%w: missing #EXTM3U header", ErrInvalidManifest)
	}

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, "#") {
			if strings.Contains(trimmed, `URI="`) {
				rewritten, err := rewriteURIAttributes(line, base, rewrite)
				if err != nil {
					return "", err
				}
				lines[i] = rewritten
			}
			continue
		}

		resolved, ok := resolveRef(base, trimmed)
		if !ok {
			continue
		}
		proxied, err := rewrite(resolved)
		if err != nil {
			return "", fmt.Errorf("failed to rewrite %q: %w", trimmed, err)
		}
		lines[i] = proxied
	}

	return strings.Join(lines, "\n"), nil
}

// rewriteURIAttributes rewrites every URI="..." attribute on a directive
// line, leaving the rest of the line untouched.
func rewriteURIAttributes(line string, base *url.URL, rewrite RewriteFunc) (string, error) {
	var rerr error
	out := uriAttrPattern.ReplaceAllStringFunc(line, func(match string) string {
		uri := uriAttrPattern.FindStringSubmatch(match)[1]
		resolved, ok := resolveRef(base, uri)
		if !ok {
			return match
		}
		proxied, err := rewrite(resolved)
		if err != nil {
			rerr = fmt.Errorf("failed to rewrite URI attribute %q: %w", uri, err)
			return match
		}
		return `URI="` + proxied + `"`
	})
	if rerr != nil {
		return "", rerr
	}
	return out, nil
}

// IsHLSContent reports whether a content type or URL identifies an HLS
// playlist rather than binary segment data.
func IsHLSContent(contentType, rawURL string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "mpegurl") {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".m3u8")
}
