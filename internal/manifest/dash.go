package manifest

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	baseURLPattern      = regexp.MustCompile(`<BaseURL>([^<]+)</BaseURL>`)
	templateAttrPattern = regexp.MustCompile(`(media|initialization|sourceURL)="([^"]+)"`)
	mpdOpenTagPattern   = regexp.MustCompile(`<MPD[^>]*>`)
)

// RewriteDASH rewrites a DASH MPD document. <BaseURL> elements are replaced
// with proxy directory paths so that the segment templates the player
// expands resolve through the proxy. Absolute template attributes are split
// into a proxied directory plus their template filename ($Number$ and
// friends stay intact). When the document has no <BaseURL> at all, one is
// injected pointing at the proxied upstream directory; otherwise relative
// templates would resolve against the proxy's manifest path and miss.
func RewriteDASH(content string, base *url.URL, rewrite RewriteFunc) (string, error) {
	if !strings.Contains(content, "<MPD") {
		return "", fmt.Errorf("%w: missing MPD root element", ErrInvalidManifest)
	}

	var rerr error

	out := baseURLPattern.ReplaceAllStringFunc(content, func(match string) string {
		inner := strings.TrimSpace(baseURLPattern.FindStringSubmatch(match)[1])
		resolved, ok := resolveRef(base, inner)
		if !ok {
			return match
		}
		proxied, err := rewriteDir(resolved, rewrite)
		if err != nil {
			rerr = err
			return match
		}
		return "<BaseURL>" + proxied + "</BaseURL>"
	})
	if rerr != nil {
		return "", rerr
	}

	out = templateAttrPattern.ReplaceAllStringFunc(out, func(match string) string {
		parts := templateAttrPattern.FindStringSubmatch(match)
		attr, val := parts[1], parts[2]
		if !strings.HasPrefix(val, "http://") && !strings.HasPrefix(val, "https://") {
			// Relative templates resolve against the rewritten BaseURL.
			return match
		}
		idx := strings.LastIndex(val, "/")
		if idx < 0 {
			return match
		}
		dir, file := val[:idx+1], val[idx+1:]
		resolved, ok := resolveRef(base, dir)
		if !ok {
			return match
		}
		proxied, err := rewriteDir(resolved, rewrite)
		if err != nil {
			rerr = err
			return match
		}
		return attr + `="` + proxied + file + `"`
	})
	if rerr != nil {
		return "", rerr
	}

	if !strings.Contains(out, "<BaseURL>") {
		dir := *base
		if idx := strings.LastIndex(dir.Path, "/"); idx >= 0 {
			dir.Path = dir.Path[:idx+1]
		}
		dir.RawQuery = ""
		proxied, err := rewriteDir(dir.String(), rewrite)
		if err != nil {
			return "", err
		}
		loc := mpdOpenTagPattern.FindStringIndex(out)
		if loc == nil {
			return "", fmt.Errorf("%w: unterminated MPD element", ErrInvalidManifest)
		}
		out = out[:loc[1]] + "<BaseURL>" + proxied + "</BaseURL>" + out[loc[1]:]
	}

	return out, nil
}

// rewriteDir mints a proxy path for a directory URL and keeps it joinable:
// the result ends with "/" so templates and relative paths append cleanly.
func rewriteDir(upstreamDir string, rewrite RewriteFunc) (string, error) {
	if !strings.HasSuffix(upstreamDir, "/") {
		upstreamDir += "/"
	}
	proxied, err := rewrite(upstreamDir)
	if err != nil {
		return "", fmt.Errorf("failed to rewrite base URL: %w", err)
	}
	if !strings.HasSuffix(proxied, "/") {
		proxied += "/"
	}
	return proxied, nil
}

// IsDASHContent reports whether a content type or URL identifies a DASH
// manifest.
func IsDASHContent(contentType, rawURL string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "dash+xml") {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".mpd")
}
