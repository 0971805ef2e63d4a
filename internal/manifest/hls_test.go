package manifest

import (
	"fmt"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRewriter maps every upstream URL to a fake proxy path and records
// the mapping for assertions.
type recordingRewriter struct {
	minted map[string]string
	n      int
}

func newRecordingRewriter() *recordingRewriter {
	return &recordingRewriter{minted: map[string]string{}}
}

func (r *recordingRewriter) rewrite(upstreamURL string) (string, error) {
	if path, ok := r.minted[upstreamURL]; ok {
		return path, nil
	}
	r.n++
	path := fmt.Sprintf("/api/streams/s1/segments/tok%03d", r.n)
	r.minted[upstreamURL] = path
	return path, nil
}

func mustBase(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestRewriteHLSMediaPlaylist(t *testing.T) {
	content := "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-TARGETDURATION:10\n" +
		"#EXTINF:10,\n" +
		"segment1.ts\n" +
		"#EXTINF:10,\n" +
		"segment2.ts\n" +
		"#EXT-X-ENDLIST\n"

	rw := newRecordingRewriter()
	base := mustBase(t, "http://example.com/path/playlist.m3u8")

	out, err := RewriteHLS(content, base, rw.rewrite)
	require.NoError(t, err)

	// Line count preserved
	assert.Equal(t, len(strings.Split(content, "\n")), len(strings.Split(out, "\n")))

	// Directives verbatim
	assert.Contains(t, out, "#EXT-X-TARGETDURATION:10")
	assert.Contains(t, out, "#EXTINF:10,")
	assert.Contains(t, out, "#EXT-X-ENDLIST")

	// Relative segments resolved against the playlist directory
	assert.Contains(t, rw.minted, "http://example.com/path/segment1.ts")
	assert.Contains(t, rw.minted, "http://example.com/path/segment2.ts")

	// No upstream host anywhere in the output
	assert.NotContains(t, out, "example.com")
	assert.NotContains(t, out, "segment1.ts")
}

func TestRewriteHLSMasterPlaylist(t *testing.T) {
	content := "#EXTM3U\n" +
		`#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",URI="audio/en.m3u8"` + "\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=1280x720\n" +
		"variants/720p.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=2560000,RESOLUTION=1920x1080\n" +
		"https://cdn.example.org/live/1080p.m3u8\n"

	rw := newRecordingRewriter()
	base := mustBase(t, "http://example.com/live/master.m3u8")

	out, err := RewriteHLS(content, base, rw.rewrite)
	require.NoError(t, err)

	// Every nested reference rewritten: audio group URI, relative variant,
	// absolute variant on a different host.
	assert.Contains(t, rw.minted, "http://example.com/live/audio/en.m3u8")
	assert.Contains(t, rw.minted, "http://example.com/live/variants/720p.m3u8")
	assert.Contains(t, rw.minted, "https://cdn.example.org/live/1080p.m3u8")

	assert.NotContains(t, out, "example.com")
	assert.NotContains(t, out, "cdn.example.org")

	// Attribute structure intact around the rewritten URI
	assert.Contains(t, out, `#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",URI="/api/streams/`)
}

func TestRewriteHLSKeyURI(t *testing.T) {
	content := "#EXTM3U\n" +
		`#EXT-X-KEY:METHOD=AES-128,URI="keys/k1.bin",IV=0x1234` + "\n" +
		"#EXTINF:10,\n" +
		"seg.ts\n"

	rw := newRecordingRewriter()
	base := mustBase(t, "http://example.com/live/index.m3u8")

	out, err := RewriteHLS(content, base, rw.rewrite)
	require.NoError(t, err)

	assert.Contains(t, rw.minted, "http://example.com/live/keys/k1.bin")
	assert.Contains(t, out, ",IV=0x1234")
	assert.NotContains(t, out, "keys/k1.bin")
}

func TestRewriteHLSLeavesNonHTTPURIs(t *testing.T) {
	content := "#EXTM3U\n" +
		`#EXT-X-KEY:METHOD=SAMPLE-AES,URI="skd://key-id-1234"` + "\n" +
		"#EXTINF:10,\n" +
		"seg.ts\n"

	rw := newRecordingRewriter()
	base := mustBase(t, "http://example.com/live/index.m3u8")

	out, err := RewriteHLS(content, base, rw.rewrite)
	require.NoError(t, err)

	assert.Contains(t, out, `URI="skd://key-id-1234"`)
}

func TestRewriteHLSInvalid(t *testing.T) {
	rw := newRecordingRewriter()
	base := mustBase(t, "http://example.com/live/index.m3u8")

	_, err := RewriteHLS("<html>not found</html>", base, rw.rewrite)
	assert.ErrorIs(t, err, ErrInvalidManifest)
}

func TestIsHLSContent(t *testing.T) {
	assert.True(t, IsHLSContent("application/vnd.apple.mpegurl", ""))
	assert.True(t, IsHLSContent("audio/mpegurl", ""))
	assert.True(t, IsHLSContent("", "http://example.com/a.m3u8"))
	assert.True(t, IsHLSContent("", "http://example.com/a.M3U8?x=1"))
	assert.False(t, IsHLSContent("video/mp2t", "http://example.com/seg.ts"))
}
