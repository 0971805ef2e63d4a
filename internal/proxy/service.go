package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mediagate/streamgate/internal/logging"
	"github.com/mediagate/streamgate/internal/manifest"
	"github.com/mediagate/streamgate/internal/metrics"
	"github.com/mediagate/streamgate/internal/streamid"
	"github.com/mediagate/streamgate/internal/tracing"
	"github.com/mediagate/streamgate/pkg/models"
)

// manifestMaxBytes caps how much manifest text is buffered for rewriting.
// Real playlists are a few KB; anything near this limit is not a playlist.
const manifestMaxBytes = 10 << 20

// TokenStore persists segment token mappings, satisfied by cache.Cache and
// cache.Memory. A miss is ("", nil).
type TokenStore interface {
	SetToken(ctx context.Context, streamID, token, upstreamURL string, ttl time.Duration) error
	GetToken(ctx context.Context, streamID, token string) (string, error)
}

// Config carries the upstream-facing knobs of the proxy.
type Config struct {
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	UserAgent       string
	SegmentTokenTTL time.Duration
}

// ManifestResult is the playback entry point for one stream. Exactly one of
// Body, EmbedURL, or RedirectPath is set depending on the media type.
type ManifestResult struct {
	MediaType    string
	Body         string
	ContentType  string
	EmbedURL     string
	RedirectPath string
}

// SegmentResult carries one proxied media object. Rewritten playlists come
// back as Body; everything else streams through Reader and must be closed
// by the caller.
type SegmentResult struct {
	StatusCode    int
	ContentType   string
	ContentLength int64
	ContentRange  string
	Body          string
	Reader        io.ReadCloser
}

// Service fetches upstream manifests and segments on behalf of clients,
// keeping upstream URLs out of everything it returns.
type Service struct {
	resolver *Resolver
	tokens   TokenStore
	client   *http.Client
	cfg      Config
	logger   *logging.Logger
}

func NewService(resolver *Resolver, tokens TokenStore, cfg Config, logger *logging.Logger) *Service {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Service{
		resolver: resolver,
		tokens:   tokens,
		client:   &http.Client{Transport: transport},
		cfg:      cfg,
		logger:   logger.WithComponent("proxy"),
	}
}

// Manifest resolves a stream ID and produces its playback entry point. HLS
// and DASH manifests are fetched from the origin and rewritten so every URL
// in them points back at the proxy.
func (s *Service) Manifest(ctx context.Context, streamID string) (*ManifestResult, error) {
	span, ctx := tracing.StartSpan(ctx, "proxy.manifest")
	defer span.Finish()
	span.SetTag("stream.id", streamID)

	stream, err := s.resolver.Resolve(ctx, streamID)
	if err != nil {
		tracing.MarkError(span, err)
		metrics.ManifestRequestsTotal.WithLabelValues("unknown", "error").Inc()
		return nil, err
	}
	span.SetTag("stream.media_type", stream.MediaType)

	result, err := s.buildManifest(ctx, stream)
	if err != nil {
		tracing.MarkError(span, err)
		metrics.ManifestRequestsTotal.WithLabelValues(stream.MediaType, "error").Inc()
		return nil, err
	}
	metrics.ManifestRequestsTotal.WithLabelValues(stream.MediaType, "ok").Inc()
	return result, nil
}

func (s *Service) buildManifest(ctx context.Context, stream *models.Stream) (*ManifestResult, error) {
	switch stream.MediaType {
	case models.MediaTypeEmbed:
		return &ManifestResult{
			MediaType: models.MediaTypeEmbed,
			EmbedURL:  EmbedURL(stream.URL),
		}, nil

	case models.MediaTypeDirect:
		path, err := s.mintToken(ctx, stream.ID, stream.URL)
		if err != nil {
			return nil, err
		}
		return &ManifestResult{
			MediaType:    models.MediaTypeDirect,
			RedirectPath: path,
		}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.fetch(ctx, stream, stream.URL, "")
	metrics.UpstreamFetchDuration.WithLabelValues("manifest").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: origin returned %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, manifestMaxBytes))
	if err != nil {
		return nil, s.classifyTransportErr(err)
	}

	// Redirects may have moved the playlist; relative references resolve
	// against where it actually came from.
	base := resp.Request.URL

	rewrite := s.rewriteFunc(ctx, stream.ID)
	if stream.MediaType == models.MediaTypeDASH {
		rewritten, err := manifest.RewriteDASH(string(body), base, rewrite)
		if err != nil {
			return nil, err
		}
		return &ManifestResult{
			MediaType:   models.MediaTypeDASH,
			Body:        rewritten,
			ContentType: "application/dash+xml",
		}, nil
	}

	rewritten, err := manifest.RewriteHLS(string(body), base, rewrite)
	if err != nil {
		return nil, err
	}
	return &ManifestResult{
		MediaType:   models.MediaTypeHLS,
		Body:        rewritten,
		ContentType: "application/vnd.apple.mpegurl",
	}, nil
}

// Segment resolves a token minted by a manifest rewrite and proxies the
// upstream object. Nested playlists are rewritten again; media bytes stream
// through untouched with Range forwarded.
func (s *Service) Segment(ctx context.Context, streamID, token, subPath, rangeHeader string) (*SegmentResult, error) {
	span, ctx := tracing.StartSpan(ctx, "proxy.segment")
	defer span.Finish()
	span.SetTag("stream.id", streamID)

	result, err := s.fetchSegment(ctx, streamID, token, subPath, rangeHeader)
	if err != nil {
		tracing.MarkError(span, err)
		metrics.SegmentRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.SegmentRequestsTotal.WithLabelValues("ok").Inc()
	return result, nil
}

func (s *Service) fetchSegment(ctx context.Context, streamID, token, subPath, rangeHeader string) (*SegmentResult, error) {
	stream, err := s.resolver.Resolve(ctx, streamID)
	if err != nil {
		return nil, err
	}

	upstream, err := s.tokens.GetToken(ctx, streamID, token)
	if err != nil {
		return nil, err
	}
	if upstream == "" {
		return nil, ErrSegmentNotFound
	}

	target := upstream
	if subPath != "" {
		// Directory tokens cover DASH segment templates: the client
		// expands $Number$ itself, so the tail rides in under the token.
		target = strings.TrimSuffix(upstream, "/") + "/" + strings.TrimPrefix(subPath, "/")
	}

	start := time.Now()
	resp, err := s.fetch(ctx, stream, target, rangeHeader)
	metrics.UpstreamFetchDuration.WithLabelValues("segment").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: origin returned %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")

	// Variant playlists live behind segment tokens too; they need the same
	// rewrite treatment as the top-level manifest.
	if manifest.IsHLSContent(contentType, target) {
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, manifestMaxBytes))
		if err != nil {
			return nil, s.classifyTransportErr(err)
		}
		rewritten, err := manifest.RewriteHLS(string(body), resp.Request.URL, s.rewriteFunc(ctx, streamID))
		if err != nil {
			return nil, err
		}
		return &SegmentResult{
			StatusCode:  http.StatusOK,
			ContentType: "application/vnd.apple.mpegurl",
			Body:        rewritten,
		}, nil
	}

	return &SegmentResult{
		StatusCode:    resp.StatusCode,
		ContentType:   contentType,
		ContentLength: resp.ContentLength,
		ContentRange:  resp.Header.Get("Content-Range"),
		Reader:        countingBody{resp.Body},
	}, nil
}

// rewriteFunc mints a segment token per upstream URL and returns the
// proxy-relative path clients should fetch instead.
func (s *Service) rewriteFunc(ctx context.Context, streamID string) manifest.RewriteFunc {
	return func(upstreamURL string) (string, error) {
		return s.mintToken(ctx, streamID, upstreamURL)
	}
}

func (s *Service) mintToken(ctx context.Context, streamID, upstreamURL string) (string, error) {
	token, err := streamid.SegmentToken(upstreamURL)
	if err != nil {
		return "", err
	}
	if err := s.tokens.SetToken(ctx, streamID, token, upstreamURL, s.cfg.SegmentTokenTTL); err != nil {
		return "", fmt.Errorf("failed to store segment token: %w", err)
	}
	return SegmentPath(streamID, token), nil
}

func (s *Service) fetch(ctx context.Context, stream *models.Stream, target, rangeHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	ua := stream.UserAgent
	if ua == "" {
		ua = s.cfg.UserAgent
	}
	req.Header.Set("User-Agent", ua)
	if stream.Referrer != "" {
		req.Header.Set("Referer", stream.Referrer)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, s.classifyTransportErr(err)
	}
	return resp, nil
}

// classifyTransportErr folds transport failures into the two errors the
// handlers map to status codes. Upstream hostnames stay out of the text.
func (s *Service) classifyTransportErr(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrUpstreamTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrUpstreamTimeout
	case errors.Is(err, context.Canceled):
		return context.Canceled
	default:
		return ErrUpstreamUnavailable
	}
}

// SegmentPath builds the proxy-relative path for a minted token.
func SegmentPath(streamID, token string) string {
	return fmt.Sprintf("/api/streams/%s/segments/%s", streamID, token)
}

// EmbedURL converts a YouTube watch URL into its embeddable form. Embed
// streams are handed to the browser player, never proxied.
func EmbedURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case strings.HasSuffix(host, "youtu.be"):
		id := strings.Trim(u.Path, "/")
		if id != "" {
			return "https://www.youtube.com/embed/" + id
		}
	case strings.HasSuffix(host, "youtube.com"):
		if id := u.Query().Get("v"); id != "" {
			return "https://www.youtube.com/embed/" + id
		}
		if strings.HasPrefix(u.Path, "/embed/") {
			return rawURL
		}
	}
	return rawURL
}

// countingBody feeds the proxied-bytes counter as segment data flows out.
type countingBody struct {
	io.ReadCloser
}

func (b countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		metrics.SegmentBytesProxied.Add(float64(n))
	}
	return n, err
}
