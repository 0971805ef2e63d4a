package checker

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

	"github.com/mediagate/streamgate/pkg/models"
)

// ProbeResult is the classified outcome of one upstream check.
type ProbeResult struct {
	Status     string
	Error      string
	ResponseMs int64
}

// Prober issues lightweight availability checks against stream origins. A
// HEAD goes out first; origins that reject HEAD get a small ranged GET so
// the probe never pulls a full segment.
type Prober struct {
	client  *http.Client
	timeout time.Duration
	ua      string
}

func NewProber(timeout time.Duration, userAgent string) *Prober {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: timeout,
		}).DialContext,
		TLSHandshakeTimeout: timeout,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
	}
	return &Prober{
		client:  &http.Client{Transport: transport},
		timeout: timeout,
		ua:      userAgent,
	}
}

// Probe checks one stream and classifies the outcome. It never returns an
// error: every failure mode maps to a status so the sweep always produces
// a record.
func (p *Prober) Probe(ctx context.Context, stream *models.Stream) ProbeResult {
	if _, err := url.ParseRequestURI(stream.URL); err != nil {
		return ProbeResult{Status: models.StatusUnknown, Error: "malformed url"}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	status, contentType, err := p.request(ctx, stream, http.MethodHead)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		status, contentType, err = p.request(ctx, stream, http.MethodGet)
	}
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		return classifyTransport(err, elapsed)
	}
	return classifyStatus(status, contentType, elapsed)
}

func (p *Prober) request(ctx context.Context, stream *models.Stream, method string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, method, stream.URL, nil)
	if err != nil {
		return 0, "", err
	}

	ua := stream.UserAgent
	if ua == "" {
		ua = p.ua
	}
	req.Header.Set("User-Agent", ua)
	if stream.Referrer != "" {
		req.Header.Set("Referer", stream.Referrer)
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-1023")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	// Drain the capped body so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
	resp.Body.Close()
	return resp.StatusCode, resp.Header.Get("Content-Type"), nil
}

func classifyStatus(status int, contentType string, elapsed int64) ProbeResult {
	switch {
	case status == http.StatusOK || status == http.StatusPartialContent:
		// A success status serving HTML is a portal or geo-block page,
		// not media.
		if strings.Contains(strings.ToLower(contentType), "text/html") {
			return ProbeResult{
				Status:     models.StatusWarning,
				Error:      "origin served html instead of media",
				ResponseMs: elapsed,
			}
		}
		return ProbeResult{Status: models.StatusWorking, ResponseMs: elapsed}
	case status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusTooManyRequests:
		return ProbeResult{
			Status:     models.StatusWarning,
			Error:      fmt.Sprintf("origin returned %d", status),
			ResponseMs: elapsed,
		}
	default:
		return ProbeResult{
			Status:     models.StatusFailed,
			Error:      fmt.Sprintf("origin returned %d", status),
			ResponseMs: elapsed,
		}
	}
}

func classifyTransport(err error, elapsed int64) ProbeResult {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		// Shutdown abandonment, not a verdict on the stream.
		return ProbeResult{Status: models.StatusUnknown, Error: "canceled"}
	case errors.Is(err, context.DeadlineExceeded):
		return ProbeResult{Status: models.StatusFailed, Error: "timeout", ResponseMs: elapsed}
	case errors.As(err, &netErr) && netErr.Timeout():
		return ProbeResult{Status: models.StatusFailed, Error: "timeout", ResponseMs: elapsed}
	default:
		return ProbeResult{Status: models.StatusFailed, Error: "connection failed", ResponseMs: elapsed}
	}
}
