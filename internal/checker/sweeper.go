package checker

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mediagate/streamgate/internal/database"
	"github.com/mediagate/streamgate/internal/logging"
	"github.com/mediagate/streamgate/internal/metrics"
	"github.com/mediagate/streamgate/internal/tracing"
	"github.com/mediagate/streamgate/pkg/models"
)

// HealthStore is the persistence the sweeper needs, satisfied by
// database.Repository.
type HealthStore interface {
	ListStreams(ctx context.Context) ([]*models.Stream, error)
	GetHealthRecord(ctx context.Context, streamID string) (*models.HealthRecord, error)
	UpsertHealthRecord(ctx context.Context, rec *models.HealthRecord) error
}

// Config holds the sweep knobs.
type Config struct {
	Interval    time.Duration
	Concurrency int
	HostRPS     float64
	HostBurst   int
}

// Stats is a snapshot of the most recent completed sweep.
type Stats struct {
	SweepsCompleted int64            `json:"sweeps_completed"`
	LastSweepAt     time.Time        `json:"last_sweep_at"`
	LastSweepMs     int64            `json:"last_sweep_ms"`
	StreamsChecked  int              `json:"streams_checked"`
	StatusCounts    map[string]int64 `json:"status_counts"`
}

// Checker sweeps the whole catalog on an interval, probing each stream and
// recording classification changes. It is the only writer of health records,
// so version bumps need no row locking.
type Checker struct {
	store  HealthStore
	prober *Prober
	cfg    Config
	logger *logging.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	statsMu sync.RWMutex
	stats   Stats
}

func NewChecker(store HealthStore, prober *Prober, cfg Config, logger *logging.Logger) *Checker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Checker{
		store:    store,
		prober:   prober,
		cfg:      cfg,
		logger:   logger.WithComponent("checker"),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Run sweeps immediately, then on every interval tick until ctx is
// cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.logger.WithField("interval", c.cfg.Interval.String()).Info("health checker started")

	c.Sweep(ctx)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("health checker stopped")
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep probes every stream in the catalog through a bounded worker pool.
func (c *Checker) Sweep(ctx context.Context) {
	span, ctx := tracing.StartSpan(ctx, "checker.sweep")
	defer span.Finish()

	start := time.Now()

	streams, err := c.store.ListStreams(ctx)
	if err != nil {
		tracing.MarkError(span, err)
		c.logger.WithError(err).Error("failed to list streams for sweep")
		return
	}
	span.SetTag("streams.count", len(streams))

	counts := struct {
		sync.Mutex
		byStatus map[string]int64
	}{byStatus: make(map[string]int64)}

	sem := make(chan struct{}, c.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, stream := range streams {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(stream *models.Stream) {
			defer wg.Done()
			defer func() { <-sem }()

			status := c.checkOne(ctx, stream)
			if status == "" {
				return
			}
			counts.Lock()
			counts.byStatus[status]++
			counts.Unlock()
		}(stream)
	}
	wg.Wait()

	elapsed := time.Since(start)
	metrics.SweepsTotal.Inc()
	metrics.SweepDuration.Observe(elapsed.Seconds())
	metrics.StreamsKnown.Set(float64(len(streams)))
	for _, status := range []string{models.StatusWorking, models.StatusWarning, models.StatusFailed, models.StatusUnknown} {
		metrics.StreamsByStatus.WithLabelValues(status).Set(float64(counts.byStatus[status]))
	}

	c.statsMu.Lock()
	c.stats.SweepsCompleted++
	c.stats.LastSweepAt = start
	c.stats.LastSweepMs = elapsed.Milliseconds()
	c.stats.StreamsChecked = len(streams)
	c.stats.StatusCounts = counts.byStatus
	c.statsMu.Unlock()

	c.logger.LogSweepComplete(
		len(streams),
		int(counts.byStatus[models.StatusWorking]),
		int(counts.byStatus[models.StatusWarning]),
		int(counts.byStatus[models.StatusFailed]),
		elapsed,
	)
}

// checkOne probes a single stream and persists the result, bumping the
// record version only when the classification or error text changed. An
// empty return means the probe was abandoned and nothing was recorded.
func (c *Checker) checkOne(ctx context.Context, stream *models.Stream) string {
	if err := c.hostLimiter(stream.URL).Wait(ctx); err != nil {
		return ""
	}

	result := c.prober.Probe(ctx, stream)
	if ctx.Err() != nil {
		// Shutdown mid-probe: the outcome reflects cancellation, not the
		// stream, so it must not overwrite the last real record.
		return ""
	}
	metrics.ProbesTotal.WithLabelValues(result.Status).Inc()
	c.logger.LogProbeResult(stream.ID, result.Status, result.Error, result.ResponseMs)

	now := time.Now().UTC()
	rec := &models.HealthRecord{
		StreamID:   stream.ID,
		Status:     result.Status,
		Error:      result.Error,
		ResponseMs: result.ResponseMs,
		CheckedAt:  now,
		ChangedAt:  now,
		Version:    1,
	}

	prev, err := c.store.GetHealthRecord(ctx, stream.ID)
	switch {
	case err == nil:
		if prev.Status == result.Status && prev.Error == result.Error {
			rec.ChangedAt = prev.ChangedAt
			rec.Version = prev.Version
		} else {
			rec.Version = prev.Version + 1
		}
	case errors.Is(err, database.ErrNotFound):
		// First probe ever; the fresh record stands.
	default:
		c.logger.WithError(err).WithStreamID(stream.ID).Error("failed to load health record")
		return result.Status
	}

	if err := c.store.UpsertHealthRecord(ctx, rec); err != nil {
		c.logger.WithError(err).WithStreamID(stream.ID).Error("failed to persist health record")
	}
	return result.Status
}

// hostLimiter returns the shared limiter for a stream's origin host so a
// sweep cannot hammer one provider.
func (c *Checker) hostLimiter(rawURL string) *rate.Limiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Hostname()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if lim, ok := c.limiters[host]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(c.cfg.HostRPS), c.cfg.HostBurst)
	c.limiters[host] = lim
	return lim
}

// Stats returns a copy of the latest sweep snapshot.
func (c *Checker) Stats() Stats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()

	out := c.stats
	out.StatusCounts = make(map[string]int64, len(c.stats.StatusCounts))
	for k, v := range c.stats.StatusCounts {
		out.StatusCounts[k] = v
	}
	return out
}
