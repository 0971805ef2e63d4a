package models

import (
	"math"
	"time"
)

// HealthRecord is the latest probe result for a stream. There is at most one
// row per stream; absence means the stream has never been checked, which is
// distinct from StatusUnknown.
type HealthRecord struct {
	StreamID   string    `json:"stream_id" db:"stream_id"`
	Status     string    `json:"health_status" db:"status"`
	Error      string    `json:"health_error,omitempty" db:"error"`
	ResponseMs int64     `json:"response_ms,omitempty" db:"response_ms"`
	CheckedAt  time.Time `json:"last_checked" db:"checked_at"`
	ChangedAt  time.Time `json:"-" db:"changed_at"`
	Version    int64     `json:"-" db:"version"`
}

// Health status constants
const (
	StatusWorking = "working"
	StatusWarning = "warning"
	StatusFailed  = "failed"
	StatusUnknown = "unknown"
)

// HealthUpdate is one row of the polling feed: a health change joined with
// its channel so clients can re-associate badges with displayed cards.
type HealthUpdate struct {
	ChannelID string    `json:"channel_id"`
	StreamID  string    `json:"stream_id"`
	Status    string    `json:"health_status"`
	Error     string    `json:"health_error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// HealthStats aggregates the latest classifications across all streams.
type HealthStats struct {
	Counts       map[string]int64   `json:"stats"`
	Percentages  map[string]float64 `json:"percentages"`
	Total        int64              `json:"total"`
	NeverChecked int64              `json:"never_checked"`
}

// ComputePercentages fills the per-classification share of the total,
// rounded to one decimal. An empty catalog yields all zeros.
func (s *HealthStats) ComputePercentages() {
	s.Percentages = make(map[string]float64, len(s.Counts))
	for status, count := range s.Counts {
		if s.Total == 0 {
			s.Percentages[status] = 0
			continue
		}
		s.Percentages[status] = math.Round(float64(count)/float64(s.Total)*1000) / 10
	}
}
