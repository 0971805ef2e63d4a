package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mediagate/streamgate/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Repository provides database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Health checks the underlying connection.
func (r *Repository) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}

// Streams

// UpsertStream inserts a stream or refreshes its catalog fields. The ID is
// derived from the URL, so re-importing the same playlist is a no-op.
func (r *Repository) UpsertStream(ctx context.Context, stream *models.Stream) error {
	query := `
		INSERT INTO streams (id, channel_id, url, media_type, quality, referrer, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET channel_id = EXCLUDED.channel_id, media_type = EXCLUDED.media_type,
		    quality = EXCLUDED.quality, referrer = EXCLUDED.referrer,
		    user_agent = EXCLUDED.user_agent
		RETURNING created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		stream.ID, stream.ChannelID, stream.URL, stream.MediaType,
		stream.Quality, stream.Referrer, stream.UserAgent,
	).Scan(&stream.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert stream: %w", err)
	}

	return nil
}

// GetStream retrieves a stream by its opaque ID
func (r *Repository) GetStream(ctx context.Context, id string) (*models.Stream, error) {
	var stream models.Stream

	query := `
		SELECT id, channel_id, url, media_type, quality, referrer, user_agent, created_at
		FROM streams
		WHERE id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&stream.ID, &stream.ChannelID, &stream.URL, &stream.MediaType,
		&stream.Quality, &stream.Referrer, &stream.UserAgent, &stream.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}

	return &stream, nil
}

// ListStreams retrieves all known streams
func (r *Repository) ListStreams(ctx context.Context) ([]*models.Stream, error) {
	query := `
		SELECT id, channel_id, url, media_type, quality, referrer, user_agent, created_at
		FROM streams
		ORDER BY created_at
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}
	defer rows.Close()

	var streams []*models.Stream
	for rows.Next() {
		var stream models.Stream
		err := rows.Scan(
			&stream.ID, &stream.ChannelID, &stream.URL, &stream.MediaType,
			&stream.Quality, &stream.Referrer, &stream.UserAgent, &stream.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stream: %w", err)
		}
		streams = append(streams, &stream)
	}

	return streams, nil
}

// DeleteAllStreams clears the catalog for an explicit re-sync. Health
// records go with it via the FK cascade.
func (r *Repository) DeleteAllStreams(ctx context.Context) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM streams`); err != nil {
		return fmt.Errorf("failed to delete streams: %w", err)
	}
	return nil
}

// StreamStats returns catalog-level counts
func (r *Repository) StreamStats(ctx context.Context) (*models.StreamStats, error) {
	var stats models.StreamStats

	query := `
		SELECT COUNT(*),
		       COUNT(DISTINCT channel_id) FILTER (WHERE channel_id <> '')
		FROM streams
	`

	err := r.db.Pool.QueryRow(ctx, query).Scan(&stats.TotalStreams, &stats.ChannelsWithStreams)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream stats: %w", err)
	}

	return &stats, nil
}

// Health records

// GetHealthRecord retrieves the latest health record for a stream.
// ErrNotFound means the stream has never been checked.
func (r *Repository) GetHealthRecord(ctx context.Context, streamID string) (*models.HealthRecord, error) {
	var rec models.HealthRecord

	query := `
		SELECT stream_id, status, error, response_ms, checked_at, changed_at, version
		FROM health_records
		WHERE stream_id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, streamID).Scan(
		&rec.StreamID, &rec.Status, &rec.Error, &rec.ResponseMs,
		&rec.CheckedAt, &rec.ChangedAt, &rec.Version,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get health record: %w", err)
	}

	return &rec, nil
}

// UpsertHealthRecord writes a probe result. The checker is the only writer,
// so it reads the previous record, sets Version/ChangedAt itself, and this
// upsert stays a plain row replacement.
func (r *Repository) UpsertHealthRecord(ctx context.Context, rec *models.HealthRecord) error {
	query := `
		INSERT INTO health_records (stream_id, status, error, response_ms, checked_at, changed_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (stream_id) DO UPDATE
		SET status = EXCLUDED.status, error = EXCLUDED.error,
		    response_ms = EXCLUDED.response_ms, checked_at = EXCLUDED.checked_at,
		    changed_at = EXCLUDED.changed_at, version = EXCLUDED.version
	`

	_, err := r.db.Pool.Exec(ctx, query,
		rec.StreamID, rec.Status, rec.Error, rec.ResponseMs,
		rec.CheckedAt, rec.ChangedAt, rec.Version,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert health record: %w", err)
	}

	return nil
}

// RecentHealthUpdates returns streams whose classification changed within
// the window, joined with their channel for the polling feed. Streams whose
// probes merely re-confirmed an existing status are excluded.
func (r *Repository) RecentHealthUpdates(ctx context.Context, since time.Duration) ([]models.HealthUpdate, error) {
	if since <= 0 {
		return []models.HealthUpdate{}, nil
	}

	query := `
		SELECT s.channel_id, h.stream_id, h.status, h.error, h.checked_at
		FROM health_records h
		JOIN streams s ON s.id = h.stream_id
		WHERE h.changed_at >= now() - $1::interval
		ORDER BY h.checked_at
	`

	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query health updates: %w", err)
	}
	defer rows.Close()

	updates := []models.HealthUpdate{}
	for rows.Next() {
		var u models.HealthUpdate
		if err := rows.Scan(&u.ChannelID, &u.StreamID, &u.Status, &u.Error, &u.CheckedAt); err != nil {
			return nil, fmt.Errorf("failed to scan health update: %w", err)
		}
		updates = append(updates, u)
	}

	return updates, nil
}

// HealthStats returns per-classification counts across the catalog
func (r *Repository) HealthStats(ctx context.Context) (*models.HealthStats, error) {
	stats := &models.HealthStats{Counts: map[string]int64{
		models.StatusWorking: 0,
		models.StatusWarning: 0,
		models.StatusFailed:  0,
		models.StatusUnknown: 0,
	}}

	query := `
		SELECT h.status, COUNT(*)
		FROM health_records h
		GROUP BY h.status
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query health stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan health stats: %w", err)
		}
		stats.Counts[status] = count
		stats.Total += count
	}

	neverQuery := `
		SELECT COUNT(*)
		FROM streams s
		LEFT JOIN health_records h ON h.stream_id = s.id
		WHERE h.stream_id IS NULL
	`
	if err := r.db.Pool.QueryRow(ctx, neverQuery).Scan(&stats.NeverChecked); err != nil {
		return nil, fmt.Errorf("failed to count unchecked streams: %w", err)
	}

	stats.ComputePercentages()
	return stats, nil
}
