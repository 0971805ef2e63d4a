package proxy

import (
	"context"
	"errors"
	"time"

	"github.com/mediagate/streamgate/internal/database"
	"github.com/mediagate/streamgate/internal/logging"
	"github.com/mediagate/streamgate/pkg/models"
)

// streamCacheTTL bounds how stale a cached stream row may get after a
// catalog re-import.
const streamCacheTTL = 5 * time.Minute

// StreamStore is the persistent catalog lookup, satisfied by
// database.Repository.
type StreamStore interface {
	GetStream(ctx context.Context, id string) (*models.Stream, error)
}

// StreamCache is the hot-path cache in front of the store, satisfied by
// cache.Cache and cache.Memory. A miss is (nil, nil).
type StreamCache interface {
	GetStream(ctx context.Context, streamID string) (*models.Stream, error)
	SetStream(ctx context.Context, stream *models.Stream, ttl time.Duration) error
}

// Resolver maps opaque stream IDs back to catalog rows, cache first.
type Resolver struct {
	store  StreamStore
	cache  StreamCache
	logger *logging.Logger
}

func NewResolver(store StreamStore, cache StreamCache, logger *logging.Logger) *Resolver {
	return &Resolver{
		store:  store,
		cache:  cache,
		logger: logger.WithComponent("resolver"),
	}
}

// Resolve returns the stream for an opaque ID or ErrStreamNotFound. Cache
// failures degrade to a store read, they never fail the request.
func (r *Resolver) Resolve(ctx context.Context, streamID string) (*models.Stream, error) {
	if r.cache != nil {
		stream, err := r.cache.GetStream(ctx, streamID)
		if err != nil {
			r.logger.WithError(err).WithStreamID(streamID).Warn("stream cache read failed")
		} else if stream != nil {
			return stream, nil
		}
	}

	stream, err := r.store.GetStream(ctx, streamID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrStreamNotFound
		}
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.SetStream(ctx, stream, streamCacheTTL); err != nil {
			r.logger.WithError(err).WithStreamID(streamID).Warn("stream cache write failed")
		}
	}
	return stream, nil
}
