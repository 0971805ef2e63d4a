package cache

import (
	"context"
	"sync"
	"time"

	"github.com/mediagate/streamgate/pkg/models"
)

// Memory is an in-process fallback for single-box deployments and tests.
// It implements the same token and stream operations as Cache.
type Memory struct {
	mu      sync.RWMutex
	tokens  map[string]memoryEntry
	streams map[string]memoryStreamEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

type memoryStreamEntry struct {
	stream    models.Stream
	expiresAt time.Time
}

// NewMemory creates an in-memory cache
func NewMemory() *Memory {
	return &Memory{
		tokens:  make(map[string]memoryEntry),
		streams: make(map[string]memoryStreamEntry),
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// SetToken stores a segment token mapping with a TTL
func (m *Memory) SetToken(ctx context.Context, streamID, token, upstreamURL string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[streamID+":"+token] = memoryEntry{value: upstreamURL, expiresAt: time.Now().Add(ttl)}
	return nil
}

// GetToken resolves a segment token; a miss or expired entry returns ""
func (m *Memory) GetToken(ctx context.Context, streamID, token string) (string, error) {
	m.mu.RLock()
	entry, ok := m.tokens[streamID+":"+token]
	m.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return "", nil
	}
	return entry.value, nil
}

// SetStream caches a stream row
func (m *Memory) SetStream(ctx context.Context, stream *models.Stream, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[stream.ID] = memoryStreamEntry{stream: *stream, expiresAt: time.Now().Add(ttl)}
	return nil
}

// GetStream retrieves a stream row; a miss returns (nil, nil)
func (m *Memory) GetStream(ctx context.Context, streamID string) (*models.Stream, error) {
	m.mu.RLock()
	entry, ok := m.streams[streamID]
	m.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, nil
	}
	stream := entry.stream
	return &stream, nil
}

// DeleteStream removes a stream row
func (m *Memory) DeleteStream(ctx context.Context, streamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, streamID)
	return nil
}
