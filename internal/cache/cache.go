package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mediagate/streamgate/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Cache provides caching functionality using Redis. It holds two kinds of
// state: segment token mappings minted by the manifest rewriter, and a
// short-lived cache of stream rows in front of the repository.
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks the Redis connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Segment token operations

// SetToken stores a segment token mapping with a TTL. Tokens expire so the
// store does not grow with every live-manifest refresh.
func (c *Cache) SetToken(ctx context.Context, streamID, token, upstreamURL string, ttl time.Duration) error {
	key := fmt.Sprintf("segment:%s:%s", streamID, token)
	return c.client.Set(ctx, key, upstreamURL, ttl).Err()
}

// GetToken resolves a segment token back to its upstream URL. A cache miss
// returns an empty string with no error.
func (c *Cache) GetToken(ctx context.Context, streamID, token string) (string, error) {
	key := fmt.Sprintf("segment:%s:%s", streamID, token)
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil // miss
		}
		return "", fmt.Errorf("failed to get segment token: %w", err)
	}
	return val, nil
}

// Stream cache operations

// streamEnvelope carries the fields models.Stream hides from API clients.
// Redis is internal, so the upstream URL and headers are stored here.
type streamEnvelope struct {
	models.Stream
	URL       string `json:"url"`
	Referrer  string `json:"referrer,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// SetStream caches a stream row
func (c *Cache) SetStream(ctx context.Context, stream *models.Stream, ttl time.Duration) error {
	env := streamEnvelope{
		Stream:    *stream,
		URL:       stream.URL,
		Referrer:  stream.Referrer,
		UserAgent: stream.UserAgent,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal stream: %w", err)
	}

	key := fmt.Sprintf("stream:%s", stream.ID)
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetStream retrieves a stream row from cache. A miss returns (nil, nil).
func (c *Cache) GetStream(ctx context.Context, streamID string) (*models.Stream, error) {
	key := fmt.Sprintf("stream:%s", streamID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // miss
		}
		return nil, fmt.Errorf("failed to get stream from cache: %w", err)
	}

	var env streamEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stream: %w", err)
	}

	stream := env.Stream
	stream.URL = env.URL
	stream.Referrer = env.Referrer
	stream.UserAgent = env.UserAgent
	return &stream, nil
}

// DeleteStream removes a stream row from cache
func (c *Cache) DeleteStream(ctx context.Context, streamID string) error {
	key := fmt.Sprintf("stream:%s", streamID)
	return c.client.Del(ctx, key).Err()
}
