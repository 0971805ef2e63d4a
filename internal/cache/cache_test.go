package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mediagate/streamgate/pkg/models"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	cache, err := NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create cache: %v", err)
	}

	return cache, mr
}

func TestNewCache(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	if err := cache.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestCache_TokenOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	err := cache.SetToken(ctx, "stream-1", "abcdef", "http://example.com/seg1.ts", time.Hour)
	if err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}

	url, err := cache.GetToken(ctx, "stream-1", "abcdef")
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if url != "http://example.com/seg1.ts" {
		t.Errorf("Expected upstream URL, got %q", url)
	}

	// Tokens are scoped per stream
	url, err = cache.GetToken(ctx, "stream-2", "abcdef")
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if url != "" {
		t.Errorf("Expected miss for wrong stream, got %q", url)
	}

	// Expiry
	mr.FastForward(2 * time.Hour)
	url, err = cache.GetToken(ctx, "stream-1", "abcdef")
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if url != "" {
		t.Errorf("Expected miss after TTL, got %q", url)
	}
}

func TestCache_StreamOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	stream := &models.Stream{
		ID:        "abc123",
		ChannelID: "bbc-one",
		URL:       "http://example.com/a.m3u8",
		MediaType: models.MediaTypeHLS,
		Quality:   "720p",
		Referrer:  "http://example.com/",
		UserAgent: "test-agent",
	}

	if err := cache.SetStream(ctx, stream, 5*time.Minute); err != nil {
		t.Fatalf("SetStream failed: %v", err)
	}

	retrieved, err := cache.GetStream(ctx, stream.ID)
	if err != nil {
		t.Fatalf("GetStream failed: %v", err)
	}
	if retrieved == nil {
		t.Fatal("Expected cached stream, got miss")
	}

	// The upstream URL and headers must round-trip through the cache even
	// though they are hidden from API serialization.
	if retrieved.URL != stream.URL {
		t.Errorf("Expected URL %q, got %q", stream.URL, retrieved.URL)
	}
	if retrieved.Referrer != stream.Referrer {
		t.Errorf("Expected referrer %q, got %q", stream.Referrer, retrieved.Referrer)
	}
	if retrieved.UserAgent != stream.UserAgent {
		t.Errorf("Expected user agent %q, got %q", stream.UserAgent, retrieved.UserAgent)
	}
	if retrieved.ChannelID != stream.ChannelID {
		t.Errorf("Expected channel %q, got %q", stream.ChannelID, retrieved.ChannelID)
	}

	// Miss
	retrieved, err = cache.GetStream(ctx, "missing")
	if err != nil {
		t.Fatalf("GetStream failed: %v", err)
	}
	if retrieved != nil {
		t.Error("Expected miss for unknown stream")
	}

	// Delete
	if err := cache.DeleteStream(ctx, stream.ID); err != nil {
		t.Fatalf("DeleteStream failed: %v", err)
	}
	retrieved, err = cache.GetStream(ctx, stream.ID)
	if err != nil {
		t.Fatalf("GetStream failed: %v", err)
	}
	if retrieved != nil {
		t.Error("Expected miss after delete")
	}
}

func TestMemory_TokenOperations(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.SetToken(ctx, "s1", "tok", "http://example.com/seg1.ts", time.Hour); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}

	url, err := m.GetToken(ctx, "s1", "tok")
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if url != "http://example.com/seg1.ts" {
		t.Errorf("Expected upstream URL, got %q", url)
	}

	url, _ = m.GetToken(ctx, "s1", "other")
	if url != "" {
		t.Errorf("Expected miss, got %q", url)
	}

	// Expired entry behaves as a miss
	_ = m.SetToken(ctx, "s1", "short", "http://example.com/seg2.ts", -time.Second)
	url, _ = m.GetToken(ctx, "s1", "short")
	if url != "" {
		t.Errorf("Expected miss for expired token, got %q", url)
	}
}
