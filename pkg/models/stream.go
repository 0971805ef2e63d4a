package models

import (
	"strings"
	"time"
)

// Stream represents one playable source for a channel. The upstream URL is
// never serialized to API clients; only the opaque ID crosses the proxy
// boundary.
type Stream struct {
	ID        string    `json:"id" db:"id"`
	ChannelID string    `json:"channel_id" db:"channel_id"`
	URL       string    `json:"-" db:"url"`
	MediaType string    `json:"media_type" db:"media_type"`
	Quality   string    `json:"quality,omitempty" db:"quality"`
	Referrer  string    `json:"-" db:"referrer"`
	UserAgent string    `json:"-" db:"user_agent"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// MediaType constants
const (
	MediaTypeHLS    = "hls"
	MediaTypeDASH   = "dash"
	MediaTypeDirect = "direct"
	MediaTypeEmbed  = "embed"
)

// DetectMediaType classifies an upstream URL by its shape. Embed detection
// matters most: embed streams are handed to the browser, never proxied.
func DetectMediaType(rawURL string) string {
	lower := strings.ToLower(rawURL)
	switch {
	case strings.Contains(lower, "youtube.com/") || strings.Contains(lower, "youtu.be/"):
		return MediaTypeEmbed
	case strings.Contains(lower, ".mpd"):
		return MediaTypeDASH
	case strings.Contains(lower, ".m3u8"):
		return MediaTypeHLS
	case strings.Contains(lower, ".mp4") || strings.Contains(lower, ".m4v"):
		return MediaTypeDirect
	default:
		return MediaTypeHLS
	}
}

// StreamStats holds catalog-level counts.
type StreamStats struct {
	TotalStreams        int `json:"total_streams"`
	ChannelsWithStreams int `json:"channels_with_streams"`
}
