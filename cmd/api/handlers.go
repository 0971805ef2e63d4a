package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mediagate/streamgate/internal/database"
	"github.com/mediagate/streamgate/internal/importer"
	"github.com/mediagate/streamgate/internal/manifest"
	"github.com/mediagate/streamgate/internal/proxy"
	"github.com/mediagate/streamgate/pkg/models"
)

// Store is the repository surface the handlers read from, satisfied by
// database.Repository.
type Store interface {
	Health(ctx context.Context) error
	GetHealthRecord(ctx context.Context, streamID string) (*models.HealthRecord, error)
	RecentHealthUpdates(ctx context.Context, since time.Duration) ([]models.HealthUpdate, error)
	HealthStats(ctx context.Context) (*models.HealthStats, error)
	StreamStats(ctx context.Context) (*models.StreamStats, error)
}

// Pinger is the cache liveness check used by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// playManifest serves the playback entry point for a stream. Embed streams
// come back as JSON for the browser player; everything else is a rewritten
// manifest or a redirect into the segment endpoint.
func (api *API) playManifest(c *gin.Context) {
	result, err := api.proxy.Manifest(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.renderProxyError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")

	switch result.MediaType {
	case models.MediaTypeEmbed:
		c.JSON(http.StatusOK, gin.H{
			"media_type": models.MediaTypeEmbed,
			"embed_url":  result.EmbedURL,
		})
	case models.MediaTypeDirect:
		c.Redirect(http.StatusFound, result.RedirectPath)
	default:
		c.Data(http.StatusOK, result.ContentType, []byte(result.Body))
	}
}

// proxySegment streams one media object. The wildcard tail lets DASH
// clients append template-expanded filenames under a directory token.
func (api *API) proxySegment(c *gin.Context) {
	tail := strings.TrimPrefix(c.Param("token"), "/")
	token, subPath, _ := strings.Cut(tail, "/")

	result, err := api.proxy.Segment(c.Request.Context(), c.Param("id"), token, subPath, c.GetHeader("Range"))
	if err != nil {
		api.renderProxyError(c, err)
		return
	}

	if result.Reader == nil {
		c.Data(result.StatusCode, result.ContentType, []byte(result.Body))
		return
	}
	defer result.Reader.Close()

	c.Header("Accept-Ranges", "bytes")
	if result.ContentRange != "" {
		c.Header("Content-Range", result.ContentRange)
	}
	if result.ContentLength >= 0 {
		c.Header("Content-Length", strconv.FormatInt(result.ContentLength, 10))
	}
	c.Header("Content-Type", result.ContentType)
	c.Status(result.StatusCode)
	io.Copy(c.Writer, result.Reader)
}

// streamStatus returns the latest health record for one stream. A stream
// that has never been swept reads as unknown, not as an error.
func (api *API) streamStatus(c *gin.Context) {
	rec, err := api.store.GetHealthRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{
				"stream_id":     c.Param("id"),
				"health_status": models.StatusUnknown,
				"last_checked":  nil,
			})
			return
		}
		api.logger.WithError(err).Error("failed to load health record")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load stream status"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// healthUpdates is the polling feed: health changes within the last
// `since` seconds, joined with channel ids.
func (api *API) healthUpdates(c *gin.Context) {
	since := 60
	if raw := c.Query("since"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid since parameter"})
			return
		}
		since = v
	}

	updates, err := api.store.RecentHealthUpdates(c.Request.Context(), time.Duration(since)*time.Second)
	if err != nil {
		api.logger.WithError(err).Error("failed to load health updates")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load health updates"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"updates":       updates,
		"count":         len(updates),
		"since_seconds": since,
	})
}

func (api *API) healthStats(c *gin.Context) {
	stats, err := api.store.HealthStats(c.Request.Context())
	if err != nil {
		api.logger.WithError(err).Error("failed to load health stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load health stats"})
		return
	}
	if stats.Percentages == nil {
		stats.ComputePercentages()
	}
	c.JSON(http.StatusOK, stats)
}

func (api *API) streamStats(c *gin.Context) {
	stats, err := api.store.StreamStats(c.Request.Context())
	if err != nil {
		api.logger.WithError(err).Error("failed to load stream stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load stream stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// importM3U ingests playlists. A JSON body names a server-local file or
// directory of playlists; any other body is treated as the playlist itself.
func (api *API) importM3U(c *gin.Context) {
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var req struct {
			Path string `json:"path" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		result, err := api.importFromPath(c.Request.Context(), req.Path)
		if err != nil {
			api.renderImportError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	result, err := api.importer.Import(c.Request.Context(), c.Request.Body)
	if err != nil {
		api.renderImportError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// importFromPath reads playlists from inside the configured playlist
// directory only. The request path is treated as relative to that root;
// traversal segments are stripped before the filesystem is touched.
func (api *API) importFromPath(ctx context.Context, reqPath string) (*importer.Result, error) {
	root, err := filepath.Abs(api.playlistDir)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(root, filepath.Clean("/"+reqPath))

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var files []string
	if info.IsDir() {
		for _, pattern := range []string{"*.m3u", "*.m3u8"} {
			matches, err := filepath.Glob(filepath.Join(path, pattern))
			if err != nil {
				return nil, err
			}
			files = append(files, matches...)
		}
	} else {
		files = []string{path}
	}

	total := &importer.Result{}
	for _, file := range files {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		result, err := api.importer.Import(ctx, f)
		f.Close()
		if err != nil {
			return nil, err
		}
		total.Imported += result.Imported
		total.Skipped += result.Skipped
	}
	return total, nil
}

func (api *API) renderImportError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, importer.ErrNotM3U):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Body is not an M3U playlist"})
	case errors.Is(err, os.ErrNotExist):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Playlist path not found"})
	default:
		api.logger.WithError(err).Error("playlist import failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Import failed"})
	}
}

// renderProxyError maps proxy failures onto status codes without letting
// upstream details reach the client.
func (api *API) renderProxyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, proxy.ErrStreamNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Stream not found"})
	case errors.Is(err, proxy.ErrSegmentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Segment not found or expired"})
	case errors.Is(err, proxy.ErrUpstreamTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Upstream timed out"})
	case errors.Is(err, proxy.ErrUpstreamUnavailable), errors.Is(err, manifest.ErrInvalidManifest):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Upstream unavailable"})
	case errors.Is(err, context.Canceled):
		c.Status(499)
	default:
		api.logger.WithError(err).Error("proxy request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
