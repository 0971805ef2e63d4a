package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediagate/streamgate/internal/cache"
	"github.com/mediagate/streamgate/internal/config"
	"github.com/mediagate/streamgate/internal/database"
	"github.com/mediagate/streamgate/internal/importer"
	"github.com/mediagate/streamgate/internal/logging"
	"github.com/mediagate/streamgate/internal/proxy"
	"github.com/mediagate/streamgate/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct {
	streams map[string]*models.Stream
	records map[string]*models.HealthRecord
	updates []models.HealthUpdate
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		streams: make(map[string]*models.Stream),
		records: make(map[string]*models.HealthRecord),
	}
}

func (f *fakeStore) GetStream(ctx context.Context, id string) (*models.Stream, error) {
	if s, ok := f.streams[id]; ok {
		return s, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) UpsertStream(ctx context.Context, stream *models.Stream) error {
	f.streams[stream.ID] = stream
	return nil
}

func (f *fakeStore) Health(ctx context.Context) error { return nil }

func (f *fakeStore) GetHealthRecord(ctx context.Context, streamID string) (*models.HealthRecord, error) {
	if rec, ok := f.records[streamID]; ok {
		return rec, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) RecentHealthUpdates(ctx context.Context, since time.Duration) ([]models.HealthUpdate, error) {
	if since <= 0 {
		return []models.HealthUpdate{}, nil
	}
	return f.updates, nil
}

func (f *fakeStore) HealthStats(ctx context.Context) (*models.HealthStats, error) {
	return &models.HealthStats{
		Counts: map[string]int64{models.StatusWorking: 2, models.StatusFailed: 1},
		Total:  3,
	}, nil
}

func (f *fakeStore) StreamStats(ctx context.Context) (*models.StreamStats, error) {
	return &models.StreamStats{TotalStreams: 3, ChannelsWithStreams: 2}, nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func newTestAPI(t *testing.T, store *fakeStore) (*API, *gin.Engine) {
	t.Helper()

	logger, err := logging.NewDefaultLogger()
	require.NoError(t, err)

	mem := cache.NewMemory()
	resolver := proxy.NewResolver(store, mem, logger)
	svc := proxy.NewService(resolver, mem, proxy.Config{
		ConnectTimeout:  2 * time.Second,
		ReadTimeout:     2 * time.Second,
		UserAgent:       "streamgate/1.0",
		SegmentTokenTTL: time.Minute,
	}, logger)

	api := &API{
		store:       store,
		proxy:       svc,
		importer:    importer.NewImporter(store, logger),
		playlistDir: t.TempDir(),
		pinger:      store,
		logger:      logger,
	}

	cfg := &config.Config{}
	cfg.Server.RateLimitRPS = 1000
	cfg.Server.RateLimitBurst = 1000

	return api, setupRouter(api, cfg, logger)
}

func doRequest(router *gin.Engine, method, path, body, contentType string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPlayManifestUnknownStream(t *testing.T) {
	_, router := newTestAPI(t, newFakeStore())

	w := doRequest(router, http.MethodGet, "/api/streams/deadbeef/play.m3u8", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlayManifestEmbed(t *testing.T) {
	store := newFakeStore()
	store.streams["yt1"] = &models.Stream{
		ID:        "yt1",
		URL:       "https://www.youtube.com/watch?v=abc123",
		MediaType: models.MediaTypeEmbed,
	}
	_, router := newTestAPI(t, store)

	w := doRequest(router, http.MethodGet, "/api/streams/yt1/play.m3u8", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "https://www.youtube.com/embed/abc123", body["embed_url"])
	assert.Equal(t, models.MediaTypeEmbed, body["media_type"])
}

func TestPlayManifestDirectRedirects(t *testing.T) {
	store := newFakeStore()
	store.streams["mp4a"] = &models.Stream{
		ID:        "mp4a",
		URL:       "http://cdn.example.com/movie.mp4",
		MediaType: models.MediaTypeDirect,
	}
	_, router := newTestAPI(t, store)

	w := doRequest(router, http.MethodGet, "/api/streams/mp4a/play.m3u8", "", "")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "/api/streams/mp4a/segments/")
}

func TestStreamStatusNeverChecked(t *testing.T) {
	_, router := newTestAPI(t, newFakeStore())

	w := doRequest(router, http.MethodGet, "/api/streams/s1/status", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, models.StatusUnknown, body["health_status"])
	assert.Nil(t, body["last_checked"])
}

func TestStreamStatusWithRecord(t *testing.T) {
	store := newFakeStore()
	store.records["s1"] = &models.HealthRecord{
		StreamID:   "s1",
		Status:     models.StatusWorking,
		ResponseMs: 123,
		CheckedAt:  time.Now().UTC(),
	}
	_, router := newTestAPI(t, store)

	w := doRequest(router, http.MethodGet, "/api/streams/s1/status", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, models.StatusWorking, body["health_status"])
	assert.NotNil(t, body["last_checked"])
}

func TestHealthUpdates(t *testing.T) {
	store := newFakeStore()
	store.updates = []models.HealthUpdate{
		{ChannelID: "ch1", StreamID: "s1", Status: models.StatusFailed, CheckedAt: time.Now()},
	}
	_, router := newTestAPI(t, store)

	w := doRequest(router, http.MethodGet, "/api/streams/health-updates?since=120", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Updates      []models.HealthUpdate `json:"updates"`
		Count        int                   `json:"count"`
		SinceSeconds int                   `json:"since_seconds"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, 120, body.SinceSeconds)
	assert.Equal(t, "s1", body.Updates[0].StreamID)
}

func TestHealthUpdatesZeroWindow(t *testing.T) {
	store := newFakeStore()
	store.updates = []models.HealthUpdate{
		{ChannelID: "ch1", StreamID: "s1", Status: models.StatusFailed},
	}
	_, router := newTestAPI(t, store)

	w := doRequest(router, http.MethodGet, "/api/streams/health-updates?since=0", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Count)
}

func TestHealthUpdatesBadSince(t *testing.T) {
	_, router := newTestAPI(t, newFakeStore())

	w := doRequest(router, http.MethodGet, "/api/streams/health-updates?since=soon", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthStats(t *testing.T) {
	_, router := newTestAPI(t, newFakeStore())

	w := doRequest(router, http.MethodGet, "/api/streams/health-stats", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body models.HealthStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(3), body.Total)
	assert.Equal(t, int64(2), body.Counts[models.StatusWorking])
	assert.InDelta(t, 66.7, body.Percentages[models.StatusWorking], 0.01)
	assert.InDelta(t, 33.3, body.Percentages[models.StatusFailed], 0.01)
}

func TestHealthStatsEmptyCatalog(t *testing.T) {
	stats := &models.HealthStats{
		Counts: map[string]int64{models.StatusWorking: 0, models.StatusFailed: 0},
	}
	stats.ComputePercentages()

	assert.Equal(t, 0.0, stats.Percentages[models.StatusWorking])
	assert.Equal(t, 0.0, stats.Percentages[models.StatusFailed])
}

func TestImportM3UBody(t *testing.T) {
	store := newFakeStore()
	_, router := newTestAPI(t, store)

	playlist := "#EXTM3U\n#EXTINF:-1 tvg-id=\"news.one\",News One\nhttp://origin.example.com/news.m3u8\n"
	w := doRequest(router, http.MethodPost, "/api/streams/import/m3u", playlist, "application/x-mpegurl")
	require.Equal(t, http.StatusOK, w.Code)

	var result importer.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Imported)
	assert.Len(t, store.streams, 1)
}

func TestImportM3URejectsGarbage(t *testing.T) {
	_, router := newTestAPI(t, newFakeStore())

	w := doRequest(router, http.MethodPost, "/api/streams/import/m3u", "<html></html>", "text/html")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImportM3UMissingPath(t *testing.T) {
	_, router := newTestAPI(t, newFakeStore())

	w := doRequest(router, http.MethodPost, "/api/streams/import/m3u", `{"path":"nonexistent.m3u"}`, "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImportM3UFromPlaylistDir(t *testing.T) {
	store := newFakeStore()
	api, router := newTestAPI(t, store)

	playlist := "#EXTM3U\n#EXTINF:-1 tvg-id=\"news.one\",News One\nhttp://origin.example.com/news.m3u8\n"
	require.NoError(t, os.WriteFile(filepath.Join(api.playlistDir, "channels.m3u"), []byte(playlist), 0644))

	w := doRequest(router, http.MethodPost, "/api/streams/import/m3u", `{"path":"channels.m3u"}`, "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	var result importer.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Imported)
}

func TestImportM3UPathConfinedToPlaylistDir(t *testing.T) {
	store := newFakeStore()
	api, router := newTestAPI(t, store)

	// A file outside the playlist root must stay unreachable even through
	// traversal segments.
	outside := filepath.Join(filepath.Dir(api.playlistDir), "secret.m3u")
	playlist := "#EXTM3U\n#EXTINF:-1,Leak\nhttp://origin.example.com/leak.m3u8\n"
	require.NoError(t, os.WriteFile(outside, []byte(playlist), 0644))

	w := doRequest(router, http.MethodPost, "/api/streams/import/m3u", `{"path":"../secret.m3u"}`, "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, store.streams)
}

func TestHealthCheck(t *testing.T) {
	_, router := newTestAPI(t, newFakeStore())

	w := doRequest(router, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
