package importer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/mediagate/streamgate/internal/logging"
	"github.com/mediagate/streamgate/internal/streamid"
	"github.com/mediagate/streamgate/pkg/models"
)

// ErrNotM3U means the input does not start with an #EXTM3U header.
var ErrNotM3U = errors.New("not an m3u playlist")

var (
	attrPattern    = regexp.MustCompile(`([a-zA-Z0-9-]+)="([^"]*)"`)
	qualityPattern = regexp.MustCompile(`(?i)\b(2160p|1440p|1080p|720p|576p|480p|360p|4k|uhd|fhd|hd|sd)\b`)
)

// Entry is one parsed playlist item.
type Entry struct {
	Name      string
	TvgID     string
	Group     string
	Quality   string
	URL       string
	Referrer  string
	UserAgent string
}

// Parse reads an extended M3U playlist. #EXTVLCOPT headers carry per-stream
// request headers, which some providers require.
func Parse(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	sawHeader := false
	var entries []Entry
	var current Entry
	pending := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXTM3U"):
			sawHeader = true

		case strings.HasPrefix(line, "#EXTINF:"):
			if !sawHeader {
				return nil, ErrNotM3U
			}
			current = parseExtInf(line)
			pending = true

		case strings.HasPrefix(line, "#EXTVLCOPT:"):
			opt := strings.TrimPrefix(line, "#EXTVLCOPT:")
			if v, ok := strings.CutPrefix(opt, "http-referrer="); ok {
				current.Referrer = strings.TrimSpace(v)
			} else if v, ok := strings.CutPrefix(opt, "http-user-agent="); ok {
				current.UserAgent = strings.TrimSpace(v)
			}

		case strings.HasPrefix(line, "#"):
			// Other directives are ignored.

		default:
			if !sawHeader {
				return nil, ErrNotM3U
			}
			if pending {
				current.URL = line
				entries = append(entries, current)
				current = Entry{}
				pending = false
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read playlist: %w", err)
	}
	if !sawHeader {
		return nil, ErrNotM3U
	}
	return entries, nil
}

func parseExtInf(line string) Entry {
	var e Entry

	body := strings.TrimPrefix(line, "#EXTINF:")
	if idx := strings.LastIndex(body, ","); idx >= 0 {
		e.Name = strings.TrimSpace(body[idx+1:])
	}

	for _, m := range attrPattern.FindAllStringSubmatch(body, -1) {
		switch strings.ToLower(m[1]) {
		case "tvg-id":
			e.TvgID = m[2]
		case "group-title":
			e.Group = m[2]
		}
	}

	if q := qualityPattern.FindString(e.Name); q != "" {
		e.Quality = strings.ToLower(q)
	}
	return e
}

// StreamWriter is the catalog write path, satisfied by database.Repository.
type StreamWriter interface {
	UpsertStream(ctx context.Context, stream *models.Stream) error
}

// Result summarizes one import run.
type Result struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Importer turns playlists into catalog rows with minted opaque IDs.
type Importer struct {
	writer StreamWriter
	logger *logging.Logger
}

func NewImporter(writer StreamWriter, logger *logging.Logger) *Importer {
	return &Importer{
		writer: writer,
		logger: logger.WithComponent("importer"),
	}
}

// Import parses a playlist and upserts every entry. Entries whose URL does
// not normalize are skipped, not fatal; one bad row should not sink a
// 10k-line provider playlist.
func (i *Importer) Import(ctx context.Context, r io.Reader) (*Result, error) {
	entries, err := Parse(r)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, entry := range entries {
		id, err := streamid.Encode(entry.URL)
		if err != nil {
			i.logger.WithError(err).WithField("name", entry.Name).Warn("skipping entry with invalid url")
			result.Skipped++
			continue
		}

		channelID := entry.TvgID
		if channelID == "" {
			channelID = entry.Name
		}

		stream := &models.Stream{
			ID:        id,
			ChannelID: channelID,
			URL:       entry.URL,
			MediaType: models.DetectMediaType(entry.URL),
			Quality:   entry.Quality,
			Referrer:  entry.Referrer,
			UserAgent: entry.UserAgent,
		}
		if err := i.writer.UpsertStream(ctx, stream); err != nil {
			return nil, fmt.Errorf("failed to upsert stream: %w", err)
		}
		result.Imported++
	}

	i.logger.WithField("imported", result.Imported).WithField("skipped", result.Skipped).Info("playlist import complete")
	return result, nil
}
