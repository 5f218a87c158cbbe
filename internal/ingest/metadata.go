// ABOUTME: Per-track metadata.json read/write and library enumeration
package ingest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/stereofield/stereofield/internal/session"
)

type trackMetadata struct {
	ID          string               `json:"id"`
	Title       string               `json:"title"`
	Duration    float64              `json:"duration"`
	Files       session.ChannelFiles `json:"files"`
	OriginalURL string               `json:"originalUrl"`
	CreatedAt   time.Time            `json:"createdAt"`
}

func trackToMetadata(t *session.Track) trackMetadata {
	return trackMetadata{
		ID:          t.ID,
		Title:       t.Title,
		Duration:    t.Duration,
		Files:       t.Files,
		OriginalURL: t.OriginalURL,
		CreatedAt:   t.CreatedAt,
	}
}

func metadataToTrack(m trackMetadata) *session.Track {
	return &session.Track{
		ID:          m.ID,
		Title:       m.Title,
		Duration:    m.Duration,
		Files:       m.Files,
		OriginalURL: m.OriginalURL,
		CreatedAt:   m.CreatedAt,
	}
}

// writeMetadata atomically writes metadata.json into dir via
// create-temp-then-rename, so readers never observe a partial document.
func writeMetadata(dir string, t *session.Track) error {
	data, err := json.MarshalIndent(trackToMetadata(t), "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".metadata-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, filepath.Join(dir, "metadata.json"))
}

func readMetadata(path string) (*session.Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m trackMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return metadataToTrack(m), nil
}

// LookupTrack resolves a track id against the on-disk library. It returns
// false if the directory or its metadata.json is missing or corrupt.
func LookupTrack(root, trackID string) (*session.Track, bool) {
	track, err := readMetadata(filepath.Join(root, trackID, "metadata.json"))
	if err != nil {
		return nil, false
	}
	return track, true
}

// EnumerateLibrary walks root and returns one Track per subdirectory whose
// metadata.json parses successfully. Directories without metadata, or with a
// corrupt one, are silently skipped: they represent partial or aborted
// ingestions. Results are sorted by CreatedAt descending.
func EnumerateLibrary(root string) ([]*session.Track, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var tracks []*session.Track
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		metaPath := filepath.Join(root, entry.Name(), "metadata.json")
		track, err := readMetadata(metaPath)
		if err != nil {
			continue
		}
		tracks = append(tracks, track)
	}

	sort.Slice(tracks, func(i, j int) bool {
		return tracks[i].CreatedAt.After(tracks[j].CreatedAt)
	})
	return tracks, nil
}
