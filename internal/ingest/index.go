// ABOUTME: SQLite-backed read accelerator over the on-disk track library
// ABOUTME: Disk metadata.json files remain authoritative; this index is derived and rebuilt on startup
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/stereofield/stereofield/internal/session"
)

// TrackIndex caches track metadata in SQLite so track_list can be served
// without a directory walk under concurrent ingestion. It is never consulted
// for the append-only/immutability invariant itself; disk is always
// authoritative.
type TrackIndex struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenIndex opens (or creates) the index database at path and rebuilds it
// from audioRoot: entries missing on disk are pruned, tracks on disk missing
// from the index are added.
func OpenIndex(path, audioRoot string, logger *zap.Logger) (*TrackIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create track index directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open track index: %w", err)
	}

	idx := &TrackIndex{db: db, logger: logger}
	if err := idx.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	if err := idx.rebuild(audioRoot); err != nil {
		logger.Warn("track index rebuild encountered errors", zap.Error(err))
	}
	return idx, nil
}

func (idx *TrackIndex) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS tracks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	duration REAL NOT NULL,
	original_url TEXT NOT NULL,
	created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tracks_created_at ON tracks(created_at_unix_ms);
`
	_, err := idx.db.ExecContext(ctx, schema)
	return err
}

// rebuild reconciles the index against the disk library: disk is
// authoritative. Rows for tracks no longer on disk are dropped; tracks on
// disk not yet indexed (e.g. the process crashed between the metadata write
// and the index insert) are added.
func (idx *TrackIndex) rebuild(audioRoot string) error {
	onDisk, err := EnumerateLibrary(audioRoot)
	if err != nil {
		return err
	}

	ctx := context.Background()
	onDiskIDs := make(map[string]bool, len(onDisk))
	for _, t := range onDisk {
		onDiskIDs[t.ID] = true
		if err := idx.Insert(t); err != nil {
			idx.logger.Warn("failed to index track during rebuild", zap.String("track", t.ID), zap.Error(err))
		}
	}

	rows, err := idx.db.QueryContext(ctx, `SELECT id FROM tracks`)
	if err != nil {
		return err
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		if !onDiskIDs[id] {
			stale = append(stale, id)
		}
	}
	rows.Close()

	for _, id := range stale {
		if _, err := idx.db.ExecContext(ctx, `DELETE FROM tracks WHERE id = ?`, id); err != nil {
			idx.logger.Warn("failed to prune stale track from index", zap.String("track", id), zap.Error(err))
		}
	}
	return nil
}

// Insert upserts one track row.
func (idx *TrackIndex) Insert(t *session.Track) error {
	const q = `
INSERT INTO tracks (id, title, duration, original_url, created_at_unix_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET title = excluded.title, duration = excluded.duration
`
	_, err := idx.db.Exec(q, t.ID, t.Title, t.Duration, t.OriginalURL, t.CreatedAt.UnixMilli())
	return err
}

// IndexedTrack is the row shape served by track_list.
type IndexedTrack struct {
	ID        string
	Title     string
	Duration  float64
	CreatedAt time.Time
}

// List returns every indexed track, sorted by CreatedAt descending.
func (idx *TrackIndex) List() ([]IndexedTrack, error) {
	rows, err := idx.db.Query(`SELECT id, title, duration, created_at_unix_ms FROM tracks ORDER BY created_at_unix_ms DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IndexedTrack
	for rows.Next() {
		var t IndexedTrack
		var createdAtMs int64
		if err := rows.Scan(&t.ID, &t.Title, &t.Duration, &createdAtMs); err != nil {
			return nil, err
		}
		t.CreatedAt = time.UnixMilli(createdAtMs)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Count returns the number of indexed tracks.
func (idx *TrackIndex) Count() (int, error) {
	var n int
	err := idx.db.QueryRow(`SELECT COUNT(*) FROM tracks`).Scan(&n)
	return n, err
}

func (idx *TrackIndex) Close() error {
	return idx.db.Close()
}
