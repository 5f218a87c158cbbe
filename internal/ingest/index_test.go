package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stereofield/stereofield/internal/session"
)

func TestTrackIndexRebuildPrunesStaleAndAddsMissing(t *testing.T) {
	audioRoot := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "tracks.db")

	onDisk := &session.Track{ID: "disk1", Title: "On Disk", CreatedAt: time.Now()}
	trackDir := filepath.Join(audioRoot, onDisk.ID)
	require.NoError(t, os.MkdirAll(trackDir, 0o755))
	require.NoError(t, writeMetadata(trackDir, onDisk))

	idx, err := OpenIndex(dbPath, audioRoot, nil)
	require.NoError(t, err)
	defer idx.Close()

	tracks, err := idx.List()
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, "disk1", tracks[0].ID)

	// reopening after the disk track disappears should prune it
	require.NoError(t, os.RemoveAll(trackDir))
	idx2, err := OpenIndex(dbPath, audioRoot, nil)
	require.NoError(t, err)
	defer idx2.Close()

	tracks, err = idx2.List()
	require.NoError(t, err)
	assert.Empty(t, tracks)
}

func TestTrackIndexInsertIsUpsert(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tracks.db")
	idx, err := OpenIndex(dbPath, t.TempDir(), nil)
	require.NoError(t, err)
	defer idx.Close()

	track := &session.Track{ID: "t1", Title: "first", Duration: 10, CreatedAt: time.Now()}
	require.NoError(t, idx.Insert(track))

	track.Title = "second"
	require.NoError(t, idx.Insert(track))

	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tracks, err := idx.List()
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, "second", tracks[0].Title)
}
