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

func TestWriteMetadataThenReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	track := &session.Track{
		ID:          "abc1234567",
		Title:       "song",
		Duration:    42.5,
		Files:       session.ChannelFiles{Left: "/audio/abc1234567/left.mp3", Right: "/audio/abc1234567/right.mp3"},
		OriginalURL: "https://youtu.be/x",
		CreatedAt:   time.Now().Truncate(time.Millisecond),
	}
	require.NoError(t, writeMetadata(dir, track))

	got, err := readMetadata(filepath.Join(dir, "metadata.json"))
	require.NoError(t, err)
	assert.Equal(t, track.ID, got.ID)
	assert.Equal(t, track.Title, got.Title)
	assert.Equal(t, track.Duration, got.Duration)
	assert.Equal(t, track.Files, got.Files)
	assert.True(t, track.CreatedAt.Equal(got.CreatedAt))
}

func TestEnumerateLibrarySkipsDirectoriesWithoutMetadata(t *testing.T) {
	root := t.TempDir()

	good := filepath.Join(root, "track-a")
	require.NoError(t, os.MkdirAll(good, 0o755))
	require.NoError(t, writeMetadata(good, &session.Track{ID: "a", Title: "A", CreatedAt: time.Now().Add(-time.Hour)}))

	newer := filepath.Join(root, "track-b")
	require.NoError(t, os.MkdirAll(newer, 0o755))
	require.NoError(t, writeMetadata(newer, &session.Track{ID: "b", Title: "B", CreatedAt: time.Now()}))

	partial := filepath.Join(root, "track-c")
	require.NoError(t, os.MkdirAll(partial, 0o755))
	// no metadata.json written: simulates a partial or aborted ingestion

	tracks, err := EnumerateLibrary(root)
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, "b", tracks[0].ID)
	assert.Equal(t, "a", tracks[1].ID)
}

func TestEnumerateLibraryMissingRootReturnsEmpty(t *testing.T) {
	tracks, err := EnumerateLibrary(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, tracks)
}
