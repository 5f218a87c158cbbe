package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitUntilReadyBlocksUntilBothFilesClearThreshold(t *testing.T) {
	dir := t.TempDir()
	left := filepath.Join(dir, "left.mp3")
	right := filepath.Join(dir, "right.mp3")
	require.NoError(t, os.WriteFile(left, nil, 0o644))
	require.NoError(t, os.WriteFile(right, nil, 0o644))

	done := make(chan error, 1)
	go func() {
		done <- waitUntilReady(context.Background(), left, right)
	}()

	select {
	case <-done:
		t.Fatal("waitUntilReady returned before files cleared the threshold")
	case <-time.After(250 * time.Millisecond):
	}

	grow(t, left, readyBytes)
	grow(t, right, readyBytes)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waitUntilReady did not unblock after both files cleared the threshold")
	}
}

func TestWaitUntilReadyRespectsCancellation(t *testing.T) {
	dir := t.TempDir()
	left := filepath.Join(dir, "left.mp3")
	right := filepath.Join(dir, "right.mp3")
	require.NoError(t, os.WriteFile(left, nil, 0o644))
	require.NoError(t, os.WriteFile(right, nil, 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := waitUntilReady(ctx, left, right)
	require.ErrorIs(t, err, context.Canceled)
}

func grow(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}
