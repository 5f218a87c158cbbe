// ABOUTME: Wraps the external "transcoder" binary that splits a stream URL
// ABOUTME: into per-channel mp3 artifacts via a two-output pan filter graph
package ingest

import (
	"bytes"
	"context"
	"os/exec"

	"go.uber.org/zap"
)

// Transcoder shells out to an external "transcoder" executable (ffmpeg in
// practice) with a fixed filter graph: channel 0 panned to the left output,
// channel 1 panned to the right output, both at 192kbps.
type Transcoder struct {
	binary string
	logger *zap.Logger
}

func NewTranscoder(binary string, logger *zap.Logger) *Transcoder {
	if binary == "" {
		binary = "transcoder"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transcoder{binary: binary, logger: logger}
}

// Run starts the transcoder writing leftPath and rightPath and blocks until
// it exits or ctx is cancelled. Callers that want progressive-ready
// semantics should run this in a goroutine and poll the output files
// separately (see waitUntilReady).
func (t *Transcoder) Run(ctx context.Context, streamURL, leftPath, rightPath string) error {
	args := []string{
		"-i", streamURL,
		"-filter_complex", "[0:a]pan=mono|c0=c0[L];[0:a]pan=mono|c0=c1[R]",
		"-map", "[L]", "-b:a", "192k", leftPath,
		"-map", "[R]", "-b:a", "192k", rightPath,
		"-y",
	}

	cmd := exec.CommandContext(ctx, t.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		t.logger.Warn("transcoder exited non-zero",
			zap.String("binary", t.binary),
			zap.Error(err),
			zap.String("stderr", stderr.String()),
		)
		return &subprocessError{binary: t.binary, args: args, stderr: stderr.String(), cause: err}
	}
	return nil
}
