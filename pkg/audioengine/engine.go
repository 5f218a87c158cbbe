// ABOUTME: Scheduled-start playback engine for a single loaded mp3 channel file
// ABOUTME: Decodes fully to PCM, applies software gain, and starts an oto player at a precise local instant
package audioengine

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/hajimehoshi/go-mp3"
)

// ErrBackendSuspended is returned by PlayAt while the output device has not
// finished initializing. There is no browser-style "user gesture" concept
// off-browser. PlayAt also returns it for an immediate start when no track
// has been loaded.
var ErrBackendSuspended = errors.New("audio backend not ready")

// Engine plays one fully-decoded mp3 file with scheduled starts, matching
// the stereo field client contract: playAt, pause, seekTo, setVolume.
type Engine struct {
	mu sync.Mutex

	otoCtx *oto.Context
	ready  bool

	pcm        []byte // decoded 16-bit LE stereo samples
	sampleRate int
	channels   int

	player      *oto.Player
	volume      float64
	isPlaying   bool
	offsetBytes int       // playback position, in bytes into pcm, when paused/stopped
	startedAt   time.Time // local time playback last started, for GetCurrentTime while playing
	startOffset int       // offsetBytes at the moment playback last started

	pendingTimer *time.Timer
}

func New() *Engine {
	return &Engine{volume: 1.0}
}

// Init creates the oto output context and blocks until the platform backend
// signals it is ready.
func (e *Engine) Init(sampleRate, channels int) error {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("create oto context: %w", err)
	}
	<-readyChan

	e.mu.Lock()
	e.otoCtx = ctx
	e.ready = true
	e.mu.Unlock()
	return nil
}

// Load decodes path fully into memory. Call before PlayAt.
func (e *Engine) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return fmt.Errorf("decode mp3: %w", err)
	}

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(dec); err != nil {
		return fmt.Errorf("read decoded pcm: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.pcm = buf.Bytes()
	e.sampleRate = dec.SampleRate()
	e.channels = 2 // go-mp3 always decodes to interleaved stereo
	e.offsetBytes = 0
	return nil
}

// IsReady reports whether the output backend has finished initializing.
func (e *Engine) IsReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// GetDuration returns the loaded track's duration in seconds.
func (e *Engine) GetDuration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.durationSecondsLocked(len(e.pcm))
}

func (e *Engine) durationSecondsLocked(byteLen int) float64 {
	bytesPerSec := e.sampleRate * e.channels * 2
	if bytesPerSec == 0 {
		return 0
	}
	return float64(byteLen) / float64(bytesPerSec)
}

// GetCurrentTime returns playback position in seconds, live while playing.
// Position wraps modulo the track length since playback loops.
func (e *Engine) GetCurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.isPlaying {
		return e.durationSecondsLocked(e.offsetBytes)
	}
	elapsed := time.Since(e.startedAt).Seconds()
	bytesPerSec := float64(e.sampleRate * e.channels * 2)
	pos := int(float64(e.startOffset) + elapsed*bytesPerSec)
	if len(e.pcm) > 0 {
		pos %= len(e.pcm)
	}
	return e.durationSecondsLocked(pos)
}

// PlayAt schedules playback starting from fromTimeSec once the local clock
// reaches at. A past or zero instant starts immediately. Any previously
// scheduled or running player is stopped first.
func (e *Engine) PlayAt(fromTimeSec float64, at time.Time) error {
	e.mu.Lock()
	if !e.ready {
		e.mu.Unlock()
		return ErrBackendSuspended
	}
	e.stopLocked()
	e.offsetBytes = e.byteOffsetForSeconds(fromTimeSec)
	e.mu.Unlock()

	delay := time.Until(at)
	if delay <= 0 {
		return e.startNow()
	}

	e.mu.Lock()
	e.pendingTimer = time.AfterFunc(delay, func() { e.startNow() })
	e.mu.Unlock()
	return nil
}

func (e *Engine) byteOffsetForSeconds(sec float64) int {
	bytesPerSec := e.sampleRate * e.channels * 2
	offset := int(sec * float64(bytesPerSec))
	if offset < 0 {
		offset = 0
	}
	if offset > len(e.pcm) {
		offset = len(e.pcm)
	}
	// align to whole frames (2 channels * 2 bytes)
	offset -= offset % 4
	return offset
}

// startNow begins playback from e.offsetBytes and loops the loaded track
// forever once it reaches the end, matching the engine's looping contract.
func (e *Engine) startNow() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready || len(e.pcm) == 0 {
		return ErrBackendSuspended
	}

	start := e.offsetBytes
	if start >= len(e.pcm) {
		start = 0
	}

	samples := applyGain(e.pcm, e.volume)
	e.player = e.otoCtx.NewPlayer(newLoopingReader(samples, start))
	e.player.Play()
	e.isPlaying = true
	e.startedAt = time.Now()
	e.startOffset = start
	return nil
}

// Pause stops playback, capturing the current position so a later PlayAt
// resumes from here.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isPlaying {
		e.offsetBytes = e.currentByteOffsetLocked()
	}
	e.stopLocked()
}

func (e *Engine) currentByteOffsetLocked() int {
	elapsed := time.Since(e.startedAt).Seconds()
	bytesPerSec := float64(e.sampleRate * e.channels * 2)
	pos := e.startOffset + int(elapsed*bytesPerSec)
	if len(e.pcm) > 0 {
		pos %= len(e.pcm)
	}
	pos -= pos % 4
	return pos
}

func (e *Engine) stopLocked() {
	if e.pendingTimer != nil {
		e.pendingTimer.Stop()
		e.pendingTimer = nil
	}
	if e.player != nil {
		e.player.Close()
		e.player = nil
	}
	e.isPlaying = false
}

// SeekTo moves the playback position to sec, clamped to the track length.
// If the engine was playing it restarts immediately from the new position;
// otherwise it stays stopped until the next PlayAt.
func (e *Engine) SeekTo(sec float64) {
	e.mu.Lock()
	wasPlaying := e.isPlaying
	e.stopLocked()
	e.offsetBytes = e.byteOffsetForSeconds(sec)
	e.mu.Unlock()

	if wasPlaying {
		e.startNow()
	}
}

// SetVolume sets software gain, clamped to [0,1]. Takes effect the next time
// playback starts (PlayAt, or SeekTo while playing); it is not applied to a
// player that is already running.
func (e *Engine) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	e.mu.Lock()
	e.volume = v
	e.mu.Unlock()
}

// Volume returns the current software gain, in [0,1].
func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// Close releases the output device.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	if e.otoCtx != nil {
		e.otoCtx.Suspend()
		e.ready = false
	}
}

// loopingReader serves pcm to the oto player starting at pos, wrapping back
// to the start of the buffer instead of returning io.EOF. An empty buffer
// reads as EOF since there is nothing to loop.
type loopingReader struct {
	pcm []byte
	pos int
}

func newLoopingReader(pcm []byte, start int) *loopingReader {
	return &loopingReader{pcm: pcm, pos: start}
}

func (r *loopingReader) Read(p []byte) (int, error) {
	if len(r.pcm) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.pcm[r.pos:])
	r.pos += n
	if r.pos >= len(r.pcm) {
		r.pos = 0
	}
	return n, nil
}

func applyGain(pcm []byte, volume float64) []byte {
	if volume == 1.0 {
		return pcm
	}
	out := make([]byte, len(pcm))
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		s = int16(float64(s) * volume)
		binary.LittleEndian.PutUint16(out[i:i+2], uint16(s))
	}
	return out
}
