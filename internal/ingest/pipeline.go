// ABOUTME: Orchestrates probe, transcode and the progressive-ready barrier
// ABOUTME: for a single submitted link, enforcing at-most-one ingestion per session
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stereofield/stereofield/internal/session"
)

// ErrBusy is returned by Submit when a session already has an ingestion in
// flight.
var ErrBusy = errors.New("Busy")

// ErrFetchFailed wraps a failure to obtain a direct stream URL.
type ErrFetchFailed struct{ cause error }

func (e *ErrFetchFailed) Error() string { return "FetchFailed: " + e.cause.Error() }
func (e *ErrFetchFailed) Unwrap() error { return e.cause }

// ErrTranscodeFailed wraps a non-zero transcoder exit observed before the
// progressive-ready barrier cleared.
type ErrTranscodeFailed struct{ cause error }

func (e *ErrTranscodeFailed) Error() string { return "TranscodeFailed: " + e.cause.Error() }
func (e *ErrTranscodeFailed) Unwrap() error { return e.cause }

// Result is delivered once ingestion becomes playable (progressive-ready) or
// fails outright.
type Result struct {
	Track *session.Track
	Err   error
}

// Index is the read-accelerator the pipeline updates as tracks complete. The
// sqlite-backed implementation lives in index.go; nil is a valid Index-less
// configuration for tests.
type Index interface {
	Insert(t *session.Track) error
}

// Pipeline drives ingestion for a library rooted at AudioRoot.
type Pipeline struct {
	AudioRoot string

	fetcher    fetcherAPI
	transcoder transcoderAPI
	probe      proberAPI
	cache      *probeCache
	index      Index
	logger     *zap.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

// fetcherAPI, transcoderAPI and proberAPI narrow *Fetcher, *Transcoder and
// *Probe down to what the pipeline calls, so tests can substitute fakes
// without shelling out to real binaries.
type fetcherAPI interface {
	Title(ctx context.Context, sourceURL string) (string, error)
	Duration(ctx context.Context, sourceURL string) (float64, error)
	StreamURL(ctx context.Context, sourceURL string) (string, error)
}

type transcoderAPI interface {
	Run(ctx context.Context, streamURL, leftPath, rightPath string) error
}

type proberAPI interface {
	Duration(ctx context.Context, path string) (float64, error)
}

type Config struct {
	AudioRoot        string
	FetcherBinary    string
	TranscoderBinary string
	ProbeBinary      string
	Index            Index
	Logger           *zap.Logger
}

func NewPipeline(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		AudioRoot:  cfg.AudioRoot,
		fetcher:    NewFetcher(cfg.FetcherBinary),
		transcoder: NewTranscoder(cfg.TranscoderBinary, logger),
		probe:      NewProbe(cfg.ProbeBinary),
		cache:      newProbeCache(),
		index:      cfg.Index,
		logger:     logger,
		inFlight:   make(map[string]bool),
	}
}

// InFlightSessions returns the ids of sessions with an ingestion currently
// running. Read-only; used by the admin console to mark ingesting sessions.
func (p *Pipeline) InFlightSessions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.inFlight))
	for id := range p.inFlight {
		ids = append(ids, id)
	}
	return ids
}

// Submit validates rawURL, reserves the session's ingestion slot, and
// returns a channel that receives exactly one Result once the track becomes
// progressively ready or ingestion fails outright. The transcoder keeps
// running in the background after a successful Result.
func (p *Pipeline) Submit(ctx context.Context, sessionID, rawURL string) (<-chan Result, error) {
	u, err := ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.inFlight[sessionID] {
		p.mu.Unlock()
		return nil, ErrBusy
	}
	p.inFlight[sessionID] = true
	p.mu.Unlock()

	out := make(chan Result, 1)
	go p.run(ctx, sessionID, u, out)
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, sessionID string, u *url.URL, out chan<- Result) {
	defer func() {
		p.mu.Lock()
		delete(p.inFlight, sessionID)
		p.mu.Unlock()
	}()

	title, duration, streamURL, probeSource, err := p.resolveSource(ctx, u)
	if err != nil {
		out <- Result{Err: &ErrFetchFailed{cause: err}}
		return
	}

	id := newTrackID()
	dir := filepath.Join(p.AudioRoot, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		out <- Result{Err: err}
		return
	}
	leftPath := filepath.Join(dir, "left.mp3")
	rightPath := filepath.Join(dir, "right.mp3")

	transcodeErrCh := make(chan error, 1)
	go func() { transcodeErrCh <- p.transcoder.Run(ctx, streamURL, leftPath, rightPath) }()

	barrierCh := make(chan error, 1)
	go func() { barrierCh <- waitUntilReady(ctx, leftPath, rightPath) }()

	track := &session.Track{
		ID:          id,
		Title:       title,
		Duration:    duration,
		Files:       session.ChannelFiles{Left: libraryPath(id, "left"), Right: libraryPath(id, "right")},
		OriginalURL: u.String(),
		CreatedAt:   time.Now(),
		ProbeSource: probeSource,
	}

	select {
	case err := <-barrierCh:
		if err != nil {
			out <- Result{Err: err}
			os.RemoveAll(dir)
			return
		}
		out <- Result{Track: track}
		go p.completeAfterTranscode(transcodeErrCh, dir, track)

	case err := <-transcodeErrCh:
		if err != nil {
			out <- Result{Err: &ErrTranscodeFailed{cause: err}}
			os.RemoveAll(dir)
			return
		}
		// transcoder finished before the barrier observed 500KiB on both
		// files: a short track. It is still fully produced, so surface it
		// as ready and write metadata immediately.
		out <- Result{Track: track}
		p.finishTrack(dir, track)
	}
}

func (p *Pipeline) resolveSource(ctx context.Context, u *url.URL) (title string, duration float64, streamURL, probeSource string, err error) {
	key := cacheKey(u)

	if entry, ok := p.cache.get(key); ok {
		title, duration, probeSource = entry.title, entry.duration, "cache"
		if p.cache.streamURLFresh(entry) {
			return title, duration, entry.streamURL, probeSource, nil
		}
		fresh, ferr := p.fetcher.StreamURL(ctx, u.String())
		if ferr != nil {
			return "", 0, "", "", ferr
		}
		entry.streamURL = fresh
		entry.fetchedAt = time.Now()
		p.cache.put(key, entry)
		return title, duration, fresh, probeSource, nil
	}

	var wg sync.WaitGroup
	var titleErr, durErr error
	wg.Add(3)
	go func() {
		defer wg.Done()
		t, e := p.fetcher.Title(ctx, u.String())
		if e != nil {
			titleErr = e
			return
		}
		title = t
	}()
	go func() {
		defer wg.Done()
		d, e := p.fetcher.Duration(ctx, u.String())
		if e != nil {
			durErr = e
			return
		}
		duration = d
	}()
	go func() {
		defer wg.Done()
		s, e := p.fetcher.StreamURL(ctx, u.String())
		if e != nil {
			err = e
			return
		}
		streamURL = s
	}()
	wg.Wait()

	if err != nil {
		return "", 0, "", "", err
	}
	if titleErr != nil {
		title = "Unknown"
	}
	if durErr != nil {
		duration = 0
	}

	probeSource = "external"
	p.cache.put(key, &probeCacheEntry{title: title, duration: duration, streamURL: streamURL, fetchedAt: time.Now()})
	return title, duration, streamURL, probeSource, nil
}

func (p *Pipeline) completeAfterTranscode(transcodeErrCh <-chan error, dir string, track *session.Track) {
	if err := <-transcodeErrCh; err != nil {
		p.logger.Warn("transcode failed after barrier cleared, track stays invisible",
			zap.String("track", track.ID), zap.Error(err))
		os.RemoveAll(dir)
		return
	}
	p.finishTrack(dir, track)
}

func (p *Pipeline) finishTrack(dir string, track *session.Track) {
	p.refineDuration(dir, track)

	if err := writeMetadata(dir, track); err != nil {
		p.logger.Error("failed to write track metadata", zap.String("track", track.ID), zap.Error(err))
		return
	}
	if p.index == nil {
		return
	}
	if err := p.index.Insert(track); err != nil {
		p.logger.Warn("failed to update track index", zap.String("track", track.ID), zap.Error(err))
	}
}

// refineDuration re-probes the produced left channel once it is fully on
// disk, since the fetcher's upfront duration estimate can be off by a second
// or two for live-to-VOD sources. A probe failure is not fatal: the
// fetcher's estimate stands.
func (p *Pipeline) refineDuration(dir string, track *session.Track) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	secs, err := p.probe.Duration(ctx, filepath.Join(dir, "left.mp3"))
	if err != nil {
		return
	}
	track.Duration = secs
}

func newTrackID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:10]
}

func libraryPath(trackID, channel string) string {
	return fmt.Sprintf("/audio/%s/%s.mp3", trackID, channel)
}
