// ABOUTME: gin HTTP surface: byte-range track delivery, session status, track listing
package httpapi

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stereofield/stereofield/internal/ingest"
	"github.com/stereofield/stereofield/internal/session"
)

type TrackIndex interface {
	List() ([]ingest.IndexedTrack, error)
}

type API struct {
	store     *session.Store
	index     TrackIndex
	audioRoot string
	logger    *zap.Logger
}

func NewAPI(store *session.Store, index TrackIndex, audioRoot string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{store: store, index: index, audioRoot: audioRoot, logger: logger}
}

// NewRouter builds the gin engine with every route wired, grounded on the
// teacher's plain net/http static handlers generalized to gin.
func NewRouter(api *API) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/audio/:trackId/:file", api.ServeTrackFile)
	r.GET("/api/session/:id", api.SessionStatus)
	r.GET("/api/tracks", api.ListTracks)

	return r
}

// ServeTrackFile streams left.mp3/right.mp3 for a track with byte-range
// support via http.ServeFile, so seeking and partial playback work
// without buffering the whole file in memory.
func (a *API) ServeTrackFile(c *gin.Context) {
	trackID := c.Param("trackId")
	file := c.Param("file")
	if file != "left.mp3" && file != "right.mp3" {
		c.Status(http.StatusNotFound)
		return
	}

	path := filepath.Join(a.audioRoot, trackID, file)
	http.ServeFile(c.Writer, c.Request, path)
}

type sessionStatus struct {
	ID            string                `json:"id"`
	HasAudio      bool                  `json:"hasAudio"`
	ClientCount   int                   `json:"clientCount"`
	PlaybackState session.PlaybackState `json:"playbackState"`
}

// SessionStatus reports a read-only view of session state; it never mutates
// the Session Store.
func (a *API) SessionStatus(c *gin.Context) {
	id := c.Param("id")
	snap, ok := a.store.Snapshot(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, sessionStatus{
		ID:            snap.ID,
		HasAudio:      snap.AudioSource != nil,
		ClientCount:   len(snap.Roster),
		PlaybackState: snap.Playback,
	})
}

type trackSummary struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
}

// ListTracks serves off the sqlite-backed index when one is configured,
// falling back to a live directory walk when there is no index or its List
// call fails. An empty index is served as an empty list.
func (a *API) ListTracks(c *gin.Context) {
	if a.index != nil {
		if rows, err := a.index.List(); err == nil {
			c.JSON(http.StatusOK, toSummaries(rows))
			return
		}
		a.logger.Warn("track index unavailable, falling back to directory walk")
	}

	tracks, err := ingest.EnumerateLibrary(a.audioRoot)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enumerate library"})
		return
	}
	out := make([]trackSummary, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, trackSummary{ID: t.ID, Title: t.Title, Duration: t.Duration})
	}
	c.JSON(http.StatusOK, out)
}

// toSummaries preserves the index's own CreatedAt-descending ordering.
func toSummaries(rows []ingest.IndexedTrack) []trackSummary {
	out := make([]trackSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, trackSummary{ID: r.ID, Title: r.Title, Duration: r.Duration})
	}
	return out
}
