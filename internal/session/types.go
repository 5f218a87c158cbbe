// ABOUTME: Core session, client and track types owned by the session store
// ABOUTME: Mutation of these types outside the store's methods is unsupported
package session

import (
	"sync"
	"time"
)

// Channel is the mono slice of the stereo field a client plays.
type Channel string

const (
	ChannelLeft   Channel = "left"
	ChannelRight  Channel = "right"
	ChannelStereo Channel = "stereo"
)

// Connection is the minimal send/close surface the store needs from a live
// client connection. The transport package's dispatcher supplies the real
// implementation; tests use a recording stub.
type Connection interface {
	Send(v any) error
	Close() error
}

// ChannelFiles maps channel roles to the served artifact path for a track.
type ChannelFiles struct {
	Left   string `json:"left,omitempty"`
	Right  string `json:"right,omitempty"`
	Stereo string `json:"stereo,omitempty"`
}

// Track is a fully or partially ingested audio source. Tracks are
// append-only: once metadata.json exists on disk the fields below never
// change for that id.
type Track struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Duration    float64      `json:"duration"`
	Files       ChannelFiles `json:"files"`
	OriginalURL string       `json:"originalUrl"`
	CreatedAt   time.Time    `json:"createdAt"`

	// ProbeSource records whether title/duration came from a fresh fetcher
	// probe or the ingestion probe cache. Never persisted or sent on the wire.
	ProbeSource string `json:"-"`
}

// PlaybackState is a session's shared playback position, mutated on every
// play/pause/seek and reset whenever a new track is bound.
type PlaybackState struct {
	IsPlaying   bool      `json:"isPlaying"`
	CurrentTime float64   `json:"currentTime"`
	LastSyncAt  time.Time `json:"lastSyncAt"`
}

// PlaybackPatch carries a partial update to PlaybackState; nil fields are
// left unchanged.
type PlaybackPatch struct {
	IsPlaying   *bool
	CurrentTime *float64
}

// Client is one connected participant in a session.
type Client struct {
	ID      string
	Conn    Connection
	Channel Channel
	Latency int64 // ms, half-RTT estimate
	Ready   bool
}

// Session groups clients around a single audio stream. All mutation must go
// through the owning Store's methods, which serialize access per session.
type Session struct {
	mu sync.Mutex

	ID          string
	CreatedAt   time.Time
	AudioSource *Track
	Playback    PlaybackState
	Clients     map[string]*Client

	gcTimer *time.Timer
}

func newSession(id string) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		Clients:   make(map[string]*Client),
	}
}

// Snapshot is a point-in-time, lock-free copy of a session's state, safe to
// read or serialize after it is returned.
type Snapshot struct {
	ID          string
	CreatedAt   time.Time
	AudioSource *Track
	Playback    PlaybackState
	Roster      []ClientSnapshot
}

// ClientSnapshot is a point-in-time copy of a client's state.
type ClientSnapshot struct {
	ID      string
	Channel Channel
	Latency int64
	Ready   bool
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		ID:          s.ID,
		CreatedAt:   s.CreatedAt,
		AudioSource: s.AudioSource,
		Playback:    s.Playback,
	}
	for _, c := range s.Clients {
		snap.Roster = append(snap.Roster, ClientSnapshot{
			ID:      c.ID,
			Channel: c.Channel,
			Latency: c.Latency,
			Ready:   c.Ready,
		})
	}
	return snap
}

// assignChannel applies the policy from the component design: first client
// left, second right, afterward the less-populated of {left, right}, ties
// favor left. Stereo is never auto-assigned.
func assignChannel(clients map[string]*Client) Channel {
	var left, right int
	for _, c := range clients {
		switch c.Channel {
		case ChannelLeft:
			left++
		case ChannelRight:
			right++
		}
	}
	if left <= right {
		return ChannelLeft
	}
	return ChannelRight
}
