// ABOUTME: In-memory session store: roster management, channel assignment,
// ABOUTME: playback state, and persistence of track bindings across restarts
package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// idleSessionGrace is a var, not a const, so tests can shrink it rather than
// sleeping 60s for real.
var idleSessionGrace = 60 * time.Second

// Store owns every live Session. All Session mutation happens through Store
// methods; callers never reach into a Session directly.
type Store struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	persistPath string
	logger      *zap.Logger
}

// NewStore creates a store and rehydrates any persisted track bindings from
// persistPath. A missing file is not an error; a corrupt one is logged and
// treated as empty.
func NewStore(persistPath string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	st := &Store{
		sessions:    make(map[string]*Session),
		persistPath: persistPath,
		logger:      logger,
	}
	st.rehydrate()
	return st
}

func (st *Store) rehydrate() {
	doc, err := loadDocument(st.persistPath)
	if err != nil {
		st.logger.Warn("failed to load persisted sessions, starting empty", zap.Error(err))
		return
	}
	for id, entry := range doc.Sessions {
		s := newSession(id)
		s.CreatedAt = entry.CreatedAt
		if entry.AudioSource != nil {
			s.AudioSource = &Track{
				OriginalURL: entry.AudioSource.URL,
				Title:       entry.AudioSource.Title,
				Duration:    entry.AudioSource.Duration,
				Files:       entry.AudioSource.Files,
			}
		}
		st.sessions[id] = s
	}
	if len(doc.Sessions) > 0 {
		st.logger.Info("rehydrated sessions from disk", zap.Int("count", len(doc.Sessions)))
	}
}

// Attach creates the session if absent, registers a new client on it with a
// freshly assigned channel, and returns both. Idempotent only in the sense
// that calling it again with a different connection for the same session id
// creates a distinct client; it is the dispatcher's job to call this once
// per physical connection.
func (st *Store) Attach(sessionID, clientID string, conn Connection) (*Session, *Client) {
	st.mu.Lock()
	s, ok := st.sessions[sessionID]
	if !ok {
		s = newSession(sessionID)
		st.sessions[sessionID] = s
	}
	st.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gcTimer != nil {
		s.gcTimer.Stop()
		s.gcTimer = nil
	}

	c := &Client{ID: clientID, Conn: conn, Channel: assignChannel(s.Clients)}
	s.Clients[clientID] = c
	return s, c
}

// Get returns the session for id, if any.
func (st *Store) Get(sessionID string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[sessionID]
	return s, ok
}

// Detach removes a client from a session. If the session is left empty and
// carries no bound track, it is dropped 60s later unless a client rejoins
// first.
func (st *Store) Detach(sessionID, clientID string) {
	st.mu.Lock()
	s, ok := st.sessions[sessionID]
	st.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	delete(s.Clients, clientID)
	empty := len(s.Clients) == 0
	trackless := s.AudioSource == nil
	if empty && trackless {
		if s.gcTimer != nil {
			s.gcTimer.Stop()
		}
		s.gcTimer = time.AfterFunc(idleSessionGrace, func() { st.sweep(sessionID) })
	}
	s.mu.Unlock()
}

func (st *Store) sweep(sessionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[sessionID]
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Clients) == 0 && s.AudioSource == nil {
		delete(st.sessions, sessionID)
		st.logger.Debug("swept idle trackless session", zap.String("session", sessionID))
	}
}

// SetTrack binds a track to the session, resets playback state and every
// client's ready flag, and persists the binding.
func (st *Store) SetTrack(sessionID string, track *Track) error {
	st.mu.Lock()
	s, ok := st.sessions[sessionID]
	if !ok {
		s = newSession(sessionID)
		st.sessions[sessionID] = s
	}
	st.mu.Unlock()

	s.mu.Lock()
	s.AudioSource = track
	s.Playback = PlaybackState{IsPlaying: false, CurrentTime: 0, LastSyncAt: time.Now()}
	for _, c := range s.Clients {
		c.Ready = false
	}
	createdAt := s.CreatedAt
	s.mu.Unlock()

	if err := persistSession(st.persistPath, sessionID, createdAt, track); err != nil {
		st.logger.Error("failed to persist session track binding", zap.String("session", sessionID), zap.Error(err))
		return err
	}
	return nil
}

// UpdatePlayback applies a partial update to playback state. Not persisted;
// playback position is ephemeral by design.
func (st *Store) UpdatePlayback(sessionID string, patch PlaybackPatch) {
	s, ok := st.Get(sessionID)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if patch.IsPlaying != nil {
		s.Playback.IsPlaying = *patch.IsPlaying
	}
	if patch.CurrentTime != nil {
		s.Playback.CurrentTime = *patch.CurrentTime
	}
	s.Playback.LastSyncAt = time.Now()
}

// SetReady marks a client ready or not.
func (st *Store) SetReady(sessionID, clientID string, ready bool) {
	s, ok := st.Get(sessionID)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.Clients[clientID]; ok {
		c.Ready = ready
	}
}

// SetLatency records a client's current half-RTT latency estimate.
func (st *Store) SetLatency(sessionID, clientID string, latencyMs int64) {
	s, ok := st.Get(sessionID)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.Clients[clientID]; ok {
		c.Latency = latencyMs
	}
}

// AllReady reports whether every current client in the session is ready.
// A session with no clients is vacuously not ready.
func (st *Store) AllReady(sessionID string) bool {
	s, ok := st.Get(sessionID)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Clients) == 0 {
		return false
	}
	for _, c := range s.Clients {
		if !c.Ready {
			return false
		}
	}
	return true
}

// Roster returns a stable snapshot of the session's clients.
func (st *Store) Roster(sessionID string) []ClientSnapshot {
	s, ok := st.Get(sessionID)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot().Roster
}

// Snapshot returns a stable, lock-free copy of the full session state.
func (st *Store) Snapshot(sessionID string) (Snapshot, bool) {
	s, ok := st.Get(sessionID)
	if !ok {
		return Snapshot{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), true
}

// Broadcast sends msg to every client in the session except excludeID (pass
// "" to exclude nobody). Write failures are logged and do not interrupt
// delivery to remaining peers.
func (st *Store) Broadcast(sessionID string, msg any, excludeID string) {
	s, ok := st.Get(sessionID)
	if !ok {
		return
	}
	s.mu.Lock()
	targets := make([]*Client, 0, len(s.Clients))
	for id, c := range s.Clients {
		if id == excludeID {
			continue
		}
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := c.Conn.Send(msg); err != nil {
			st.logger.Warn("broadcast write failed", zap.String("session", sessionID), zap.String("client", c.ID), zap.Error(err))
		}
	}
}

// SendTo delivers msg to exactly one client in the session, identified by
// clientID. It is a no-op if the session or client is gone.
func (st *Store) SendTo(sessionID, clientID string, msg any) {
	s, ok := st.Get(sessionID)
	if !ok {
		return
	}
	s.mu.Lock()
	c, ok := s.Clients[clientID]
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := c.Conn.Send(msg); err != nil {
		st.logger.Warn("targeted write failed", zap.String("session", sessionID), zap.String("client", clientID), zap.Error(err))
	}
}

// SessionIDs returns the ids of every currently in-memory session. Used by
// the admin console.
func (st *Store) SessionIDs() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of in-memory sessions.
func (st *Store) Count() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
