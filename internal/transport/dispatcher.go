// ABOUTME: WebSocket dispatcher: upgrades connections, attaches clients to
// ABOUTME: sessions, and routes envelope messages to per-type command handlers
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stereofield/stereofield/internal/clocksync"
	"github.com/stereofield/stereofield/internal/ingest"
	"github.com/stereofield/stereofield/internal/protocol"
	"github.com/stereofield/stereofield/internal/session"
)

// Dispatcher wires the session store and ingestion pipeline to live
// connections. One Dispatcher serves every session on the process.
type Dispatcher struct {
	store     *session.Store
	pipeline  *ingest.Pipeline
	audioRoot string
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

func NewDispatcher(store *session.Store, pipeline *ingest.Pipeline, audioRoot string, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		store:     store,
		pipeline:  pipeline,
		audioRoot: audioRoot,
		logger:    logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket is an http.HandlerFunc that upgrades the request and runs
// the connection's read loop until it closes.
func (d *Dispatcher) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	d.handleConnection(conn)
}

func (d *Dispatcher) handleConnection(raw *websocket.Conn) {
	defer raw.Close()

	conn := newWSConn(raw, d.logger)
	defer conn.Close()

	clientID := uuid.New().String()

	var sessionID string
	attached := false

	defer func() {
		if attached {
			d.store.Detach(sessionID, clientID)
			d.broadcastClientList(sessionID)
		}
	}()

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			conn.Send(protocol.Envelope{Type: protocol.TypeError, Payload: protocol.ErrorMessage{Message: protocol.ErrInvalidMessage}})
			continue
		}

		if !attached {
			if env.Type != protocol.TypeJoinSession {
				continue
			}
			var join protocol.JoinSession
			if !decodePayload(env.Payload, &join) || join.SessionID == "" {
				conn.Send(protocol.Envelope{Type: protocol.TypeError, Payload: protocol.ErrorMessage{Message: protocol.ErrInvalidMessage}})
				continue
			}
			sessionID = join.SessionID
			attached = true
			d.handleJoin(sessionID, clientID, conn)
			continue
		}

		d.dispatch(sessionID, clientID, env)
	}
}

func (d *Dispatcher) handleJoin(sessionID, clientID string, conn *wsConn) {
	_, c := d.store.Attach(sessionID, clientID, conn)

	conn.Send(protocol.Envelope{
		Type: protocol.TypeSessionJoined,
		Payload: protocol.SessionJoined{
			SessionID: sessionID,
			ClientID:  clientID,
			Channel:   string(c.Channel),
		},
	})

	if snap, ok := d.store.Snapshot(sessionID); ok && snap.AudioSource != nil {
		conn.Send(audioReadyEnvelope(snap.AudioSource, c.Channel))
	}

	if tracks, err := ingest.EnumerateLibrary(d.audioRoot); err == nil {
		conn.Send(trackListEnvelope(tracks))
	}

	d.broadcastClientList(sessionID)
}

func (d *Dispatcher) dispatch(sessionID, clientID string, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeSubmitLink:
		d.handleSubmitLink(sessionID, clientID, env.Payload)
	case protocol.TypeLoadTrack:
		d.handleLoadTrack(sessionID, clientID, env.Payload)
	case protocol.TypeReady:
		d.store.SetReady(sessionID, clientID, true)
		d.broadcastClientList(sessionID)
	case protocol.TypePlayRequest:
		d.handlePlayRequest(sessionID)
	case protocol.TypePauseRequest:
		d.handlePauseRequest(sessionID)
	case protocol.TypeSeekRequest:
		d.handleSeekRequest(sessionID, env.Payload)
	case protocol.TypeVolumeRequest:
		d.handleVolumeRequest(sessionID, env.Payload)
	case protocol.TypePing:
		d.handlePing(sessionID, clientID, env.Payload)
	default:
		// unknown types are ignored, per the envelope contract
	}
}

func (d *Dispatcher) handleSubmitLink(sessionID, clientID string, payload any) {
	var req protocol.SubmitLink
	if !decodePayload(payload, &req) {
		d.sendError(sessionID, clientID, protocol.ErrInvalidMessage)
		return
	}

	result, err := d.pipeline.Submit(context.Background(), sessionID, req.URL)
	if err != nil {
		d.sendError(sessionID, clientID, errKind(err))
		return
	}

	d.store.Broadcast(sessionID, protocol.Envelope{
		Type:    protocol.TypeAudioLoading,
		Payload: protocol.AudioLoading{URL: req.URL},
	}, "")

	go d.awaitIngestion(sessionID, clientID, result)
}

func (d *Dispatcher) awaitIngestion(sessionID, clientID string, result <-chan ingest.Result) {
	res := <-result
	if res.Err != nil {
		d.sendError(sessionID, clientID, errKind(res.Err))
		return
	}
	d.bindTrackAndNotify(sessionID, res.Track)
}

func (d *Dispatcher) handleLoadTrack(sessionID, clientID string, payload any) {
	var req protocol.LoadTrack
	if !decodePayload(payload, &req) || req.TrackID == "" {
		d.sendError(sessionID, clientID, protocol.ErrInvalidMessage)
		return
	}
	track, ok := ingest.LookupTrack(d.audioRoot, req.TrackID)
	if !ok {
		d.sendError(sessionID, clientID, protocol.ErrTrackNotFound)
		return
	}
	d.bindTrackAndNotify(sessionID, track)
}

func (d *Dispatcher) bindTrackAndNotify(sessionID string, track *session.Track) {
	if err := d.store.SetTrack(sessionID, track); err != nil {
		d.logger.Error("failed to bind track to session", zap.String("session", sessionID), zap.Error(err))
	}
	for _, c := range d.store.Roster(sessionID) {
		d.store.SendTo(sessionID, c.ID, audioReadyEnvelope(track, c.Channel))
	}
	d.broadcastClientList(sessionID)
}

func (d *Dispatcher) handlePlayRequest(sessionID string) {
	serverNow := time.Now()
	scheduledAt := serverNow.Add(500 * time.Millisecond)

	snap, ok := d.store.Snapshot(sessionID)
	if !ok {
		return
	}

	for _, c := range snap.Roster {
		d.store.SendTo(sessionID, c.ID, protocol.Envelope{
			Type: protocol.TypePlay,
			Payload: protocol.Play{
				StartTime:       snap.Playback.CurrentTime,
				ServerTimestamp: scheduledAt.UnixMilli() - c.Latency/2,
			},
		})
	}

	playing := true
	d.store.UpdatePlayback(sessionID, session.PlaybackPatch{IsPlaying: &playing})
}

func (d *Dispatcher) handlePauseRequest(sessionID string) {
	snap, ok := d.store.Snapshot(sessionID)
	if !ok {
		return
	}
	currentTime := estimateCurrentTime(snap.Playback)

	d.store.Broadcast(sessionID, protocol.Envelope{
		Type: protocol.TypePause,
		Payload: protocol.Pause{
			CurrentTime:     currentTime,
			ServerTimestamp: time.Now().UnixMilli(),
		},
	}, "")

	playing := false
	d.store.UpdatePlayback(sessionID, session.PlaybackPatch{IsPlaying: &playing, CurrentTime: &currentTime})
}

func (d *Dispatcher) handleSeekRequest(sessionID string, payload any) {
	var req protocol.SeekRequest
	if !decodePayload(payload, &req) {
		return
	}

	d.store.Broadcast(sessionID, protocol.Envelope{
		Type: protocol.TypeSeek,
		Payload: protocol.Seek{
			TargetTime:      req.TargetTime,
			ServerTimestamp: time.Now().UnixMilli(),
		},
	}, "")

	d.store.UpdatePlayback(sessionID, session.PlaybackPatch{CurrentTime: &req.TargetTime})
}

func (d *Dispatcher) handleVolumeRequest(sessionID string, payload any) {
	var req protocol.VolumeRequest
	if !decodePayload(payload, &req) {
		return
	}
	d.store.Broadcast(sessionID, protocol.Envelope{
		Type:    protocol.TypeVolumeChange,
		Payload: protocol.VolumeChange{Channel: req.Channel, Volume: req.Volume},
	}, "")
}

func (d *Dispatcher) handlePing(sessionID, clientID string, payload any) {
	var req protocol.Ping
	if !decodePayload(payload, &req) {
		return
	}
	now := time.Now().UnixMilli()
	d.store.SetLatency(sessionID, clientID, clocksync.EstimateClientLatency(now, req.ClientTimestamp))
	d.store.SendTo(sessionID, clientID, protocol.Envelope{
		Type: protocol.TypePong,
		Payload: protocol.Pong{
			ServerTimestamp: now,
			ClientTimestamp: req.ClientTimestamp,
		},
	})
}

func (d *Dispatcher) sendError(sessionID, clientID, kind string) {
	d.store.SendTo(sessionID, clientID, protocol.Envelope{
		Type:    protocol.TypeError,
		Payload: protocol.ErrorMessage{Message: kind},
	})
}

func (d *Dispatcher) broadcastClientList(sessionID string) {
	roster := d.store.Roster(sessionID)
	clients := make([]protocol.ClientSummary, 0, len(roster))
	for _, c := range roster {
		clients = append(clients, protocol.ClientSummary{ID: c.ID, Channel: string(c.Channel), Ready: c.Ready})
	}
	d.store.Broadcast(sessionID, protocol.Envelope{
		Type:    protocol.TypeClientList,
		Payload: protocol.ClientList{Clients: clients},
	}, "")
}

func estimateCurrentTime(p session.PlaybackState) float64 {
	if !p.IsPlaying {
		return p.CurrentTime
	}
	elapsed := time.Since(p.LastSyncAt).Seconds()
	return p.CurrentTime + elapsed
}

func audioReadyEnvelope(t *session.Track, channel session.Channel) protocol.Envelope {
	url := t.Files.Left
	switch channel {
	case session.ChannelRight:
		url = t.Files.Right
	case session.ChannelStereo:
		if t.Files.Stereo != "" {
			url = t.Files.Stereo
		}
	}
	return protocol.Envelope{
		Type: protocol.TypeAudioReady,
		Payload: protocol.AudioReady{
			AudioURL: url,
			Duration: t.Duration,
			Title:    t.Title,
			TrackID:  t.ID,
		},
	}
}

func trackListEnvelope(tracks []*session.Track) protocol.Envelope {
	out := make([]protocol.TrackSummary, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, protocol.TrackSummary{ID: t.ID, Title: t.Title, Duration: t.Duration})
	}
	return protocol.Envelope{Type: protocol.TypeTrackList, Payload: protocol.TrackList{Tracks: out}}
}

func decodePayload(payload any, dst any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

// errKind maps an ingestion error to the text sent back as error.message. A
// rejected host carries a human-readable reason (ErrHostNotAccepted.Error()
// already reads "Only ...") that is more useful to a client than the bare
// kind constant, so it is surfaced verbatim rather than collapsed to
// protocol.ErrUrlRejected.
func errKind(err error) string {
	switch e := err.(type) {
	case *ingest.ErrFetchFailed:
		return protocol.ErrFetchFailed
	case *ingest.ErrTranscodeFailed:
		return protocol.ErrTranscodeFailed
	case *ingest.ErrHostNotAccepted:
		return e.Error()
	}
	if err == ingest.ErrBusy {
		return protocol.ErrBusy
	}
	return protocol.ErrInvalidMessage
}
