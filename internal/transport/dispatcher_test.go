package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stereofield/stereofield/internal/ingest"
	"github.com/stereofield/stereofield/internal/protocol"
	"github.com/stereofield/stereofield/internal/session"
)

type fakeConn struct{ sent []protocol.Envelope }

func (f *fakeConn) Send(v any) error {
	if env, ok := v.(protocol.Envelope); ok {
		f.sent = append(f.sent, env)
	}
	return nil
}
func (f *fakeConn) Close() error { return nil }

func newTestDispatcher(t *testing.T) (*Dispatcher, *session.Store) {
	t.Helper()
	dir := t.TempDir()
	store := session.NewStore(dir+"/sessions.json", zap.NewNop())
	pipeline := ingest.NewPipeline(ingest.Config{AudioRoot: dir})
	return NewDispatcher(store, pipeline, dir, zap.NewNop()), store
}

func TestJoinAssignsFirstClientLeftChannel(t *testing.T) {
	d, store := newTestDispatcher(t)
	conn := &fakeConn{}
	d.handleJoinForTest("room", "client-1", conn)

	require.NotEmpty(t, conn.sent)
	joined := conn.sent[0].Payload.(protocol.SessionJoined)
	assert.Equal(t, "left", joined.Channel)

	roster := store.Roster("room")
	require.Len(t, roster, 1)
	assert.Equal(t, session.ChannelLeft, roster[0].Channel)
}

func TestJoinSendsClientListToExistingMembers(t *testing.T) {
	d, store := newTestDispatcher(t)
	first := &fakeConn{}
	d.handleJoinForTest("room", "client-1", first)

	second := &fakeConn{}
	d.handleJoinForTest("room", "client-2", second)

	roster := store.Roster("room")
	assert.Len(t, roster, 2)

	lastToFirst := first.sent[len(first.sent)-1]
	assert.Equal(t, protocol.TypeClientList, lastToFirst.Type)
}

func TestSubmitLinkRejectsDisallowedHost(t *testing.T) {
	d, _ := newTestDispatcher(t)
	conn := &fakeConn{}
	d.handleJoinForTest("room", "client-1", conn)

	d.handleSubmitLink("room", "client-1", protocol.SubmitLink{URL: "https://vimeo.com/1"})

	last := conn.sent[len(conn.sent)-1]
	assert.Equal(t, protocol.TypeError, last.Type)
	assert.Contains(t, last.Payload.(protocol.ErrorMessage).Message, "Only")
}

func TestPlayRequestCompensatesEachClientsLatency(t *testing.T) {
	d, store := newTestDispatcher(t)
	connA, connB := &fakeConn{}, &fakeConn{}
	store.Attach("room", "client-a", connA)
	store.Attach("room", "client-b", connB)
	store.SetLatency("room", "client-a", 40)
	store.SetLatency("room", "client-b", 100)

	before := time.Now()
	d.handlePlayRequest("room")

	playA := lastOfType(t, connA.sent, protocol.TypePlay).Payload.(protocol.Play)
	playB := lastOfType(t, connB.sent, protocol.TypePlay).Payload.(protocol.Play)

	// higher latency pulls the scheduled server timestamp earlier so both
	// clients still render audio at the same wall-clock instant.
	assert.Equal(t, playA.ServerTimestamp+20, playB.ServerTimestamp+50)
	assert.True(t, playA.ServerTimestamp > before.UnixMilli())
}

func TestPingRepliesWithPongAndUpdatesLatency(t *testing.T) {
	d, store := newTestDispatcher(t)
	conn := &fakeConn{}
	store.Attach("room", "client-a", conn)

	clientTs := time.Now().Add(-20 * time.Millisecond).UnixMilli()
	d.handlePing("room", "client-a", protocol.Ping{ClientTimestamp: clientTs})

	pong := lastOfType(t, conn.sent, protocol.TypePong).Payload.(protocol.Pong)
	assert.Equal(t, clientTs, pong.ClientTimestamp)

	roster := store.Roster("room")
	require.Len(t, roster, 1)
	assert.True(t, roster[0].Latency >= 0)
}

func TestAudioReadyFallsBackToLeftFileForStereoChannel(t *testing.T) {
	track := &session.Track{ID: "t1", Files: session.ChannelFiles{Left: "/audio/t1/left.mp3", Right: "/audio/t1/right.mp3"}}
	env := audioReadyEnvelope(track, session.ChannelStereo)
	assert.Equal(t, "/audio/t1/left.mp3", env.Payload.(protocol.AudioReady).AudioURL)
}

func TestErrKindMapsIngestErrorsToProtocolConstants(t *testing.T) {
	assert.Equal(t, protocol.ErrBusy, errKind(ingest.ErrBusy))
	assert.Contains(t, errKind(&ingest.ErrHostNotAccepted{Host: "vimeo.com"}), "Only")
}

func lastOfType(t *testing.T, envs []protocol.Envelope, typ string) protocol.Envelope {
	t.Helper()
	for i := len(envs) - 1; i >= 0; i-- {
		if envs[i].Type == typ {
			return envs[i]
		}
	}
	t.Fatalf("no envelope of type %q sent", typ)
	return protocol.Envelope{}
}

// handleJoinForTest lets tests drive the join path with a fake connection,
// since handleJoin itself only needs the session.Connection surface.
func (d *Dispatcher) handleJoinForTest(sessionID, clientID string, conn session.Connection) {
	_, c := d.store.Attach(sessionID, clientID, conn)
	conn.Send(protocol.Envelope{
		Type: protocol.TypeSessionJoined,
		Payload: protocol.SessionJoined{
			SessionID: sessionID,
			ClientID:  clientID,
			Channel:   string(c.Channel),
		},
	})
	d.broadcastClientList(sessionID)
}
