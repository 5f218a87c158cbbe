package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	sent   []any
	closed bool
}

func (f *fakeConn) Send(v any) error {
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	return NewStore(path, nil), path
}

func TestChannelAssignmentBalance(t *testing.T) {
	st, _ := newTestStore(t)
	var left, right int
	for i := 0; i < 7; i++ {
		_, c := st.Attach("room", "client-"+string(rune('a'+i)), &fakeConn{})
		switch c.Channel {
		case ChannelLeft:
			left++
		case ChannelRight:
			right++
		}
	}
	diff := left - right
	assert.True(t, diff >= -1 && diff <= 1, "left=%d right=%d", left, right)
}

func TestFirstTwoClientsGetLeftThenRight(t *testing.T) {
	st, _ := newTestStore(t)
	_, a := st.Attach("room", "a", &fakeConn{})
	_, b := st.Attach("room", "b", &fakeConn{})
	assert.Equal(t, ChannelLeft, a.Channel)
	assert.Equal(t, ChannelRight, b.Channel)
}

func TestAllReadyRequiresEveryClient(t *testing.T) {
	st, _ := newTestStore(t)
	st.Attach("room", "a", &fakeConn{})
	st.Attach("room", "b", &fakeConn{})

	require.False(t, st.AllReady("room"))

	st.SetReady("room", "a", true)
	assert.False(t, st.AllReady("room"))

	st.SetReady("room", "b", true)
	assert.True(t, st.AllReady("room"))
}

func TestSetTrackResetsReadyAndPlayback(t *testing.T) {
	st, _ := newTestStore(t)
	st.Attach("room", "a", &fakeConn{})
	st.SetReady("room", "a", true)
	st.UpdatePlayback("room", PlaybackPatch{IsPlaying: boolPtr(true)})

	require.NoError(t, st.SetTrack("room", &Track{ID: "trk1", Title: "song"}))

	snap, ok := st.Snapshot("room")
	require.True(t, ok)
	assert.False(t, snap.Playback.IsPlaying)
	assert.Equal(t, float64(0), snap.Playback.CurrentTime)
	assert.False(t, st.AllReady("room"))
}

func TestSetTrackRestartRehydrateRoundTrip(t *testing.T) {
	st, path := newTestStore(t)
	track := &Track{ID: "trk1", Title: "song", Duration: 120, OriginalURL: "https://youtu.be/x"}
	require.NoError(t, st.SetTrack("room", track))

	st2 := NewStore(path, nil)
	snap, ok := st2.Snapshot("room")
	require.True(t, ok)
	require.NotNil(t, snap.AudioSource)
	assert.Equal(t, track.Title, snap.AudioSource.Title)
	assert.Equal(t, track.Duration, snap.AudioSource.Duration)
	assert.Equal(t, track.OriginalURL, snap.AudioSource.OriginalURL)
	assert.False(t, snap.Playback.IsPlaying)
	assert.Equal(t, float64(0), snap.Playback.CurrentTime)
}

func TestPersistenceMergesSessionsNotInMemory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")

	st1 := NewStore(path, nil)
	require.NoError(t, st1.SetTrack("room-a", &Track{ID: "a", Title: "A"}))

	st2 := NewStore(path, nil)
	require.NoError(t, st2.SetTrack("room-b", &Track{ID: "b", Title: "B"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "room-a")
	assert.Contains(t, string(data), "room-b")
}

func TestBroadcastSkipsExcludedClientAndDeliversSameOrderToAll(t *testing.T) {
	st, _ := newTestStore(t)
	_, a := st.Attach("room", "a", &fakeConn{})
	_, b := st.Attach("room", "b", &fakeConn{})

	st.Broadcast("room", "one", "")
	st.Broadcast("room", "two", a.ID)

	connA := a.Conn.(*fakeConn)
	connB := b.Conn.(*fakeConn)

	assert.Equal(t, []any{"one"}, connA.sent)
	assert.Equal(t, []any{"one", "two"}, connB.sent)
}

func TestDetachSweepsIdleTracklessSessionAfterGrace(t *testing.T) {
	idleSessionGrace = 20 * time.Millisecond
	defer func() { idleSessionGrace = 60 * time.Second }()

	st, _ := newTestStore(t)
	st.Attach("room", "a", &fakeConn{})
	st.Detach("room", "a")

	_, ok := st.Get("room")
	require.True(t, ok, "session should still exist until the sweep fires")

	assert.Eventually(t, func() bool {
		_, ok := st.Get("room")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestDetachDoesNotSweepSessionWithTrack(t *testing.T) {
	idleSessionGrace = 20 * time.Millisecond
	defer func() { idleSessionGrace = 60 * time.Second }()

	st, _ := newTestStore(t)
	st.Attach("room", "a", &fakeConn{})
	require.NoError(t, st.SetTrack("room", &Track{ID: "t"}))
	st.Detach("room", "a")

	time.Sleep(50 * time.Millisecond)
	_, ok := st.Get("room")
	assert.True(t, ok)
}

func boolPtr(b bool) *bool { return &b }
