package sfclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/stereofield/stereofield/internal/protocol"
	"github.com/stereofield/stereofield/pkg/statusmachine"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	return New(Config{ServerAddr: "example.invalid:9999", SessionID: "room", CacheDir: t.TempDir(), Logger: zap.NewNop()})
}

func TestHandleSessionJoinedRecordsClientIDAndChannel(t *testing.T) {
	c := newTestClient(t)
	c.handle(protocol.Envelope{
		Type:    protocol.TypeSessionJoined,
		Payload: protocol.SessionJoined{SessionID: "room", ClientID: "c1", Channel: "left"},
	})
	assert.Equal(t, "c1", c.clientID)
	assert.Equal(t, "left", c.Channel())
}

func TestHandleAudioLoadingTransitionsStatus(t *testing.T) {
	c := newTestClient(t)
	c.handle(protocol.Envelope{Type: protocol.TypeAudioLoading, Payload: protocol.AudioLoading{URL: "https://youtu.be/x"}})
	assert.Equal(t, statusmachine.StateLoading, c.Status())
}

func TestHandleVolumeChangeAppliesOnlyToOwnChannel(t *testing.T) {
	c := newTestClient(t)
	c.channel = "left"

	c.handle(protocol.Envelope{
		Type:    protocol.TypeVolumeChange,
		Payload: protocol.VolumeChange{Channel: "right", Volume: 10},
	})
	assert.Equal(t, 1.0, c.engine.Volume())

	c.handle(protocol.Envelope{
		Type:    protocol.TypeVolumeChange,
		Payload: protocol.VolumeChange{Channel: "left", Volume: 50},
	})
	assert.Equal(t, 0.5, c.engine.Volume())
}

func TestHandlePongFeedsClockSync(t *testing.T) {
	c := newTestClient(t)
	assert.False(t, c.clock.Synced())

	c.handle(protocol.Envelope{
		Type: protocol.TypePong,
		Payload: protocol.Pong{
			ServerTimestamp: 1000,
			ClientTimestamp: 900,
		},
	})
	assert.True(t, c.clock.Synced())
}
