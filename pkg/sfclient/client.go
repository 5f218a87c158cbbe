// ABOUTME: Reference client: websocket transport wired to clock sync, the status machine and the audio engine
package sfclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stereofield/stereofield/internal/clocksync"
	"github.com/stereofield/stereofield/internal/protocol"
	"github.com/stereofield/stereofield/pkg/audioengine"
	"github.com/stereofield/stereofield/pkg/statusmachine"
)

// Config configures a Client.
type Config struct {
	ServerAddr string // host:port, no scheme
	SessionID  string
	CacheDir   string // where downloaded channel mp3s are cached locally
	Logger     *zap.Logger
}

// Client ties a live connection to clock sync, the status machine and the
// audio engine, mirroring how a real device participates in a session.
type Client struct {
	cfg    Config
	logger *zap.Logger

	conn      *websocket.Conn
	writeMu   sync.Mutex
	clock     *clocksync.ClockSync
	status    *statusmachine.Machine
	engine    *audioengine.Engine
	clientID  string
	channel   string

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:    cfg,
		logger: cfg.Logger,
		clock:  clocksync.New(cfg.Logger),
		status: statusmachine.New(),
		engine: audioengine.New(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect dials the session server, joins cfg.SessionID, and starts the
// background read loop and the periodic clock-sync ping cycle.
func (c *Client) Connect() error {
	if err := c.engine.Init(44100, 2); err != nil {
		return fmt.Errorf("init audio engine: %w", err)
	}

	u := url.URL{Scheme: "ws", Host: c.cfg.ServerAddr, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	c.conn = conn

	if err := c.send(protocol.Envelope{
		Type:    protocol.TypeJoinSession,
		Payload: protocol.JoinSession{SessionID: c.cfg.SessionID},
	}); err != nil {
		return fmt.Errorf("join session: %w", err)
	}

	go c.readLoop()
	go c.pingLoop()
	return nil
}

func (c *Client) send(env protocol.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

func (c *Client) readLoop() {
	defer c.cancel()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.Warn("read loop exiting", zap.Error(err))
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		c.handle(env)
	}
}

func (c *Client) handle(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeSessionJoined:
		var p protocol.SessionJoined
		decode(env.Payload, &p)
		c.clientID = p.ClientID
		c.channel = p.Channel

	case protocol.TypeAudioLoading:
		_ = c.status.Transition(statusmachine.EventLoad)

	case protocol.TypeAudioReady:
		var p protocol.AudioReady
		decode(env.Payload, &p)
		go c.loadTrack(p)

	case protocol.TypePlay:
		var p protocol.Play
		decode(env.Payload, &p)
		at := c.clock.ServerToLocal(p.ServerTimestamp)
		if err := c.engine.PlayAt(p.StartTime, at); err != nil {
			c.logger.Warn("playAt failed", zap.Error(err))
			return
		}
		_ = c.status.Transition(statusmachine.EventPlay)

	case protocol.TypePause:
		c.engine.Pause()
		_ = c.status.Transition(statusmachine.EventPause)

	case protocol.TypeSeek:
		var p protocol.Seek
		decode(env.Payload, &p)
		c.engine.SeekTo(p.TargetTime)

	case protocol.TypeVolumeChange:
		var p protocol.VolumeChange
		decode(env.Payload, &p)
		if p.Channel == c.channel {
			c.engine.SetVolume(float64(p.Volume) / 100)
		}

	case protocol.TypePong:
		var p protocol.Pong
		decode(env.Payload, &p)
		c.clock.RecordRoundTrip(p.ClientTimestamp, p.ServerTimestamp, time.Now().UnixMilli())
	}
}

// loadTrack downloads the assigned channel file to CacheDir and hands it to
// the audio engine, transitioning loading -> ready once decoded.
func (c *Client) loadTrack(ready protocol.AudioReady) {
	dest := filepath.Join(c.cfg.CacheDir, ready.TrackID+".mp3")
	if _, err := os.Stat(dest); err != nil {
		if err := c.download(ready.AudioURL, dest); err != nil {
			c.logger.Error("failed to download track", zap.Error(err))
			_ = c.status.Transition(statusmachine.EventError)
			return
		}
	}
	if err := c.engine.Load(dest); err != nil {
		c.logger.Error("failed to decode track", zap.Error(err))
		_ = c.status.Transition(statusmachine.EventError)
		return
	}
	_ = c.status.Transition(statusmachine.EventAutoReady)
	_ = c.send(protocol.Envelope{Type: protocol.TypeReady})
}

func (c *Client) download(rawURL, dest string) error {
	resp, err := http.Get(fmt.Sprintf("http://%s%s", c.cfg.ServerAddr, rawURL))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, rawURL)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.ReadFrom(resp.Body)
	return err
}

func (c *Client) pingLoop() {
	warmup := []time.Duration{0, 200 * time.Millisecond, 200 * time.Millisecond}
	for _, d := range warmup {
		select {
		case <-time.After(d):
			c.ping()
		case <-c.ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.ping()
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) ping() {
	_ = c.send(protocol.Envelope{
		Type:    protocol.TypePing,
		Payload: protocol.Ping{ClientTimestamp: time.Now().UnixMilli()},
	})
}

// SubmitLink requests ingestion of a new source URL for the session.
func (c *Client) SubmitLink(url string) error {
	return c.send(protocol.Envelope{Type: protocol.TypeSubmitLink, Payload: protocol.SubmitLink{URL: url}})
}

// RequestPlay, RequestPause and RequestSeek mirror the corresponding
// client-initiated control messages.
func (c *Client) RequestPlay() error { return c.send(protocol.Envelope{Type: protocol.TypePlayRequest}) }
func (c *Client) RequestPause() error {
	return c.send(protocol.Envelope{Type: protocol.TypePauseRequest})
}
func (c *Client) RequestSeek(targetTime float64) error {
	return c.send(protocol.Envelope{Type: protocol.TypeSeekRequest, Payload: protocol.SeekRequest{TargetTime: targetTime}})
}

// RequestVolume asks the server to rebroadcast a volume change for channel
// (0-100). The server fans it back out as volume_change, which handle above
// applies locally when it names this client's own channel.
func (c *Client) RequestVolume(channel string, volume int) error {
	return c.send(protocol.Envelope{Type: protocol.TypeVolumeRequest, Payload: protocol.VolumeRequest{Channel: channel, Volume: volume}})
}

func (c *Client) Status() statusmachine.State { return c.status.State() }
func (c *Client) Channel() string             { return c.channel }

func (c *Client) Close() {
	c.cancel()
	c.engine.Close()
	if c.conn != nil {
		c.conn.Close()
	}
}

func decode(payload any, dst any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, dst)
}
