// ABOUTME: Adapts a gorilla websocket connection to session.Connection
// ABOUTME: Buffered writer goroutine with a write deadline and idle ping, per the teacher's client writer
package transport

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stereofield/stereofield/internal/protocol"
)

const (
	sendBuffer    = 64
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

// wsConn buffers outbound envelopes through sendChan so a slow reader never
// blocks the goroutine that called Send.
type wsConn struct {
	conn     *websocket.Conn
	logger   *zap.Logger
	sendChan chan protocol.Envelope
	done     chan struct{}
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, logger *zap.Logger) *wsConn {
	w := &wsConn{
		conn:     conn,
		logger:   logger,
		sendChan: make(chan protocol.Envelope, sendBuffer),
		done:     make(chan struct{}),
	}
	go w.writeLoop()
	return w
}

// Send implements session.Connection. It never blocks: a full outbound
// buffer means the peer is too slow and the message is dropped.
func (w *wsConn) Send(v any) error {
	env, ok := v.(protocol.Envelope)
	if !ok {
		return nil
	}
	select {
	case w.sendChan <- env:
		return nil
	default:
		w.logger.Warn("dropping message, send buffer full")
		return nil
	}
}

func (w *wsConn) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	return w.conn.Close()
}

func (w *wsConn) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-w.sendChan:
			if !ok {
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			w.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				// a failed or timed-out write ends the connection, which
				// makes the dispatcher's read loop detach the client
				w.conn.Close()
				return
			}

		case <-ticker.C:
			w.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				w.conn.Close()
				return
			}

		case <-w.done:
			return
		}
	}
}
