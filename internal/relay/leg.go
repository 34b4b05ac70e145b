package relay

import (
	"io"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/frame"
)

// Leg is one side of a connection pair. ReadFrame is only called by one
// goroutine and WriteFrame only by one other; Close must unblock both and be
// safe to call more than once. A clean remote close is reported as io.EOF.
type Leg interface {
	ReadFrame() (frame.Frame, error)
	WriteFrame(f frame.Frame) error
	Close() error
}

// ClientLeg adapts a server-side gorilla connection to a Leg. Pings from the
// browser are answered by gorilla's default handler and never surface here.
type ClientLeg struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func NewClientLeg(conn *websocket.Conn) *ClientLeg {
	return &ClientLeg{conn: conn}
}

func (l *ClientLeg) ReadFrame() (frame.Frame, error) {
	mt, p, err := l.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return frame.Frame{}, io.EOF
		}
		return frame.Frame{}, err
	}
	return frame.Frame{Kind: frame.FromMessageType(mt), Payload: p}, nil
}

func (l *ClientLeg) WriteFrame(f frame.Frame) error {
	mt, ok := frame.ToMessageType(f.Kind)
	if !ok {
		return nil
	}
	return l.conn.WriteMessage(mt, f.Payload)
}

// Close drops the underlying socket without a close handshake.
func (l *ClientLeg) Close() error {
	l.closeOnce.Do(func() { l.closeErr = l.conn.Close() })
	return l.closeErr
}
