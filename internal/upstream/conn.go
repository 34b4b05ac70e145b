package upstream

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/frame"
)

// errPeerClosed marks a close frame seen mid-read. It must not be io.EOF, which
// would end a fragmented message early inside io.ReadAll.
var errPeerClosed = errors.New("upstream sent close")

// Conn is the upstream leg: client-side RFC 6455 framing over a raw connection.
// ReadFrame must be called from a single goroutine. WriteFrame is serialized
// with the automatic pong and close replies produced while reading.
type Conn struct {
	conn      net.Conn
	rd        wsutil.Reader
	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newConn(c net.Conn, br *bufio.Reader) *Conn {
	uc := &Conn{conn: c}
	uc.rd = wsutil.Reader{
		Source: br,
		State:  ws.StateClientSide,
		// payloads are relayed untouched
		CheckUTF8:      false,
		OnIntermediate: uc.handleControl,
	}
	return uc
}

// ReadFrame returns the next data message, reassembling fragments. Ping and
// pong frames are answered internally and surface as Control frames. A close
// frame from the server is echoed and reported as io.EOF.
func (c *Conn) ReadFrame() (frame.Frame, error) {
	f, err := c.readFrame()
	if errors.Is(err, errPeerClosed) {
		return frame.Frame{}, io.EOF
	}
	return f, err
}

func (c *Conn) readFrame() (frame.Frame, error) {
	hdr, err := c.rd.NextFrame()
	if err != nil {
		return frame.Frame{}, err
	}
	if hdr.OpCode.IsControl() {
		if err := c.handleControl(hdr, &c.rd); err != nil {
			return frame.Frame{}, err
		}
		return frame.Frame{Kind: frame.Control}, nil
	}
	payload, err := io.ReadAll(&c.rd)
	if err != nil {
		return frame.Frame{}, err
	}
	return frame.Frame{Kind: frame.FromOpCode(hdr.OpCode), Payload: payload}, nil
}

// WriteFrame sends one complete, masked data frame.
func (c *Conn) WriteFrame(f frame.Frame) error {
	op, ok := frame.ToOpCode(f.Kind)
	if !ok {
		return fmt.Errorf("cannot send %s frame upstream", f.Kind)
	}
	return c.writeFrame(ws.NewFrame(op, true, f.Payload))
}

// Close tears down the underlying connection, unblocking any pending read.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.conn.Close() })
	return c.closeErr
}

// RemoteAddr reports the upstream peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Conn) handleControl(h ws.Header, r io.Reader) error {
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}
	switch h.OpCode {
	case ws.OpPing:
		return c.writeFrame(ws.NewPongFrame(payload))
	case ws.OpClose:
		_ = c.writeFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
		return errPeerClosed
	}
	return nil
}

// writeFrame masks f and writes it with a single Write call.
func (c *Conn) writeFrame(f ws.Frame) error {
	var buf bytes.Buffer
	if err := ws.WriteFrame(&buf, ws.MaskFrame(f)); err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.conn.Write(buf.Bytes())
	return err
}
