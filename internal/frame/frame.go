// Package frame holds the transport-independent message unit relayed between
// the two legs of a pair, and the mapping to and from each leg's native
// representation.
package frame

import (
	"github.com/gobwas/ws"
	"github.com/gorilla/websocket"
)

// Kind discriminates a frame.
type Kind int

const (
	Control Kind = iota
	Text
	Binary
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Binary:
		return "binary"
	default:
		return "control"
	}
}

// Frame is one message read from or written to a leg. Payload is never
// reinterpreted by the relay.
type Frame struct {
	Kind    Kind
	Payload []byte
}

// Forwardable reports whether the frame carries data that crosses legs.
func (f Frame) Forwardable() bool { return f.Kind == Text || f.Kind == Binary }

// FromMessageType maps a gorilla message type to a Kind.
func FromMessageType(mt int) Kind {
	switch mt {
	case websocket.TextMessage:
		return Text
	case websocket.BinaryMessage:
		return Binary
	default:
		return Control
	}
}

// ToMessageType maps a Kind to a gorilla message type. ok is false for Control.
func ToMessageType(k Kind) (mt int, ok bool) {
	switch k {
	case Text:
		return websocket.TextMessage, true
	case Binary:
		return websocket.BinaryMessage, true
	default:
		return 0, false
	}
}

// FromOpCode maps an RFC 6455 opcode to a Kind. Continuation frames are
// reassembled before this point, so they map to Control.
func FromOpCode(op ws.OpCode) Kind {
	switch op {
	case ws.OpText:
		return Text
	case ws.OpBinary:
		return Binary
	default:
		return Control
	}
}

// ToOpCode maps a Kind to an RFC 6455 opcode. ok is false for Control.
func ToOpCode(k Kind) (op ws.OpCode, ok bool) {
	switch k {
	case Text:
		return ws.OpText, true
	case Binary:
		return ws.OpBinary, true
	default:
		return 0, false
	}
}
