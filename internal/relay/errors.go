package relay

import "errors"

// Error classes for the life of a connection pair. Callers wrap the concrete
// cause with one of these and test with errors.Is.
var (
	// ErrConfig is fatal to the process before any connection is accepted.
	ErrConfig = errors.New("config error")
	// ErrConnect means the upstream handshake failed; the client socket is closed.
	ErrConnect = errors.New("upstream connect error")
	// ErrInit means the session-init message could not be sent.
	ErrInit = errors.New("session init error")
	// ErrRelay means a read or write failed on either leg while forwarding.
	ErrRelay = errors.New("relay error")
)
