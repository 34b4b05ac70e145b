// Package upstream opens the outbound leg of a pair: a WebSocket client
// connection to the realtime API, with its own handshake so the credential
// and protocol headers are fully under the relay's control.
package upstream

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultURL  = "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-10-01"
	DefaultBeta = "realtime=v1"
)

var (
	ErrMissingCredential = errors.New("upstream credential missing")
	ErrBadHandshake      = errors.New("upstream rejected upgrade")
)

// Dialer holds everything needed to open upstream legs. The zero Timeout
// means no connect deadline beyond the caller's context.
type Dialer struct {
	URL        string
	Credential string
	Beta       string
	Timeout    time.Duration
	TLSConfig  *tls.Config
}

// Dial opens one upstream connection. The returned Conn is ready for frames.
func (d Dialer) Dial(ctx context.Context) (*Conn, error) {
	if d.Credential == "" {
		return nil, ErrMissingCredential
	}
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	var useTLS bool
	switch u.Scheme {
	case "wss", "https":
		useTLS = true
	case "ws", "http":
	default:
		return nil, fmt.Errorf("unsupported upstream scheme %q", u.Scheme)
	}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate handshake key: %w", err)
	}

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", hostPort(u, useTLS))
	if err != nil {
		return nil, err
	}
	if useTLS {
		cfg := &tls.Config{}
		if d.TLSConfig != nil {
			cfg = d.TLSConfig.Clone()
		}
		if cfg.ServerName == "" {
			cfg.ServerName = u.Hostname()
		}
		tc := tls.Client(conn, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		conn = tc
	}

	br, err := d.handshake(ctx, conn, u, key)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return newConn(conn, br), nil
}

func (d Dialer) handshake(ctx context.Context, conn net.Conn, u *url.URL, key string) (*bufio.Reader, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	req := &http.Request{
		Method:     http.MethodGet,
		URL:        &url.URL{Path: u.Path, RawPath: u.RawPath, RawQuery: u.RawQuery},
		Host:       u.Host,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{},
	}
	if req.URL.Path == "" {
		req.URL.Path = "/"
	}
	req.Header.Set("Authorization", "Bearer "+d.Credential)
	if d.Beta != "" {
		req.Header.Set("OpenAI-Beta", d.Beta)
	}
	req.Header.Set("Sec-WebSocket-Key", key)
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	if err := req.Write(conn); err != nil {
		return nil, fmt.Errorf("write upgrade request: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, fmt.Errorf("read upgrade response: %w", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return nil, fmt.Errorf("%w: status %s", ErrBadHandshake, resp.Status)
	}
	if !strings.EqualFold(resp.Header.Get("Upgrade"), "websocket") {
		return nil, fmt.Errorf("%w: upgrade header %q", ErrBadHandshake, resp.Header.Get("Upgrade"))
	}
	if resp.Header.Get("Sec-WebSocket-Accept") != AcceptKey(key) {
		return nil, fmt.Errorf("%w: accept key mismatch", ErrBadHandshake)
	}
	if !stop() {
		return nil, context.Cause(ctx)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, err
	}
	return br, nil
}

func hostPort(u *url.URL, useTLS bool) string {
	if u.Port() != "" {
		return u.Host
	}
	if useTLS {
		return net.JoinHostPort(u.Hostname(), "443")
	}
	return net.JoinHostPort(u.Hostname(), "80")
}
