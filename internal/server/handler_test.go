package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/frame"
	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/ratelimit"
	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/relay"
	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/session"
	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/upstream"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

type message struct {
	mt      int
	payload []byte
}

func toWS(u string) string { return "ws" + strings.TrimPrefix(u, "http") }

// newUpstream starts a fake realtime API and hands each upgraded connection to the test.
func newUpstream(t *testing.T) (*httptest.Server, <-chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 4)
	var (
		mu     sync.Mutex
		opened []*websocket.Conn
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		opened = append(opened, c)
		mu.Unlock()
		conns <- c
	}))
	t.Cleanup(func() {
		srv.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range opened {
			c.Close()
		}
	})
	return srv, conns
}

func newFront(t *testing.T, up Connector, admission *ratelimit.Admission) (string, *memoryStore) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	store := newMemoryStore()
	h := NewHandler(ctx, up, session.Default(), store, admission)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		cancel()
		h.Wait()
	})
	return toWS(srv.URL) + "/ws", store
}

func dialFront(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func acceptUpstream(t *testing.T, conns <-chan *websocket.Conn) *websocket.Conn {
	t.Helper()
	select {
	case c := <-conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("relay never connected upstream")
		return nil
	}
}

func readMessage(t *testing.T, c *websocket.Conn) message {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, p, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return message{mt, p}
}

// expectClosed asserts that c's peer goes away within a bounded time.
func expectClosed(t *testing.T, c *websocket.Conn) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := c.ReadMessage()
		if err == nil {
			continue
		}
		var ne interface{ Timeout() bool }
		if errors.As(err, &ne) && ne.Timeout() {
			t.Fatal("peer still open after bounded wait")
		}
		return
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestRelayEndToEnd(t *testing.T) {
	upSrv, conns := newUpstream(t)
	d := upstream.Dialer{URL: toWS(upSrv.URL) + "/v1/realtime", Credential: "sk-test", Beta: upstream.DefaultBeta, Timeout: 2 * time.Second}
	url, store := newFront(t, DialUpstream(d), nil)

	client := dialFront(t, url)
	sent := []message{
		{websocket.TextMessage, []byte(`{"type":"input_audio_buffer.append","audio":"AAAA"}`)},
		{websocket.BinaryMessage, []byte{0x00, 0x10, 0xff, 0x7f}},
		{websocket.TextMessage, []byte("héllo")},
		{websocket.BinaryMessage, bytes.Repeat([]byte{0xab}, 70000)},
	}
	// Sent before the upstream leg exists: must still trail the session-init.
	for _, m := range sent {
		if err := client.WriteMessage(m.mt, m.payload); err != nil {
			t.Fatal(err)
		}
	}

	up := acceptUpstream(t, conns)
	first := readMessage(t, up)
	if first.mt != websocket.TextMessage {
		t.Fatalf("Expected session-init as text, got type %d", first.mt)
	}
	var init struct {
		Type    string `json:"type"`
		Session struct {
			Modalities   []string `json:"modalities"`
			Instructions string   `json:"instructions"`
			Voice        string   `json:"voice"`
		} `json:"session"`
	}
	if err := json.Unmarshal(first.payload, &init); err != nil {
		t.Fatalf("session-init not JSON: %v", err)
	}
	if init.Type != "session.update" || init.Session.Voice != "alloy" || len(init.Session.Modalities) != 2 {
		t.Errorf("Unexpected session-init: %s", first.payload)
	}

	for i, want := range sent {
		got := readMessage(t, up)
		if got.mt != want.mt || !bytes.Equal(got.payload, want.payload) {
			t.Fatalf("client->upstream frame %d mismatch (type %d, %d bytes)", i, got.mt, len(got.payload))
		}
	}

	replies := []message{
		{websocket.TextMessage, []byte(`{"type":"session.updated"}`)},
		{websocket.BinaryMessage, []byte{1, 2, 3}},
	}
	for _, m := range replies {
		if err := up.WriteMessage(m.mt, m.payload); err != nil {
			t.Fatal(err)
		}
	}
	for i, want := range replies {
		got := readMessage(t, client)
		if got.mt != want.mt || !bytes.Equal(got.payload, want.payload) {
			t.Fatalf("upstream->client frame %d mismatch", i)
		}
	}
	waitFor(t, func() bool { return store.Stats().Active == 1 })

	_ = client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = client.Close()
	expectClosed(t, up)
	waitFor(t, func() bool { return store.Stats().Active == 0 })
	if st := store.Stats(); st.Total != 1 || st.Failures != 0 {
		t.Errorf("Unexpected stats after clean close: %+v", st)
	}
}

func TestSessionInitSentExactlyOnce(t *testing.T) {
	upSrv, conns := newUpstream(t)
	d := upstream.Dialer{URL: toWS(upSrv.URL), Credential: "sk-test", Timeout: 2 * time.Second}
	url, _ := newFront(t, DialUpstream(d), nil)

	client := dialFront(t, url)
	up := acceptUpstream(t, conns)
	readMessage(t, up) // session-init
	if err := client.WriteMessage(websocket.TextMessage, []byte("one")); err != nil {
		t.Fatal(err)
	}
	if got := readMessage(t, up); string(got.payload) != "one" {
		t.Errorf("Expected client frame right after session-init, got %q", got.payload)
	}
}

func TestUpstreamCloseClosesClient(t *testing.T) {
	upSrv, conns := newUpstream(t)
	d := upstream.Dialer{URL: toWS(upSrv.URL), Credential: "sk-test", Timeout: 2 * time.Second}
	url, store := newFront(t, DialUpstream(d), nil)

	client := dialFront(t, url)
	up := acceptUpstream(t, conns)
	readMessage(t, up)
	_ = up.Close()

	expectClosed(t, client)
	waitFor(t, func() bool { return store.Stats().Active == 0 })
}

func TestUpstreamHandshakeFailureClosesClient(t *testing.T) {
	var hits atomic.Int32
	upSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer upSrv.Close()
	d := upstream.Dialer{URL: toWS(upSrv.URL), Credential: "sk-bad", Timeout: 2 * time.Second}
	url, store := newFront(t, DialUpstream(d), nil)

	client := dialFront(t, url)
	_ = client.WriteMessage(websocket.TextMessage, []byte("never forwarded"))
	expectClosed(t, client)

	waitFor(t, func() bool { return store.Stats().Failures == 1 })
	if st := store.Stats(); st.Total != 0 || st.Active != 0 {
		t.Errorf("Expected no pair registered, got %+v", st)
	}
	if hits.Load() != 1 {
		t.Errorf("Expected exactly one upstream attempt (no retry), got %d", hits.Load())
	}
}

// failingLeg accepts the connect but cannot send anything.
type failingLeg struct{ closed atomic.Bool }

func (l *failingLeg) ReadFrame() (frame.Frame, error) { return frame.Frame{}, errors.New("unused") }
func (l *failingLeg) WriteFrame(frame.Frame) error    { return errors.New("write: broken pipe") }
func (l *failingLeg) Close() error                    { l.closed.Store(true); return nil }

func TestSessionInitFailureClosesBothLegs(t *testing.T) {
	leg := &failingLeg{}
	conn := ConnectorFunc(func(ctx context.Context) (relay.Leg, error) { return leg, nil })
	url, store := newFront(t, conn, nil)

	client := dialFront(t, url)
	expectClosed(t, client)
	waitFor(t, func() bool { return leg.closed.Load() })
	if st := store.Stats(); st.Failures != 1 || st.Total != 0 {
		t.Errorf("Unexpected stats: %+v", st)
	}
}

func TestAdmissionRefusesBeforeUpgrade(t *testing.T) {
	upSrv, conns := newUpstream(t)
	d := upstream.Dialer{URL: toWS(upSrv.URL), Credential: "sk-test", Timeout: 2 * time.Second}
	url, _ := newFront(t, DialUpstream(d), ratelimit.NewAdmission(0, 0, 1, 1))

	dialFront(t, url)
	acceptUpstream(t, conns)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("Expected refused handshake, got %v", err)
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %v", resp)
	}
}

func TestClosingStoreRefusesConnections(t *testing.T) {
	conn := ConnectorFunc(func(ctx context.Context) (relay.Leg, error) {
		t.Error("connector must not be called while closing")
		return nil, errors.New("closing")
	})
	url, store := newFront(t, conn, nil)
	store.SetClosing(true)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Expected dial to fail while closing")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %v", resp)
	}
}

func TestAcceptDoesNotBlockOnSlowUpstream(t *testing.T) {
	gate := make(chan struct{})
	var calls atomic.Int32
	conn := ConnectorFunc(func(ctx context.Context) (relay.Leg, error) {
		calls.Add(1)
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return nil, errors.New("unavailable")
	})
	url, _ := newFront(t, conn, nil)
	defer close(gate)

	for i := 0; i < 3; i++ {
		dialFront(t, url)
	}
	waitFor(t, func() bool { return calls.Load() == 3 })
}
