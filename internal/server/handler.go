// Package server is the accept side of the relay: it upgrades browser
// connections and runs one connect, init and relay sequence per connection.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/obs"
	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/ratelimit"
	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/relay"
	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/session"
	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/upstream"
)

// Connector opens the upstream leg of a new pair.
type Connector interface {
	Connect(ctx context.Context) (relay.Leg, error)
}

// ConnectorFunc adapts a function to a Connector.
type ConnectorFunc func(ctx context.Context) (relay.Leg, error)

func (f ConnectorFunc) Connect(ctx context.Context) (relay.Leg, error) { return f(ctx) }

// DialUpstream returns a Connector that opens legs with d.
func DialUpstream(d upstream.Dialer) Connector {
	return ConnectorFunc(func(ctx context.Context) (relay.Leg, error) {
		c, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// Handler upgrades inbound requests and relays each one to a fresh upstream
// connection. ServeHTTP never waits for a pair to finish.
type Handler struct {
	ctx       context.Context
	upstream  Connector
	session   session.Config
	store     PairStore
	admission *ratelimit.Admission
	upgrader  websocket.Upgrader
	pairs     sync.WaitGroup
}

// NewHandler creates a Handler. Pairs are torn down when ctx is cancelled.
// admission may be nil to accept every connection.
func NewHandler(ctx context.Context, up Connector, sess session.Config, store PairStore, admission *ratelimit.Admission) *Handler {
	return &Handler{
		ctx:       ctx,
		upstream:  up,
		session:   sess,
		store:     store,
		admission: admission,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.store.Closing() {
		obs.RejectedTotal.WithLabelValues("closing").Inc()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	remoteIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remoteIP = r.RemoteAddr
	}
	release := func() {}
	if h.admission != nil {
		rel, reason := h.admission.Admit(remoteIP)
		if reason != ratelimit.Allowed {
			obs.Info("client.rejected", obs.Fields{"remote": r.RemoteAddr, "reason": string(reason)})
			obs.RejectedTotal.WithLabelValues(string(reason)).Inc()
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}
		release = rel
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		release()
		obs.Error("client.upgrade", obs.Fields{"err": err.Error(), "remote": r.RemoteAddr})
		obs.ErrorsTotal.WithLabelValues("upgrade").Inc()
		return
	}
	h.pairs.Add(1)
	go func() {
		defer h.pairs.Done()
		defer release()
		_ = h.servePair(conn, r.RemoteAddr)
	}()
}

// Wait blocks until every pair started by this handler has ended.
func (h *Handler) Wait() { h.pairs.Wait() }

func (h *Handler) servePair(conn *websocket.Conn, remote string) error {
	id := uuid.NewString()
	client := relay.NewClientLeg(conn)
	obs.Info("client.connected", obs.Fields{"pair": id, "remote": remote})

	t0 := time.Now()
	up, err := h.upstream.Connect(h.ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", relay.ErrConnect, err)
		h.fail(id, "connect", err)
		_ = client.Close()
		return err
	}
	obs.UpstreamConnectSeconds.Observe(time.Since(t0).Seconds())
	obs.Info("upstream.connected", obs.Fields{"pair": id, "ms": time.Since(t0).Milliseconds()})

	if err := session.Init(up, h.session); err != nil {
		err = fmt.Errorf("%w: %w", relay.ErrInit, err)
		h.fail(id, "init", err)
		_ = up.Close()
		_ = client.Close()
		return err
	}
	obs.Debug("session.init.sent", obs.Fields{"pair": id})

	h.store.Add(PairInfo{ID: id, Remote: remote, Started: t0})
	obs.ActivePairs.Inc()
	obs.PairsTotal.Inc()
	defer func() {
		h.store.Remove(id)
		obs.ActivePairs.Dec()
	}()

	err = relay.Run(h.ctx, id, client, up)
	if err != nil {
		h.fail(id, "relay", err)
		return err
	}
	obs.Info("pair.closed", obs.Fields{"pair": id, "duration": time.Since(t0).String()})
	return nil
}

func (h *Handler) fail(id, stage string, err error) {
	obs.Error("pair."+stage, obs.Fields{"pair": id, "err": err.Error()})
	obs.ErrorsTotal.WithLabelValues(stage).Inc()
	h.store.RecordFailure(stage)
}
