package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpillora/requestlog"

	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/obs"
	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/ratelimit"
	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/server"
	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/upstream"
)

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		obs.Error("config", obs.Fields{"err": err.Error()})
		os.Exit(2)
	}
	if cfg.Debug {
		obs.EnableDebug(true)
	}
	sess, err := cfg.sessionConfig()
	if err != nil {
		obs.Error("config.session", obs.Fields{"err": err.Error()})
		os.Exit(2)
	}
	serverTLS, err := createServerTLSConfig(cfg)
	if err != nil {
		obs.Error("config.tls", obs.Fields{"err": err.Error()})
		os.Exit(2)
	}
	upstreamTLS, err := createUpstreamTLSConfig(cfg)
	if err != nil {
		obs.Error("config.upstream_tls", obs.Fields{"err": err.Error()})
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs.Info("relay.start", obs.Fields{"listen": cfg.ListenAddr, "path": cfg.Path, "metrics": cfg.MetricsAddr, "upstream": cfg.UpstreamURL, "tls": serverTLS != nil})

	store, err := server.NewStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		obs.Error("state.init", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}

	var admission *ratelimit.Admission
	if cfg.admissionEnabled() {
		admission = ratelimit.NewAdmission(cfg.GlobalRate, cfg.ClientRate, cfg.Burst, cfg.MaxPairs)
		go runCleanupLoop(ctx, admission, cfg.CleanupInterval, cfg.ClientIdle)
	}

	dialer := upstream.Dialer{
		URL:        cfg.UpstreamURL,
		Credential: cfg.APIKey,
		Beta:       cfg.Beta,
		Timeout:    cfg.ConnectTimeout,
		TLSConfig:  upstreamTLS,
	}
	h := server.NewHandler(ctx, server.DialUpstream(dialer), sess, store, admission)

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, h)
	var handler http.Handler = mux
	if cfg.Debug {
		handler = requestlog.Wrap(handler)
	}

	ln, err := createListener(cfg.ListenAddr, serverTLS)
	if err != nil {
		obs.Error("listen.relay", obs.Fields{"err": err.Error(), "addr": cfg.ListenAddr})
		os.Exit(1)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(store), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				obs.Error("metrics.server", obs.Fields{"err": err.Error(), "addr": cfg.MetricsAddr})
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	store.SetReady(true)
	obs.Info("relay.ready", obs.Fields{"addr": ln.Addr().String()})

	select {
	case <-ctx.Done():
		obs.Info("relay.shutdown.signal", obs.Fields{})
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			obs.Error("relay.serve", obs.Fields{"err": err.Error()})
		}
		stop()
	}
	store.SetClosing(true)

	// Hijacked pair connections are not tracked by Shutdown; the cancelled
	// ctx tears them down and Wait drains them.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	h.Wait()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if err := store.Close(); err != nil {
		obs.Error("state.close", obs.Fields{"err": err.Error()})
	}
	obs.Info("relay.shutdown.complete", obs.Fields{})
}

// createListener creates either a plain TCP or TLS listener based on tlsConfig.
func createListener(addr string, tlsConfig *tls.Config) (net.Listener, error) {
	if tlsConfig == nil {
		return net.Listen("tcp", addr)
	}
	return tls.Listen("tcp", addr, tlsConfig)
}

func runCleanupLoop(ctx context.Context, admission *ratelimit.Admission, interval, maxIdle time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := admission.CleanupIdle(maxIdle); n > 0 {
				obs.Debug("admission.cleanup", obs.Fields{"removed": n})
			}
		}
	}
}
