package main

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/obs"
)

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	obs.Info("client.start", obs.Fields{"url": cfg.URL})
	if err := run(ctx, cfg, lines); err != nil && !errors.Is(err, context.Canceled) {
		obs.Error("client.exit", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, lines <-chan string) error {
	b := &backoff.Backoff{Min: 500 * time.Millisecond, Max: cfg.MaxRetry, Factor: 2, Jitter: true}
	dialer := websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}
	for {
		conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
		if err == nil {
			b.Reset()
			obs.Info("client.connected", obs.Fields{"url": cfg.URL})
			err = converse(ctx, conn, lines, os.Stdout, cfg.ShowControls)
			if errors.Is(err, errInputDone) {
				return nil
			}
			obs.Info("client.disconnected", obs.Fields{"err": errString(err)})
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !cfg.Reconnect {
			return err
		}
		d := b.Duration()
		obs.Info("client.reconnect", obs.Fields{"attempt": int(b.Attempt()), "in": d.String(), "err": errString(err)})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
}

func deadline() time.Time { return time.Now().Add(time.Second) }

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
