// Package relay forwards frames between the two legs of a connection pair and
// tears the pair down as soon as either direction stops.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jpillora/sizestr"

	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/obs"
)

// Direction labels used in logs and metrics.
const (
	ClientToUpstream = "client_to_upstream"
	UpstreamToClient = "upstream_to_client"
)

// Run relays frames between client and upstream until either loop ends or ctx
// is cancelled, then closes both legs exactly once and waits for both loops.
// A clean close from either side, or ctx cancellation, returns nil; anything
// else is wrapped in ErrRelay.
func Run(ctx context.Context, pairID string, client, upstream Leg) error {
	start := time.Now()
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
		sent     int64
		received int64
	)
	done := make(chan struct{})
	closeBoth := func(err error) {
		once.Do(func() {
			firstErr = err
			close(done)
			_ = client.Close()
			_ = upstream.Close()
		})
	}
	pump := func(dir string, src, dst Leg, n *int64) {
		defer wg.Done()
		closeBoth(forward(pairID, dir, src, dst, n))
	}

	wg.Add(2)
	go pump(ClientToUpstream, client, upstream, &sent)
	go pump(UpstreamToClient, upstream, client, &received)
	go func() {
		select {
		case <-ctx.Done():
			closeBoth(ctx.Err())
		case <-done:
		}
	}()
	wg.Wait()
	obs.PairDurationSeconds.Observe(time.Since(start).Seconds())
	obs.Debug("pair.totals", obs.Fields{"pair": pairID, "sent": sizestr.ToString(sent), "received": sizestr.ToString(received)})

	switch {
	case firstErr == nil, errors.Is(firstErr, io.EOF):
		return nil
	case errors.Is(firstErr, context.Canceled), errors.Is(firstErr, context.DeadlineExceeded):
		obs.Debug("pair.cancelled", obs.Fields{"pair": pairID})
		return nil
	}
	return fmt.Errorf("%w: %w", ErrRelay, firstErr)
}

// forward copies frames from src to dst in order, dropping control frames.
// Forwarded payload bytes are added to n, which only this loop writes.
func forward(pairID, dir string, src, dst Leg, n *int64) error {
	for {
		f, err := src.ReadFrame()
		if err != nil {
			return fmt.Errorf("%s read: %w", dir, err)
		}
		if !f.Forwardable() {
			obs.ControlDropped.WithLabelValues(dir).Inc()
			continue
		}
		if err := dst.WriteFrame(f); err != nil {
			return fmt.Errorf("%s write: %w", dir, err)
		}
		*n += int64(len(f.Payload))
		obs.FramesForwarded.WithLabelValues(dir, f.Kind.String()).Inc()
		obs.BytesForwarded.WithLabelValues(dir).Add(float64(len(f.Payload)))
		obs.Debug("frame.forward", obs.Fields{"pair": pairID, "dir": dir, "kind": f.Kind.String(), "bytes": len(f.Payload)})
	}
}
