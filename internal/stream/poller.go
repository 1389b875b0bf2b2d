package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/canops/go-pcan-gateway/internal/channel"
	"github.com/canops/go-pcan-gateway/internal/metrics"
	"github.com/canops/go-pcan-gateway/internal/wire"
)

const (
	pollBackoffMin = 20 * time.Millisecond
	pollBackoffMax = 500 * time.Millisecond
)

// sleepFn allows tests to intercept backoff sleeps. The default wakes
// early on context cancellation so shutdown never waits out a backoff.
var sleepFn = func(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// StartPoller polls the channel session's receive queue and broadcasts
// every frame to the hub. The read contract is poll-based, so this is
// the only place the gateway loops on the device; interval sets the
// idle poll cadence. While the channel is uninitialized the poller
// idles at the maximum backoff.
func StartPoller(ctx context.Context, sess *channel.Session, h *Hub, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		interval = time.Millisecond
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("stream_poller_end")
		backoff := pollBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			res, err := sess.Read()
			switch {
			case errors.Is(err, channel.ErrNotInitialized):
				sleepFn(ctx, pollBackoffMax)
			case err != nil:
				metrics.IncDeviceError(metrics.OpStreamRead)
				l.Warn("stream_poll_error", "error", err, "backoff", backoff)
				sleepFn(ctx, backoff)
				backoff *= 2
				if backoff > pollBackoffMax {
					backoff = pollBackoffMax
				}
			case res.Empty:
				sleepFn(ctx, interval)
				backoff = pollBackoffMin
			default:
				h.Broadcast(wire.Record{TimestampUS: res.TimestampUS, Frame: res.Frame})
				backoff = pollBackoffMin
			}
		}
	}()
}
