package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/canops/go-pcan-gateway/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"device_rx", snap.DeviceRx,
					"device_tx", snap.DeviceTx,
					"empty_polls", snap.EmptyPolls,
					"device_errors", snap.DeviceErrors,
					"http_requests", snap.HTTPRequests,
					"tpms_readings", snap.TpmsReadings,
					"stream_rx", snap.StreamRx,
					"stream_tx", snap.StreamTx,
					"hub_drops", snap.HubDrops,
					"stream_clients", snap.StreamClients,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
