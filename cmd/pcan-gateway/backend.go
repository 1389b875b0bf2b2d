package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/canops/go-pcan-gateway/internal/device"
	"github.com/canops/go-pcan-gateway/internal/sim"
	"github.com/canops/go-pcan-gateway/internal/slcan"
	"github.com/canops/go-pcan-gateway/internal/socketcan"
)

// openSerialPort is a hook for tests (overridden in unit tests).
var openSerialPort = slcan.Open

// initDevice selects and prepares the adapter backend. The returned
// cleanup releases backend resources; the channel session itself is
// released separately on shutdown.
func initDevice(ctx context.Context, cfg *appConfig, l *slog.Logger, wg *sync.WaitGroup) (device.Device, func(), error) {
	switch cfg.backend {
	case "sim":
		d := sim.New()
		if cfg.simTires > 0 {
			sim.StartGenerator(ctx, d, cfg.simTires, cfg.simInterval, wg)
			l.Info("sim_generator", "tires", cfg.simTires, "interval", cfg.simInterval)
		}
		return d, func() {}, nil
	case "slcan":
		sp, err := openSerialPort(cfg.serialDev, cfg.serialBaud, cfg.serialReadTO)
		if err != nil {
			return nil, func() {}, fmt.Errorf("open serial: %w", err)
		}
		l.Info("serial_open", "device", cfg.serialDev, "baud", cfg.serialBaud)
		d := slcan.NewDevice(sp)
		return d, func() { _ = d.Close() }, nil
	case "socketcan":
		l.Info("socketcan_backend", "iface", cfg.canIf)
		return socketcan.New(cfg.canIf), func() {}, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown backend %q (use sim|slcan|socketcan)", cfg.backend)
	}
}
