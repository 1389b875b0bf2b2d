package main

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/canops/go-pcan-gateway/internal/device"
	"github.com/canops/go-pcan-gateway/internal/logging"
	"github.com/canops/go-pcan-gateway/internal/slcan"
)

// fakeSerialPort implements slcan.Port for tests.
type fakeSerialPort struct {
	mu    sync.Mutex
	wrote []byte
}

func (f *fakeSerialPort) Read(p []byte) (int, error) {
	time.Sleep(10 * time.Millisecond)
	return 0, io.EOF
}

func (f *fakeSerialPort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wrote = append(f.wrote, p...)
	return len(p), nil
}

func (f *fakeSerialPort) Close() error { return nil }

func TestInitDeviceSim(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	cfg := validConfig()
	cfg.simTires = 0 // generator off

	dev, cleanup, err := initDevice(ctx, cfg, logging.L(), &wg)
	if err != nil {
		t.Fatalf("initDevice: %v", err)
	}
	defer cleanup()
	if st := dev.Initialize(device.USBBus1, device.Baud500K); st != device.StatusOK {
		t.Fatalf("Initialize = %v", st)
	}
	if st := dev.Uninitialize(device.USBBus1); st != device.StatusOK {
		t.Fatalf("Uninitialize = %v", st)
	}
	cancel()
	wg.Wait()
}

func TestInitDeviceSlcan(t *testing.T) {
	orig := openSerialPort
	port := &fakeSerialPort{}
	openSerialPort = func(name string, baud int, to time.Duration) (slcan.Port, error) {
		return port, nil
	}
	t.Cleanup(func() { openSerialPort = orig })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	cfg := validConfig()
	cfg.backend = "slcan"

	dev, cleanup, err := initDevice(ctx, cfg, logging.L(), &wg)
	if err != nil {
		t.Fatalf("initDevice: %v", err)
	}
	if st := dev.Initialize(device.USBBus1, device.Baud500K); st != device.StatusOK {
		t.Fatalf("Initialize = %v", st)
	}
	cleanup()
}

func TestInitDeviceSlcanOpenError(t *testing.T) {
	orig := openSerialPort
	openSerialPort = func(name string, baud int, to time.Duration) (slcan.Port, error) {
		return nil, errors.New("no such device")
	}
	t.Cleanup(func() { openSerialPort = orig })

	var wg sync.WaitGroup
	cfg := validConfig()
	cfg.backend = "slcan"
	if _, _, err := initDevice(context.Background(), cfg, logging.L(), &wg); err == nil {
		t.Fatal("expected open error")
	}
}

func TestInitDeviceUnknownBackend(t *testing.T) {
	var wg sync.WaitGroup
	cfg := validConfig()
	cfg.backend = "bogus"
	if _, _, err := initDevice(context.Background(), cfg, logging.L(), &wg); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
