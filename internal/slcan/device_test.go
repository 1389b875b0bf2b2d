package slcan

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/canops/go-pcan-gateway/internal/channel"
	"github.com/canops/go-pcan-gateway/internal/codec"
	"github.com/canops/go-pcan-gateway/internal/device"
	"github.com/canops/go-pcan-gateway/internal/logging"
	"github.com/canops/go-pcan-gateway/internal/metrics"
)

// fakePort is an in-memory serial port. Reads drain a feed buffer and
// report a zero-byte timeout when it is empty, like tarm/serial with a
// ReadTimeout set.
type fakePort struct {
	mu     sync.Mutex
	feed   bytes.Buffer
	wrote  bytes.Buffer
	closed bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, errors.New("port closed")
	}
	n, _ := p.feed.Read(b)
	p.mu.Unlock()
	if n == 0 {
		time.Sleep(time.Millisecond)
	}
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("port closed")
	}
	return p.wrote.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) inject(s string) {
	p.mu.Lock()
	p.feed.WriteString(s)
	p.mu.Unlock()
}

func (p *fakePort) written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wrote.String()
}

func TestDeviceInitializeSendsSetup(t *testing.T) {
	p := &fakePort{}
	d := NewDevice(p)
	defer d.Close()
	if st := d.Initialize(device.USBBus1, device.Baud500K); st != device.StatusOK {
		t.Fatalf("Initialize = %v", st)
	}
	if got, want := p.written(), "C\rS6\rO\r"; got != want {
		t.Fatalf("setup commands = %q, want %q", got, want)
	}
	if st := d.Initialize(device.USBBus1, device.Baud500K); st != device.StatusInitialize {
		t.Fatalf("double Initialize = %v, want StatusInitialize", st)
	}
}

func TestDeviceInitializeUnknownBitrate(t *testing.T) {
	p := &fakePort{}
	d := NewDevice(p)
	defer d.Close()
	if st := d.Initialize(device.USBBus1, device.Baud5K); st != device.StatusIllParamVal {
		t.Fatalf("Initialize(5K) = %v, want StatusIllParamVal", st)
	}
	if strings.Contains(p.written(), "O\r") {
		t.Fatal("channel must not be opened for an unsupported bit rate")
	}
}

func TestDeviceReadReceivedFrame(t *testing.T) {
	p := &fakePort{}
	d := NewDevice(p)
	defer d.Close()
	if st := d.Initialize(device.USBBus1, device.Baud500K); st != device.StatusOK {
		t.Fatalf("Initialize = %v", st)
	}
	p.inject("t1232AA55\r")

	deadline := time.Now().Add(2 * time.Second)
	for {
		st, m, _ := d.Read(device.USBBus1)
		if st == device.StatusOK {
			if m.ID != 0x123 || m.LEN != 2 || m.Data[0] != 0xAA || m.Data[1] != 0x55 {
				t.Fatalf("msg = %+v", m)
			}
			if m.Type&device.MsgExtended != 0 {
				t.Fatal("standard frame flagged extended")
			}
			return
		}
		if st != device.StatusQrcvEmpty {
			t.Fatalf("Read = %v", st)
		}
		if time.Now().After(deadline) {
			t.Fatal("frame never arrived")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDeviceWriteEncodesFrame(t *testing.T) {
	p := &fakePort{}
	d := NewDevice(p)
	defer d.Close()
	if st := d.Initialize(device.USBBus1, device.Baud500K); st != device.StatusOK {
		t.Fatalf("Initialize = %v", st)
	}
	m := device.Msg{ID: 0x1ABCDEF0, Type: device.MsgExtended, LEN: 1}
	m.Data[0] = 0x7E
	if st := d.Write(device.USBBus1, &m); st != device.StatusOK {
		t.Fatalf("Write = %v", st)
	}
	if got := p.written(); !strings.HasSuffix(got, "T1ABCDEF017E\r") {
		t.Fatalf("written = %q", got)
	}
}

func TestDeviceWriteBeforeInitialize(t *testing.T) {
	p := &fakePort{}
	d := NewDevice(p)
	m := device.Msg{ID: 1, LEN: 0}
	if st := d.Write(device.USBBus1, &m); st != device.StatusInitialize {
		t.Fatalf("Write = %v, want StatusInitialize", st)
	}
}

func TestDeviceUninitializeClosesChannel(t *testing.T) {
	p := &fakePort{}
	d := NewDevice(p)
	defer d.Close()
	if st := d.Initialize(device.USBBus1, device.Baud500K); st != device.StatusOK {
		t.Fatalf("Initialize = %v", st)
	}
	if st := d.Uninitialize(device.USBBus1); st != device.StatusOK {
		t.Fatalf("Uninitialize = %v", st)
	}
	if got := p.written(); !strings.HasSuffix(got, "C\r") {
		t.Fatalf("written = %q, want trailing close command", got)
	}
	// Idempotent.
	if st := d.Uninitialize(device.USBBus1); st != device.StatusOK {
		t.Fatalf("second Uninitialize = %v", st)
	}
	if st := d.GetStatus(device.USBBus1); st != device.StatusInitialize {
		t.Fatalf("GetStatus after close = %v, want StatusInitialize", st)
	}
}

func TestFrameMetricsCountedOncePerFrame(t *testing.T) {
	p := &fakePort{}
	d := NewDevice(p)
	defer d.Close()
	sess := channel.NewSession(d, logging.L())
	if _, err := sess.Initialize(channel.Config{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	before := metrics.Snap()
	p.inject("t1232AA55\r")
	deadline := time.Now().Add(2 * time.Second)
	for {
		res, err := sess.Read()
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if !res.Empty {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("frame never arrived")
		}
		time.Sleep(time.Millisecond)
	}
	if err := sess.Write(codec.TxRequest{IDHex: "100", Data: []byte{1}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	after := metrics.Snap()
	// The session is the only layer counting frames; a backend that
	// also counted would report 2 here.
	if got := after.DeviceRx - before.DeviceRx; got != 1 {
		t.Fatalf("DeviceRx delta = %d, want 1", got)
	}
	if got := after.DeviceTx - before.DeviceTx; got != 1 {
		t.Fatalf("DeviceTx delta = %d, want 1", got)
	}
}

func TestDeviceFDNotSupported(t *testing.T) {
	p := &fakePort{}
	d := NewDevice(p)
	defer d.Close()
	if st, _, _ := d.ReadFD(device.USBBus1); st != device.StatusIllOperation {
		t.Fatalf("ReadFD = %v, want StatusIllOperation", st)
	}
	var m device.MsgFD
	if st := d.WriteFD(device.USBBus1, &m); st != device.StatusIllOperation {
		t.Fatalf("WriteFD = %v, want StatusIllOperation", st)
	}
}
