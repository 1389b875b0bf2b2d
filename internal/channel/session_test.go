package channel

import (
	"errors"
	"strings"
	"testing"

	"github.com/canops/go-pcan-gateway/internal/codec"
	"github.com/canops/go-pcan-gateway/internal/device"
)

// fakeDevice scripts capability behavior and records the call sequence.
type fakeDevice struct {
	initStatus   device.Status
	uninitStatus device.Status
	getStatus    device.Status
	readStatus   device.Status
	writeStatus  device.Status
	readMsg      device.Msg
	readTS       device.Timestamp
	calls        []string
	lastHandle   device.Handle
	lastBaud     device.Baudrate
	written      []device.Msg
}

func (d *fakeDevice) Initialize(h device.Handle, b device.Baudrate) device.Status {
	d.calls = append(d.calls, "init")
	d.lastHandle, d.lastBaud = h, b
	return d.initStatus
}

func (d *fakeDevice) Uninitialize(h device.Handle) device.Status {
	d.calls = append(d.calls, "uninit")
	return d.uninitStatus
}

func (d *fakeDevice) GetStatus(h device.Handle) device.Status {
	d.calls = append(d.calls, "status")
	return d.getStatus
}

func (d *fakeDevice) Read(h device.Handle) (device.Status, device.Msg, device.Timestamp) {
	d.calls = append(d.calls, "read")
	return d.readStatus, d.readMsg, d.readTS
}

func (d *fakeDevice) ReadFD(h device.Handle) (device.Status, device.MsgFD, device.TimestampFD) {
	d.calls = append(d.calls, "readfd")
	return device.StatusQrcvEmpty, device.MsgFD{}, 0
}

func (d *fakeDevice) Write(h device.Handle, m *device.Msg) device.Status {
	d.calls = append(d.calls, "write")
	d.written = append(d.written, *m)
	return d.writeStatus
}

func (d *fakeDevice) WriteFD(h device.Handle, m *device.MsgFD) device.Status {
	d.calls = append(d.calls, "writefd")
	return d.writeStatus
}

func (d *fakeDevice) ErrorText(s device.Status) string { return device.StatusText(s) }

func newReadySession(t *testing.T, d *fakeDevice) *Session {
	t.Helper()
	s := NewSession(d, nil)
	if _, err := s.Initialize(Config{Channel: "PCAN_USBBUS1", Baudrate: "PCAN_BAUD_500K"}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return s
}

func TestInitialize_ResolvesSymbolicNames(t *testing.T) {
	d := &fakeDevice{}
	s := NewSession(d, nil)
	res, err := s.Initialize(Config{Channel: "PCAN_USBBUS2", Baudrate: "PCAN_BAUD_250K"})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if res.Handle != device.USBBus2 || res.Baudrate != device.Baud250K {
		t.Fatalf("resolved: %+v", res)
	}
	if d.lastHandle != device.USBBus2 || d.lastBaud != device.Baud250K {
		t.Fatalf("device saw %v/%v", d.lastHandle, d.lastBaud)
	}
	if !s.Ready() {
		t.Fatal("expected Ready after initialize")
	}
}

func TestInitialize_UnknownNamesFallBack(t *testing.T) {
	d := &fakeDevice{}
	s := NewSession(d, nil)
	res, err := s.Initialize(Config{Channel: "PCAN_NOPE", Baudrate: "bogus"})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if res.Handle != device.USBBus1 || res.Baudrate != device.Baud500K {
		t.Fatalf("fallback: %+v", res)
	}
}

func TestInitialize_FDNotImplemented(t *testing.T) {
	d := &fakeDevice{}
	s := NewSession(d, nil)
	_, err := s.Initialize(Config{Channel: "PCAN_USBBUS1", Baudrate: "PCAN_BAUD_1M", FD: true})
	if !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("got %v want ErrNotImplemented", err)
	}
	if len(d.calls) != 0 {
		t.Fatalf("device must not be touched, saw %v", d.calls)
	}
	if s.Ready() {
		t.Fatal("session must stay uninitialized")
	}
}

func TestInitialize_DeviceFailureSurfacesText(t *testing.T) {
	d := &fakeDevice{initStatus: device.StatusNoDriver}
	s := NewSession(d, nil)
	_, err := s.Initialize(Config{})
	if !errors.Is(err, ErrDevice) {
		t.Fatalf("got %v want ErrDevice", err)
	}
	if !strings.Contains(err.Error(), "Driver not loaded") {
		t.Fatalf("missing decoded text: %v", err)
	}
	if s.Ready() {
		t.Fatal("failed initialize must leave session down")
	}
}

func TestInitialize_ReinitReleasesFirst(t *testing.T) {
	d := &fakeDevice{}
	s := newReadySession(t, d)
	if _, err := s.Initialize(Config{Channel: "PCAN_USBBUS3"}); err != nil {
		t.Fatalf("reinit: %v", err)
	}
	want := []string{"init", "uninit", "init"}
	if len(d.calls) != 3 || d.calls[0] != want[0] || d.calls[1] != want[1] || d.calls[2] != want[2] {
		t.Fatalf("call sequence %v want %v", d.calls, want)
	}
}

func TestReadWrite_GuardedWhenUninitialized(t *testing.T) {
	d := &fakeDevice{}
	s := NewSession(d, nil)
	if _, err := s.Read(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("read: got %v", err)
	}
	if err := s.Write(codec.TxRequest{IDHex: "100"}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("write: got %v", err)
	}
	// The guard must fire before any device interaction.
	if len(d.calls) != 0 {
		t.Fatalf("device touched while uninitialized: %v", d.calls)
	}
}

func TestRead_EmptyQueue(t *testing.T) {
	d := &fakeDevice{readStatus: device.StatusQrcvEmpty}
	s := newReadySession(t, d)
	res, err := s.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !res.Empty {
		t.Fatal("expected Empty result")
	}
}

func TestRead_DecodesFrameAndTimestamp(t *testing.T) {
	d := &fakeDevice{
		readMsg: device.Msg{ID: 0x1FF, Type: device.MsgStandard, LEN: 3, Data: [8]byte{0xDE, 0xAD, 0xBE}},
		readTS:  device.Timestamp{Millis: 2, Micros: 500},
	}
	s := newReadySession(t, d)
	res, err := s.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if res.Empty || res.Frame.ID != 0x1FF || res.Frame.Len != 3 {
		t.Fatalf("result: %+v", res)
	}
	if res.TimestampUS != 2500 {
		t.Fatalf("timestamp %d want 2500", res.TimestampUS)
	}
}

func TestRead_DeviceError(t *testing.T) {
	d := &fakeDevice{readStatus: device.StatusBusOff}
	s := newReadySession(t, d)
	_, err := s.Read()
	if !errors.Is(err, ErrDevice) || !strings.Contains(err.Error(), "bus-off") {
		t.Fatalf("got %v", err)
	}
}

func TestWrite_EncodesRequest(t *testing.T) {
	d := &fakeDevice{}
	s := newReadySession(t, d)
	if err := s.Write(codec.TxRequest{IDHex: "1ff", Data: []byte{1, 2}, Extended: false}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(d.written) != 1 {
		t.Fatalf("writes: %d", len(d.written))
	}
	m := d.written[0]
	if m.ID != 0x1FF || m.LEN != 2 || m.Data[1] != 2 {
		t.Fatalf("msg: %+v", m)
	}
}

func TestWrite_InvalidFormat(t *testing.T) {
	d := &fakeDevice{}
	s := newReadySession(t, d)
	err := s.Write(codec.TxRequest{IDHex: "1FF", Data: make([]byte, 9)})
	if !errors.Is(err, codec.ErrInvalidFormat) {
		t.Fatalf("got %v want ErrInvalidFormat", err)
	}
	if len(d.written) != 0 {
		t.Fatal("invalid request must not reach the device")
	}
}

func TestRelease_Idempotent(t *testing.T) {
	d := &fakeDevice{}
	s := newReadySession(t, d)
	if err := s.Release(); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := s.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if s.Ready() {
		t.Fatal("session must be down after release")
	}
}

func TestRelease_DeviceErrorSurfaced(t *testing.T) {
	d := &fakeDevice{uninitStatus: device.StatusIllHw}
	s := newReadySession(t, d)
	if err := s.Release(); !errors.Is(err, ErrDevice) {
		t.Fatalf("got %v want ErrDevice", err)
	}
}

func TestStatus_Formatting(t *testing.T) {
	d := &fakeDevice{getStatus: device.StatusQrcvEmpty}
	s := newReadySession(t, d)
	rep := s.Status()
	if rep.CodeString() != "00020h" {
		t.Fatalf("code %q want 00020h", rep.CodeString())
	}
	if rep.Text != "Receive queue is empty" {
		t.Fatalf("text %q", rep.Text)
	}
}

func TestClose_BestEffort(t *testing.T) {
	d := &fakeDevice{uninitStatus: device.StatusIllHw}
	s := newReadySession(t, d)
	s.Close() // must swallow the device error
	d2 := &fakeDevice{}
	s2 := NewSession(d2, nil)
	s2.Close() // uninitialized: must not touch the device
	if len(d2.calls) != 0 {
		t.Fatalf("device touched: %v", d2.calls)
	}
}

func TestResolveTables(t *testing.T) {
	if ResolveChannel("PCAN_LANBUS2") != device.LANBus2 {
		t.Fatal("LANBUS2 lookup failed")
	}
	if ResolveChannel("") != device.USBBus1 {
		t.Fatal("empty name must fall back")
	}
	if ResolveBaudrate("PCAN_BAUD_125K") != device.Baud125K {
		t.Fatal("125K lookup failed")
	}
	if ResolveBaudrate("globals()") != device.Baud500K {
		t.Fatal("unknown name must fall back")
	}
}
