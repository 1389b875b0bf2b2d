// Package sim is an in-memory implementation of the device capability.
// It backs unit tests and the "sim" runtime backend: frames can be
// injected into the receive queue, writes are captured, and individual
// operations can be scripted to fail with a given status.
package sim

import (
	"sync"
	"time"

	"github.com/canops/go-pcan-gateway/internal/codec"
	"github.com/canops/go-pcan-gateway/internal/device"
)

// Op names for failure scripting.
const (
	OpInitialize   = "initialize"
	OpUninitialize = "uninitialize"
	OpGetStatus    = "get_status"
	OpRead         = "read"
	OpWrite        = "write"
)

type queued struct {
	msg device.Msg
	ts  device.Timestamp
}

// Device is a simulated CAN adapter. The zero value is not usable; use
// New.
type Device struct {
	mu          sync.Mutex
	initialized bool
	epoch       time.Time
	queue       []queued
	written     []device.Msg
	failures    map[string]device.Status

	// now is a clock hook for tests.
	now func() time.Time
}

func New() *Device {
	return &Device{
		failures: make(map[string]device.Status),
		now:      time.Now,
	}
}

// Fail scripts op to return st. StatusOK clears the script.
func (d *Device) Fail(op string, st device.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st == device.StatusOK {
		delete(d.failures, op)
		return
	}
	d.failures[op] = st
}

func (d *Device) scripted(op string) (device.Status, bool) {
	st, ok := d.failures[op]
	return st, ok
}

// Inject queues a received message, timestamped from the initialize
// epoch. No-op before initialization.
func (d *Device) Inject(m device.Msg) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return
	}
	us := uint64(d.now().Sub(d.epoch).Microseconds())
	d.queue = append(d.queue, queued{msg: m, ts: codec.TimestampFromMicros(us)})
}

// InjectAt queues a received message with an explicit timestamp.
func (d *Device) InjectAt(m device.Msg, ts device.Timestamp) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, queued{msg: m, ts: ts})
}

// Written returns a copy of all captured writes.
func (d *Device) Written() []device.Msg {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]device.Msg, len(d.written))
	copy(out, d.written)
	return out
}

// Initialized reports the simulated driver state.
func (d *Device) Initialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized
}

func (d *Device) Initialize(h device.Handle, b device.Baudrate) device.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.scripted(OpInitialize); ok {
		return st
	}
	if d.initialized {
		return device.StatusInitialize
	}
	d.initialized = true
	d.epoch = d.now()
	d.queue = nil
	return device.StatusOK
}

func (d *Device) Uninitialize(h device.Handle) device.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.scripted(OpUninitialize); ok {
		return st
	}
	// Idempotent like the vendor driver: releasing a released channel
	// is OK.
	d.initialized = false
	d.queue = nil
	return device.StatusOK
}

func (d *Device) GetStatus(h device.Handle) device.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.scripted(OpGetStatus); ok {
		return st
	}
	if !d.initialized {
		return device.StatusInitialize
	}
	return device.StatusOK
}

func (d *Device) Read(h device.Handle) (device.Status, device.Msg, device.Timestamp) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.scripted(OpRead); ok {
		return st, device.Msg{}, device.Timestamp{}
	}
	if !d.initialized {
		return device.StatusInitialize, device.Msg{}, device.Timestamp{}
	}
	if len(d.queue) == 0 {
		return device.StatusQrcvEmpty, device.Msg{}, device.Timestamp{}
	}
	q := d.queue[0]
	d.queue = d.queue[1:]
	return device.StatusOK, q.msg, q.ts
}

func (d *Device) ReadFD(h device.Handle) (device.Status, device.MsgFD, device.TimestampFD) {
	// The simulator models a classic-only adapter.
	return device.StatusQrcvEmpty, device.MsgFD{}, 0
}

func (d *Device) Write(h device.Handle, m *device.Msg) device.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.scripted(OpWrite); ok {
		return st
	}
	if !d.initialized {
		return device.StatusInitialize
	}
	d.written = append(d.written, *m)
	return device.StatusOK
}

func (d *Device) WriteFD(h device.Handle, m *device.MsgFD) device.Status {
	return device.StatusIllOperation
}

func (d *Device) ErrorText(s device.Status) string { return device.StatusText(s) }
