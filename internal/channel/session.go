// Package channel owns the adapter connection state machine: it
// validates configuration, resolves symbolic names, sequences the
// device capability calls and guards read/write against an
// uninitialized channel.
package channel

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/canops/go-pcan-gateway/internal/can"
	"github.com/canops/go-pcan-gateway/internal/codec"
	"github.com/canops/go-pcan-gateway/internal/device"
	"github.com/canops/go-pcan-gateway/internal/logging"
	"github.com/canops/go-pcan-gateway/internal/metrics"
)

// Config is the caller-facing channel configuration. Channel and
// Baudrate are symbolic names resolved against the closed tables in
// resolve.go; unknown names fall back to USB bus 1 at 500 kbit/s.
type Config struct {
	Channel  string
	Baudrate string
	FD       bool
}

// InitResult reports what an Initialize call resolved and applied.
type InitResult struct {
	Handle   device.Handle
	Baudrate device.Baudrate
}

// ReadResult is one poll of the receive queue. Empty means the queue
// had nothing; Frame and TimestampUS are then meaningless.
type ReadResult struct {
	Frame       can.Frame
	TimestampUS uint64
	Empty       bool
}

// StatusReport is a point-in-time adapter status query.
type StatusReport struct {
	Code device.Status
	Text string
}

// CodeString renders the raw status as fixed-width hex, e.g. "00020h".
func (r StatusReport) CodeString() string { return fmt.Sprintf("%05Xh", uint32(r.Code)) }

// Session is the owned state for one adapter channel. Exactly one
// configuration is active at a time; a mutex serializes every device
// interaction because CAN adapters are singleton resources.
type Session struct {
	mu     sync.Mutex
	dev    device.Device
	log    *slog.Logger
	handle device.Handle
	baud   device.Baudrate
	fd     bool
	ready  bool
}

// NewSession wraps a device capability. The session starts
// Uninitialized.
func NewSession(dev device.Device, log *slog.Logger) *Session {
	if log == nil {
		log = logging.L()
	}
	return &Session{dev: dev, log: log, handle: device.USBBus1}
}

// Initialize resolves cfg and brings the channel to Ready. An FD
// configuration is rejected with ErrNotImplemented: building the FD
// bit-rate string is an open gap, not supported here. Re-initializing
// a Ready channel releases the previous initialization first so the
// driver never holds two.
func (s *Session) Initialize(cfg Config) (InitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.FD {
		return InitResult{}, fmt.Errorf("%w: CAN-FD initialization requires a bit-rate string", ErrNotImplemented)
	}

	h := ResolveChannel(cfg.Channel)
	b := ResolveBaudrate(cfg.Baudrate)

	if s.ready {
		if st := s.dev.Uninitialize(s.handle); st != device.StatusOK {
			s.log.Warn("reinit_release_failed", "status", st, "text", s.dev.ErrorText(st))
		}
		s.ready = false
	}

	s.log.Info("channel_initialize", "handle", fmt.Sprintf("%02Xh", uint16(h)), "baudrate", fmt.Sprintf("%04Xh", uint16(b)), "fd", cfg.FD)
	if st := s.dev.Initialize(h, b); st != device.StatusOK {
		metrics.IncDeviceError(metrics.OpInitialize)
		return InitResult{}, devErr(s.dev, st)
	}
	s.handle = h
	s.baud = b
	s.fd = false
	s.ready = true
	return InitResult{Handle: h, Baudrate: b}, nil
}

// Release uninitializes the channel. Idempotent at this level: calling
// it on an already-released channel just forwards to the device, whose
// uninitialize is expected to no-op. A device error is surfaced, never
// a crash.
func (s *Session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.dev.Uninitialize(s.handle); st != device.StatusOK {
		metrics.IncDeviceError(metrics.OpUninitialize)
		return devErr(s.dev, st)
	}
	s.ready = false
	s.log.Info("channel_released", "handle", fmt.Sprintf("%02Xh", uint16(s.handle)))
	return nil
}

// Status queries the adapter status. Pure query, no state mutation.
func (s *Session) Status() StatusReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.dev.GetStatus(s.handle)
	return StatusReport{Code: st, Text: s.dev.ErrorText(st)}
}

// Ready reports whether the channel is initialized.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// FD reports whether the active configuration is FD-mode.
func (s *Session) FD() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fd
}

// Read polls the receive queue once. Never blocks: an empty queue
// returns a ReadResult with Empty set. Rejected with ErrNotInitialized
// while the channel is down; the device is never touched in that case.
func (s *Session) Read() (ReadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return ReadResult{}, ErrNotInitialized
	}
	if s.fd {
		st, m, ts := s.dev.ReadFD(s.handle)
		if st == device.StatusQrcvEmpty {
			metrics.IncEmptyPoll()
			return ReadResult{Empty: true}, nil
		}
		if st != device.StatusOK {
			metrics.IncDeviceError(metrics.OpRead)
			return ReadResult{}, devErr(s.dev, st)
		}
		fr, us := codec.FrameFromMsgFD(m, ts)
		metrics.IncDeviceRx()
		return ReadResult{Frame: fr, TimestampUS: us}, nil
	}
	st, m, ts := s.dev.Read(s.handle)
	if st == device.StatusQrcvEmpty {
		metrics.IncEmptyPoll()
		return ReadResult{Empty: true}, nil
	}
	if st != device.StatusOK {
		metrics.IncDeviceError(metrics.OpRead)
		return ReadResult{}, devErr(s.dev, st)
	}
	fr, us := codec.FrameFromMsg(m, ts)
	metrics.IncDeviceRx()
	return ReadResult{Frame: fr, TimestampUS: us}, nil
}

// Write parses a transmit request and sends it on the bus. Rejected
// with ErrNotInitialized while the channel is down.
func (s *Session) Write(req codec.TxRequest) error {
	s.mu.Lock()
	fd := s.fd
	s.mu.Unlock()
	fr, err := codec.ParseRequest(req, fd)
	if err != nil {
		return err
	}
	return s.WriteFrame(fr)
}

// WriteFrame sends an already-built frame. Used by the stream path
// where frames arrive in binary form.
func (s *Session) WriteFrame(fr can.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return ErrNotInitialized
	}
	if s.fd {
		m, err := codec.MsgFDFromFrame(fr)
		if err != nil {
			return err
		}
		if st := s.dev.WriteFD(s.handle, &m); st != device.StatusOK {
			metrics.IncDeviceError(metrics.OpWrite)
			return devErr(s.dev, st)
		}
	} else {
		m, err := codec.MsgFromFrame(fr)
		if err != nil {
			return err
		}
		if st := s.dev.Write(s.handle, &m); st != device.StatusOK {
			metrics.IncDeviceError(metrics.OpWrite)
			return devErr(s.dev, st)
		}
	}
	metrics.IncDeviceTx()
	return nil
}

// Close releases the channel best-effort, swallowing any device error.
// Deferred by main so the adapter is never left initialized when the
// process exits.
func (s *Session) Close() {
	s.mu.Lock()
	wasReady := s.ready
	s.mu.Unlock()
	if !wasReady {
		return
	}
	s.log.Info("releasing_channel_on_exit")
	if err := s.Release(); err != nil {
		s.log.Warn("exit_release_failed", "error", err)
	}
}
