package slcan

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/canops/go-pcan-gateway/internal/can"
	"github.com/canops/go-pcan-gateway/internal/codec"
	"github.com/canops/go-pcan-gateway/internal/device"
	"github.com/canops/go-pcan-gateway/internal/logging"
	"github.com/canops/go-pcan-gateway/internal/metrics"
)

// bitrateCommands maps BTR0/BTR1 codes to the SLCAN Sn setup command.
// SLCAN has no 5 kbit/s setting.
var bitrateCommands = map[device.Baudrate]string{
	device.Baud10K:  "S0",
	device.Baud20K:  "S1",
	device.Baud50K:  "S2",
	device.Baud100K: "S3",
	device.Baud125K: "S4",
	device.Baud250K: "S5",
	device.Baud500K: "S6",
	device.Baud800K: "S7",
	device.Baud1M:   "S8",
}

type rxRecord struct {
	frame can.Frame
	ts    device.Timestamp
}

// Device adapts an SLCAN serial adapter to the Device contract. The
// adapter cannot timestamp frames, so receive timestamps are taken
// from the local clock at decode time, measured from Initialize.
type Device struct {
	mu     sync.Mutex
	port   Port
	codec  Codec
	open   bool
	epoch  time.Time
	rx     chan rxRecord
	readWG sync.WaitGroup

	// now is a clock hook for tests.
	now func() time.Time
}

// NewDevice wraps an already-opened serial port.
func NewDevice(p Port) *Device {
	return &Device{port: p, rx: make(chan rxRecord, 1024), now: time.Now}
}

func (d *Device) command(cmd string) error {
	_, err := d.port.Write([]byte(cmd + "\r"))
	return err
}

// Initialize configures the bit rate and opens the adapter channel.
// The handle is ignored; an SLCAN device is bound to its serial port.
func (d *Device) Initialize(_ device.Handle, baud device.Baudrate) device.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return device.StatusInitialize
	}
	cmd, ok := bitrateCommands[baud]
	if !ok {
		return device.StatusIllParamVal
	}
	// Close first in case the adapter was left open by a previous run.
	_ = d.command("C")
	if err := d.command(cmd); err != nil {
		logging.L().Error("slcan_setup_error", "error", err)
		return device.StatusNoDriver
	}
	if err := d.command("O"); err != nil {
		logging.L().Error("slcan_open_error", "error", err)
		return device.StatusNoDriver
	}
	d.open = true
	d.epoch = d.now()
	d.readWG.Add(1)
	go d.readLoop()
	return device.StatusOK
}

// Uninitialize closes the adapter channel. Safe to call when the
// channel was never opened.
func (d *Device) Uninitialize(_ device.Handle) device.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return device.StatusOK
	}
	d.open = false
	_ = d.command("C")
	return device.StatusOK
}

func (d *Device) GetStatus(_ device.Handle) device.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return device.StatusInitialize
	}
	return device.StatusOK
}

// Read pops one received frame, never blocking.
func (d *Device) Read(_ device.Handle) (device.Status, device.Msg, device.Timestamp) {
	select {
	case rec := <-d.rx:
		m := device.Msg{ID: rec.frame.ID, LEN: rec.frame.Len}
		copy(m.Data[:], rec.frame.Data[:rec.frame.Len])
		if rec.frame.Extended {
			m.Type |= device.MsgExtended
		}
		if rec.frame.RTR {
			m.Type |= device.MsgRTR
		}
		return device.StatusOK, m, rec.ts
	default:
		return device.StatusQrcvEmpty, device.Msg{}, device.Timestamp{}
	}
}

// ReadFD is not supported: SLCAN adapters here are classic-only.
func (d *Device) ReadFD(_ device.Handle) (device.Status, device.MsgFD, device.TimestampFD) {
	return device.StatusIllOperation, device.MsgFD{}, 0
}

func (d *Device) Write(_ device.Handle, m *device.Msg) device.Status {
	d.mu.Lock()
	open := d.open
	d.mu.Unlock()
	if !open {
		return device.StatusInitialize
	}
	fr := can.Frame{ID: m.ID, Len: m.LEN}
	copy(fr.Data[:], m.Data[:m.LEN])
	fr.Extended = m.Type&device.MsgExtended != 0
	fr.RTR = m.Type&device.MsgRTR != 0
	if _, err := d.port.Write(d.codec.Encode(fr)); err != nil {
		metrics.IncDeviceError(metrics.OpSerialWrite)
		logging.L().Error("slcan_write_error", "error", err)
		return device.StatusNoDriver
	}
	return device.StatusOK
}

func (d *Device) WriteFD(_ device.Handle, _ *device.MsgFD) device.Status {
	return device.StatusIllOperation
}

func (d *Device) ErrorText(s device.Status) string { return device.StatusText(s) }

// Close releases the serial port. The read loop exits once the port
// read fails.
func (d *Device) Close() error {
	_ = d.Uninitialize(0)
	err := d.port.Close()
	d.readWG.Wait()
	return err
}

func (d *Device) readLoop() {
	defer d.readWG.Done()
	var acc bytes.Buffer
	buf := make([]byte, 256)
	for {
		n, err := d.port.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			// tarm/serial read timeout; poll again.
			continue
		}
		_, _ = acc.Write(buf[:n])
		ts := codec.TimestampFromMicros(uint64(d.now().Sub(d.epoch).Microseconds()))
		if err := d.codec.DecodeStream(&acc, func(fr can.Frame) {
			select {
			case d.rx <- rxRecord{frame: fr, ts: ts}:
			default:
				metrics.IncDeviceError(metrics.OpSerialRead)
				logging.L().Warn("slcan_rx_overrun", "can_id", fmt.Sprintf("0x%X", fr.ID))
			}
		}); err != nil {
			return
		}
	}
}
