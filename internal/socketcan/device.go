//go:build linux

package socketcan

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/canops/go-pcan-gateway/internal/can"
	"github.com/canops/go-pcan-gateway/internal/codec"
	"github.com/canops/go-pcan-gateway/internal/device"
	"github.com/canops/go-pcan-gateway/internal/logging"
	"github.com/canops/go-pcan-gateway/internal/metrics"
)

// Device exposes a Linux SocketCAN interface through the Device
// contract. The bit rate is configured on the interface itself
// (ip link set canX type can bitrate ...), so Initialize ignores the
// BTR0/BTR1 code. The socket is non-blocking; an empty receive queue
// maps to StatusQrcvEmpty like the adapter APIs.
type Device struct {
	mu    sync.Mutex
	iface string
	fd    int
	epoch time.Time

	now func() time.Time
}

func New(iface string) *Device {
	return &Device{iface: iface, fd: -1, now: time.Now}
}

func (d *Device) Initialize(_ device.Handle, _ device.Baudrate) device.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd >= 0 {
		return device.StatusInitialize
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		logging.L().Error("socketcan_socket_error", "error", err)
		return device.StatusNoDriver
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		// Older kernels may not know this option; ignore ENOPROTOOPT
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			logging.L().Error("socketcan_setsockopt_error", "error", err)
			return device.StatusNoDriver
		}
	}
	ifi, err := net.InterfaceByName(d.iface)
	if err != nil {
		_ = unix.Close(fd)
		logging.L().Error("socketcan_iface_error", "iface", d.iface, "error", err)
		return device.StatusIllHw
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		_ = unix.Close(fd)
		logging.L().Error("socketcan_bind_error", "iface", d.iface, "error", err)
		return device.StatusNetInUse
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return device.StatusResource
	}
	d.fd = fd
	d.epoch = d.now()
	return device.StatusOK
}

func (d *Device) Uninitialize(_ device.Handle) device.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return device.StatusOK
	}
	_ = unix.Close(d.fd)
	d.fd = -1
	return device.StatusOK
}

func (d *Device) GetStatus(_ device.Handle) device.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return device.StatusInitialize
	}
	return device.StatusOK
}

// Read pops one classic frame from the socket without blocking.
//
// struct can_frame (linux/can.h), host byte order:
//
//	can_id  u32  [0:4]  includes EFF/RTR/ERR flags
//	can_dlc u8   [4]
//	pad     3B   [5:8]
//	data    [8]  [8:16]
func (d *Device) Read(_ device.Handle) (device.Status, device.Msg, device.Timestamp) {
	d.mu.Lock()
	fd := d.fd
	epoch := d.epoch
	d.mu.Unlock()
	if fd < 0 {
		return device.StatusInitialize, device.Msg{}, device.Timestamp{}
	}
	var buf [unix.CAN_MTU]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return device.StatusQrcvEmpty, device.Msg{}, device.Timestamp{}
		}
		metrics.IncDeviceError(metrics.OpRead)
		logging.L().Error("socketcan_read_error", "error", err)
		return device.StatusBusOff, device.Msg{}, device.Timestamp{}
	}
	if n != unix.CAN_MTU {
		metrics.IncDeviceError(metrics.OpRead)
		return device.StatusIllData, device.Msg{}, device.Timestamp{}
	}
	id := binary.LittleEndian.Uint32(buf[0:4])
	dlc := buf[4]
	if dlc > can.MaxClassicLen {
		dlc = can.MaxClassicLen
	}
	var m device.Msg
	m.ID = id & can.EFFMask
	if id&can.EFFFlag != 0 {
		m.Type |= device.MsgExtended
	} else {
		m.ID = id & can.SFFMask
	}
	if id&can.RTRFlag != 0 {
		m.Type |= device.MsgRTR
	}
	m.LEN = dlc
	copy(m.Data[:], buf[8:8+dlc])
	// SocketCAN frames carry no adapter timestamp here; use the local
	// clock relative to Initialize.
	ts := codec.TimestampFromMicros(uint64(d.now().Sub(epoch).Microseconds()))
	return device.StatusOK, m, ts
}

// ReadFD is not supported; FD frames are disabled on the socket.
func (d *Device) ReadFD(_ device.Handle) (device.Status, device.MsgFD, device.TimestampFD) {
	return device.StatusIllOperation, device.MsgFD{}, 0
}

func (d *Device) Write(_ device.Handle, m *device.Msg) device.Status {
	d.mu.Lock()
	fd := d.fd
	d.mu.Unlock()
	if fd < 0 {
		return device.StatusInitialize
	}
	id := m.ID
	if m.Type&device.MsgExtended != 0 {
		id = (id & can.EFFMask) | can.EFFFlag
	} else {
		id &= can.SFFMask
	}
	if m.Type&device.MsgRTR != 0 {
		id |= can.RTRFlag
	}
	var buf [unix.CAN_MTU]byte
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = m.LEN
	copy(buf[8:], m.Data[:m.LEN])
	if _, err := unix.Write(fd, buf[:]); err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.ENOBUFS {
			return device.StatusXmtFull
		}
		metrics.IncDeviceError(metrics.OpWrite)
		logging.L().Error("socketcan_write_error", "error", err)
		return device.StatusBusOff
	}
	return device.StatusOK
}

func (d *Device) WriteFD(_ device.Handle, _ *device.MsgFD) device.Status {
	return device.StatusIllOperation
}

func (d *Device) ErrorText(s device.Status) string { return device.StatusText(s) }
