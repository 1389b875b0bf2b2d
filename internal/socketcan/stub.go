//go:build !linux

package socketcan

import "github.com/canops/go-pcan-gateway/internal/device"

// Device is a stub so non-linux builds compile; every operation
// reports that no driver is available.
type Device struct{ iface string }

func New(iface string) *Device { return &Device{iface: iface} }

func (d *Device) Initialize(_ device.Handle, _ device.Baudrate) device.Status {
	return device.StatusNoDriver
}

func (d *Device) Uninitialize(_ device.Handle) device.Status { return device.StatusOK }

func (d *Device) GetStatus(_ device.Handle) device.Status { return device.StatusNoDriver }

func (d *Device) Read(_ device.Handle) (device.Status, device.Msg, device.Timestamp) {
	return device.StatusNoDriver, device.Msg{}, device.Timestamp{}
}

func (d *Device) ReadFD(_ device.Handle) (device.Status, device.MsgFD, device.TimestampFD) {
	return device.StatusNoDriver, device.MsgFD{}, 0
}

func (d *Device) Write(_ device.Handle, _ *device.Msg) device.Status {
	return device.StatusNoDriver
}

func (d *Device) WriteFD(_ device.Handle, _ *device.MsgFD) device.Status {
	return device.StatusNoDriver
}

func (d *Device) ErrorText(s device.Status) string { return device.StatusText(s) }
