package channel

import "github.com/canops/go-pcan-gateway/internal/device"

// Default resolution for unrecognized symbolic names: USB bus 1 at
// 500 kbit/s.
const (
	DefaultChannelName  = "PCAN_USBBUS1"
	DefaultBaudrateName = "PCAN_BAUD_500K"
)

// channelHandles is the closed table of recognized channel names. A
// closed mapping, not a dynamic symbol lookup: user input never
// resolves anything outside this table.
var channelHandles = map[string]device.Handle{
	"PCAN_USBBUS1": device.USBBus1,
	"PCAN_USBBUS2": device.USBBus2,
	"PCAN_USBBUS3": device.USBBus3,
	"PCAN_USBBUS4": device.USBBus4,
	"PCAN_USBBUS5": device.USBBus5,
	"PCAN_USBBUS6": device.USBBus6,
	"PCAN_USBBUS7": device.USBBus7,
	"PCAN_USBBUS8": device.USBBus8,
	"PCAN_PCIBUS1": device.PCIBus1,
	"PCAN_PCIBUS2": device.PCIBus2,
	"PCAN_LANBUS1": device.LANBus1,
	"PCAN_LANBUS2": device.LANBus2,
}

// baudrateCodes is the closed table of recognized bit-rate names.
var baudrateCodes = map[string]device.Baudrate{
	"PCAN_BAUD_1M":   device.Baud1M,
	"PCAN_BAUD_800K": device.Baud800K,
	"PCAN_BAUD_500K": device.Baud500K,
	"PCAN_BAUD_250K": device.Baud250K,
	"PCAN_BAUD_125K": device.Baud125K,
	"PCAN_BAUD_100K": device.Baud100K,
	"PCAN_BAUD_50K":  device.Baud50K,
	"PCAN_BAUD_20K":  device.Baud20K,
	"PCAN_BAUD_10K":  device.Baud10K,
	"PCAN_BAUD_5K":   device.Baud5K,
}

// ResolveChannel maps a symbolic channel name to its handle, falling
// back to the default for unknown or empty names.
func ResolveChannel(name string) device.Handle {
	if h, ok := channelHandles[name]; ok {
		return h
	}
	return channelHandles[DefaultChannelName]
}

// ResolveBaudrate maps a symbolic bit-rate name to its register code,
// falling back to the default for unknown or empty names.
func ResolveBaudrate(name string) device.Baudrate {
	if b, ok := baudrateCodes[name]; ok {
		return b
	}
	return baudrateCodes[DefaultBaudrateName]
}
