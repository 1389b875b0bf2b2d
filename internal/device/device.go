// Package device models the capability surface of a PCAN-style CAN
// adapter driver: initialize, uninitialize, get-status, read, write and
// an error-code-to-text lookup. The gateway consumes this interface
// only; concrete implementations live in the sim, slcan and socketcan
// packages (a real PCANBasic binding would be one more).
package device

// Handle names a physical or virtual adapter channel.
type Handle uint16

// Baudrate is a BTR0/BTR1 bit-rate register code for classic CAN.
type Baudrate uint16

// Status is an adapter status/error code. OK is zero; everything else
// is a bit set per the PCANBasic convention.
type Status uint32

// MsgType carries the frame-kind flag bits of a message.
type MsgType uint8

// Channel handles (same values as PCANBasic.h).
const (
	NoneBus Handle = 0x00

	USBBus1 Handle = 0x51
	USBBus2 Handle = 0x52
	USBBus3 Handle = 0x53
	USBBus4 Handle = 0x54
	USBBus5 Handle = 0x55
	USBBus6 Handle = 0x56
	USBBus7 Handle = 0x57
	USBBus8 Handle = 0x58

	PCIBus1 Handle = 0x41
	PCIBus2 Handle = 0x42

	LANBus1 Handle = 0x801
	LANBus2 Handle = 0x802
)

// Bit-rate codes (same values as PCANBasic.h).
const (
	Baud1M   Baudrate = 0x0014
	Baud800K Baudrate = 0x0016
	Baud500K Baudrate = 0x001C
	Baud250K Baudrate = 0x011C
	Baud125K Baudrate = 0x031C
	Baud100K Baudrate = 0x432F
	Baud50K  Baudrate = 0x472F
	Baud20K  Baudrate = 0x532F
	Baud10K  Baudrate = 0x672F
	Baud5K   Baudrate = 0x7F7F
)

// Status codes (same values as PCANBasic.h).
const (
	StatusOK           Status = 0x00000
	StatusXmtFull      Status = 0x00001
	StatusOverrun      Status = 0x00002
	StatusBusLight     Status = 0x00004
	StatusBusHeavy     Status = 0x00008
	StatusBusOff       Status = 0x00010
	StatusQrcvEmpty    Status = 0x00020
	StatusQOverrun     Status = 0x00040
	StatusQXmtFull     Status = 0x00080
	StatusRegTest      Status = 0x00100
	StatusNoDriver     Status = 0x00200
	StatusHwInUse      Status = 0x00400
	StatusNetInUse     Status = 0x00800
	StatusIllHw        Status = 0x01400
	StatusIllNet       Status = 0x01800
	StatusResource     Status = 0x02000
	StatusIllParamType Status = 0x04000
	StatusIllParamVal  Status = 0x08000
	StatusUnknown      Status = 0x10000
	StatusIllData      Status = 0x20000
	StatusIllMode      Status = 0x80000
	StatusInitialize   Status = 0x4000000
	StatusIllOperation Status = 0x8000000
)

// Message type flag bits (same values as PCANBasic.h).
const (
	MsgStandard MsgType = 0x00
	MsgRTR      MsgType = 0x01
	MsgExtended MsgType = 0x02
	MsgFDFlag   MsgType = 0x04
	MsgBRS      MsgType = 0x08
	MsgESI      MsgType = 0x10
	MsgErrFrame MsgType = 0x40
	MsgStatus   MsgType = 0x80
)

// Msg is a classic CAN message. LEN is the payload byte count (0..8).
type Msg struct {
	ID   uint32
	Type MsgType
	LEN  uint8
	Data [8]byte
}

// MsgFD is a CAN-FD message. DLC is a length code (0..15), not a byte
// count.
type MsgFD struct {
	ID   uint32
	Type MsgType
	DLC  uint8
	Data [64]byte
}

// Timestamp is the classic receive timestamp.
// Total microseconds = Micros + 1000*Millis + 0x100000000*1000*MillisOverflow.
type Timestamp struct {
	Millis         uint32
	MillisOverflow uint16
	Micros         uint16
}

// TimestampFD is the FD receive timestamp, a plain microsecond counter.
type TimestampFD uint64

// Device is the adapter capability consumed by the channel manager.
// Read and ReadFD are poll-based: an empty receive queue returns
// StatusQrcvEmpty immediately, never blocks. Implementations decide
// what Handle means to them (a USB slot, a serial port, an interface).
type Device interface {
	Initialize(h Handle, baud Baudrate) Status
	Uninitialize(h Handle) Status
	GetStatus(h Handle) Status
	Read(h Handle) (Status, Msg, Timestamp)
	ReadFD(h Handle) (Status, MsgFD, TimestampFD)
	Write(h Handle, m *Msg) Status
	WriteFD(h Handle, m *MsgFD) Status
	ErrorText(s Status) string
}
