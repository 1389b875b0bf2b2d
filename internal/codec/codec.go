// Package codec converts between the transport-facing frame
// representation (hex identifiers, byte arrays) and the device-native
// message and timestamp types, normalizing classic and FD framing into
// one microsecond-resolution view.
package codec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/canops/go-pcan-gateway/internal/can"
	"github.com/canops/go-pcan-gateway/internal/device"
)

// ErrInvalidFormat flags malformed caller input: bad or missing hex id,
// oversized payload, byte out of range.
var ErrInvalidFormat = errors.New("codec: invalid frame format")

// TxRequest is a caller-supplied transmit request. IDHex is a base-16
// identifier without a 0x prefix, decoded case-insensitively.
type TxRequest struct {
	IDHex    string
	Data     []byte
	Extended bool
	RTR      bool
}

// ParseRequest validates a transmit request and builds a frame for the
// given channel mode.
func ParseRequest(r TxRequest, fd bool) (can.Frame, error) {
	var f can.Frame
	id := strings.TrimSpace(r.IDHex)
	if id == "" {
		return f, fmt.Errorf("%w: missing id", ErrInvalidFormat)
	}
	v, err := strconv.ParseUint(id, 16, 32)
	if err != nil {
		return f, fmt.Errorf("%w: id %q is not hexadecimal", ErrInvalidFormat, r.IDHex)
	}
	f.ID = uint32(v)
	f.Extended = r.Extended
	f.RTR = r.RTR
	f.FD = fd
	if len(r.Data) > int(f.MaxLen()) {
		return f, fmt.Errorf("%w: payload %d exceeds %d-byte maximum", ErrInvalidFormat, len(r.Data), f.MaxLen())
	}
	f.SetPayload(r.Data)
	if err := f.Validate(); err != nil {
		return f, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return f, nil
}

func msgType(f can.Frame) device.MsgType {
	t := device.MsgStandard
	if f.Extended {
		t |= device.MsgExtended
	}
	if f.RTR {
		t |= device.MsgRTR
	}
	return t
}

// MsgFromFrame builds a classic device message from a frame.
func MsgFromFrame(f can.Frame) (device.Msg, error) {
	var m device.Msg
	if f.FD {
		return m, fmt.Errorf("%w: FD frame on classic channel", ErrInvalidFormat)
	}
	if err := f.Validate(); err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	m.ID = f.ID
	m.Type = msgType(f)
	m.LEN = f.Len
	copy(m.Data[:], f.Payload())
	return m, nil
}

// MsgFDFromFrame builds an FD device message. The payload is padded up
// to the next valid FD length; DLC carries the length code.
func MsgFDFromFrame(f can.Frame) (device.MsgFD, error) {
	var m device.MsgFD
	if err := f.Validate(); err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	m.ID = f.ID
	m.Type = msgType(f) | device.MsgFDFlag
	m.DLC = LenToDLC(f.Len)
	copy(m.Data[:], f.Payload())
	return m, nil
}

// FrameFromMsg converts a received classic message and its timestamp
// into a frame plus microseconds. Total for well-formed device output;
// an out-of-range LEN is clamped rather than faulted.
func FrameFromMsg(m device.Msg, ts device.Timestamp) (can.Frame, uint64) {
	var f can.Frame
	f.ID = m.ID
	f.Extended = m.Type&device.MsgExtended != 0
	f.RTR = m.Type&device.MsgRTR != 0
	n := m.LEN
	if n > can.MaxClassicLen {
		n = can.MaxClassicLen
	}
	f.Len = n
	copy(f.Data[:n], m.Data[:n])
	return f, Micros(ts)
}

// FrameFromMsgFD converts a received FD message. The DLC length code is
// mapped through the CAN-FD length table.
func FrameFromMsgFD(m device.MsgFD, ts device.TimestampFD) (can.Frame, uint64) {
	var f can.Frame
	f.ID = m.ID
	f.Extended = m.Type&device.MsgExtended != 0
	f.RTR = m.Type&device.MsgRTR != 0
	f.FD = true
	n := DLCToLen(m.DLC)
	f.Len = n
	copy(f.Data[:n], m.Data[:n])
	return f, uint64(ts)
}

// Micros reconstructs the classic three-field timestamp into a single
// microsecond counter:
//
//	micros + 1000*millis + 0x100000000*1000*millisOverflow
func Micros(ts device.Timestamp) uint64 {
	return uint64(ts.Micros) +
		1000*uint64(ts.Millis) +
		0x100000000*1000*uint64(ts.MillisOverflow)
}

// TimestampFromMicros splits a microsecond counter back into the classic
// three-field form. Used by backends that synthesize timestamps locally.
func TimestampFromMicros(us uint64) device.Timestamp {
	ms := us / 1000
	return device.Timestamp{
		Micros:         uint16(us % 1000),
		Millis:         uint32(ms & 0xFFFFFFFF),
		MillisOverflow: uint16(ms >> 32),
	}
}

// FormatID renders an identifier as uppercase hex without padding or
// prefix, matching the API's wire form.
func FormatID(id uint32) string { return fmt.Sprintf("%X", id) }

// fdLengths is the CAN-FD DLC-to-byte-count table.
var fdLengths = [16]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// DLCToLen maps an FD length code to a byte count.
func DLCToLen(dlc uint8) uint8 {
	if dlc > 15 {
		dlc = 15
	}
	return fdLengths[dlc]
}

// LenToDLC maps a byte count to the smallest FD length code that holds
// it.
func LenToDLC(n uint8) uint8 {
	for i, l := range fdLengths {
		if n <= l {
			return uint8(i)
		}
	}
	return 15
}
