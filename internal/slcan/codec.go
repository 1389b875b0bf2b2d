// Lawicel SLCAN ASCII framing for serial CAN adapters (CANUSB,
// CANable and compatibles). Commands and frames are CR-terminated;
// the adapter answers CR for OK and BEL for error.
package slcan

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/canops/go-pcan-gateway/internal/can"
	"github.com/canops/go-pcan-gateway/internal/metrics"
)

const (
	cr  = '\r'
	bel = 0x07
)

type Codec struct{}

// CompactBuffer reclaims consumed prefix capacity when the underlying
// buffer grows too large relative to unread bytes. It returns true if
// compaction occurred.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	if len(data) < 1024 {
		return false
	}
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		_, _ = b.Write(clone)
		return true
	}
	return false
}

// Encode renders one classic CAN frame in SLCAN ASCII:
//
//	tIIIL<data>   standard data frame, 3 hex id digits
//	TIIIIIIIIL<data>  extended data frame, 8 hex id digits
//	rIIIL / RIIIIIIIIL  remote frames, no data section
//
// terminated with CR. Payload bytes are upper-case hex pairs.
func (Codec) Encode(f can.Frame) []byte {
	var b bytes.Buffer
	switch {
	case f.RTR && f.Extended:
		fmt.Fprintf(&b, "R%08X%d", f.ID&can.EFFMask, f.Len)
	case f.RTR:
		fmt.Fprintf(&b, "r%03X%d", f.ID&can.SFFMask, f.Len)
	case f.Extended:
		fmt.Fprintf(&b, "T%08X%d", f.ID&can.EFFMask, f.Len)
	default:
		fmt.Fprintf(&b, "t%03X%d", f.ID&can.SFFMask, f.Len)
	}
	if !f.RTR {
		for _, d := range f.Data[:f.Len] {
			fmt.Fprintf(&b, "%02X", d)
		}
	}
	b.WriteByte(cr)
	return b.Bytes()
}

// DecodeStream consumes complete CR-terminated lines from in and emits
// decoded frames via out. Command acknowledgements (bare CR, BEL,
// version/status replies) are skipped. Partial lines stay buffered.
func (Codec) DecodeStream(in *bytes.Buffer, out func(can.Frame)) error {
	for {
		_ = CompactBuffer(in)
		data := in.Bytes()
		i := bytes.IndexByte(data, cr)
		if i < 0 {
			// A lone BEL is an error ack with no CR terminator.
			if j := bytes.IndexByte(data, bel); j >= 0 {
				in.Next(j + 1)
				continue
			}
			return nil
		}
		line := make([]byte, i)
		copy(line, data[:i])
		in.Next(i + 1)
		fr, ok := decodeLine(line)
		if !ok {
			continue
		}
		out(fr)
	}
}

func decodeLine(line []byte) (can.Frame, bool) {
	// Strip a leading BEL from a previous error ack.
	for len(line) > 0 && line[0] == bel {
		line = line[1:]
	}
	if len(line) == 0 {
		return can.Frame{}, false
	}
	var fr can.Frame
	var idDigits int
	switch line[0] {
	case 't':
		idDigits = 3
	case 'T':
		idDigits = 8
		fr.Extended = true
	case 'r':
		idDigits = 3
		fr.RTR = true
	case 'R':
		idDigits = 8
		fr.Extended = true
		fr.RTR = true
	default:
		// Not a frame line (status, version, serial ack).
		return can.Frame{}, false
	}
	if len(line) < 1+idDigits+1 {
		metrics.IncDeviceError(metrics.OpSerialRead)
		return can.Frame{}, false
	}
	id, err := strconv.ParseUint(string(line[1:1+idDigits]), 16, 32)
	if err != nil {
		metrics.IncDeviceError(metrics.OpSerialRead)
		return can.Frame{}, false
	}
	fr.ID = uint32(id)
	ln := line[1+idDigits] - '0'
	if ln > can.MaxClassicLen {
		metrics.IncDeviceError(metrics.OpSerialRead)
		return can.Frame{}, false
	}
	fr.Len = ln
	if fr.RTR {
		return fr, true
	}
	body := line[1+idDigits+1:]
	if len(body) < int(ln)*2 {
		metrics.IncDeviceError(metrics.OpSerialRead)
		return can.Frame{}, false
	}
	for i := 0; i < int(ln); i++ {
		v, err := strconv.ParseUint(string(body[i*2:i*2+2]), 16, 8)
		if err != nil {
			metrics.IncDeviceError(metrics.OpSerialRead)
			return can.Frame{}, false
		}
		fr.Data[i] = byte(v)
	}
	return fr, true
}
