package can

// Identifier limits and flag bits. The flag bits follow the SocketCAN
// can_id layout (same values as <linux/can.h>) and are what the stream
// wire format packs into the upper identifier bits.
const (
	EFFFlag = 0x80000000
	RTRFlag = 0x40000000
	ErrFlag = 0x20000000

	SFFMask = 0x7FF
	EFFMask = 0x1FFFFFFF

	// FDFlag is gateway-internal; the bit is unused by SocketCAN can_id.
	FDFlag = 0x10000000

	MaxClassicLen = 8
	MaxFDLen      = 64
)

// Frame is one CAN frame as handled by the gateway. ID holds the bare
// 11/29-bit identifier; flags live in the booleans, not in ID bits.
// Only the first Len bytes of Data are valid.
type Frame struct {
	ID       uint32
	Extended bool
	RTR      bool
	FD       bool
	Len      uint8
	Data     [MaxFDLen]byte
}

// MaxLen returns the payload limit for the frame's mode.
func (f Frame) MaxLen() uint8 {
	if f.FD {
		return MaxFDLen
	}
	return MaxClassicLen
}

// Validate checks identifier range and payload length against the
// frame's mode.
func (f Frame) Validate() error {
	if f.Len > f.MaxLen() {
		return ErrInvalidLen
	}
	if f.Extended {
		if f.ID > EFFMask {
			return ErrInvalidID
		}
	} else if f.ID > SFFMask {
		return ErrInvalidID
	}
	return nil
}

// Payload returns the valid portion of Data.
func (f Frame) Payload() []byte { return f.Data[:f.Len] }

// SetPayload copies p into Data and sets Len. Callers validate length
// separately via Validate.
func (f *Frame) SetPayload(p []byte) {
	n := copy(f.Data[:], p)
	f.Len = uint8(n)
}

// PackID folds the flag booleans into a SocketCAN-style 32-bit id for
// wire formats that carry flags in the identifier word.
func (f Frame) PackID() uint32 {
	id := f.ID & EFFMask
	if f.Extended {
		id |= EFFFlag
	}
	if f.RTR {
		id |= RTRFlag
	}
	if f.FD {
		id |= FDFlag
	}
	return id
}

// UnpackID is the inverse of PackID.
func (f *Frame) UnpackID(packed uint32) {
	f.Extended = packed&EFFFlag != 0
	f.RTR = packed&RTRFlag != 0
	f.FD = packed&FDFlag != 0
	if f.Extended {
		f.ID = packed & EFFMask
	} else {
		f.ID = packed & SFFMask
	}
}
