package can

import (
	"errors"
	"testing"
)

func TestFrameValidate(t *testing.T) {
	tests := []struct {
		name string
		f    Frame
		want error
	}{
		{"stdOK", Frame{ID: 0x7FF, Len: 8}, nil},
		{"stdIDTooBig", Frame{ID: 0x800, Len: 0}, ErrInvalidID},
		{"extOK", Frame{ID: 0x1FFFFFFF, Extended: true, Len: 8}, nil},
		{"extIDTooBig", Frame{ID: 0x20000000, Extended: true}, ErrInvalidID},
		{"classicLenTooBig", Frame{ID: 1, Len: 9}, ErrInvalidLen},
		{"fdLenOK", Frame{ID: 1, FD: true, Len: 64}, nil},
		{"fdLenTooBig", Frame{ID: 1, FD: true, Len: 65}, ErrInvalidLen},
		{"rtrEmpty", Frame{ID: 0x100, RTR: true, Len: 0}, nil},
	}
	for _, tc := range tests {
		if err := tc.f.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, err, tc.want)
		}
	}
}

func TestPackUnpackID(t *testing.T) {
	in := Frame{ID: 0x1E5A, Extended: true, RTR: true}
	packed := in.PackID()
	if packed&EFFFlag == 0 || packed&RTRFlag == 0 {
		t.Fatalf("flags not packed: %08X", packed)
	}
	var out Frame
	out.UnpackID(packed)
	if out.ID != in.ID || !out.Extended || !out.RTR || out.FD {
		t.Fatalf("unpack mismatch: %+v", out)
	}

	// Standard id keeps only 11 bits on unpack.
	var std Frame
	std.UnpackID(0x0000F123)
	if std.Extended || std.ID != 0x123 {
		t.Fatalf("std unpack: %+v", std)
	}
}

func TestSetPayload(t *testing.T) {
	var f Frame
	f.SetPayload([]byte{1, 2, 3})
	if f.Len != 3 || f.Data[0] != 1 || f.Data[2] != 3 {
		t.Fatalf("payload not copied: %+v", f)
	}
	if got := f.Payload(); len(got) != 3 {
		t.Fatalf("payload len %d", len(got))
	}
}
