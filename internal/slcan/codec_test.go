package slcan

import (
	"bytes"
	"testing"

	"github.com/canops/go-pcan-gateway/internal/can"
)

func TestEncode(t *testing.T) {
	var c Codec
	tests := []struct {
		name string
		fr   can.Frame
		want string
	}{
		{
			name: "standard data",
			fr:   frameWith(0x123, false, false, []byte{0xAA, 0x55}),
			want: "t1232AA55\r",
		},
		{
			name: "extended data",
			fr:   frameWith(0x1ABCDEF0, true, false, []byte{0x01}),
			want: "T1ABCDEF0101\r",
		},
		{
			name: "standard rtr",
			fr:   rtrFrame(0x7FF, false, 4),
			want: "r7FF4\r",
		},
		{
			name: "extended rtr",
			fr:   rtrFrame(0x1FFFFFFF, true, 0),
			want: "R1FFFFFFF0\r",
		},
		{
			name: "empty payload",
			fr:   frameWith(0x001, false, false, nil),
			want: "t0010\r",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(c.Encode(tt.fr)); got != tt.want {
				t.Fatalf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeStreamRoundTrip(t *testing.T) {
	var c Codec
	frames := []can.Frame{
		frameWith(0x123, false, false, []byte{0xDE, 0xAD}),
		frameWith(0x1ABCDEF0, true, false, []byte{1, 2, 3, 4, 5, 6, 7, 8}),
		rtrFrame(0x100, false, 2),
	}
	var in bytes.Buffer
	for _, fr := range frames {
		in.Write(c.Encode(fr))
	}
	var got []can.Frame
	if err := c.DecodeStream(&in, func(fr can.Frame) { got = append(got, fr) }); err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if len(got) != len(frames) {
		t.Fatalf("decoded %d frames, want %d", len(got), len(frames))
	}
	for i := range frames {
		if got[i] != frames[i] {
			t.Fatalf("frame %d: got %+v, want %+v", i, got[i], frames[i])
		}
	}
}

func TestDecodeStreamPartialLine(t *testing.T) {
	var c Codec
	var in bytes.Buffer
	in.WriteString("t1232AA") // incomplete, no CR yet
	var got []can.Frame
	if err := c.DecodeStream(&in, func(fr can.Frame) { got = append(got, fr) }); err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("decoded %d frames from a partial line", len(got))
	}
	in.WriteString("55\r")
	if err := c.DecodeStream(&in, func(fr can.Frame) { got = append(got, fr) }); err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if len(got) != 1 || got[0].ID != 0x123 || got[0].Data[1] != 0x55 {
		t.Fatalf("got %+v", got)
	}
}

func TestDecodeStreamSkipsAcksAndGarbage(t *testing.T) {
	var c Codec
	var in bytes.Buffer
	in.WriteByte('\r')      // OK ack
	in.WriteByte(0x07)      // error ack (BEL)
	in.WriteString("V1013\r") // version reply
	in.WriteString("zZ\r")  // unknown command echo
	in.Write(c.Encode(frameWith(0x042, false, false, []byte{0xFF})))
	var got []can.Frame
	if err := c.DecodeStream(&in, func(fr can.Frame) { got = append(got, fr) }); err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if len(got) != 1 || got[0].ID != 0x042 {
		t.Fatalf("got %+v", got)
	}
}

func TestDecodeStreamMalformed(t *testing.T) {
	var c Codec
	lines := []string{
		"t12\r",        // id too short
		"t123Z\r",      // bad length digit
		"t1232AA\r",    // payload shorter than length
		"t123GGAA55\r", // non-hex id
		"T1234\r",      // extended id too short
	}
	for _, line := range lines {
		var in bytes.Buffer
		in.WriteString(line)
		var got []can.Frame
		if err := c.DecodeStream(&in, func(fr can.Frame) { got = append(got, fr) }); err != nil {
			t.Fatalf("DecodeStream(%q): %v", line, err)
		}
		if len(got) != 0 {
			t.Fatalf("DecodeStream(%q) decoded %+v", line, got)
		}
	}
}

func frameWith(id uint32, ext, rtr bool, data []byte) can.Frame {
	fr := can.Frame{ID: id, Extended: ext, RTR: rtr, Len: uint8(len(data))}
	copy(fr.Data[:], data)
	return fr
}

func rtrFrame(id uint32, ext bool, ln uint8) can.Frame {
	return can.Frame{ID: id, Extended: ext, RTR: true, Len: ln}
}
