// Package wire is the binary framing used on the TCP stream listener.
// Each record is: 8-byte big-endian microsecond timestamp, 4-byte
// big-endian identifier word (flags in the upper bits), one length
// byte, then the payload. Stateless and safe for concurrent use.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/canops/go-pcan-gateway/internal/can"
)

const headerSize = 8 + 4 + 1

// Record is one timestamped frame on the stream.
type Record struct {
	TimestampUS uint64
	Frame       can.Frame
}

// Codec encodes/decodes stream records.
type Codec struct{}

// ErrInvalidLength is returned when a record length exceeds the mode's
// payload maximum.
var ErrInvalidLength = errors.New("wire: invalid length")

// ErrTruncatedRecord is returned when the reader ends mid-record.
var ErrTruncatedRecord = errors.New("wire: truncated record")

// Encode packs records into one buffer.
func (c *Codec) Encode(recs []Record) []byte {
	if len(recs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	buf.Grow(len(recs) * (headerSize + can.MaxClassicLen))
	_, _ = c.EncodeTo(&buf, recs)
	return buf.Bytes()
}

// EncodeTo writes the wire representation of recs to w and returns the
// bytes written.
func (c *Codec) EncodeTo(w io.Writer, recs []Record) (int, error) {
	var total int
	var hdr [headerSize]byte
	for _, rec := range recs {
		binary.BigEndian.PutUint64(hdr[0:8], rec.TimestampUS)
		binary.BigEndian.PutUint32(hdr[8:12], rec.Frame.PackID())
		ln := rec.Frame.Len
		if ln > rec.Frame.MaxLen() {
			ln = rec.Frame.MaxLen()
		}
		hdr[12] = ln
		n, err := w.Write(hdr[:])
		total += n
		if err != nil {
			return total, fmt.Errorf("wire encode header: %w", err)
		}
		if ln > 0 {
			n, err = w.Write(rec.Frame.Data[:ln])
			total += n
			if err != nil {
				return total, fmt.Errorf("wire encode payload: %w", err)
			}
		}
	}
	return total, nil
}

// Decode reads exactly one record from r. It returns io.EOF when called
// at a clean record boundary with no more data.
func (c *Codec) Decode(r io.Reader) (Record, error) {
	var rec Record
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:1]); err != nil {
		return rec, err
	}
	if _, err := io.ReadFull(r, hdr[1:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return rec, fmt.Errorf("wire decode header: %w", ErrTruncatedRecord)
		}
		return rec, err
	}
	rec.TimestampUS = binary.BigEndian.Uint64(hdr[0:8])
	rec.Frame.UnpackID(binary.BigEndian.Uint32(hdr[8:12]))
	ln := hdr[12]
	if ln > rec.Frame.MaxLen() {
		return rec, fmt.Errorf("wire decode: %w (%d)", ErrInvalidLength, ln)
	}
	rec.Frame.Len = ln
	if ln > 0 {
		if _, err := io.ReadFull(r, rec.Frame.Data[:ln]); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return rec, fmt.Errorf("wire decode payload: %w", ErrTruncatedRecord)
			}
			return rec, fmt.Errorf("wire decode payload: %w", err)
		}
	}
	return rec, nil
}

// DecodeN decodes up to max records (all of them if max<=0) invoking
// onRecord for each. Returns the count decoded and the terminal error,
// which can be io.EOF at a clean boundary.
func (c *Codec) DecodeN(r io.Reader, max int, onRecord func(Record)) (int, error) {
	var n int
	for max <= 0 || n < max {
		rec, err := c.Decode(r)
		if err != nil {
			return n, err
		}
		onRecord(rec)
		n++
	}
	return n, nil
}
