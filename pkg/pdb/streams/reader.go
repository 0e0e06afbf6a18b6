package streams

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/jtang613/kerndbg/pkg/pdb/pdberr"
)

// Reader is a little-endian cursor over a record or stream. Every read that
// would run past the end returns an error wrapping pdberr.ErrTruncatedInput.
type Reader struct {
	data []byte
	off  int
}

// NewReader creates a reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Offset returns the current position.
func (r *Reader) Offset() int { return r.off }

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.data) - r.off }

// Remaining returns the unread bytes without consuming them.
func (r *Reader) Remaining() []byte { return r.data[r.off:] }

func (r *Reader) need(n int) error {
	if n < 0 || r.off+n > len(r.data) {
		return fmt.Errorf("need %d bytes at 0x%x, have %d: %w", n, r.off, r.Len(), pdberr.ErrTruncatedInput)
	}
	return nil
}

// U8 reads one byte.
func (r *Reader) U8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.data[r.off]
	r.off++
	return v, nil
}

// U16 reads a little-endian uint16.
func (r *Reader) U16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v, nil
}

// U32 reads a little-endian uint32.
func (r *Reader) U32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

// Bytes consumes n bytes and returns them without copying.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) error {
	if err := r.need(n); err != nil {
		return err
	}
	r.off += n
	return nil
}

// CString reads a null-terminated string. A string without terminator
// extends to the end of the data.
func (r *Reader) CString() string {
	s, n := ParseString(r.data[r.off:])
	r.off += n
	return s
}

// Numeric reads a CodeView numeric leaf as an unsigned value.
func (r *Reader) Numeric() (uint64, error) {
	v, n := ParseNumeric(r.data[r.off:])
	if n == 0 {
		return 0, fmt.Errorf("numeric leaf at 0x%x: %w", r.off, pdberr.ErrTruncatedInput)
	}
	r.off += n
	return v, nil
}

// Numeric leaf prefixes.
const (
	LF_NUMERIC   = 0x8000
	LF_CHAR      = 0x8000
	LF_SHORT     = 0x8001
	LF_USHORT    = 0x8002
	LF_LONG      = 0x8003
	LF_ULONG     = 0x8004
	LF_REAL32    = 0x8005
	LF_REAL64    = 0x8006
	LF_REAL80    = 0x8007
	LF_REAL128   = 0x8008
	LF_QUADWORD  = 0x8009
	LF_UQUADWORD = 0x800a
	LF_OCTWORD   = 0x8017
	LF_UOCTWORD  = 0x8018
)

// ParseNumeric parses a numeric leaf value from the data.
// Returns the value and the number of bytes consumed; 0 bytes consumed
// means the data is too short or the leaf kind is not numeric.
func ParseNumeric(data []byte) (uint64, int) {
	if len(data) < 2 {
		return 0, 0
	}

	val := binary.LittleEndian.Uint16(data)
	if val < LF_NUMERIC {
		return uint64(val), 2
	}

	width := 0
	switch val {
	case LF_CHAR:
		width = 1
	case LF_SHORT, LF_USHORT:
		width = 2
	case LF_LONG, LF_ULONG, LF_REAL32:
		width = 4
	case LF_QUADWORD, LF_UQUADWORD, LF_REAL64:
		width = 8
	case LF_REAL80:
		width = 10
	case LF_REAL128, LF_OCTWORD, LF_UOCTWORD:
		width = 16
	default:
		return 0, 0
	}
	if len(data) < 2+width {
		return 0, 0
	}

	body := data[2:]
	switch val {
	case LF_CHAR:
		return uint64(int8(body[0])), 3
	case LF_SHORT:
		return uint64(int16(binary.LittleEndian.Uint16(body))), 4
	case LF_USHORT:
		return uint64(binary.LittleEndian.Uint16(body)), 4
	case LF_LONG:
		return uint64(int32(binary.LittleEndian.Uint32(body))), 6
	case LF_ULONG:
		return uint64(binary.LittleEndian.Uint32(body)), 6
	case LF_QUADWORD, LF_UQUADWORD:
		return binary.LittleEndian.Uint64(body), 10
	case LF_OCTWORD, LF_UOCTWORD:
		// Only the low 64 bits fit.
		return binary.LittleEndian.Uint64(body), 18
	default:
		// Real-valued leaves are skipped, their value is not an integer.
		return 0, 2 + width
	}
}

// ParseString parses a null-terminated string from data.
// Returns the string and number of bytes consumed (including null).
func ParseString(data []byte) (string, int) {
	idx := bytes.IndexByte(data, 0)
	if idx == -1 {
		return string(data), len(data)
	}
	return string(data[:idx]), idx + 1
}
