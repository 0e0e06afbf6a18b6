// Package pdbtest builds synthetic PDB files and CodeView records for tests.
// It depends on nothing in pkg/pdb so that the decoders' own tests can use it.
package pdbtest

import "encoding/binary"

// Writer appends little-endian values to a byte slice.
type Writer struct {
	b []byte
}

func (w *Writer) U8(v uint8) *Writer {
	w.b = append(w.b, v)
	return w
}

func (w *Writer) U16(v uint16) *Writer {
	w.b = binary.LittleEndian.AppendUint16(w.b, v)
	return w
}

func (w *Writer) U32(v uint32) *Writer {
	w.b = binary.LittleEndian.AppendUint32(w.b, v)
	return w
}

func (w *Writer) U64(v uint64) *Writer {
	w.b = binary.LittleEndian.AppendUint64(w.b, v)
	return w
}

func (w *Writer) Raw(b []byte) *Writer {
	w.b = append(w.b, b...)
	return w
}

// CString appends s and a terminating NUL.
func (w *Writer) CString(s string) *Writer {
	w.b = append(w.b, s...)
	w.b = append(w.b, 0)
	return w
}

// Numeric appends a CodeView numeric leaf in its shortest unsigned form.
func (w *Writer) Numeric(v uint64) *Writer {
	switch {
	case v < 0x8000:
		w.U16(uint16(v))
	case v <= 0xFFFF:
		w.U16(lfUShort).U16(uint16(v))
	case v <= 0xFFFFFFFF:
		w.U16(lfULong).U32(uint32(v))
	default:
		w.U16(lfUQuadword).U64(v)
	}
	return w
}

// Pad appends zero bytes up to a multiple of n.
func (w *Writer) Pad(n int) *Writer {
	for len(w.b)%n != 0 {
		w.b = append(w.b, 0)
	}
	return w
}

func (w *Writer) Len() int { return len(w.b) }

func (w *Writer) Bytes() []byte { return w.b }

const (
	lfUShort    = 0x8002
	lfULong     = 0x8004
	lfUQuadword = 0x800a
)

// Record frames a CodeView record: u16 length (kind plus body), u16 kind, body.
func Record(kind uint16, body []byte) []byte {
	w := &Writer{}
	w.U16(uint16(2 + len(body))).U16(kind).Raw(body)
	return w.Bytes()
}

// Concat joins records into one stream body.
func Concat(records ...[]byte) []byte {
	out := []byte{}
	for _, r := range records {
		out = append(out, r...)
	}
	return out
}
