// Package codeview decodes CodeView symbol and type records into lazy
// sequences. It knows the record layouts but nothing about how streams
// reference each other.
package codeview

import (
	"encoding/binary"
	"fmt"
	"iter"

	"github.com/jtang613/kerndbg/pkg/pdb/pdberr"
	"github.com/jtang613/kerndbg/pkg/pdb/streams"
)

// Symbol type constants (S_* values)
const (
	S_END       = 0x0006
	S_SKIP      = 0x0007
	S_OBJNAME   = 0x1101
	S_THUNK32   = 0x1102
	S_BLOCK32   = 0x1103
	S_LABEL32   = 0x1105
	S_REGISTER  = 0x1106
	S_CONSTANT  = 0x1107
	S_UDT       = 0x1108
	S_BPREL32   = 0x110b
	S_LDATA32   = 0x110c
	S_GDATA32   = 0x110d
	S_PUB32     = 0x110e
	S_LPROC32   = 0x110f
	S_GPROC32   = 0x1110
	S_REGREL32  = 0x1111
	S_LTHREAD32 = 0x1112
	S_GTHREAD32 = 0x1113

	S_PROCREF      = 0x1125
	S_DATAREF      = 0x1126
	S_LPROCREF     = 0x1127
	S_TRAMPOLINE   = 0x112c
	S_SECTION      = 0x1136
	S_COFFGROUP    = 0x1137
	S_EXPORT       = 0x1138
	S_COMPILE3     = 0x113c
	S_ENVBLOCK     = 0x113d
	S_LOCAL        = 0x113e
	S_BUILDINFO    = 0x114c
	S_INLINESITE   = 0x114d
	S_LPROC32_ID   = 0x1146
	S_GPROC32_ID   = 0x1147
	S_FRAMEPROC    = 0x1012
	S_ANNOTATION   = 0x1019
	S_FRAMECOOKIE  = 0x113a
	S_CALLSITEINFO = 0x1139
)

// CV_SIGNATURE_C13 prefixes every module symbol stream.
const CV_SIGNATURE_C13 = 4

// SymbolKind classifies a symbol for name collision priority. Larger values win.
type SymbolKind uint8

const (
	SymbolOther SymbolKind = iota
	SymbolLocal
	SymbolGlobal
	SymbolPublic
)

func (k SymbolKind) String() string {
	switch k {
	case SymbolPublic:
		return "public"
	case SymbolGlobal:
		return "global"
	case SymbolLocal:
		return "local"
	default:
		return "other"
	}
}

// Symbol is a decoded symbol record naming a location by section and offset.
type Symbol struct {
	Name    string     `json:"name"`
	Kind    SymbolKind `json:"kind"`
	Record  uint16     `json:"record"`            // S_* tag
	Section uint16     `json:"section,omitempty"` // 1-based, 0 when not addressable
	Offset  uint32     `json:"offset,omitempty"`
	Type    TypeIndex  `json:"type,omitempty"` // 0 when the record carries no type
	Flags   uint32     `json:"flags,omitempty"`
}

// symbolDecoder decodes the body of one recognized record kind.
type symbolDecoder struct {
	kind   SymbolKind
	fixed  int // bytes before the name
	decode func(body []byte, sym *Symbol) error
}

// symbolTable is the closed set of recognized kinds. Anything else is
// skipped by DecodeSymbols.
var symbolTable = map[uint16]symbolDecoder{
	S_PUB32:      {SymbolPublic, 10, decodePubSym},
	S_GDATA32:    {SymbolGlobal, 10, decodeDataSym},
	S_GTHREAD32:  {SymbolGlobal, 10, decodeDataSym},
	S_LDATA32:    {SymbolLocal, 10, decodeDataSym},
	S_LTHREAD32:  {SymbolLocal, 10, decodeDataSym},
	S_GPROC32:    {SymbolGlobal, 35, decodeProcSym},
	S_GPROC32_ID: {SymbolGlobal, 35, decodeProcSym},
	S_LPROC32:    {SymbolLocal, 35, decodeProcSym},
	S_LPROC32_ID: {SymbolLocal, 35, decodeProcSym},
	S_UDT:        {SymbolOther, 4, decodeUDTSym},
	S_CONSTANT:   {SymbolOther, 4, decodeConstantSym},
}

// IsRecognizedSymbol reports whether DecodeSymbols produces a Symbol for kind.
func IsRecognizedSymbol(kind uint16) bool {
	_, ok := symbolTable[kind]
	return ok
}

// DecodeSymbols returns a lazy sequence over the symbol records in data.
// Every range over the sequence starts again at the beginning of data.
// Unrecognized record kinds are skipped. A record running past the end of
// data yields one error wrapping pdberr.ErrTruncatedInput and ends the
// sequence.
func DecodeSymbols(data []byte) iter.Seq2[Symbol, error] {
	return decodeSymbols("symbol records", data)
}

// DecodeModuleSymbols is DecodeSymbols for a module symbol stream, which
// starts with a CodeView signature.
func DecodeModuleSymbols(name string, data []byte) iter.Seq2[Symbol, error] {
	if len(data) >= 4 && binary.LittleEndian.Uint32(data) == CV_SIGNATURE_C13 {
		data = data[4:]
	}
	return decodeSymbols(name, data)
}

func decodeSymbols(stream string, data []byte) iter.Seq2[Symbol, error] {
	return func(yield func(Symbol, error) bool) {
		offset := 0
		for offset < len(data) {
			recLen, kind, body, err := splitRecord(data, offset)
			if err != nil {
				yield(Symbol{}, &pdberr.DecodeError{Stream: stream, Offset: offset, Err: err})
				return
			}
			start := offset
			offset += 2 + recLen

			dec, ok := symbolTable[kind]
			if !ok {
				continue
			}
			if len(body) < dec.fixed {
				err := fmt.Errorf("%s body of %d bytes, need %d: %w",
					SymbolKindName(kind), len(body), dec.fixed, pdberr.ErrTruncatedInput)
				yield(Symbol{}, &pdberr.DecodeError{Stream: stream, Offset: start, Err: err})
				return
			}

			sym := Symbol{Kind: dec.kind, Record: kind}
			if err := dec.decode(body, &sym); err != nil {
				yield(Symbol{}, &pdberr.DecodeError{Stream: stream, Offset: start, Err: err})
				return
			}
			if !yield(sym, nil) {
				return
			}
		}
	}
}

// splitRecord frames the record at offset: a u16 length covering the kind
// and body, then the u16 kind.
func splitRecord(data []byte, offset int) (int, uint16, []byte, error) {
	if offset+2 > len(data) {
		return 0, 0, nil, fmt.Errorf("record length at end of stream: %w", pdberr.ErrTruncatedInput)
	}
	recLen := int(binary.LittleEndian.Uint16(data[offset:]))
	if recLen < 2 {
		return 0, 0, nil, fmt.Errorf("record length %d shorter than its kind: %w", recLen, pdberr.ErrTruncatedInput)
	}
	end := offset + 2 + recLen
	if end > len(data) {
		return 0, 0, nil, fmt.Errorf("record of %d bytes exceeds stream by %d: %w",
			recLen, end-len(data), pdberr.ErrTruncatedInput)
	}
	kind := binary.LittleEndian.Uint16(data[offset+2:])
	return recLen, kind, data[offset+4 : end], nil
}

func decodePubSym(body []byte, sym *Symbol) error {
	sym.Flags = binary.LittleEndian.Uint32(body[0:])
	sym.Offset = binary.LittleEndian.Uint32(body[4:])
	sym.Section = binary.LittleEndian.Uint16(body[8:])
	sym.Name, _ = streams.ParseString(body[10:])
	return nil
}

func decodeDataSym(body []byte, sym *Symbol) error {
	sym.Type = TypeIndex(binary.LittleEndian.Uint32(body[0:]))
	sym.Offset = binary.LittleEndian.Uint32(body[4:])
	sym.Section = binary.LittleEndian.Uint16(body[8:])
	sym.Name, _ = streams.ParseString(body[10:])
	return nil
}

// decodeProcSym skips the parent, end, next, length and debug range fields.
func decodeProcSym(body []byte, sym *Symbol) error {
	sym.Type = TypeIndex(binary.LittleEndian.Uint32(body[24:]))
	sym.Offset = binary.LittleEndian.Uint32(body[28:])
	sym.Section = binary.LittleEndian.Uint16(body[32:])
	sym.Flags = uint32(body[34])
	sym.Name, _ = streams.ParseString(body[35:])
	return nil
}

func decodeUDTSym(body []byte, sym *Symbol) error {
	sym.Type = TypeIndex(binary.LittleEndian.Uint32(body[0:]))
	sym.Name, _ = streams.ParseString(body[4:])
	return nil
}

func decodeConstantSym(body []byte, sym *Symbol) error {
	sym.Type = TypeIndex(binary.LittleEndian.Uint32(body[0:]))
	_, n := streams.ParseNumeric(body[4:])
	if n == 0 {
		return fmt.Errorf("S_CONSTANT value: %w", pdberr.ErrTruncatedInput)
	}
	sym.Name, _ = streams.ParseString(body[4+n:])
	return nil
}

// SymbolKindName returns the name for a symbol kind constant.
func SymbolKindName(kind uint16) string {
	switch kind {
	case S_END:
		return "S_END"
	case S_OBJNAME:
		return "S_OBJNAME"
	case S_THUNK32:
		return "S_THUNK32"
	case S_BLOCK32:
		return "S_BLOCK32"
	case S_LABEL32:
		return "S_LABEL32"
	case S_CONSTANT:
		return "S_CONSTANT"
	case S_UDT:
		return "S_UDT"
	case S_LDATA32:
		return "S_LDATA32"
	case S_GDATA32:
		return "S_GDATA32"
	case S_PUB32:
		return "S_PUB32"
	case S_LPROC32:
		return "S_LPROC32"
	case S_GPROC32:
		return "S_GPROC32"
	case S_REGREL32:
		return "S_REGREL32"
	case S_LTHREAD32:
		return "S_LTHREAD32"
	case S_GTHREAD32:
		return "S_GTHREAD32"
	case S_PROCREF:
		return "S_PROCREF"
	case S_DATAREF:
		return "S_DATAREF"
	case S_LPROCREF:
		return "S_LPROCREF"
	case S_SECTION:
		return "S_SECTION"
	case S_COFFGROUP:
		return "S_COFFGROUP"
	case S_COMPILE3:
		return "S_COMPILE3"
	case S_LOCAL:
		return "S_LOCAL"
	case S_BUILDINFO:
		return "S_BUILDINFO"
	case S_LPROC32_ID:
		return "S_LPROC32_ID"
	case S_GPROC32_ID:
		return "S_GPROC32_ID"
	case S_FRAMEPROC:
		return "S_FRAMEPROC"
	default:
		return fmt.Sprintf("S_0x%04x", kind)
	}
}

// IsProcSymbol returns true if the kind is a procedure symbol.
func IsProcSymbol(kind uint16) bool {
	switch kind {
	case S_GPROC32, S_LPROC32, S_GPROC32_ID, S_LPROC32_ID:
		return true
	default:
		return false
	}
}
