package streams

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/jtang613/kerndbg/pkg/pdb/pdberr"
)

// TPI Stream versions
const (
	TPIStreamVersion40  = 19950410
	TPIStreamVersion41  = 19951122
	TPIStreamVersion50  = 19961031
	TPIStreamVersionV70 = 19990903
	TPIStreamVersionV80 = 20040203
)

// First type index (built-in types are below this)
const TypeIndexBegin = 0x1000

// TPIHeaderSize is the size of the fixed TPI header.
const TPIHeaderSize = 56

// TPIHeader is the header of the TPI stream.
type TPIHeader struct {
	Version                 uint32
	HeaderSize              uint32
	TypeIndexBegin          uint32
	TypeIndexEnd            uint32
	TypeRecordBytes         uint32
	HashStreamIndex         uint16
	HashAuxStreamIndex      uint16
	HashKeySize             uint32
	NumHashBuckets          uint32
	HashValueBufferOffset   int32
	HashValueBufferLength   uint32
	IndexOffsetBufferOffset int32
	IndexOffsetBufferLength uint32
	HashAdjBufferOffset     int32
	HashAdjBufferLength     uint32
}

// TPIStream is the TPI (Type Info) stream split into header and the raw
// record region. Records are decoded lazily by the codeview package.
type TPIStream struct {
	Header  TPIHeader
	Records []byte
}

// ReadTPIStream parses the TPI header and locates the record region.
func ReadTPIStream(data []byte) (*TPIStream, error) {
	if len(data) < TPIHeaderSize {
		return nil, fmt.Errorf("TPI header needs %d bytes, have %d: %w", TPIHeaderSize, len(data), pdberr.ErrTruncatedInput)
	}

	var header TPIHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read TPI header: %w", err)
	}

	if header.Version != TPIStreamVersionV80 && header.Version != TPIStreamVersionV70 {
		return nil, fmt.Errorf("unsupported TPI version %d: %w", header.Version, pdberr.ErrMalformedContainer)
	}
	if header.TypeIndexBegin < TypeIndexBegin || header.TypeIndexEnd < header.TypeIndexBegin {
		return nil, fmt.Errorf("TPI index range [0x%x, 0x%x): %w",
			header.TypeIndexBegin, header.TypeIndexEnd, pdberr.ErrMalformedContainer)
	}

	start := uint64(header.HeaderSize)
	end := start + uint64(header.TypeRecordBytes)
	if start < TPIHeaderSize || end > uint64(len(data)) {
		return nil, fmt.Errorf("TPI records [0x%x, 0x%x) exceed stream of 0x%x bytes: %w",
			start, end, len(data), pdberr.ErrTruncatedInput)
	}

	return &TPIStream{
		Header:  header,
		Records: data[start:end],
	}, nil
}

// TypeCount returns the number of types (TypeIndexEnd - TypeIndexBegin).
func (t *TPIStream) TypeCount() uint32 {
	return t.Header.TypeIndexEnd - t.Header.TypeIndexBegin
}

// LF_* type leaf constants
const (
	LF_VTSHAPE    = 0x000a
	LF_MODIFIER   = 0x1001
	LF_POINTER    = 0x1002
	LF_ARRAY_ST   = 0x1003
	LF_CLASS_ST   = 0x1004
	LF_STRUCT_ST  = 0x1005
	LF_UNION_ST   = 0x1006
	LF_ENUM_ST    = 0x1007
	LF_PROCEDURE  = 0x1008
	LF_MFUNCTION  = 0x1009
	LF_VFTPATH    = 0x100d
	LF_SKIP       = 0x1200
	LF_ARGLIST    = 0x1201
	LF_FIELDLIST  = 0x1203
	LF_DERIVED    = 0x1204
	LF_BITFIELD   = 0x1205
	LF_METHODLIST = 0x1206

	// Field list sub-records.
	LF_BCLASS    = 0x1400
	LF_VBCLASS   = 0x1401
	LF_IVBCLASS  = 0x1402
	LF_INDEX     = 0x1404
	LF_VFUNCTAB  = 0x1409
	LF_FRIENDCLS = 0x140a
	LF_VFUNCOFF  = 0x140c

	LF_TYPESERVER       = 0x1501
	LF_ENUMERATE        = 0x1502
	LF_ARRAY            = 0x1503
	LF_CLASS            = 0x1504
	LF_STRUCTURE        = 0x1505
	LF_UNION            = 0x1506
	LF_ENUM             = 0x1507
	LF_DIMARRAY         = 0x1508
	LF_PRECOMP          = 0x1509
	LF_ALIAS            = 0x150a
	LF_FRIENDFCN        = 0x150c
	LF_MEMBER           = 0x150d
	LF_STMEMBER         = 0x150e
	LF_METHOD           = 0x150f
	LF_NESTTYPE         = 0x1510
	LF_ONEMETHOD        = 0x1511
	LF_NESTTYPEEX       = 0x1512
	LF_MEMBERMODIFY     = 0x1513
	LF_TYPESERVER2      = 0x1515
	LF_INTERFACE        = 0x1519
	LF_VFTABLE          = 0x151d
	LF_FUNC_ID          = 0x1601
	LF_MFUNC_ID         = 0x1602
	LF_BUILDINFO        = 0x1603
	LF_SUBSTR_LIST      = 0x1604
	LF_STRING_ID        = 0x1605
	LF_UDT_SRC_LINE     = 0x1606
	LF_UDT_MOD_SRC_LINE = 0x1607

	// Alignment padding inside field lists (LF_PAD0 .. LF_PAD15).
	LF_PAD0  = 0xf0
	LF_PAD15 = 0xff
)

// Aggregate property bits (CV_prop_t).
const (
	PropForwardRef    = 0x0080
	PropHasUniqueName = 0x0200
)

// Built-in type constants (type indices < 0x1000)
// Mode (bits 8-11)
const (
	TM_DIRECT  = 0 // Not a pointer
	TM_NPTR    = 1 // Near pointer
	TM_FPTR    = 2 // Far pointer
	TM_HPTR    = 3 // Huge pointer
	TM_NPTR32  = 4 // 32-bit near pointer
	TM_FPTR32  = 5 // 32-bit far pointer
	TM_NPTR64  = 6 // 64-bit near pointer
	TM_NPTR128 = 7 // 128-bit near pointer
)

// Kind (bits 0-7)
const (
	T_NOTYPE   = 0x0000
	T_ABS      = 0x0001
	T_SEGMENT  = 0x0002
	T_VOID     = 0x0003
	T_CURRENCY = 0x0004
	T_HRESULT  = 0x0008

	T_CHAR  = 0x0010
	T_SHORT = 0x0011
	T_LONG  = 0x0012
	T_QUAD  = 0x0013
	T_OCT   = 0x0014

	T_UCHAR  = 0x0020
	T_USHORT = 0x0021
	T_ULONG  = 0x0022
	T_UQUAD  = 0x0023
	T_UOCT   = 0x0024

	T_BOOL08 = 0x0030
	T_BOOL16 = 0x0031
	T_BOOL32 = 0x0032
	T_BOOL64 = 0x0033

	T_REAL32  = 0x0040
	T_REAL64  = 0x0041
	T_REAL80  = 0x0042
	T_REAL128 = 0x0043
	T_REAL16  = 0x0046

	T_INT1   = 0x0068
	T_UINT1  = 0x0069
	T_RCHAR  = 0x0070
	T_WCHAR  = 0x0071
	T_INT2   = 0x0072
	T_UINT2  = 0x0073
	T_INT4   = 0x0074
	T_UINT4  = 0x0075
	T_INT8   = 0x0076
	T_UINT8  = 0x0077
	T_INT16  = 0x0078
	T_UINT16 = 0x0079
	T_CHAR16 = 0x007a
	T_CHAR32 = 0x007b
	T_CHAR8  = 0x007c
)

type builtin struct {
	name string
	size uint64
}

var builtins = map[uint32]builtin{
	T_NOTYPE:   {"<no type>", 0},
	T_VOID:     {"void", 0},
	T_HRESULT:  {"HRESULT", 4},
	T_CHAR:     {"char", 1},
	T_SHORT:    {"short", 2},
	T_LONG:     {"long", 4},
	T_QUAD:     {"int64", 8},
	T_OCT:      {"int128", 16},
	T_UCHAR:    {"unsigned char", 1},
	T_USHORT:   {"unsigned short", 2},
	T_ULONG:    {"unsigned long", 4},
	T_UQUAD:    {"uint64", 8},
	T_UOCT:     {"uint128", 16},
	T_BOOL08:   {"bool", 1},
	T_BOOL16:   {"bool16", 2},
	T_BOOL32:   {"BOOL", 4},
	T_BOOL64:   {"bool64", 8},
	T_REAL16:   {"half", 2},
	T_REAL32:   {"float", 4},
	T_REAL64:   {"double", 8},
	T_REAL80:   {"long double", 10},
	T_REAL128:  {"float128", 16},
	T_INT1:     {"int8", 1},
	T_UINT1:    {"uint8", 1},
	T_RCHAR:    {"char", 1},
	T_WCHAR:    {"wchar_t", 2},
	T_INT2:     {"int16", 2},
	T_UINT2:    {"uint16", 2},
	T_INT4:     {"int32", 4},
	T_UINT4:    {"uint32", 4},
	T_INT8:     {"int64", 8},
	T_UINT8:    {"uint64", 8},
	T_INT16:    {"int128", 16},
	T_UINT16:   {"uint128", 16},
	T_CHAR16:   {"char16_t", 2},
	T_CHAR32:   {"char32_t", 4},
	T_CHAR8:    {"char8_t", 1},
	T_CURRENCY: {"CURRENCY", 8},
}

// GetBuiltinTypeName returns the name of a built-in type index.
func GetBuiltinTypeName(typeIdx uint32) string {
	if typeIdx >= TypeIndexBegin {
		return ""
	}

	kind := typeIdx & 0xFF
	mode := (typeIdx >> 8) & 0xF

	baseName := fmt.Sprintf("builtin_0x%04x", typeIdx)
	if b, ok := builtins[kind]; ok {
		baseName = b.name
	}

	switch mode {
	case TM_DIRECT:
		return baseName
	case TM_FPTR, TM_FPTR32:
		return baseName + " far*"
	default:
		return baseName + "*"
	}
}

// GetBuiltinTypeSize returns the byte size of a built-in type index.
// Pointer modes take the pointer width; unknown kinds report false.
func GetBuiltinTypeSize(typeIdx uint32) (uint64, bool) {
	if typeIdx >= TypeIndexBegin {
		return 0, false
	}

	switch (typeIdx >> 8) & 0xF {
	case TM_DIRECT:
	case TM_NPTR:
		return 2, true
	case TM_FPTR, TM_HPTR, TM_NPTR32:
		return 4, true
	case TM_FPTR32:
		return 6, true
	case TM_NPTR64:
		return 8, true
	case TM_NPTR128:
		return 16, true
	default:
		return 0, false
	}

	b, ok := builtins[typeIdx&0xFF]
	return b.size, ok
}

// IsBuiltinPointer reports whether a built-in index is a pointer to a primitive.
func IsBuiltinPointer(typeIdx uint32) bool {
	return typeIdx < TypeIndexBegin && (typeIdx>>8)&0xF != TM_DIRECT
}

// LeafKindName returns the name for a LF_* constant.
func LeafKindName(kind uint16) string {
	switch kind {
	case LF_MODIFIER:
		return "LF_MODIFIER"
	case LF_POINTER:
		return "LF_POINTER"
	case LF_ARRAY, LF_ARRAY_ST:
		return "LF_ARRAY"
	case LF_CLASS, LF_CLASS_ST:
		return "LF_CLASS"
	case LF_STRUCTURE, LF_STRUCT_ST:
		return "LF_STRUCTURE"
	case LF_UNION, LF_UNION_ST:
		return "LF_UNION"
	case LF_ENUM, LF_ENUM_ST:
		return "LF_ENUM"
	case LF_PROCEDURE:
		return "LF_PROCEDURE"
	case LF_MFUNCTION:
		return "LF_MFUNCTION"
	case LF_ARGLIST:
		return "LF_ARGLIST"
	case LF_FIELDLIST:
		return "LF_FIELDLIST"
	case LF_BITFIELD:
		return "LF_BITFIELD"
	case LF_METHODLIST:
		return "LF_METHODLIST"
	case LF_VTSHAPE:
		return "LF_VTSHAPE"
	case LF_VFTABLE:
		return "LF_VFTABLE"
	case LF_FUNC_ID:
		return "LF_FUNC_ID"
	case LF_MFUNC_ID:
		return "LF_MFUNC_ID"
	case LF_BUILDINFO:
		return "LF_BUILDINFO"
	case LF_STRING_ID:
		return "LF_STRING_ID"
	case LF_SUBSTR_LIST:
		return "LF_SUBSTR_LIST"
	case LF_UDT_SRC_LINE:
		return "LF_UDT_SRC_LINE"
	case LF_UDT_MOD_SRC_LINE:
		return "LF_UDT_MOD_SRC_LINE"
	default:
		return fmt.Sprintf("LF_0x%04x", kind)
	}
}
