package pdbtest

// Type leaf kinds.
const (
	LFModifier  = 0x1001
	LFPointer   = 0x1002
	LFProcedure = 0x1008
	LFArgList   = 0x1201
	LFFieldList = 0x1203
	LFBitfield  = 0x1205
	LFBClass    = 0x1400
	LFVBClass   = 0x1401
	LFIndex     = 0x1404
	LFVFuncTab  = 0x1409
	LFEnumerate = 0x1502
	LFArray     = 0x1503
	LFClass     = 0x1504
	LFStructure = 0x1505
	LFUnion     = 0x1506
	LFEnum      = 0x1507
	LFMember    = 0x150d
	LFSTMember  = 0x150e
	LFMethod    = 0x150f
	LFNestType  = 0x1510
	LFOneMethod = 0x1511
	LFVTShape   = 0x000a
)

// Aggregate property bits.
const (
	PropForwardRef    = 0x0080
	PropHasUniqueName = 0x0200
)

// TypeRecord frames a type record, padding the body to four bytes with
// LF_PAD bytes the way the compiler does.
func TypeRecord(leaf uint16, body []byte) []byte {
	for n := (4 - (4+len(body))%4) % 4; n > 0; n-- {
		body = append(body, 0xF0|byte(n))
	}
	return Record(leaf, body)
}

// Agg describes an LF_STRUCTURE, LF_CLASS or LF_UNION record.
type Agg struct {
	Count      uint16
	Props      uint16
	FieldList  uint32
	Size       uint64
	Name       string
	UniqueName string
}

func aggregate(leaf uint16, a Agg) []byte {
	props := a.Props
	if a.UniqueName != "" {
		props |= PropHasUniqueName
	}
	w := &Writer{}
	w.U16(a.Count).U16(props).U32(a.FieldList)
	if leaf != LFUnion {
		w.U32(0).U32(0) // derived, vshape
	}
	w.Numeric(a.Size).CString(a.Name)
	if a.UniqueName != "" {
		w.CString(a.UniqueName)
	}
	return TypeRecord(leaf, w.Bytes())
}

// StructRecord returns an LF_STRUCTURE record.
func StructRecord(a Agg) []byte { return aggregate(LFStructure, a) }

// ClassRecord returns an LF_CLASS record.
func ClassRecord(a Agg) []byte { return aggregate(LFClass, a) }

// UnionRecord returns an LF_UNION record.
func UnionRecord(a Agg) []byte { return aggregate(LFUnion, a) }

// Struct is a full structure definition.
func Struct(name string, fieldList uint32, size uint64) []byte {
	return StructRecord(Agg{FieldList: fieldList, Size: size, Name: name})
}

// ForwardStruct is a structure declaration without layout.
func ForwardStruct(name string) []byte {
	return StructRecord(Agg{Props: PropForwardRef, Name: name})
}

// Union is a full union definition.
func Union(name string, fieldList uint32, size uint64) []byte {
	return UnionRecord(Agg{FieldList: fieldList, Size: size, Name: name})
}

// Enum returns an LF_ENUM record.
func Enum(name string, underlying, fieldList uint32) []byte {
	w := &Writer{}
	w.U16(0).U16(0).U32(underlying).U32(fieldList).CString(name)
	return TypeRecord(LFEnum, w.Bytes())
}

// Pointer returns a near 64-bit pointer record of the given byte width.
func Pointer(target uint32, size uint8) []byte {
	attr := uint32(size)<<13 | 0x0c
	w := &Writer{}
	w.U32(target).U32(attr)
	return TypeRecord(LFPointer, w.Bytes())
}

// Modifier returns an LF_MODIFIER record.
func Modifier(target uint32, qualifiers uint16) []byte {
	w := &Writer{}
	w.U32(target).U16(qualifiers)
	return TypeRecord(LFModifier, w.Bytes())
}

// Array returns an LF_ARRAY record of size bytes.
func Array(element, index uint32, size uint64) []byte {
	w := &Writer{}
	w.U32(element).U32(index).Numeric(size).CString("")
	return TypeRecord(LFArray, w.Bytes())
}

// Bitfield returns an LF_BITFIELD record.
func Bitfield(target uint32, length, position uint8) []byte {
	w := &Writer{}
	w.U32(target).U8(length).U8(position)
	return TypeRecord(LFBitfield, w.Bytes())
}

// Procedure returns an LF_PROCEDURE record.
func Procedure(ret, args uint32) []byte {
	w := &Writer{}
	w.U32(ret).U8(0).U8(0).U16(0).U32(args)
	return TypeRecord(LFProcedure, w.Bytes())
}

// VTShape returns an LF_VTSHAPE record, a leaf the decoder does not model.
func VTShape() []byte {
	w := &Writer{}
	w.U16(1).U8(0)
	return TypeRecord(LFVTShape, w.Bytes())
}

// FieldList returns an LF_FIELDLIST record made of the given members.
// Each member is padded to four bytes with LF_PAD bytes.
func FieldList(members ...[]byte) []byte {
	var body []byte
	for _, m := range members {
		body = append(body, m...)
		for n := (4 - len(body)%4) % 4; n > 0; n-- {
			body = append(body, 0xF0|byte(n))
		}
	}
	return Record(LFFieldList, body)
}

// Member returns an LF_MEMBER sub-record.
func Member(name string, typ uint32, offset uint64) []byte {
	w := &Writer{}
	w.U16(LFMember).U16(3).U32(typ).Numeric(offset).CString(name)
	return w.Bytes()
}

// BaseClass returns an LF_BCLASS sub-record.
func BaseClass(typ uint32, offset uint64) []byte {
	w := &Writer{}
	w.U16(LFBClass).U16(3).U32(typ).Numeric(offset)
	return w.Bytes()
}

// VirtualBaseClass returns an LF_VBCLASS sub-record.
func VirtualBaseClass(typ, vbptr uint32, vbpOffset, vbIndex uint64) []byte {
	w := &Writer{}
	w.U16(LFVBClass).U16(3).U32(typ).U32(vbptr).Numeric(vbpOffset).Numeric(vbIndex)
	return w.Bytes()
}

// Enumerate returns an LF_ENUMERATE sub-record.
func Enumerate(name string, value uint64) []byte {
	w := &Writer{}
	w.U16(LFEnumerate).U16(3).Numeric(value).CString(name)
	return w.Bytes()
}

// StaticMember returns an LF_STMEMBER sub-record.
func StaticMember(name string, typ uint32) []byte {
	w := &Writer{}
	w.U16(LFSTMember).U16(3).U32(typ).CString(name)
	return w.Bytes()
}

// OneMethod returns an LF_ONEMETHOD sub-record; introducing virtuals carry
// a vtable offset.
func OneMethod(name string, typ uint32, introducing bool) []byte {
	attr := uint16(3)
	w := &Writer{}
	if introducing {
		attr |= 4 << 2
		w.U16(LFOneMethod).U16(attr).U32(typ).U32(0)
	} else {
		w.U16(LFOneMethod).U16(attr).U32(typ)
	}
	w.CString(name)
	return w.Bytes()
}

// Method returns an LF_METHOD sub-record for an overload set.
func Method(name string, count uint16, methodList uint32) []byte {
	w := &Writer{}
	w.U16(LFMethod).U16(count).U32(methodList).CString(name)
	return w.Bytes()
}

// NestType returns an LF_NESTTYPE sub-record.
func NestType(name string, typ uint32) []byte {
	w := &Writer{}
	w.U16(LFNestType).U16(0).U32(typ).CString(name)
	return w.Bytes()
}

// VFuncTab returns an LF_VFUNCTAB sub-record.
func VFuncTab(typ uint32) []byte {
	w := &Writer{}
	w.U16(LFVFuncTab).U16(0).U32(typ)
	return w.Bytes()
}

// Index returns an LF_INDEX continuation sub-record.
func Index(next uint32) []byte {
	w := &Writer{}
	w.U16(LFIndex).U16(0).U32(next)
	return w.Bytes()
}
