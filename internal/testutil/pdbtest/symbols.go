package pdbtest

// Symbol record kinds.
const (
	SConstant  = 0x1107
	SUDT       = 0x1108
	SLData32   = 0x110c
	SGData32   = 0x110d
	SPub32     = 0x110e
	SLProc32   = 0x110f
	SGProc32   = 0x1110
	SLThread32 = 0x1112
	SGThread32 = 0x1113
	SObjName   = 0x1101
	SGProc32ID = 0x1147
)

// Public returns an S_PUB32 record.
func Public(name string, section uint16, offset uint32) []byte {
	w := &Writer{}
	w.U32(0).U32(offset).U16(section).CString(name).Pad(4)
	return Record(SPub32, w.Bytes())
}

// Data returns a data symbol record of the given kind (S_GDATA32, S_LDATA32,
// S_GTHREAD32 or S_LTHREAD32).
func Data(kind uint16, name string, typ uint32, section uint16, offset uint32) []byte {
	w := &Writer{}
	w.U32(typ).U32(offset).U16(section).CString(name)
	return Record(kind, w.Bytes())
}

// Proc returns a procedure symbol record of the given kind.
func Proc(kind uint16, name string, typ uint32, section uint16, offset uint32) []byte {
	w := &Writer{}
	w.U32(0).U32(0).U32(0) // parent, end, next
	w.U32(0x10).U32(0).U32(0x10)
	w.U32(typ).U32(offset).U16(section).U8(0).CString(name)
	return Record(kind, w.Bytes())
}

// UDT returns an S_UDT record.
func UDT(name string, typ uint32) []byte {
	w := &Writer{}
	w.U32(typ).CString(name)
	return Record(SUDT, w.Bytes())
}

// Constant returns an S_CONSTANT record.
func Constant(name string, typ uint32, value uint64) []byte {
	w := &Writer{}
	w.U32(typ).Numeric(value).CString(name)
	return Record(SConstant, w.Bytes())
}

// ObjName returns an S_OBJNAME record, a kind the decoder skips.
func ObjName(name string) []byte {
	w := &Writer{}
	w.U32(0).CString(name)
	return Record(SObjName, w.Bytes())
}

// ModuleStream prefixes symbol records with the C13 signature.
func ModuleStream(records ...[]byte) []byte {
	w := &Writer{}
	w.U32(4)
	return append(w.Bytes(), Concat(records...)...)
}
