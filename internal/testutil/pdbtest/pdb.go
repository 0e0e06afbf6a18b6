package pdbtest

// Fixed stream numbers.
const (
	StreamPDB = 1
	StreamTPI = 2
	StreamDBI = 3
	StreamIPI = 4
)

// Machine types.
const (
	MachineI386  = 0x014c
	MachineAMD64 = 0x8664
)

// TypeIndexBegin is the first non-primitive type index.
const TypeIndexBegin = 0x1000

// PDBInfo returns a PDB info stream with an empty named stream map.
func PDBInfo(guid [16]byte, age uint32) []byte {
	w := &Writer{}
	w.U32(20000404).U32(0x5F000000).U32(age).Raw(guid[:])
	w.U32(0)        // string buffer size
	w.U32(0).U32(0) // size, capacity
	w.U32(0).U32(0) // present, deleted bit vectors
	return w.Bytes()
}

// TPI returns a TPI stream whose records start at begin.
func TPI(begin uint32, records ...[]byte) []byte {
	body := Concat(records...)
	w := &Writer{}
	w.U32(20040203).U32(56).U32(begin).U32(begin + uint32(len(records))).U32(uint32(len(body)))
	w.U16(0xFFFF).U16(0xFFFF)
	for range 8 {
		w.U32(0) // hash key size, buckets and buffer locations
	}
	return append(w.Bytes(), body...)
}

// Module describes one DBI module info entry.
type Module struct {
	Name        string
	SymStream   uint16
	SymByteSize uint32
}

// DBIOptions describes a DBI stream.
type DBIOptions struct {
	Age             uint32
	Machine         uint16
	SymRecordStream uint16
	Modules         []Module
	// DebugHeader holds the optional debug header stream numbers;
	// 0xFFFF marks an absent slot.
	DebugHeader []uint16
}

// DBI returns a DBI stream with module info and an optional debug header.
func DBI(o DBIOptions) []byte {
	mods := &Writer{}
	for _, m := range o.Modules {
		// Unused word and the section contribution.
		mods.U32(0).Raw(make([]byte, 28))
		mods.U16(0).U16(m.SymStream).U32(m.SymByteSize)
		// Line info sizes, source file count, padding and name indices.
		mods.U32(0).U32(0).U16(0).U16(0).U32(0).U32(0).U32(0)
		mods.CString(m.Name).CString(m.Name)
		mods.Pad(4)
	}

	dbg := &Writer{}
	for _, idx := range o.DebugHeader {
		dbg.U16(idx)
	}

	w := &Writer{}
	w.U32(0xFFFFFFFF).U32(19990903).U32(o.Age)
	// Global stream, build number, public stream, dll version.
	w.U16(0xFFFF).U16(0x8e00).U16(0xFFFF).U16(0)
	w.U16(o.SymRecordStream).U16(0)
	// Substream sizes in header order, with the MFC type server index
	// between the type server map and the debug header.
	w.U32(uint32(mods.Len())).U32(0).U32(0).U32(0).U32(0)
	w.U32(0).U32(uint32(dbg.Len())).U32(0)
	w.U16(0).U16(o.Machine).U32(0)
	w.Raw(mods.Bytes()).Raw(dbg.Bytes())
	return w.Bytes()
}

// Section describes one PE section header.
type Section struct {
	Name           string
	VirtualAddress uint32
	VirtualSize    uint32
}

// SectionHeaders returns a section header stream.
func SectionHeaders(sections ...Section) []byte {
	w := &Writer{}
	for _, s := range sections {
		name := make([]byte, 8)
		copy(name, s.Name)
		w.Raw(name).U32(s.VirtualSize).U32(s.VirtualAddress)
		w.U32(s.VirtualSize).U32(0).U32(0).U32(0).U16(0).U16(0)
		w.U32(0x60000020)
	}
	return w.Bytes()
}

// ModuleSymbols is a module with its own symbol stream.
type ModuleSymbols struct {
	Name    string
	Symbols [][]byte
	// Trailer is appended after the symbols and excluded from the
	// module's symbol byte size, like C13 line information.
	Trailer []byte
}

// Options describes a complete PDB file.
type Options struct {
	BlockSize uint32
	GUID      [16]byte
	Age       uint32
	Machine   uint16
	// TypeBegin defaults to TypeIndexBegin.
	TypeBegin uint32
	Types     [][]byte
	// Symbols go into the global symbol record stream.
	Symbols  [][]byte
	Modules  []ModuleSymbols
	Sections []Section
}

// Build lays out a PDB: streams 1-4 are the fixed streams, 5 the symbol
// records, 6 the section headers when present, then one stream per module.
func Build(o Options) []byte {
	if o.BlockSize == 0 {
		o.BlockSize = 512
	}
	if o.TypeBegin == 0 {
		o.TypeBegin = TypeIndexBegin
	}
	if o.Machine == 0 {
		o.Machine = MachineAMD64
	}

	streams := [][]byte{
		{}, // old directory
		PDBInfo(o.GUID, o.Age),
		TPI(o.TypeBegin, o.Types...),
		nil, // DBI, filled below
		TPI(o.TypeBegin),
		Concat(o.Symbols...),
	}

	debugHeader := []uint16{0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF}
	if len(o.Sections) > 0 {
		debugHeader[5] = uint16(len(streams))
		streams = append(streams, SectionHeaders(o.Sections...))
	}

	var modules []Module
	for _, m := range o.Modules {
		data := ModuleStream(m.Symbols...)
		modules = append(modules, Module{
			Name:        m.Name,
			SymStream:   uint16(len(streams)),
			SymByteSize: uint32(len(data)),
		})
		streams = append(streams, append(data, m.Trailer...))
	}

	streams[StreamDBI] = DBI(DBIOptions{
		Age:             o.Age,
		Machine:         o.Machine,
		SymRecordStream: 5,
		Modules:         modules,
		DebugHeader:     debugHeader,
	})
	return MSF(o.BlockSize, streams...)
}
