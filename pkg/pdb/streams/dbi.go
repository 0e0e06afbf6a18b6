package streams

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"fortio.org/safecast"

	"github.com/jtang613/kerndbg/pkg/pdb/pdberr"
)

// DBI Stream versions
const (
	DBIStreamVersionVC41 = 930803
	DBIStreamVersionV50  = 19960307
	DBIStreamVersionV60  = 19970606
	DBIStreamVersionV70  = 19990903
	DBIStreamVersionV110 = 20091201
)

// Machine types
const (
	MachineUnknown = 0x0000
	MachineI386    = 0x014c
	MachineIA64    = 0x0200
	MachineAMD64   = 0x8664
	MachineARM     = 0x01c0
	MachineARM64   = 0xAA64
)

// DBIHeaderSize is the size of the fixed DBI header.
const DBIHeaderSize = 64

// NoStream marks an absent stream in 16-bit stream index fields.
const NoStream = 0xFFFF

// Optional debug header slots.
const (
	DbgHeaderFPO            = 0
	DbgHeaderException      = 1
	DbgHeaderFixup          = 2
	DbgHeaderOmapToSrc      = 3
	DbgHeaderOmapFromSrc    = 4
	DbgHeaderSectionHdr     = 5
	DbgHeaderTokenRidMap    = 6
	DbgHeaderXdata          = 7
	DbgHeaderPdata          = 8
	DbgHeaderNewFPO         = 9
	DbgHeaderSectionHdrOrig = 10
)

// DBIHeader is the fixed header of the DBI stream (64 bytes).
type DBIHeader struct {
	VersionSignature        int32  // Always -1
	VersionHeader           uint32 // DBI version
	Age                     uint32 // PDB age
	GlobalStreamIndex       uint16 // Global symbols stream index
	BuildNumber             uint16 // Toolchain version
	PublicStreamIndex       uint16 // Public symbols stream index
	PdbDllVersion           uint16
	SymRecordStream         uint16 // Symbol record stream index
	PdbDllRbld              uint16
	ModInfoSize             int32 // Size of module info substream
	SectionContributionSize int32 // Size of section contribution substream
	SectionMapSize          int32 // Size of section map substream
	SourceInfoSize          int32 // Size of source info substream
	TypeServerMapSize       int32 // Size of type server map substream
	MFCTypeServerIndex      uint32
	OptionalDbgHeaderSize   int32 // Size of optional debug header
	ECSubstreamSize         int32 // Size of EC substream
	Flags                   uint16
	Machine                 uint16 // CPU type
	Padding                 uint32
}

// DBIStream represents the parsed DBI stream.
type DBIStream struct {
	Header      DBIHeader
	Modules     []ModuleInfo
	DebugHeader []uint16 // optional debug header stream indices, NoStream if absent
}

// ModuleInfo contains information about a compiled module.
type ModuleInfo struct {
	Flags           uint16
	ModuleSymStream uint16 // Stream containing module symbols (NoStream if none)
	SymByteSize     uint32 // Size of symbol data in bytes, including the signature
	C11ByteSize     uint32 // Size of C11 line info
	C13ByteSize     uint32 // Size of C13 line info
	SourceFileCount uint16
	ModuleName      string // Object file name
	ObjFileName     string // Archive or object file path
}

// moduleInfoFixedSize is the fixed prefix of a module info entry, before the names.
const moduleInfoFixedSize = 64

// ReadDBIStream parses the DBI stream.
func ReadDBIStream(data []byte) (*DBIStream, error) {
	if len(data) < DBIHeaderSize {
		return nil, fmt.Errorf("DBI header needs %d bytes, have %d: %w", DBIHeaderSize, len(data), pdberr.ErrTruncatedInput)
	}

	var header DBIHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read DBI header: %w", err)
	}

	if header.VersionSignature != -1 {
		return nil, fmt.Errorf("invalid DBI version signature %d: %w", header.VersionSignature, pdberr.ErrMalformedContainer)
	}

	dbi := &DBIStream{Header: header}

	// Substreams follow the header in this fixed order.
	sizes := []int32{
		header.ModInfoSize,
		header.SectionContributionSize,
		header.SectionMapSize,
		header.SourceInfoSize,
		header.TypeServerMapSize,
		header.ECSubstreamSize,
		header.OptionalDbgHeaderSize,
	}
	substreams := make([][]byte, len(sizes))
	offset := DBIHeaderSize
	for i, size := range sizes {
		n, err := safecast.Conv[int](size)
		if err != nil {
			return nil, fmt.Errorf("DBI substream %d has negative size %d: %w", i, size, pdberr.ErrMalformedContainer)
		}
		if offset+n > len(data) {
			return nil, fmt.Errorf("DBI substream %d [0x%x, 0x%x) exceeds stream of 0x%x bytes: %w",
				i, offset, offset+n, len(data), pdberr.ErrTruncatedInput)
		}
		substreams[i] = data[offset : offset+n]
		offset += n
	}

	modules, err := parseModuleInfo(substreams[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse module info: %w", err)
	}
	dbi.Modules = modules

	dbg := substreams[len(substreams)-1]
	dbi.DebugHeader = make([]uint16, len(dbg)/2)
	for i := range dbi.DebugHeader {
		dbi.DebugHeader[i] = binary.LittleEndian.Uint16(dbg[i*2:])
	}

	return dbi, nil
}

// parseModuleInfo parses the module info substream.
func parseModuleInfo(data []byte) ([]ModuleInfo, error) {
	var modules []ModuleInfo
	r := NewReader(data)

	for r.Len() > 0 {
		fixed, err := r.Bytes(moduleInfoFixedSize)
		if err != nil {
			return nil, fmt.Errorf("module %d: %w", len(modules), err)
		}

		// Skip Unused1 (4) and the 28-byte section contribution.
		mod := ModuleInfo{
			Flags:           binary.LittleEndian.Uint16(fixed[32:]),
			ModuleSymStream: binary.LittleEndian.Uint16(fixed[34:]),
			SymByteSize:     binary.LittleEndian.Uint32(fixed[36:]),
			C11ByteSize:     binary.LittleEndian.Uint32(fixed[40:]),
			C13ByteSize:     binary.LittleEndian.Uint32(fixed[44:]),
			SourceFileCount: binary.LittleEndian.Uint16(fixed[48:]),
		}

		mod.ModuleName = r.CString()
		mod.ObjFileName = r.CString()

		// Align to 4-byte boundary
		if pad := (4 - r.Offset()%4) % 4; pad > 0 && r.Len() >= pad {
			_ = r.Skip(pad)
		}

		modules = append(modules, mod)
	}

	return modules, nil
}

// StreamIndex returns the stream number stored in an optional debug header
// slot, or false if the slot is absent.
func (d *DBIStream) StreamIndex(slot int) (int, bool) {
	if slot < 0 || slot >= len(d.DebugHeader) || d.DebugHeader[slot] == NoStream {
		return 0, false
	}
	return int(d.DebugHeader[slot]), true
}

// MachineTypeName returns the human-readable name for a machine type.
func MachineTypeName(machine uint16) string {
	switch machine {
	case MachineI386:
		return "x86"
	case MachineAMD64:
		return "x64"
	case MachineARM:
		return "ARM"
	case MachineARM64:
		return "ARM64"
	case MachineIA64:
		return "IA64"
	default:
		return fmt.Sprintf("0x%04x", machine)
	}
}

// HasSymbols returns true if the module has symbol information.
func (m *ModuleInfo) HasSymbols() bool {
	return m.ModuleSymStream != NoStream && m.SymByteSize > 0
}

// SectionHeaderSize is the size of one IMAGE_SECTION_HEADER.
const SectionHeaderSize = 40

// SectionHeader is a PE section header as copied into the PDB.
type SectionHeader struct {
	Name            string
	VirtualSize     uint32
	VirtualAddress  uint32
	SizeOfRawData   uint32
	Characteristics uint32
}

// ReadSectionHeaders parses the section header stream. Section numbers in
// symbol records are 1-based indices into the returned slice.
func ReadSectionHeaders(data []byte) ([]SectionHeader, error) {
	if len(data)%SectionHeaderSize != 0 {
		return nil, fmt.Errorf("section header stream of %d bytes is not a multiple of %d: %w",
			len(data), SectionHeaderSize, pdberr.ErrTruncatedInput)
	}

	headers := make([]SectionHeader, 0, len(data)/SectionHeaderSize)
	for off := 0; off < len(data); off += SectionHeaderSize {
		raw := data[off : off+SectionHeaderSize]
		name, _ := ParseString(raw[:8])
		headers = append(headers, SectionHeader{
			Name:            name,
			VirtualSize:     binary.LittleEndian.Uint32(raw[8:]),
			VirtualAddress:  binary.LittleEndian.Uint32(raw[12:]),
			SizeOfRawData:   binary.LittleEndian.Uint32(raw[16:]),
			Characteristics: binary.LittleEndian.Uint32(raw[36:]),
		})
	}
	return headers, nil
}
