package symsrv

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	debugDirectoryEntrySize = 28
	debugTypeCodeView       = 2
	rsdsHeaderSize          = 24 // signature, GUID, age
)

var rsdsSignature = []byte("RSDS")

// ErrNoCodeView is returned when an image carries no RSDS debug record.
var ErrNoCodeView = errors.New("no CodeView debug record")

// ReadDebugInfo reads the RSDS CodeView record of a PE image.
func ReadDebugInfo(path string) (DebugInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DebugInfo{}, fmt.Errorf("failed to open PE image: %w", err)
	}
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return DebugInfo{}, fmt.Errorf("failed to open PE image: %w", err)
	}

	var dir pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		if oh.NumberOfRvaAndSizes > pe.IMAGE_DIRECTORY_ENTRY_DEBUG {
			dir = oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_DEBUG]
		}
	case *pe.OptionalHeader32:
		if oh.NumberOfRvaAndSizes > pe.IMAGE_DIRECTORY_ENTRY_DEBUG {
			dir = oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_DEBUG]
		}
	}
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return DebugInfo{}, ErrNoCodeView
	}

	entries, err := readRVA(f, dir.VirtualAddress, dir.Size)
	if err != nil {
		return DebugInfo{}, fmt.Errorf("failed to read debug directory: %w", err)
	}

	for off := 0; off+debugDirectoryEntrySize <= len(entries); off += debugDirectoryEntrySize {
		entry := entries[off : off+debugDirectoryEntrySize]
		if binary.LittleEndian.Uint32(entry[12:]) != debugTypeCodeView {
			continue
		}
		size := binary.LittleEndian.Uint32(entry[16:])
		rva := binary.LittleEndian.Uint32(entry[20:])
		data, err := readRVA(f, rva, size)
		if err != nil {
			return DebugInfo{}, fmt.Errorf("failed to read CodeView record: %w", err)
		}
		return ParseCodeView(data)
	}
	return DebugInfo{}, ErrNoCodeView
}

// readRVA reads size bytes at a relative virtual address.
func readRVA(f *pe.File, rva, size uint32) ([]byte, error) {
	for _, s := range f.Sections {
		if rva < s.VirtualAddress || rva >= s.VirtualAddress+max(s.VirtualSize, s.Size) {
			continue
		}
		buf := make([]byte, size)
		if _, err := s.ReadAt(buf, int64(rva-s.VirtualAddress)); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		return buf, nil
	}
	return nil, fmt.Errorf("RVA 0x%x is not inside any section", rva)
}

// ParseCodeView decodes an RSDS record: signature, GUID, age, then the
// PDB path. Only the file name of the path is kept.
func ParseCodeView(data []byte) (DebugInfo, error) {
	if len(data) < rsdsHeaderSize || !bytes.Equal(data[:4], rsdsSignature) {
		return DebugInfo{}, ErrNoCodeView
	}

	var info DebugInfo
	copy(info.GUID[:], data[4:20])
	info.Age = binary.LittleEndian.Uint32(data[20:24])

	path := data[rsdsHeaderSize:]
	if i := bytes.IndexByte(path, 0); i >= 0 {
		path = path[:i]
	}
	name := string(path)
	if i := strings.LastIndexAny(name, `\/`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return DebugInfo{}, fmt.Errorf("RSDS record has no PDB name: %w", ErrNoCodeView)
	}
	info.PDBName = name
	return info, nil
}
