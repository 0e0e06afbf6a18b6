package pdb

import (
	"fmt"
	"strings"

	"github.com/jtang613/kerndbg/pkg/pdb/codeview"
	"github.com/jtang613/kerndbg/pkg/pdb/streams"
)

// SymbolInfo is the JSON view of a symbol.
type SymbolInfo struct {
	Name            string `json:"name"`
	UndecoratedName string `json:"undecorated_name,omitempty"`
	Kind            string `json:"kind"`
	Record          string `json:"record"`
	Segment         uint16 `json:"segment"`
	Offset          uint32 `json:"offset"`
	RVA             uint64 `json:"rva"`
	TypeIndex       uint32 `json:"type_index,omitempty"`
	TypeName        string `json:"type_name,omitempty"`
}

// TypeInfo is the JSON view of a type record.
type TypeInfo struct {
	Index     uint32   `json:"index"`
	Kind      string   `json:"kind"`
	Name      string   `json:"name"`
	Size      uint64   `json:"size,omitempty"`
	Signature string   `json:"signature"`
	Members   []Member `json:"members,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Member represents a struct/class/union member or an enumerator.
type Member struct {
	Name     string `json:"name"`
	TypeName string `json:"type_name,omitempty"`
	Offset   uint64 `json:"offset"`
}

// SectionInfo represents a PE section.
type SectionInfo struct {
	Index  uint16 `json:"index"`          // 1-based section index
	Name   string `json:"name,omitempty"` // Section name (e.g., ".text", ".data")
	Offset uint32 `json:"offset"`         // Virtual address (RVA base)
	Length uint32 `json:"length"`         // Section length in bytes
}

// PDBInfo contains basic PDB file information.
type PDBInfo struct {
	GUID        string `json:"guid"`
	Age         uint32 `json:"age"`
	Version     uint32 `json:"version"`
	Machine     string `json:"machine"`
	Streams     int    `json:"streams"`
	Symbols     int    `json:"symbols"`
	Types       int    `json:"types"`
	Fingerprint string `json:"fingerprint"`
}

// Summary returns basic PDB file information.
func (s *Store) Summary() PDBInfo {
	return PDBInfo{
		GUID:        s.info.GUIDString(),
		Age:         s.info.Age,
		Version:     s.info.Version,
		Machine:     streams.MachineTypeName(s.info.Machine),
		Streams:     s.info.Streams,
		Symbols:     s.NumSymbols(),
		Types:       s.NumTypes(),
		Fingerprint: fmt.Sprintf("%016x", s.fingerprint),
	}
}

// SectionList returns the section headers as JSON views.
func (s *Store) SectionList() []SectionInfo {
	out := make([]SectionInfo, len(s.sections))
	for i, sec := range s.sections {
		out[i] = SectionInfo{
			Index:  uint16(i + 1),
			Name:   sec.Name,
			Offset: sec.VirtualAddress,
			Length: sec.VirtualSize,
		}
	}
	return out
}

// DescribeSymbol returns the JSON view of a symbol.
func (s *Store) DescribeSymbol(sym codeview.Symbol) SymbolInfo {
	info := SymbolInfo{
		Name:      sym.Name,
		Kind:      sym.Kind.String(),
		Record:    codeview.SymbolKindName(sym.Record),
		Segment:   sym.Section,
		Offset:    sym.Offset,
		RVA:       s.RVA(sym.Section, sym.Offset),
		TypeIndex: uint32(sym.Type),
	}
	if plain := Undecorate(sym.Name); plain != sym.Name {
		info.UndecoratedName = plain
	}
	if sym.Type != 0 {
		info.TypeName = s.TypeName(sym.Type)
	}
	return info
}

// DescribeType returns the JSON view of a type. Forward references are
// described by their definition when one exists.
func (s *Store) DescribeType(ti codeview.TypeIndex) (TypeInfo, bool) {
	rec, ok := s.Resolve(ti)
	if !ok {
		return TypeInfo{}, false
	}
	if rec.Kind == codeview.KindForwardRef {
		if def, ok := s.Deref(ti); ok {
			rec = def
		}
	}

	info := TypeInfo{
		Index:     uint32(rec.Index),
		Kind:      rec.Kind.String(),
		Name:      rec.Name,
		Size:      rec.Size,
		Signature: s.TypeName(rec.Index),
		Warnings:  rec.Warnings,
	}
	if size, ok := s.SizeOf(rec.Index); ok {
		info.Size = size
	}
	for _, f := range rec.Fields {
		info.Members = append(info.Members, Member{
			Name:     f.Name,
			TypeName: s.TypeName(f.Type),
			Offset:   f.Offset,
		})
	}
	for _, e := range rec.Enumerators {
		info.Members = append(info.Members, Member{Name: e.Name, Offset: e.Value})
	}
	return info, true
}

// NamedTypes returns the views of all named aggregates and enums, sorted by name.
func (s *Store) NamedTypes() []TypeInfo {
	var out []TypeInfo
	for _, name := range s.TypeNames() {
		ti, _ := s.LookupType(name)
		if info, ok := s.DescribeType(ti); ok {
			out = append(out, info)
		}
	}
	return out
}

// maxTypeNameDepth bounds recursion through pointer and modifier chains.
const maxTypeNameDepth = 16

// TypeName renders a type index as a C-like declaration.
func (s *Store) TypeName(ti codeview.TypeIndex) string {
	return s.typeName(ti, 0)
}

func (s *Store) typeName(ti codeview.TypeIndex, depth int) string {
	if ti.IsPrimitive() {
		return codeview.PrimitiveName(ti)
	}
	rec, ok := s.Resolve(ti)
	if !ok || depth > maxTypeNameDepth {
		return fmt.Sprintf("type_0x%x", uint32(ti))
	}

	switch rec.Kind {
	case codeview.KindStruct, codeview.KindClass, codeview.KindUnion, codeview.KindEnum:
		if rec.Name != "" {
			return rec.Name
		}
		return rec.Kind.String()
	case codeview.KindForwardRef:
		return rec.Name
	case codeview.KindPointer:
		return s.typeName(rec.Target, depth+1) + "*"
	case codeview.KindModifier:
		if q := rec.Qualifiers.String(); q != "" {
			return q + " " + s.typeName(rec.Target, depth+1)
		}
		return s.typeName(rec.Target, depth+1)
	case codeview.KindArray:
		elem := s.typeName(rec.Element, depth+1)
		if rec.Count > 0 {
			return fmt.Sprintf("%s[%d]", elem, rec.Count)
		}
		return elem + "[]"
	case codeview.KindBitfield:
		return fmt.Sprintf("%s : %d (pos %d)", s.typeName(rec.Target, depth+1), rec.BitLength, rec.BitPosition)
	case codeview.KindProcedure:
		return "function"
	default:
		return strings.ToLower(streams.LeafKindName(rec.Leaf))
	}
}
