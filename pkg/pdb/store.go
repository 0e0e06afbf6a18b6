// Package pdb builds an immutable symbol and type store from a Microsoft
// PDB file and resolves symbol and field addresses against it.
package pdb

import (
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/rs/zerolog"

	"github.com/jtang613/kerndbg/pkg/pdb/codeview"
	"github.com/jtang613/kerndbg/pkg/pdb/pdberr"
	"github.com/jtang613/kerndbg/pkg/pdb/streams"
)

// DiagnosticKind classifies a non-fatal finding of Build.
type DiagnosticKind uint8

const (
	DiagInconsistentLayout DiagnosticKind = iota + 1
	DiagUnresolvedForwardReference
)

func (k DiagnosticKind) String() string {
	switch k {
	case DiagInconsistentLayout:
		return "inconsistent_layout"
	case DiagUnresolvedForwardReference:
		return "unresolved_forward_reference"
	default:
		return fmt.Sprintf("diagnostic(%d)", uint8(k))
	}
}

// MarshalText renders the kind by name in JSON output.
func (k DiagnosticKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Diagnostic is a non-fatal finding attached to one type.
type Diagnostic struct {
	Kind    DiagnosticKind     `json:"kind"`
	Type    codeview.TypeIndex `json:"type"`
	Name    string             `json:"name,omitempty"`
	Message string             `json:"message"`
}

// Info identifies the PDB a store was built from.
type Info struct {
	GUID      [16]byte
	Age       uint32
	Signature uint32
	Version   uint32
	Machine   uint16
	Streams   int
}

// GUIDString returns the GUID in symbol server form.
func (i Info) GUIDString() string {
	return streams.FormatGUID(i.GUID)
}

// Store holds the decoded symbols and types of one PDB. It is immutable
// once Build returns and safe for concurrent readers.
type Store struct {
	symbols     []codeview.Symbol
	byName      map[string]int // symbol name -> index into symbols
	undecorated map[string]int

	begin       codeview.TypeIndex
	types       []codeview.TypeRecord
	typesByName map[string]codeview.TypeIndex
	forwards    map[codeview.TypeIndex]codeview.TypeIndex // forward ref -> definition

	sections    []streams.SectionHeader
	diagnostics []Diagnostic
	info        Info
	fingerprint uint64
	pointerSize uint64
}

type buildConfig struct {
	sections    []streams.SectionHeader
	info        Info
	fingerprint uint64
	logger      zerolog.Logger
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

// WithSections supplies the section headers used to turn section:offset
// pairs into RVAs.
func WithSections(sections []streams.SectionHeader) BuildOption {
	return func(c *buildConfig) { c.sections = sections }
}

// WithInfo attaches PDB identity to the store.
func WithInfo(info Info) BuildOption {
	return func(c *buildConfig) { c.info = info }
}

// WithFingerprint records a hash of the input the store was built from.
func WithFingerprint(fp uint64) BuildOption {
	return func(c *buildConfig) { c.fingerprint = fp }
}

// WithBuildLogger reports build statistics at debug level.
func WithBuildLogger(logger zerolog.Logger) BuildOption {
	return func(c *buildConfig) { c.logger = logger }
}

// Build materializes both sequences, then links them. If either sequence
// fails, Build returns the joined errors and no store. A nil sequence is
// treated as empty.
func Build(symbols iter.Seq2[codeview.Symbol, error], types iter.Seq2[codeview.TypeRecord, error], opts ...BuildOption) (*Store, error) {
	cfg := buildConfig{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Store{
		byName:      make(map[string]int),
		undecorated: make(map[string]int),
		begin:       streams.TypeIndexBegin,
		typesByName: make(map[string]codeview.TypeIndex),
		forwards:    make(map[codeview.TypeIndex]codeview.TypeIndex),
		sections:    cfg.sections,
		info:        cfg.info,
		fingerprint: cfg.fingerprint,
		pointerSize: 8,
	}
	if cfg.info.Machine == streams.MachineI386 || cfg.info.Machine == streams.MachineARM {
		s.pointerSize = 4
	}

	// Pass 1: materialize. The two streams fail independently.
	symErr := s.collectSymbols(symbols)
	typeErr := s.collectTypes(types)
	if err := errors.Join(symErr, typeErr); err != nil {
		return nil, err
	}

	// Pass 2: link.
	if err := s.validateReferences(); err != nil {
		return nil, err
	}
	s.resolveForwardRefs()
	s.fillArrayCounts()
	s.collectLayoutWarnings()
	s.indexSymbols()

	cfg.logger.Debug().
		Int("symbols", len(s.symbols)).
		Int("unique_symbols", len(s.byName)).
		Int("types", len(s.types)).
		Int("named_types", len(s.typesByName)).
		Int("diagnostics", len(s.diagnostics)).
		Msg("Built symbol store")

	return s, nil
}

func (s *Store) collectSymbols(symbols iter.Seq2[codeview.Symbol, error]) error {
	if symbols == nil {
		return nil
	}
	for sym, err := range symbols {
		if err != nil {
			return fmt.Errorf("failed to decode symbols: %w", err)
		}
		s.symbols = append(s.symbols, sym)
	}
	return nil
}

func (s *Store) collectTypes(types iter.Seq2[codeview.TypeRecord, error]) error {
	if types == nil {
		return nil
	}
	for rec, err := range types {
		if err != nil {
			return fmt.Errorf("failed to decode types: %w", err)
		}
		if len(s.types) == 0 {
			s.begin = rec.Index
		}
		if want := s.begin + codeview.TypeIndex(len(s.types)); rec.Index != want {
			return fmt.Errorf("failed to decode types: record %s out of order, expected %s: %w",
				rec.Index, want, pdberr.ErrMalformedContainer)
		}
		s.types = append(s.types, rec)
		s.nameType(&s.types[len(s.types)-1])
	}
	return nil
}

// nameType indexes named aggregates and enums. The first full definition
// of a name wins; a forward reference only takes a name nothing defines.
func (s *Store) nameType(rec *codeview.TypeRecord) {
	if rec.Name == "" {
		return
	}
	switch rec.Kind {
	case codeview.KindStruct, codeview.KindClass, codeview.KindUnion, codeview.KindEnum:
		if cur, ok := s.typesByName[rec.Name]; ok && !s.record(cur).IsForwardRef() {
			return
		}
		s.typesByName[rec.Name] = rec.Index
	case codeview.KindForwardRef:
		if _, ok := s.typesByName[rec.Name]; !ok {
			s.typesByName[rec.Name] = rec.Index
		}
	}
}

// validateReferences rejects type records and symbols that point at
// indices that were never decoded.
func (s *Store) validateReferences() error {
	for i := range s.types {
		rec := &s.types[i]
		for _, ref := range references(rec) {
			if ref == 0 || ref.IsPrimitive() || s.record(ref) != nil {
				continue
			}
			return fmt.Errorf("type %s (%s) references %s: %w",
				rec.Index, rec.Kind, ref, pdberr.ErrDanglingReference)
		}
	}
	for i := range s.symbols {
		sym := &s.symbols[i]
		if !hasTPIType(sym.Record) || sym.Type == 0 || sym.Type.IsPrimitive() || s.record(sym.Type) != nil {
			continue
		}
		return fmt.Errorf("symbol %q (%s) references %s: %w",
			sym.Name, codeview.SymbolKindName(sym.Record), sym.Type, pdberr.ErrDanglingReference)
	}
	return nil
}

// hasTPIType reports whether a symbol's type field indexes the TPI stream.
// The _ID procedure records index the IPI stream, which is not loaded.
func hasTPIType(record uint16) bool {
	switch record {
	case codeview.S_PUB32, codeview.S_GPROC32_ID, codeview.S_LPROC32_ID:
		return false
	}
	return true
}

func references(rec *codeview.TypeRecord) []codeview.TypeIndex {
	var refs []codeview.TypeIndex
	switch rec.Kind {
	case codeview.KindPointer, codeview.KindModifier, codeview.KindBitfield, codeview.KindFieldList:
		refs = append(refs, rec.Target)
	case codeview.KindArray:
		refs = append(refs, rec.Element, rec.IndexType)
	case codeview.KindEnum:
		refs = append(refs, rec.Underlying, rec.FieldList)
	case codeview.KindStruct, codeview.KindClass, codeview.KindUnion:
		refs = append(refs, rec.FieldList)
	}
	for _, f := range rec.Fields {
		refs = append(refs, f.Type)
	}
	for _, b := range rec.Bases {
		refs = append(refs, b.Type)
	}
	return refs
}

// resolveForwardRefs links every forward reference to a full definition,
// by unique name first, then by name.
func (s *Store) resolveForwardRefs() {
	byUnique := make(map[string]codeview.TypeIndex)
	for i := range s.types {
		rec := &s.types[i]
		if rec.Kind.IsAggregate() || rec.Kind == codeview.KindEnum {
			if rec.UniqueName != "" {
				if _, ok := byUnique[rec.UniqueName]; !ok {
					byUnique[rec.UniqueName] = rec.Index
				}
			}
		}
	}

	reported := make(map[string]bool)
	for i := range s.types {
		rec := &s.types[i]
		if rec.Kind != codeview.KindForwardRef {
			continue
		}
		if def, ok := byUnique[rec.UniqueName]; ok && rec.UniqueName != "" {
			s.forwards[rec.Index] = def
			continue
		}
		if def, ok := s.typesByName[rec.Name]; ok && !s.record(def).IsForwardRef() {
			s.forwards[rec.Index] = def
			continue
		}
		if reported[rec.Name] {
			continue
		}
		reported[rec.Name] = true
		s.diagnostics = append(s.diagnostics, Diagnostic{
			Kind:    DiagUnresolvedForwardReference,
			Type:    rec.Index,
			Name:    rec.Name,
			Message: fmt.Sprintf("%s %q is declared but never defined", rec.Aggregate, rec.Name),
		})
	}
}

func (s *Store) fillArrayCounts() {
	for i := range s.types {
		rec := &s.types[i]
		if rec.Kind != codeview.KindArray {
			continue
		}
		if elem, ok := s.SizeOf(rec.Element); ok && elem > 0 {
			rec.Count = rec.Size / elem
		}
	}
}

// collectLayoutWarnings surfaces decoder warnings. Field list warnings are
// reported through the aggregate that owns the list.
func (s *Store) collectLayoutWarnings() {
	for i := range s.types {
		rec := &s.types[i]
		if rec.Kind == codeview.KindFieldList {
			continue
		}
		for _, w := range rec.Warnings {
			s.diagnostics = append(s.diagnostics, Diagnostic{
				Kind:    DiagInconsistentLayout,
				Type:    rec.Index,
				Name:    rec.Name,
				Message: w,
			})
		}
	}
}

// indexSymbols applies the name collision rule: Public > Global > Local >
// Other, and the first decoded record within a kind.
func (s *Store) indexSymbols() {
	for i, sym := range s.symbols {
		if sym.Name == "" {
			continue
		}
		s.claim(s.byName, sym.Name, i)
		if plain := Undecorate(sym.Name); plain != sym.Name {
			s.claim(s.undecorated, plain, i)
		}
	}
}

func (s *Store) claim(index map[string]int, name string, i int) {
	cur, ok := index[name]
	if !ok || s.symbols[i].Kind > s.symbols[cur].Kind {
		index[name] = i
	}
}

// record returns the arena entry for a non-primitive index, or nil.
func (s *Store) record(ti codeview.TypeIndex) *codeview.TypeRecord {
	if ti < s.begin {
		return nil
	}
	i := int(ti - s.begin)
	if i >= len(s.types) {
		return nil
	}
	return &s.types[i]
}

// LookupSymbol returns the symbol with the given name. A name with no exact
// match is tried against undecorated symbol names.
func (s *Store) LookupSymbol(name string) (codeview.Symbol, bool) {
	if i, ok := s.byName[name]; ok {
		return s.symbols[i], true
	}
	if i, ok := s.undecorated[name]; ok {
		return s.symbols[i], true
	}
	return codeview.Symbol{}, false
}

// LookupType returns the index of the named aggregate or enum. For a name
// that was only ever forward-declared this is the declaration.
func (s *Store) LookupType(name string) (codeview.TypeIndex, bool) {
	ti, ok := s.typesByName[name]
	return ti, ok
}

// Resolve returns the record for an index. Primitive indices yield a
// synthesized KindPrimitive record; index 0 and unknown indices yield false.
func (s *Store) Resolve(ti codeview.TypeIndex) (codeview.TypeRecord, bool) {
	if ti == 0 {
		return codeview.TypeRecord{}, false
	}
	if ti.IsPrimitive() {
		size, _ := codeview.PrimitiveSize(ti)
		return codeview.TypeRecord{
			Index: ti,
			Kind:  codeview.KindPrimitive,
			Name:  codeview.PrimitiveName(ti),
			Size:  size,
		}, true
	}
	rec := s.record(ti)
	if rec == nil {
		return codeview.TypeRecord{}, false
	}
	return *rec, true
}

// Deref follows modifiers and resolved forward references to the
// underlying record.
func (s *Store) Deref(ti codeview.TypeIndex) (codeview.TypeRecord, bool) {
	for range len(s.types) + 1 {
		rec, ok := s.Resolve(ti)
		if !ok {
			return rec, false
		}
		switch rec.Kind {
		case codeview.KindModifier:
			ti = rec.Target
		case codeview.KindForwardRef:
			def, ok := s.forwards[ti]
			if !ok {
				return rec, true
			}
			ti = def
		default:
			return rec, true
		}
	}
	return codeview.TypeRecord{}, false
}

// ForwardTarget returns the definition a forward reference resolved to.
func (s *Store) ForwardTarget(ti codeview.TypeIndex) (codeview.TypeIndex, bool) {
	def, ok := s.forwards[ti]
	return def, ok
}

// SizeOf returns the byte size of a type. Unresolved forward references
// and types without storage report false.
func (s *Store) SizeOf(ti codeview.TypeIndex) (uint64, bool) {
	for range len(s.types) + 1 {
		rec, ok := s.Deref(ti)
		if !ok {
			return 0, false
		}
		switch rec.Kind {
		case codeview.KindPrimitive:
			return codeview.PrimitiveSize(rec.Index)
		case codeview.KindStruct, codeview.KindClass, codeview.KindUnion, codeview.KindArray:
			return rec.Size, true
		case codeview.KindPointer:
			if rec.Size == 0 {
				return s.pointerSize, true
			}
			return rec.Size, true
		case codeview.KindEnum:
			ti = rec.Underlying
		case codeview.KindBitfield:
			ti = rec.Target
		default:
			return 0, false
		}
	}
	return 0, false
}

// RVA converts a 1-based section number and offset into a relative virtual
// address. Without section headers the offset is returned unchanged.
func (s *Store) RVA(section uint16, offset uint32) uint64 {
	if section == 0 || int(section) > len(s.sections) {
		return uint64(offset)
	}
	return uint64(s.sections[section-1].VirtualAddress) + uint64(offset)
}

// Symbols yields the symbol kept for each name, in decode order.
func (s *Store) Symbols() iter.Seq[codeview.Symbol] {
	return func(yield func(codeview.Symbol) bool) {
		for i, sym := range s.symbols {
			if j, ok := s.byName[sym.Name]; !ok || j != i {
				continue
			}
			if !yield(sym) {
				return
			}
		}
	}
}

// Types yields every type record in index order.
func (s *Store) Types() iter.Seq[codeview.TypeRecord] {
	return func(yield func(codeview.TypeRecord) bool) {
		for _, rec := range s.types {
			if !yield(rec) {
				return
			}
		}
	}
}

// TypeNames returns the sorted names of all named aggregates and enums.
func (s *Store) TypeNames() []string {
	names := make([]string, 0, len(s.typesByName))
	for name := range s.typesByName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Diagnostics returns the non-fatal findings of Build.
func (s *Store) Diagnostics() []Diagnostic {
	return slices.Clone(s.diagnostics)
}

// Info returns the identity of the PDB the store was built from.
func (s *Store) Info() Info {
	return s.info
}

// Fingerprint returns the hash of the input buffer, 0 if unknown.
func (s *Store) Fingerprint() uint64 {
	return s.fingerprint
}

// Sections returns the section headers used for RVA computation.
func (s *Store) Sections() []streams.SectionHeader {
	return slices.Clone(s.sections)
}

// NumSymbols returns the number of distinct symbol names.
func (s *Store) NumSymbols() int {
	return len(s.byName)
}

// NumTypes returns the number of decoded type records.
func (s *Store) NumTypes() int {
	return len(s.types)
}
