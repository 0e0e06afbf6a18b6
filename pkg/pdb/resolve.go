package pdb

import (
	"fmt"
	"strings"

	"github.com/jtang613/kerndbg/pkg/pdb/codeview"
	"github.com/jtang613/kerndbg/pkg/pdb/pdberr"
)

// ResolveSymbol returns base plus the RVA of the named symbol.
func ResolveSymbol(s *Store, base uint64, name string) (uint64, error) {
	sym, ok := s.LookupSymbol(name)
	if !ok {
		return 0, fmt.Errorf("symbol %q: %w", name, pdberr.ErrNotFound)
	}
	return base + s.RVA(sym.Section, sym.Offset), nil
}

// ResolveFieldPath returns base plus the offset of a field named by a
// dotted path "Type.field[.field...]". The root segment names a type. Each
// further segment names a data member of the current struct or union,
// including members inherited from base classes. Pointers are not followed.
func ResolveFieldPath(s *Store, base uint64, path string) (uint64, error) {
	offset, err := FieldOffset(s, path)
	if err != nil {
		return 0, err
	}
	return base + offset, nil
}

// FieldOffset returns the byte offset a field path denotes from the start
// of its root type.
func FieldOffset(s *Store, path string) (uint64, error) {
	segments := strings.Split(path, ".")
	for _, seg := range segments {
		if seg == "" {
			return 0, &pdberr.PathError{Path: path, Err: pdberr.ErrInvalidPath}
		}
	}

	root, ok := s.LookupType(segments[0])
	if !ok {
		return 0, fmt.Errorf("type %q: %w", segments[0], pdberr.ErrNotFound)
	}

	var offset uint64
	current := root
	for i, seg := range segments[1:] {
		owner := segments[i]
		agg, err := s.aggregate(current)
		if err != nil {
			return 0, &pdberr.PathError{Path: path, Segment: owner, Err: err}
		}
		field, at, ok := s.findField(agg, seg, 0, make(map[codeview.TypeIndex]bool))
		if !ok {
			return 0, &pdberr.PathError{Path: path, Segment: seg, Err: pdberr.ErrUnknownField}
		}
		offset += at
		current = field.Type
	}
	return offset, nil
}

// aggregate returns the struct or union a path may descend into.
func (s *Store) aggregate(ti codeview.TypeIndex) (codeview.TypeRecord, error) {
	rec, ok := s.Deref(ti)
	if !ok {
		return rec, pdberr.ErrNotAggregate
	}
	switch {
	case rec.Kind.IsAggregate():
		return rec, nil
	case rec.Kind == codeview.KindForwardRef:
		return rec, pdberr.ErrIncompleteType
	default:
		return rec, pdberr.ErrNotAggregate
	}
}

// maxBaseDepth bounds the walk through base classes.
const maxBaseDepth = 32

// findField searches the record's own members first, then its non-virtual
// bases. The returned offset is relative to rec. Each type is searched at
// most once per query.
func (s *Store) findField(rec codeview.TypeRecord, name string, depth int, visited map[codeview.TypeIndex]bool) (codeview.Field, uint64, bool) {
	visited[rec.Index] = true
	if f, ok := rec.FindField(name); ok {
		return f, f.Offset, true
	}
	if depth >= maxBaseDepth {
		return codeview.Field{}, 0, false
	}
	for _, b := range rec.Bases {
		if b.Virtual {
			continue
		}
		base, ok := s.Deref(b.Type)
		if !ok || !base.Kind.IsAggregate() || visited[base.Index] {
			continue
		}
		if f, at, ok := s.findField(base, name, depth+1, visited); ok {
			return f, b.Offset + at, true
		}
	}
	return codeview.Field{}, 0, false
}
