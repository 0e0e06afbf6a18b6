package codeview

import (
	"fmt"
	"iter"

	"github.com/jtang613/kerndbg/pkg/pdb/pdberr"
	"github.com/jtang613/kerndbg/pkg/pdb/streams"
)

// TypeIndex identifies a type record. Values below streams.TypeIndexBegin
// are primitives; zero means "no type".
type TypeIndex uint32

// IsPrimitive reports whether the index denotes a built-in type.
func (ti TypeIndex) IsPrimitive() bool {
	return ti < streams.TypeIndexBegin
}

func (ti TypeIndex) String() string {
	return fmt.Sprintf("0x%04x", uint32(ti))
}

// PrimitiveSize returns the byte size of a built-in type.
func PrimitiveSize(ti TypeIndex) (uint64, bool) {
	return streams.GetBuiltinTypeSize(uint32(ti))
}

// PrimitiveName returns the C name of a built-in type.
func PrimitiveName(ti TypeIndex) string {
	return streams.GetBuiltinTypeName(uint32(ti))
}

// TypeKind is the variant of a TypeRecord.
type TypeKind uint8

const (
	KindOther TypeKind = iota
	KindStruct
	KindClass
	KindUnion
	KindEnum
	KindPointer
	KindArray
	KindModifier
	KindBitfield
	KindForwardRef
	KindFieldList
	KindProcedure
	KindArgList
	KindPrimitive
)

var typeKindNames = [...]string{
	KindOther:      "other",
	KindStruct:     "struct",
	KindClass:      "class",
	KindUnion:      "union",
	KindEnum:       "enum",
	KindPointer:    "pointer",
	KindArray:      "array",
	KindModifier:   "modifier",
	KindBitfield:   "bitfield",
	KindForwardRef: "forward",
	KindFieldList:  "fieldlist",
	KindProcedure:  "procedure",
	KindArgList:    "arglist",
	KindPrimitive:  "primitive",
}

func (k TypeKind) String() string {
	if int(k) < len(typeKindNames) {
		return typeKindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// IsAggregate reports whether the kind has a field list with offsets.
func (k TypeKind) IsAggregate() bool {
	return k == KindStruct || k == KindClass || k == KindUnion
}

// Qualifiers are the cv-qualifiers of an LF_MODIFIER record.
type Qualifiers uint16

const (
	QualConst     Qualifiers = 0x0001
	QualVolatile  Qualifiers = 0x0002
	QualUnaligned Qualifiers = 0x0004
)

func (q Qualifiers) String() string {
	s := ""
	if q&QualConst != 0 {
		s += "const "
	}
	if q&QualVolatile != 0 {
		s += "volatile "
	}
	if q&QualUnaligned != 0 {
		s += "__unaligned "
	}
	if s == "" {
		return ""
	}
	return s[:len(s)-1]
}

// Field is a data member of a struct, class or union.
type Field struct {
	Name   string    `json:"name"`
	Offset uint64    `json:"offset"`
	Type   TypeIndex `json:"type"`
}

// BaseClass is a direct or virtual base of a class.
type BaseClass struct {
	Type    TypeIndex `json:"type"`
	Offset  uint64    `json:"offset"`
	Virtual bool      `json:"virtual,omitempty"`
}

// Enumerator is one named value of an enum.
type Enumerator struct {
	Name  string `json:"name"`
	Value uint64 `json:"value"`
}

// TypeRecord is one decoded type record. Which payload fields are set
// depends on Kind; cross references are always indices, never pointers.
type TypeRecord struct {
	Index      TypeIndex `json:"index"`
	Kind       TypeKind  `json:"kind"`
	Leaf       uint16    `json:"leaf"`
	Name       string    `json:"name,omitempty"`
	UniqueName string    `json:"unique_name,omitempty"`
	Size       uint64    `json:"size,omitempty"`
	Properties uint16    `json:"properties,omitempty"`

	// Struct, class, union, enum
	FieldList   TypeIndex    `json:"field_list,omitempty"`
	Fields      []Field      `json:"fields,omitempty"`
	Bases       []BaseClass  `json:"bases,omitempty"`
	Enumerators []Enumerator `json:"enumerators,omitempty"`
	Underlying  TypeIndex    `json:"underlying,omitempty"`

	// Pointer, modifier, bitfield; for a field list, the LF_INDEX continuation
	Target      TypeIndex  `json:"target,omitempty"`
	Qualifiers  Qualifiers `json:"qualifiers,omitempty"`
	BitLength   uint8      `json:"bit_length,omitempty"`
	BitPosition uint8      `json:"bit_position,omitempty"`

	// Array
	Element   TypeIndex `json:"element,omitempty"`
	IndexType TypeIndex `json:"index_type,omitempty"`
	Count     uint64    `json:"count,omitempty"`

	// Forward reference: the kind of aggregate being declared
	Aggregate TypeKind `json:"aggregate,omitempty"`

	Warnings []string `json:"warnings,omitempty"`
}

// IsForwardRef reports whether the record is a declaration without layout.
func (t *TypeRecord) IsForwardRef() bool {
	return t.Kind == KindForwardRef
}

// FindField returns the data member with the given name.
func (t *TypeRecord) FindField(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// DecodeTypes returns a lazy sequence over the type records in data, the
// record region of the TPI stream. The Nth record is assigned begin+N.
// Every range over the sequence starts again at the beginning of data.
func DecodeTypes(data []byte, begin TypeIndex) iter.Seq2[TypeRecord, error] {
	return func(yield func(TypeRecord, error) bool) {
		d := newTypeDecoder()
		offset := 0
		for index := begin; offset < len(data); index++ {
			recLen, leaf, body, err := splitRecord(data, offset)
			if err != nil {
				yield(TypeRecord{}, &pdberr.DecodeError{Stream: "TPI", Offset: offset, Err: err})
				return
			}
			start := offset
			offset += 2 + recLen

			rec, err := d.decode(index, leaf, body)
			if err != nil {
				err = fmt.Errorf("type %s (%s): %w", index, streams.LeafKindName(leaf), err)
				yield(TypeRecord{}, &pdberr.DecodeError{Stream: "TPI", Offset: start, Err: err})
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// typeDecoder holds what later records need from earlier ones: member lists
// of field lists and the byte sizes of arrays.
type typeDecoder struct {
	fieldLists map[TypeIndex]*fieldList
	arraySizes map[TypeIndex]uint64
}

func newTypeDecoder() *typeDecoder {
	return &typeDecoder{
		fieldLists: make(map[TypeIndex]*fieldList),
		arraySizes: make(map[TypeIndex]uint64),
	}
}

func (d *typeDecoder) decode(index TypeIndex, leaf uint16, body []byte) (TypeRecord, error) {
	rec := TypeRecord{Index: index, Leaf: leaf}
	r := streams.NewReader(body)

	var err error
	switch leaf {
	case streams.LF_STRUCTURE, streams.LF_CLASS:
		err = d.decodeClass(r, &rec)
	case streams.LF_UNION:
		err = d.decodeUnion(r, &rec)
	case streams.LF_ENUM:
		err = d.decodeEnum(r, &rec)
	case streams.LF_POINTER:
		err = decodePointer(r, &rec)
	case streams.LF_MODIFIER:
		err = decodeModifier(r, &rec)
	case streams.LF_ARRAY:
		err = decodeArray(r, &rec)
		d.arraySizes[index] = rec.Size
	case streams.LF_BITFIELD:
		err = decodeBitfield(r, &rec)
	case streams.LF_FIELDLIST:
		var fl *fieldList
		fl, err = parseFieldList(body)
		if err == nil {
			d.fieldLists[index] = fl
			rec.Kind = KindFieldList
			rec.Fields = fl.fields
			rec.Bases = fl.bases
			rec.Enumerators = fl.enumerators
			rec.Target = fl.next
			rec.Warnings = fl.warnings
		}
	case streams.LF_PROCEDURE, streams.LF_MFUNCTION:
		rec.Kind = KindProcedure
	case streams.LF_ARGLIST:
		rec.Kind = KindArgList
	default:
		rec.Kind = KindOther
	}
	return rec, err
}

// decodeClass reads LF_STRUCTURE and LF_CLASS: count, property, field list,
// derivation list, vtable shape, size, name and optional unique name.
func (d *typeDecoder) decodeClass(r *streams.Reader, rec *TypeRecord) error {
	rec.Kind = KindStruct
	if rec.Leaf == streams.LF_CLASS {
		rec.Kind = KindClass
	}
	if _, err := r.U16(); err != nil { // member count
		return err
	}
	prop, err := r.U16()
	if err != nil {
		return err
	}
	field, err := r.U32()
	if err != nil {
		return err
	}
	if err := r.Skip(8); err != nil { // derived, vshape
		return err
	}
	size, err := r.Numeric()
	if err != nil {
		return err
	}
	rec.Properties = prop
	rec.FieldList = TypeIndex(field)
	rec.Size = size
	d.finishAggregate(r, rec)
	return nil
}

// decodeUnion reads LF_UNION, which has no derivation list or vtable shape.
func (d *typeDecoder) decodeUnion(r *streams.Reader, rec *TypeRecord) error {
	rec.Kind = KindUnion
	if _, err := r.U16(); err != nil {
		return err
	}
	prop, err := r.U16()
	if err != nil {
		return err
	}
	field, err := r.U32()
	if err != nil {
		return err
	}
	size, err := r.Numeric()
	if err != nil {
		return err
	}
	rec.Properties = prop
	rec.FieldList = TypeIndex(field)
	rec.Size = size
	d.finishAggregate(r, rec)
	return nil
}

func (d *typeDecoder) decodeEnum(r *streams.Reader, rec *TypeRecord) error {
	rec.Kind = KindEnum
	if _, err := r.U16(); err != nil {
		return err
	}
	prop, err := r.U16()
	if err != nil {
		return err
	}
	utype, err := r.U32()
	if err != nil {
		return err
	}
	field, err := r.U32()
	if err != nil {
		return err
	}
	rec.Properties = prop
	rec.Underlying = TypeIndex(utype)
	rec.FieldList = TypeIndex(field)
	d.finishAggregate(r, rec)
	return nil
}

// finishAggregate reads the trailing names, then either marks the record
// as a forward reference or attaches its members.
func (d *typeDecoder) finishAggregate(r *streams.Reader, rec *TypeRecord) {
	rec.Name = r.CString()
	if rec.Properties&streams.PropHasUniqueName != 0 {
		rec.UniqueName = r.CString()
	}

	if rec.Properties&streams.PropForwardRef != 0 {
		rec.Aggregate = rec.Kind
		rec.Kind = KindForwardRef
		return
	}

	d.attachMembers(rec)
	if rec.Kind.IsAggregate() {
		d.checkLayout(rec)
	}
}

// attachMembers copies the members of the record's field list, following
// LF_INDEX continuations, in declaration order.
func (d *typeDecoder) attachMembers(rec *TypeRecord) {
	if rec.FieldList == 0 {
		return
	}
	seen := make(map[TypeIndex]bool)
	for idx := rec.FieldList; idx != 0 && !seen[idx]; {
		seen[idx] = true
		fl, ok := d.fieldLists[idx]
		if !ok {
			rec.Warnings = append(rec.Warnings, fmt.Sprintf(
				"field list %s is not an earlier LF_FIELDLIST record", idx))
			return
		}
		rec.Fields = append(rec.Fields, fl.fields...)
		rec.Bases = append(rec.Bases, fl.bases...)
		rec.Enumerators = append(rec.Enumerators, fl.enumerators...)
		rec.Warnings = append(rec.Warnings, fl.warnings...)
		idx = fl.next
	}
}

// checkLayout flags data members placed at or past the declared size.
// Zero-sized arrays may sit at the end.
func (d *typeDecoder) checkLayout(rec *TypeRecord) {
	if rec.Size == 0 {
		return
	}
	for _, f := range rec.Fields {
		if f.Offset < rec.Size {
			continue
		}
		if size, ok := d.arraySizes[f.Type]; ok && size == 0 {
			continue
		}
		rec.Warnings = append(rec.Warnings, fmt.Sprintf(
			"field %q at offset 0x%x outside size 0x%x", f.Name, f.Offset, rec.Size))
	}
}

// decodePointer reads the referent and the attribute word; bits 13-18
// hold the pointer width.
func decodePointer(r *streams.Reader, rec *TypeRecord) error {
	rec.Kind = KindPointer
	utype, err := r.U32()
	if err != nil {
		return err
	}
	attr, err := r.U32()
	if err != nil {
		return err
	}
	rec.Target = TypeIndex(utype)
	rec.Size = uint64((attr >> 13) & 0x3F)
	return nil
}

func decodeModifier(r *streams.Reader, rec *TypeRecord) error {
	rec.Kind = KindModifier
	target, err := r.U32()
	if err != nil {
		return err
	}
	attr, err := r.U16()
	if err != nil {
		return err
	}
	rec.Target = TypeIndex(target)
	rec.Qualifiers = Qualifiers(attr)
	return nil
}

// decodeArray reads element type, index type, total byte size and name.
// The element count needs the element size and is filled in by the store.
func decodeArray(r *streams.Reader, rec *TypeRecord) error {
	rec.Kind = KindArray
	elem, err := r.U32()
	if err != nil {
		return err
	}
	idx, err := r.U32()
	if err != nil {
		return err
	}
	size, err := r.Numeric()
	if err != nil {
		return err
	}
	rec.Element = TypeIndex(elem)
	rec.IndexType = TypeIndex(idx)
	rec.Size = size
	rec.Name = r.CString()
	return nil
}

func decodeBitfield(r *streams.Reader, rec *TypeRecord) error {
	rec.Kind = KindBitfield
	target, err := r.U32()
	if err != nil {
		return err
	}
	length, err := r.U8()
	if err != nil {
		return err
	}
	pos, err := r.U8()
	if err != nil {
		return err
	}
	rec.Target = TypeIndex(target)
	rec.BitLength = length
	rec.BitPosition = pos
	return nil
}
