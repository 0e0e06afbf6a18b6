package codeview

import (
	"fmt"

	"github.com/jtang613/kerndbg/pkg/pdb/streams"
)

// fieldList is the decoded content of one LF_FIELDLIST record.
type fieldList struct {
	fields      []Field
	bases       []BaseClass
	enumerators []Enumerator
	next        TypeIndex // LF_INDEX continuation, 0 if none
	warnings    []string
}

// Method property values (bits 2-4 of the member attribute) that carry a
// vtable offset in LF_ONEMETHOD.
const (
	mpropIntro     = 4
	mpropPureIntro = 6
)

// parseFieldList walks the sub-records of a field list body. Sub-records
// are padded to 4 bytes with LF_PAD bytes whose low nibble is the distance
// to the next sub-record.
func parseFieldList(body []byte) (*fieldList, error) {
	fl := &fieldList{}
	r := streams.NewReader(body)

	for r.Len() > 0 {
		if b := r.Remaining()[0]; b >= streams.LF_PAD0 {
			skip := int(b & 0x0F)
			if skip == 0 || skip > r.Len() {
				skip = 1
			}
			_ = r.Skip(skip)
			continue
		}

		at := r.Offset()
		leaf, err := r.U16()
		if err != nil {
			return nil, err
		}

		switch leaf {
		case streams.LF_MEMBER:
			err = fl.member(r)
		case streams.LF_STMEMBER:
			err = skipStaticMember(r)
		case streams.LF_BCLASS:
			err = fl.baseClass(r)
		case streams.LF_VBCLASS, streams.LF_IVBCLASS:
			err = fl.virtualBaseClass(r)
		case streams.LF_ENUMERATE:
			err = fl.enumerate(r)
		case streams.LF_METHOD:
			err = skipMethod(r)
		case streams.LF_ONEMETHOD:
			err = skipOneMethod(r)
		case streams.LF_NESTTYPE:
			err = skipNestType(r)
		case streams.LF_VFUNCTAB:
			err = r.Skip(6)
		case streams.LF_INDEX:
			err = fl.index(r)
		default:
			fl.warnings = append(fl.warnings, fmt.Sprintf(
				"unknown field list member %s at 0x%x, remaining members dropped", streams.LeafKindName(leaf), at))
			return fl, nil
		}
		if err != nil {
			return nil, fmt.Errorf("field list member %s at 0x%x: %w", streams.LeafKindName(leaf), at, err)
		}
	}

	return fl, nil
}

// member reads LF_MEMBER: attributes, type, offset, name.
func (fl *fieldList) member(r *streams.Reader) error {
	if _, err := r.U16(); err != nil {
		return err
	}
	typ, err := r.U32()
	if err != nil {
		return err
	}
	offset, err := r.Numeric()
	if err != nil {
		return err
	}
	fl.fields = append(fl.fields, Field{
		Name:   r.CString(),
		Offset: offset,
		Type:   TypeIndex(typ),
	})
	return nil
}

func (fl *fieldList) baseClass(r *streams.Reader) error {
	if _, err := r.U16(); err != nil {
		return err
	}
	typ, err := r.U32()
	if err != nil {
		return err
	}
	offset, err := r.Numeric()
	if err != nil {
		return err
	}
	fl.bases = append(fl.bases, BaseClass{Type: TypeIndex(typ), Offset: offset})
	return nil
}

// virtualBaseClass reads LF_VBCLASS and LF_IVBCLASS. A virtual base has no
// fixed offset; Offset holds the virtual base pointer offset.
func (fl *fieldList) virtualBaseClass(r *streams.Reader) error {
	if _, err := r.U16(); err != nil {
		return err
	}
	typ, err := r.U32()
	if err != nil {
		return err
	}
	if _, err := r.U32(); err != nil { // virtual base pointer type
		return err
	}
	vbpOffset, err := r.Numeric()
	if err != nil {
		return err
	}
	if _, err := r.Numeric(); err != nil { // index into the vbtable
		return err
	}
	fl.bases = append(fl.bases, BaseClass{Type: TypeIndex(typ), Offset: vbpOffset, Virtual: true})
	return nil
}

func (fl *fieldList) enumerate(r *streams.Reader) error {
	if _, err := r.U16(); err != nil {
		return err
	}
	value, err := r.Numeric()
	if err != nil {
		return err
	}
	fl.enumerators = append(fl.enumerators, Enumerator{Name: r.CString(), Value: value})
	return nil
}

func (fl *fieldList) index(r *streams.Reader) error {
	if err := r.Skip(2); err != nil {
		return err
	}
	next, err := r.U32()
	if err != nil {
		return err
	}
	fl.next = TypeIndex(next)
	return nil
}

func skipStaticMember(r *streams.Reader) error {
	if err := r.Skip(6); err != nil { // attributes, type
		return err
	}
	r.CString()
	return nil
}

func skipMethod(r *streams.Reader) error {
	if err := r.Skip(6); err != nil { // count, method list
		return err
	}
	r.CString()
	return nil
}

func skipOneMethod(r *streams.Reader) error {
	attr, err := r.U16()
	if err != nil {
		return err
	}
	if err := r.Skip(4); err != nil {
		return err
	}
	if mprop := (attr >> 2) & 7; mprop == mpropIntro || mprop == mpropPureIntro {
		if err := r.Skip(4); err != nil {
			return err
		}
	}
	r.CString()
	return nil
}

func skipNestType(r *streams.Reader) error {
	if err := r.Skip(6); err != nil { // padding, type
		return err
	}
	r.CString()
	return nil
}
