package codeview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/kerndbg/internal/testutil/pdbtest"
	"github.com/jtang613/kerndbg/pkg/pdb/pdberr"
)

const (
	tInt4   = 0x0074
	tUInt4  = 0x0075
	tUQuad  = 0x0023
	tUChar  = 0x0020
	tPVoid  = 0x0603
	tULong  = 0x0022
	tUShort = 0x0021
)

func collectTypes(t *testing.T, records ...[]byte) []TypeRecord {
	t.Helper()
	var out []TypeRecord
	for rec, err := range DecodeTypes(pdbtest.Concat(records...), 0x1000) {
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func TestDecodeTypes_Struct(t *testing.T) {
	types := collectTypes(t,
		pdbtest.FieldList(
			pdbtest.Member("a", tInt4, 0),
			pdbtest.Member("b", tInt4, 4),
		),
		pdbtest.Struct("S", 0x1000, 8),
	)
	require.Len(t, types, 2)

	fl := types[0]
	assert.Equal(t, TypeIndex(0x1000), fl.Index)
	assert.Equal(t, KindFieldList, fl.Kind)

	s := types[1]
	assert.Equal(t, TypeIndex(0x1001), s.Index)
	assert.Equal(t, KindStruct, s.Kind)
	assert.Equal(t, "S", s.Name)
	assert.Equal(t, uint64(8), s.Size)
	assert.Equal(t, TypeIndex(0x1000), s.FieldList)
	assert.Equal(t, []Field{
		{Name: "a", Offset: 0, Type: tInt4},
		{Name: "b", Offset: 4, Type: tInt4},
	}, s.Fields)
	assert.Empty(t, s.Warnings)

	f, ok := s.FindField("b")
	assert.True(t, ok)
	assert.Equal(t, uint64(4), f.Offset)
	_, ok = s.FindField("c")
	assert.False(t, ok)
}

func TestDecodeTypes_UnionAndClass(t *testing.T) {
	types := collectTypes(t,
		pdbtest.FieldList(
			pdbtest.Member("AsULong", tULong, 0),
			pdbtest.Member("AsUShort", tUShort, 0),
		),
		pdbtest.Union("_U", 0x1000, 4),
		pdbtest.ClassRecord(pdbtest.Agg{FieldList: 0x1000, Size: 4, Name: "C", UniqueName: ".?AVC@@"}),
	)

	u := types[1]
	assert.Equal(t, KindUnion, u.Kind)
	assert.Equal(t, uint64(4), u.Size)
	assert.Len(t, u.Fields, 2)
	assert.True(t, u.Kind.IsAggregate())

	c := types[2]
	assert.Equal(t, KindClass, c.Kind)
	assert.Equal(t, "C", c.Name)
	assert.Equal(t, ".?AVC@@", c.UniqueName)
}

func TestDecodeTypes_ForwardReference(t *testing.T) {
	types := collectTypes(t,
		pdbtest.ForwardStruct("_KTHREAD"),
		pdbtest.StructRecord(pdbtest.Agg{Props: pdbtest.PropForwardRef, Name: "_U", UniqueName: ".?AT_U@@"}),
	)

	assert.Equal(t, KindForwardRef, types[0].Kind)
	assert.True(t, types[0].IsForwardRef())
	assert.Equal(t, KindStruct, types[0].Aggregate)
	assert.Equal(t, "_KTHREAD", types[0].Name)
	assert.Empty(t, types[0].Fields)

	assert.Equal(t, ".?AT_U@@", types[1].UniqueName)
}

func TestDecodeTypes_Enum(t *testing.T) {
	types := collectTypes(t,
		pdbtest.FieldList(
			pdbtest.Enumerate("KernelMode", 0),
			pdbtest.Enumerate("UserMode", 1),
			pdbtest.Enumerate("MaximumMode", 0x12345678),
		),
		pdbtest.Enum("_MODE", tInt4, 0x1000),
	)

	e := types[1]
	assert.Equal(t, KindEnum, e.Kind)
	assert.Equal(t, "_MODE", e.Name)
	assert.Equal(t, TypeIndex(tInt4), e.Underlying)
	assert.Equal(t, []Enumerator{
		{Name: "KernelMode", Value: 0},
		{Name: "UserMode", Value: 1},
		{Name: "MaximumMode", Value: 0x12345678},
	}, e.Enumerators)
}

func TestDecodeTypes_SimpleLeaves(t *testing.T) {
	types := collectTypes(t,
		pdbtest.Pointer(tInt4, 8),
		pdbtest.Modifier(tInt4, 3),
		pdbtest.Array(tUChar, tUQuad, 15),
		pdbtest.Bitfield(tUInt4, 3, 5),
		pdbtest.Procedure(tInt4, 0),
		pdbtest.VTShape(),
	)

	ptr := types[0]
	assert.Equal(t, KindPointer, ptr.Kind)
	assert.Equal(t, TypeIndex(tInt4), ptr.Target)
	assert.Equal(t, uint64(8), ptr.Size)

	mod := types[1]
	assert.Equal(t, KindModifier, mod.Kind)
	assert.Equal(t, QualConst|QualVolatile, mod.Qualifiers)
	assert.Equal(t, "const volatile", mod.Qualifiers.String())

	arr := types[2]
	assert.Equal(t, KindArray, arr.Kind)
	assert.Equal(t, TypeIndex(tUChar), arr.Element)
	assert.Equal(t, uint64(15), arr.Size)

	bf := types[3]
	assert.Equal(t, KindBitfield, bf.Kind)
	assert.Equal(t, uint8(3), bf.BitLength)
	assert.Equal(t, uint8(5), bf.BitPosition)

	assert.Equal(t, KindProcedure, types[4].Kind)

	other := types[5]
	assert.Equal(t, KindOther, other.Kind, "unmodelled leaves still take an index")
	assert.Equal(t, TypeIndex(0x1005), other.Index)
}

func TestDecodeTypes_FieldListContinuation(t *testing.T) {
	types := collectTypes(t,
		pdbtest.FieldList(pdbtest.Member("tail", tInt4, 8)),
		pdbtest.FieldList(
			pdbtest.Member("head", tInt4, 0),
			pdbtest.Index(0x1000),
		),
		pdbtest.Struct("Long", 0x1001, 12),
	)

	s := types[2]
	require.Len(t, s.Fields, 2)
	assert.Equal(t, "head", s.Fields[0].Name)
	assert.Equal(t, "tail", s.Fields[1].Name)
	assert.Equal(t, TypeIndex(0x1000), types[1].Target)
}

func TestDecodeTypes_FieldListMembersSkipped(t *testing.T) {
	types := collectTypes(t,
		pdbtest.FieldList(
			pdbtest.BaseClass(0x1005, 0),
			pdbtest.VirtualBaseClass(0x1006, tPVoid, 8, 1),
			pdbtest.VFuncTab(0x1007),
			pdbtest.StaticMember("instances", tInt4),
			pdbtest.OneMethod("Run", 0x1008, true),
			pdbtest.OneMethod("Stop", 0x1008, false),
			pdbtest.Method("Overloaded", 2, 0x1009),
			pdbtest.NestType("Inner", 0x100a),
			pdbtest.Member("value", tUQuad, 0x10),
		),
	)

	fl := types[0]
	assert.Equal(t, []Field{{Name: "value", Offset: 0x10, Type: tUQuad}}, fl.Fields)
	assert.Equal(t, []BaseClass{
		{Type: 0x1005, Offset: 0},
		{Type: 0x1006, Offset: 8, Virtual: true},
	}, fl.Bases)
	assert.Empty(t, fl.Warnings)
}

func TestDecodeTypes_UnknownFieldListMember(t *testing.T) {
	unknown := &pdbtest.Writer{}
	unknown.U16(0x1599).U16(0).U32(0)

	types := collectTypes(t,
		pdbtest.FieldList(
			pdbtest.Member("kept", tInt4, 0),
			unknown.Bytes(),
			pdbtest.Member("dropped", tInt4, 4),
		),
		pdbtest.Struct("S", 0x1000, 8),
	)

	assert.Len(t, types[1].Fields, 1)
	require.Len(t, types[1].Warnings, 1)
	assert.Contains(t, types[1].Warnings[0], "unknown field list member")
}

func TestDecodeTypes_LayoutWarning(t *testing.T) {
	types := collectTypes(t,
		pdbtest.Array(tUChar, tUQuad, 0),
		pdbtest.FieldList(
			pdbtest.Member("a", tInt4, 0),
			pdbtest.Member("Flexible", 0x1000, 4),
			pdbtest.Member("outside", tInt4, 8),
		),
		pdbtest.Struct("S", 0x1001, 4),
	)

	warnings := types[2].Warnings
	require.Len(t, warnings, 1, "zero-size trailing arrays are allowed")
	assert.Contains(t, warnings[0], `"outside"`)
}

func TestDecodeTypes_UnionLayoutWarning(t *testing.T) {
	types := collectTypes(t,
		pdbtest.FieldList(
			pdbtest.Member("a", tUInt4, 0),
			pdbtest.Member("b", tUInt4, 0x40),
		),
		pdbtest.Union("U", 0x1000, 8),
	)

	warnings := types[1].Warnings
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], `"b" at offset 0x40 outside size 0x8`)
}

func TestDecodeTypes_MisplacedFieldList(t *testing.T) {
	tests := []struct {
		name    string
		records [][]byte
	}{
		{
			name: "later record",
			records: [][]byte{
				pdbtest.Struct("S", 0x1001, 8),
				pdbtest.FieldList(pdbtest.Member("a", tInt4, 0)),
			},
		},
		{
			name: "not a field list",
			records: [][]byte{
				pdbtest.Pointer(tInt4, 8),
				pdbtest.Struct("S", 0x1000, 8),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			types := collectTypes(t, tt.records...)
			var s TypeRecord
			for _, rec := range types {
				if rec.Name == "S" {
					s = rec
				}
			}
			assert.Empty(t, s.Fields)
			require.Len(t, s.Warnings, 1)
			assert.Contains(t, s.Warnings[0], "is not an earlier LF_FIELDLIST record")
		})
	}
}

func TestDecodeTypes_LargeNumericLeaves(t *testing.T) {
	types := collectTypes(t,
		pdbtest.FieldList(pdbtest.Member("far", tInt4, 0x12345)),
		pdbtest.Struct("Big", 0x1000, 0x100000),
	)
	assert.Equal(t, uint64(0x12345), types[1].Fields[0].Offset)
	assert.Equal(t, uint64(0x100000), types[1].Size)
}

func TestDecodeTypes_Truncated(t *testing.T) {
	good := pdbtest.Pointer(tInt4, 8)
	bad := pdbtest.Struct("S", 0, 8)

	tests := []struct {
		name string
		data []byte
	}{
		{"record past end", pdbtest.Concat(good, bad[:len(bad)-4])},
		{"body shorter than fixed fields", pdbtest.Concat(good, pdbtest.Record(pdbtest.LFPointer, []byte{1, 2}))},
		{"member past end", pdbtest.Concat(good, pdbtest.Record(pdbtest.LFFieldList, pdbtest.Member("x", tInt4, 0)[:6]))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n int
			var last error
			for _, err := range DecodeTypes(tt.data, 0x1000) {
				if err != nil {
					last = err
					continue
				}
				n++
			}
			assert.Equal(t, 1, n)
			assert.ErrorIs(t, last, pdberr.ErrTruncatedInput)
		})
	}
}

func TestTypeIndex(t *testing.T) {
	assert.True(t, TypeIndex(tInt4).IsPrimitive())
	assert.False(t, TypeIndex(0x1000).IsPrimitive())
	assert.Equal(t, "0x1000", TypeIndex(0x1000).String())

	size, ok := PrimitiveSize(tPVoid)
	assert.True(t, ok)
	assert.Equal(t, uint64(8), size)
	assert.Equal(t, "void*", PrimitiveName(tPVoid))
}

func TestTypeKindString(t *testing.T) {
	assert.Equal(t, "struct", KindStruct.String())
	assert.Equal(t, "forward", KindForwardRef.String())
	assert.Equal(t, "kind(200)", TypeKind(200).String())
}
