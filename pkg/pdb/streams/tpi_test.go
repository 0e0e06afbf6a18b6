package streams

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/kerndbg/internal/testutil/pdbtest"
	"github.com/jtang613/kerndbg/pkg/pdb/pdberr"
)

func TestReadTPIStream(t *testing.T) {
	records := [][]byte{
		pdbtest.Pointer(T_INT4, 8),
		pdbtest.Modifier(T_INT4, 1),
	}
	tpi, err := ReadTPIStream(pdbtest.TPI(TypeIndexBegin, records...))
	require.NoError(t, err)

	assert.Equal(t, uint32(TPIStreamVersionV80), tpi.Header.Version)
	assert.Equal(t, uint32(2), tpi.TypeCount())
	assert.Equal(t, pdbtest.Concat(records...), tpi.Records)
}

func TestReadTPIStream_Errors(t *testing.T) {
	valid := pdbtest.TPI(TypeIndexBegin, pdbtest.Pointer(T_INT4, 8))

	t.Run("short header", func(t *testing.T) {
		_, err := ReadTPIStream(valid[:20])
		assert.ErrorIs(t, err, pdberr.ErrTruncatedInput)
	})

	t.Run("unsupported version", func(t *testing.T) {
		data := append([]byte(nil), valid...)
		pdbtest.PutU32(data, 0, 12345)
		_, err := ReadTPIStream(data)
		assert.ErrorIs(t, err, pdberr.ErrMalformedContainer)
	})

	t.Run("begin below first index", func(t *testing.T) {
		_, err := ReadTPIStream(pdbtest.TPI(0x800))
		assert.ErrorIs(t, err, pdberr.ErrMalformedContainer)
	})

	t.Run("records past end", func(t *testing.T) {
		_, err := ReadTPIStream(valid[:len(valid)-2])
		assert.ErrorIs(t, err, pdberr.ErrTruncatedInput)
	})
}

func TestBuiltinTypes(t *testing.T) {
	tests := []struct {
		index uint32
		name  string
		size  uint64
		ok    bool
	}{
		{T_INT4, "int32", 4, true},
		{T_UQUAD, "uint64", 8, true},
		{T_VOID, "void", 0, true},
		{0x0603, "void*", 8, true},  // 64-bit pointer to void
		{0x0474, "int32*", 4, true}, // 32-bit pointer to int
		{0x00FE, "builtin_0x00fe", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, GetBuiltinTypeName(tt.index))
			size, ok := GetBuiltinTypeSize(tt.index)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.size, size)
		})
	}

	assert.True(t, IsBuiltinPointer(0x0603))
	assert.False(t, IsBuiltinPointer(T_INT4))
	assert.Empty(t, GetBuiltinTypeName(TypeIndexBegin))
}
