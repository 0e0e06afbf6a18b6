package pdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/xxh3"

	"github.com/jtang613/kerndbg/internal/testutil"
	"github.com/jtang613/kerndbg/internal/testutil/pdbtest"
	"github.com/jtang613/kerndbg/pkg/pdb/codeview"
	"github.com/jtang613/kerndbg/pkg/pdb/pdberr"
)

var testGUID = [16]byte{
	0x78, 0x56, 0x34, 0x12, 0xBC, 0x9A, 0xF0, 0xDE,
	0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF,
}

func kernelPDB() pdbtest.Options {
	return pdbtest.Options{
		GUID: testGUID,
		Age:  3,
		Types: [][]byte{
			pdbtest.ForwardStruct("_KTHREAD"),
			pdbtest.Pointer(0x1000, 8),
			pdbtest.FieldList(
				pdbtest.Member("MinorVersion", tUChar, 0),
				pdbtest.Member("CurrentThread", 0x1001, 0x8),
			),
			pdbtest.Struct("KPRCB", 0x1002, 0x100),
			pdbtest.FieldList(pdbtest.Member("ApcState", tUQuad, 0x98)),
			pdbtest.Struct("_KTHREAD", 0x1004, 0x400),
		},
		Symbols: [][]byte{
			pdbtest.Public("KiProcessorBlock", 2, 0x40),
			pdbtest.Public("PsActiveProcessHead", 2, 0x80),
			pdbtest.Record(0x1137, []byte{0, 0, 0, 0}), // S_COFFGROUP, not modelled
		},
		Modules: []pdbtest.ModuleSymbols{
			{
				Name: "ntoskrnl.obj",
				Symbols: [][]byte{
					pdbtest.ObjName("ntoskrnl.obj"),
					pdbtest.Data(pdbtest.SLData32, "KiBootDebuggerActive", tUChar, 2, 0x100),
					pdbtest.Data(pdbtest.SLData32, "PsActiveProcessHead", tUQuad, 2, 0x80),
				},
				// C13 line information; decoding it would fail.
				Trailer: []byte{0xF2, 0x00, 0x00, 0x00, 0xFF, 0xFF},
			},
			{Name: "* Linker *"},
		},
		Sections: []pdbtest.Section{
			{Name: ".text", VirtualAddress: 0x1000, VirtualSize: 0x5000},
			{Name: ".data", VirtualAddress: 0x6000, VirtualSize: 0x2000},
		},
	}
}

func TestLoad(t *testing.T) {
	data := pdbtest.Build(kernelPDB())
	s, err := Load(data, WithLogger(testutil.NewTestLogger(t)))
	require.NoError(t, err)

	info := s.Info()
	assert.Equal(t, testGUID, info.GUID)
	assert.Equal(t, "123456789ABCDEF00123456789ABCDEF", info.GUIDString())
	assert.Equal(t, uint32(3), info.Age)
	assert.Equal(t, uint16(pdbtest.MachineAMD64), info.Machine)
	assert.Equal(t, xxh3.Hash(data), s.Fingerprint())

	got, err := ResolveFieldPath(s, 0x1000, "KPRCB.CurrentThread")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1008), got)

	addr, err := ResolveSymbol(s, 0xfffff80000000000, "KiProcessorBlock")
	require.NoError(t, err)
	assert.Equal(t, uint64(0xfffff80000006040), addr)

	addr, err = ResolveSymbol(s, 0, "KiBootDebuggerActive")
	require.NoError(t, err, "module symbols are loaded")
	assert.Equal(t, uint64(0x6100), addr)

	sym, ok := s.LookupSymbol("PsActiveProcessHead")
	require.True(t, ok)
	assert.Equal(t, codeview.SymbolPublic, sym.Kind, "public record wins over the module's local")

	assert.Equal(t, 3, s.NumSymbols())
	assert.Empty(t, s.Diagnostics())
	assert.Len(t, s.Sections(), 2)
}

func TestLoad_WithoutModuleSymbols(t *testing.T) {
	s, err := Load(pdbtest.Build(kernelPDB()), WithModuleSymbols(false))
	require.NoError(t, err)

	_, ok := s.LookupSymbol("KiBootDebuggerActive")
	assert.False(t, ok)
	assert.Equal(t, 2, s.NumSymbols())
}

func TestLoad_BlockSizes(t *testing.T) {
	for _, bs := range []uint32{512, 1024, 4096} {
		opts := kernelPDB()
		opts.BlockSize = bs
		s, err := Load(pdbtest.Build(opts))
		require.NoError(t, err, "block size %d", bs)
		assert.Equal(t, 6, s.NumTypes())
	}
}

func TestLoad_X86PointerSize(t *testing.T) {
	opts := kernelPDB()
	opts.Machine = pdbtest.MachineI386
	opts.Types = [][]byte{pdbtest.Pointer(tInt4, 0)}

	s, err := Load(pdbtest.Build(opts))
	require.NoError(t, err)
	size, ok := s.SizeOf(0x1000)
	require.True(t, ok)
	assert.Equal(t, uint64(4), size)
}

func TestLoad_NoSections(t *testing.T) {
	opts := kernelPDB()
	opts.Sections = nil

	s, err := Load(pdbtest.Build(opts))
	require.NoError(t, err)
	addr, err := ResolveSymbol(s, 0, "KiProcessorBlock")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x40), addr, "without section headers the offset is the RVA")
}

func TestLoad_Truncated(t *testing.T) {
	data := pdbtest.Build(kernelPDB())

	// Drop the block map page and part of the directory.
	s, err := Load(data[:len(data)-600])
	assert.ErrorIs(t, err, pdberr.ErrTruncatedInput)
	assert.Nil(t, s)
}

func TestLoad_BadMagic(t *testing.T) {
	data := pdbtest.Build(kernelPDB())
	data[5] ^= 0xFF

	s, err := Load(data)
	assert.ErrorIs(t, err, pdberr.ErrMalformedContainer)
	assert.Nil(t, s)
}

func TestLoad_CorruptTypesFailBuild(t *testing.T) {
	opts := kernelPDB()
	bad := pdbtest.Struct("S", 0x1000, 8)
	opts.Types = [][]byte{bad[:len(bad)-4]}

	s, err := Load(pdbtest.Build(opts))
	assert.ErrorIs(t, err, pdberr.ErrTruncatedInput)
	assert.Nil(t, s)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ntkrnlmp.pdb")
	require.NoError(t, os.WriteFile(path, pdbtest.Build(kernelPDB()), 0o644))

	s, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), s.Info().Age)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.pdb"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
