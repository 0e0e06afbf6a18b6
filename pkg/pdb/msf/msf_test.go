package msf

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/kerndbg/internal/testutil/pdbtest"
	"github.com/jtang613/kerndbg/pkg/pdb/pdberr"
)

func TestOpen_StreamsRoundTrip(t *testing.T) {
	large := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF}, 700) // spans several pages
	streams := [][]byte{
		{},
		[]byte("pdb info"),
		large,
		nil,
		[]byte{1, 2, 3, 4, 5},
	}

	for _, blockSize := range []uint32{512, 1024, 4096} {
		m, err := Open(pdbtest.MSF(blockSize, streams...))
		require.NoError(t, err, "block size %d", blockSize)

		assert.Equal(t, blockSize, m.BlockSize())
		require.Equal(t, len(streams), m.NumStreams())

		for i, want := range streams {
			got, err := m.ReadStream(i)
			require.NoError(t, err, "stream %d", i)
			assert.Len(t, got, len(want), "stream %d length", i)
			if len(want) > 0 {
				assert.Equal(t, want, got, "stream %d", i)
			}
		}
	}
}

func TestOpen_StreamSize(t *testing.T) {
	m, err := Open(pdbtest.MSF(512, []byte("abc"), nil))
	require.NoError(t, err)

	assert.Equal(t, uint32(3), m.StreamSize(0))
	assert.Equal(t, uint32(0), m.StreamSize(1), "unused streams are empty")
	assert.Equal(t, uint32(0), m.StreamSize(7), "missing streams are empty")
}

func TestReadStream_OutOfRange(t *testing.T) {
	m, err := Open(pdbtest.MSF(512, []byte("abc")))
	require.NoError(t, err)

	_, err = m.ReadStream(1)
	assert.ErrorIs(t, err, pdberr.ErrOutOfRange)

	_, err = m.ReadStream(-1)
	assert.ErrorIs(t, err, pdberr.ErrOutOfRange)
}

func TestOpen_BadMagic(t *testing.T) {
	data := pdbtest.MSF(512, []byte("abc"))
	data[0] = 'X'

	_, err := Open(data)
	assert.ErrorIs(t, err, pdberr.ErrMalformedContainer)
}

func TestOpen_BlockSize(t *testing.T) {
	tests := []struct {
		name      string
		blockSize uint32
		valid     bool
	}{
		{"512", 512, true},
		{"32768", 32768, true},
		{"not a power of two", 1000, false},
		{"too small", 256, false},
		{"too large", 65536, false},
		{"zero", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := pdbtest.SuperBlock(tt.blockSize, 1, 1, 4, 0)
			_, err := ReadSuperBlock(data)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, pdberr.ErrMalformedContainer)
			}
		})
	}
}

func TestOpen_InvalidFreeBlockMap(t *testing.T) {
	_, err := ReadSuperBlock(pdbtest.SuperBlock(512, 3, 1, 4, 0))
	assert.ErrorIs(t, err, pdberr.ErrMalformedContainer)
}

func TestOpen_TruncatedSuperBlock(t *testing.T) {
	data := pdbtest.SuperBlock(512, 1, 1, 4, 0)
	_, err := ReadSuperBlock(data[:40])
	assert.ErrorIs(t, err, pdberr.ErrTruncatedInput)
}

func TestOpen_BlockIndexOutOfRange(t *testing.T) {
	data := pdbtest.MSF(512, []byte("abc"))
	m, err := Open(data)
	require.NoError(t, err)

	// Point stream 0's only block past the end of the file.
	s, err := m.Stream(0)
	require.NoError(t, err)
	dirBlock := m.SuperBlock().BlockMapAddr - 1
	off := int(dirBlock)*512 + 8 // num streams, one size
	require.Equal(t, s.Blocks()[0], binary.LittleEndian.Uint32(data[off:]))
	pdbtest.PutU32(data, off, m.SuperBlock().NumBlocks+5)

	_, err = Open(data)
	assert.ErrorIs(t, err, pdberr.ErrOutOfRange)
}

func TestOpen_TruncatedFile(t *testing.T) {
	data := pdbtest.MSF(512, bytes.Repeat([]byte{1}, 2000))
	m, err := Open(data)
	require.NoError(t, err)

	// Cut the buffer inside the stream's last page; the directory was
	// already read, so only the stream read sees the truncation.
	s, err := m.Stream(0)
	require.NoError(t, err)
	last := s.Blocks()[len(s.Blocks())-1]

	truncated := &MSF{data: data[:int(last)*512+10], superBlock: m.superBlock, directory: m.directory}
	truncated.buildStreams()

	_, err = truncated.ReadStream(0)
	assert.ErrorIs(t, err, pdberr.ErrTruncatedInput)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pdb")
	require.NoError(t, os.WriteFile(path, pdbtest.MSF(512, []byte("hello")), 0o644))

	m, err := OpenFile(path)
	require.NoError(t, err)
	got, err := m.ReadStream(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	_, err = OpenFile(path + ".missing")
	assert.Error(t, err)
}
