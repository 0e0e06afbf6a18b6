package msf

import (
	"encoding/binary"
	"fmt"
	"os"

	"fortio.org/safecast"

	"github.com/jtang613/kerndbg/pkg/pdb/pdberr"
)

// unusedStreamSize marks a deleted or never-written stream in the directory.
const unusedStreamSize = 0xFFFFFFFF

// MSF represents an MSF (Multi-Stream Format) container held in memory.
type MSF struct {
	data       []byte
	superBlock *SuperBlock
	directory  *StreamDirectory
	streams    []*Stream
}

// Open parses the container structure of data. The slice is retained and
// must not be modified while the MSF is in use.
func Open(data []byte) (*MSF, error) {
	msf := &MSF{data: data}

	var err error
	msf.superBlock, err = ReadSuperBlock(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read superblock: %w", err)
	}

	if err := msf.readStreamDirectory(); err != nil {
		return nil, fmt.Errorf("failed to read stream directory: %w", err)
	}

	msf.buildStreams()

	return msf, nil
}

// OpenFile reads the file at path fully and opens it as an MSF container.
func OpenFile(path string) (*MSF, error) {
	//nolint:gosec // G304: the caller chooses which PDB to parse.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Open(data)
}

// SuperBlock returns the MSF SuperBlock.
func (m *MSF) SuperBlock() *SuperBlock {
	return m.superBlock
}

// NumStreams returns the number of streams in the file.
func (m *MSF) NumStreams() int {
	return len(m.streams)
}

// BlockSize returns the block size used by this MSF file.
func (m *MSF) BlockSize() uint32 {
	return m.superBlock.BlockSize
}

// Stream returns the stream at the given index.
func (m *MSF) Stream(index int) (*Stream, error) {
	if index < 0 || index >= len(m.streams) {
		return nil, fmt.Errorf("stream index %d not in [0, %d): %w", index, len(m.streams), pdberr.ErrOutOfRange)
	}
	return m.streams[index], nil
}

// StreamSize returns the declared byte length of a stream, or 0 if the
// index does not exist.
func (m *MSF) StreamSize(index int) uint32 {
	if index < 0 || index >= len(m.streams) {
		return 0
	}
	return m.streams[index].size
}

// ReadStream reassembles stream index into one contiguous byte slice whose
// length equals the declared stream length.
func (m *MSF) ReadStream(index int) ([]byte, error) {
	s, err := m.Stream(index)
	if err != nil {
		return nil, err
	}
	return s.ReadAll()
}

// region returns data[block*blockSize+skip : +n] after checking the block
// index and the buffer bounds.
func (m *MSF) region(block uint32, skip, n uint32) ([]byte, error) {
	if block >= m.superBlock.NumBlocks {
		return nil, fmt.Errorf("block %d not in [0, %d): %w", block, m.superBlock.NumBlocks, pdberr.ErrOutOfRange)
	}
	start := uint64(block)*uint64(m.superBlock.BlockSize) + uint64(skip)
	end := start + uint64(n)
	if end > uint64(len(m.data)) {
		return nil, fmt.Errorf("block %d region [0x%x, 0x%x) exceeds buffer of 0x%x bytes: %w",
			block, start, end, len(m.data), pdberr.ErrTruncatedInput)
	}
	lo, err := safecast.Conv[int](start)
	if err != nil {
		return nil, fmt.Errorf("block %d offset: %w", block, pdberr.ErrOutOfRange)
	}
	hi, err := safecast.Conv[int](end)
	if err != nil {
		return nil, fmt.Errorf("block %d end: %w", block, pdberr.ErrOutOfRange)
	}
	return m.data[lo:hi], nil
}

// readStreamDirectory reads and parses the stream directory.
func (m *MSF) readStreamDirectory() error {
	sb := m.superBlock
	numDirBlocks := sb.NumDirectoryBlocks()

	// The block map is a contiguous array of directory block indices.
	mapBytes := uint64(numDirBlocks) * 4
	if mapBytes > uint64(sb.BlockSize)*uint64(sb.NumBlocks) {
		return fmt.Errorf("block map of %d entries: %w", numDirBlocks, pdberr.ErrTruncatedInput)
	}
	raw, err := m.region(sb.BlockMapAddr, 0, uint32(mapBytes))
	if err != nil {
		return fmt.Errorf("failed to read block map: %w", err)
	}

	dirData := make([]byte, 0, sb.NumDirectoryBytes)
	remaining := sb.NumDirectoryBytes
	for i := uint32(0); i < numDirBlocks; i++ {
		blockIdx := binary.LittleEndian.Uint32(raw[i*4:])
		toRead := min(sb.BlockSize, remaining)
		chunk, err := m.region(blockIdx, 0, toRead)
		if err != nil {
			return fmt.Errorf("failed to read directory block %d: %w", blockIdx, err)
		}
		dirData = append(dirData, chunk...)
		remaining -= toRead
	}

	return m.parseStreamDirectory(dirData)
}

// parseStreamDirectory parses the stream directory from raw bytes.
func (m *MSF) parseStreamDirectory(data []byte) error {
	r := &dirReader{data: data}

	numStreams, err := r.u32()
	if err != nil {
		return fmt.Errorf("failed to read NumStreams: %w", err)
	}
	if uint64(numStreams)*4 > uint64(len(data)) {
		return fmt.Errorf("directory declares %d streams in %d bytes: %w", numStreams, len(data), pdberr.ErrTruncatedInput)
	}

	streamSizes := make([]uint32, numStreams)
	for i := range streamSizes {
		if streamSizes[i], err = r.u32(); err != nil {
			return fmt.Errorf("failed to read stream size %d: %w", i, err)
		}
	}

	blockSize := m.superBlock.BlockSize
	streamBlocks := make([][]uint32, numStreams)
	for i, size := range streamSizes {
		if size == unusedStreamSize {
			continue
		}
		blocks := make([]uint32, blocksFor(size, blockSize))
		for j := range blocks {
			if blocks[j], err = r.u32(); err != nil {
				return fmt.Errorf("failed to read block index for stream %d: %w", i, err)
			}
			if blocks[j] >= m.superBlock.NumBlocks {
				return fmt.Errorf("stream %d references block %d not in [0, %d): %w",
					i, blocks[j], m.superBlock.NumBlocks, pdberr.ErrOutOfRange)
			}
		}
		streamBlocks[i] = blocks
	}

	m.directory = &StreamDirectory{
		NumStreams:   numStreams,
		StreamSizes:  streamSizes,
		StreamBlocks: streamBlocks,
	}

	return nil
}

// buildStreams creates Stream objects for all streams in the directory.
func (m *MSF) buildStreams() {
	m.streams = make([]*Stream, m.directory.NumStreams)
	for i := range m.streams {
		size := m.directory.StreamSizes[i]
		if size == unusedStreamSize {
			// Unused stream
			m.streams[i] = &Stream{msf: m, index: i}
			continue
		}
		m.streams[i] = &Stream{
			msf:    m,
			index:  i,
			size:   size,
			blocks: m.directory.StreamBlocks[i],
		}
	}
}

type dirReader struct {
	data []byte
	off  int
}

func (r *dirReader) u32() (uint32, error) {
	if r.off+4 > len(r.data) {
		return 0, fmt.Errorf("directory ends at 0x%x: %w", len(r.data), pdberr.ErrTruncatedInput)
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}
