package msf

import "fmt"

// Stream represents a single stream within an MSF file.
// Streams are composed of potentially non-contiguous blocks.
type Stream struct {
	msf    *MSF
	index  int
	size   uint32
	blocks []uint32
}

// Index returns the stream's position in the directory.
func (s *Stream) Index() int {
	return s.index
}

// Size returns the size of the stream in bytes.
func (s *Stream) Size() uint32 {
	return s.size
}

// Blocks returns the block indices that make up this stream.
func (s *Stream) Blocks() []uint32 {
	return s.blocks
}

// ReadAll copies the stream's blocks, in order, into one byte slice of
// exactly Size bytes.
func (s *Stream) ReadAll() ([]byte, error) {
	data := make([]byte, 0, s.size)
	blockSize := s.msf.superBlock.BlockSize
	remaining := s.size

	for _, block := range s.blocks {
		toRead := min(blockSize, remaining)
		chunk, err := s.msf.region(block, 0, toRead)
		if err != nil {
			return nil, fmt.Errorf("failed to read stream %d: %w", s.index, err)
		}
		data = append(data, chunk...)
		remaining -= toRead
	}

	return data, nil
}

// StreamDirectory represents the directory of all streams in the MSF file.
type StreamDirectory struct {
	NumStreams   uint32
	StreamSizes  []uint32
	StreamBlocks [][]uint32
}
