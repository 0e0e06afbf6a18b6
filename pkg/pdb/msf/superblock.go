// Package msf implements parsing for Microsoft's Multi-Stream Format (MSF) container.
package msf

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/jtang613/kerndbg/pkg/pdb/pdberr"
)

// MSF 7.00 magic signature
var MSFMagic = []byte("Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00")

// SuperBlock is the header structure at the beginning of an MSF file.
// It contains metadata needed to navigate the file's stream structure.
type SuperBlock struct {
	Magic             [32]byte // Must be MSFMagic
	BlockSize         uint32   // Page size in bytes, a power of two
	FreeBlockMapBlock uint32   // Index of active FPM block (1 or 2)
	NumBlocks         uint32   // Total number of blocks in file
	NumDirectoryBytes uint32   // Size of stream directory in bytes
	Unknown           uint32   // Reserved/unknown field
	BlockMapAddr      uint32   // Block index containing the stream directory block map
}

// SuperBlockSize is the size of the SuperBlock structure in bytes.
const SuperBlockSize = 56

// Supported page sizes.
const (
	MinBlockSize = 512
	MaxBlockSize = 32768
)

// ReadSuperBlock reads and validates the SuperBlock at the start of data.
func ReadSuperBlock(data []byte) (*SuperBlock, error) {
	if len(data) < len(MSFMagic) || !bytes.Equal(data[:len(MSFMagic)], MSFMagic) {
		return nil, fmt.Errorf("invalid MSF magic: %w", pdberr.ErrMalformedContainer)
	}
	if len(data) < SuperBlockSize {
		return nil, fmt.Errorf("superblock needs %d bytes, have %d: %w",
			SuperBlockSize, len(data), pdberr.ErrTruncatedInput)
	}

	var sb SuperBlock
	copy(sb.Magic[:], data)
	sb.BlockSize = binary.LittleEndian.Uint32(data[32:])
	sb.FreeBlockMapBlock = binary.LittleEndian.Uint32(data[36:])
	sb.NumBlocks = binary.LittleEndian.Uint32(data[40:])
	sb.NumDirectoryBytes = binary.LittleEndian.Uint32(data[44:])
	sb.Unknown = binary.LittleEndian.Uint32(data[48:])
	sb.BlockMapAddr = binary.LittleEndian.Uint32(data[52:])

	if !isValidBlockSize(sb.BlockSize) {
		return nil, fmt.Errorf("invalid block size %d: %w", sb.BlockSize, pdberr.ErrMalformedContainer)
	}
	if sb.FreeBlockMapBlock != 1 && sb.FreeBlockMapBlock != 2 {
		return nil, fmt.Errorf("invalid FreeBlockMapBlock %d (must be 1 or 2): %w",
			sb.FreeBlockMapBlock, pdberr.ErrMalformedContainer)
	}

	return &sb, nil
}

// NumDirectoryBlocks returns the number of blocks needed to store the stream directory.
func (sb *SuperBlock) NumDirectoryBlocks() uint32 {
	return blocksFor(sb.NumDirectoryBytes, sb.BlockSize)
}

// FileSize returns the expected file size based on block count.
func (sb *SuperBlock) FileSize() int64 {
	return int64(sb.NumBlocks) * int64(sb.BlockSize)
}

func isValidBlockSize(size uint32) bool {
	return size >= MinBlockSize && size <= MaxBlockSize && size&(size-1) == 0
}

func blocksFor(size, blockSize uint32) uint32 {
	return uint32((uint64(size) + uint64(blockSize) - 1) / uint64(blockSize))
}
