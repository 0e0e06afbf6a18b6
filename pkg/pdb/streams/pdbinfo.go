// Package streams provides parsers for the fixed-layout PDB streams: the
// PDB info stream, the DBI stream with its section headers, and the TPI
// header.
package streams

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// PDB Stream versions
const (
	PDBStreamVersionVC2     = 19941610
	PDBStreamVersionVC4     = 19950623
	PDBStreamVersionVC41    = 19950814
	PDBStreamVersionVC50    = 19960307
	PDBStreamVersionVC98    = 19970604
	PDBStreamVersionVC70Dep = 19990604
	PDBStreamVersionVC70    = 20000404
	PDBStreamVersionVC80    = 20030901
	PDBStreamVersionVC110   = 20091201
	PDBStreamVersionVC140   = 20140508
)

// pdbInfoHeaderSize covers Version, Signature, Age and GUID.
const pdbInfoHeaderSize = 28

// PDBInfo represents the PDB Info Stream (Stream 1).
type PDBInfo struct {
	Version      uint32
	Signature    uint32            // Timestamp of PDB creation
	Age          uint32            // Number of times PDB has been written
	GUID         [16]byte          // Unique identifier
	NamedStreams map[string]uint32 // Map of named streams to stream indices
}

// ReadPDBInfo parses the PDB info stream. The named stream map is optional:
// a stream that ends after the fixed header still yields its identity.
func ReadPDBInfo(data []byte) (*PDBInfo, error) {
	r := NewReader(data)
	fixed, err := r.Bytes(pdbInfoHeaderSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDB info header: %w", err)
	}

	info := &PDBInfo{
		Version:      binary.LittleEndian.Uint32(fixed[0:]),
		Signature:    binary.LittleEndian.Uint32(fixed[4:]),
		Age:          binary.LittleEndian.Uint32(fixed[8:]),
		NamedStreams: make(map[string]uint32),
	}
	copy(info.GUID[:], fixed[12:28])

	// Named streams might not be present in older PDBs
	_ = readNamedStreams(r, info.NamedStreams)

	return info, nil
}

// readNamedStreams decodes the serialized hash table mapping stream names
// to stream indices: string buffer, size, capacity, present and deleted
// bit vectors, then (key offset, value) pairs for present buckets.
func readNamedStreams(r *Reader, out map[string]uint32) error {
	strBufSize, err := r.U32()
	if err != nil {
		return err
	}
	strBuf, err := r.Bytes(int(strBufSize))
	if err != nil {
		return err
	}
	if _, err := r.U32(); err != nil { // size
		return err
	}
	capacity, err := r.U32()
	if err != nil {
		return err
	}
	present, err := readBitVector(r)
	if err != nil {
		return err
	}
	if _, err := readBitVector(r); err != nil { // deleted
		return err
	}

	for i := uint32(0); i < capacity; i++ {
		if !isBitSet(present, i) {
			continue
		}
		keyOffset, err := r.U32()
		if err != nil {
			return err
		}
		streamIndex, err := r.U32()
		if err != nil {
			return err
		}
		if keyOffset < strBufSize {
			name, _ := ParseString(strBuf[keyOffset:])
			out[name] = streamIndex
		}
	}
	return nil
}

func readBitVector(r *Reader) ([]uint32, error) {
	words, err := r.U32()
	if err != nil {
		return nil, err
	}
	if uint64(words)*4 > uint64(r.Len()) {
		return nil, fmt.Errorf("bit vector of %d words exceeds stream", words)
	}
	vec := make([]uint32, words)
	for i := range vec {
		vec[i], _ = r.U32()
	}
	return vec, nil
}

// GUIDString returns the GUID as a formatted string.
func (p *PDBInfo) GUIDString() string {
	return FormatGUID(p.GUID)
}

// FormatGUID renders a GUID the way symbol servers key PDBs: the three
// little-endian leading fields followed by the remaining bytes, uppercase
// hex without separators.
func FormatGUID(guid [16]byte) string {
	return fmt.Sprintf("%08X%04X%04X%s",
		binary.LittleEndian.Uint32(guid[0:4]),
		binary.LittleEndian.Uint16(guid[4:6]),
		binary.LittleEndian.Uint16(guid[6:8]),
		strings.ToUpper(fmt.Sprintf("%x", guid[8:16])))
}

// isBitSet checks if bit n is set in the bit vector.
func isBitSet(words []uint32, n uint32) bool {
	wordIdx := n / 32
	bitIdx := n % 32
	if wordIdx >= uint32(len(words)) {
		return false
	}
	return (words[wordIdx] & (1 << bitIdx)) != 0
}
