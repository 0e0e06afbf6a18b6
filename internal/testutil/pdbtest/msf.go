package pdbtest

import "encoding/binary"

// Magic is the MSF 7.00 signature.
var Magic = []byte("Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00")

// MSF lays streams out in a container with the given page size. Page 0
// holds the superblock, pages 1 and 2 the free page maps, then the stream
// pages, the directory pages and finally the page holding the directory's
// page list. A nil stream is written as unused.
func MSF(blockSize uint32, streams ...[]byte) []byte {
	bs := int(blockSize)
	pages := [][]byte{nil, nil, nil} // superblock, FPM1, FPM2

	sizes := make([]uint32, len(streams))
	blocks := make([][]uint32, len(streams))
	for i, s := range streams {
		if s == nil {
			sizes[i] = 0xFFFFFFFF
			continue
		}
		sizes[i] = uint32(len(s))
		for off := 0; off < len(s); off += bs {
			blocks[i] = append(blocks[i], uint32(len(pages)))
			pages = append(pages, s[off:min(off+bs, len(s))])
		}
	}

	dir := &Writer{}
	dir.U32(uint32(len(streams)))
	for _, size := range sizes {
		dir.U32(size)
	}
	for _, bl := range blocks {
		for _, b := range bl {
			dir.U32(b)
		}
	}

	var dirPages []uint32
	for off := 0; off < dir.Len(); off += bs {
		dirPages = append(dirPages, uint32(len(pages)))
		pages = append(pages, dir.Bytes()[off:min(off+bs, dir.Len())])
	}

	blockMap := &Writer{}
	for _, p := range dirPages {
		blockMap.U32(p)
	}
	blockMapAddr := uint32(len(pages))
	pages = append(pages, blockMap.Bytes())

	sb := &Writer{}
	sb.Raw(Magic).U32(blockSize).U32(1).U32(uint32(len(pages))).U32(uint32(dir.Len())).U32(0).U32(blockMapAddr)
	pages[0] = sb.Bytes()

	out := make([]byte, len(pages)*bs)
	for i, p := range pages {
		copy(out[i*bs:], p)
	}
	return out
}

// SuperBlock returns a bare superblock, for tests of header validation.
func SuperBlock(blockSize, fpm, numBlocks, dirBytes, blockMapAddr uint32) []byte {
	w := &Writer{}
	w.Raw(Magic).U32(blockSize).U32(fpm).U32(numBlocks).U32(dirBytes).U32(0).U32(blockMapAddr)
	return w.Bytes()
}

// PutU32 overwrites a little-endian uint32 in place.
func PutU32(b []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(b[off:], v)
}
