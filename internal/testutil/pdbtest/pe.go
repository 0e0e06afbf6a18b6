package pdbtest

// Image returns a minimal PE32+ file whose debug directory holds one RSDS
// CodeView record naming pdbPath. A nil guid omits the debug directory.
func Image(pdbPath string, guid *[16]byte, age uint32) []byte {
	const (
		peOffset    = 0x40
		fileAlign   = 0x200
		sectionRVA  = 0x1000
		rsdsOffset  = 0x40
		optionalLen = 240
	)

	rsds := &Writer{}
	if guid != nil {
		rsds.Raw([]byte("RSDS")).Raw(guid[:]).U32(age).CString(pdbPath)
	}

	section := &Writer{}
	if guid != nil {
		// Debug directory entry: characteristics, timestamp, version,
		// type (CodeView), size, RVA and file pointer of the data.
		section.U32(0).U32(0).U16(0).U16(0).U32(2)
		section.U32(uint32(rsds.Len())).U32(sectionRVA + rsdsOffset).U32(fileAlign + rsdsOffset)
		section.Pad(rsdsOffset).Raw(rsds.Bytes())
	}
	section.Pad(fileAlign)

	w := &Writer{}
	w.Raw([]byte("MZ")).Raw(make([]byte, 0x3a)).U32(peOffset)
	w.Raw([]byte("PE\x00\x00"))
	// File header: AMD64, one section, no symbols.
	w.U16(MachineAMD64).U16(1).U32(0x652867E5).U32(0).U32(0).U16(optionalLen).U16(0x22)

	// Optional header fixed part.
	w.U16(0x20b).U8(14).U8(0)
	w.U32(0).U32(uint32(section.Len())).U32(0).U32(0).U32(sectionRVA)
	w.U64(0x140000000)
	w.U32(sectionRVA).U32(fileAlign)
	w.U16(10).U16(0).U16(10).U16(0).U16(10).U16(0)
	w.U32(0).U32(sectionRVA + uint32(section.Len())).U32(fileAlign).U32(0)
	w.U16(1).U16(0)
	w.U64(0x80000).U64(0x2000).U64(0x100000).U64(0x1000)
	w.U32(0).U32(16)

	// Data directories; slot 6 is the debug directory.
	for i := range 16 {
		if i == 6 && guid != nil {
			w.U32(sectionRVA).U32(28)
			continue
		}
		w.U32(0).U32(0)
	}

	name := make([]byte, 8)
	copy(name, ".rdata")
	w.Raw(name).U32(uint32(section.Len())).U32(sectionRVA)
	w.U32(uint32(section.Len())).U32(fileAlign)
	w.U32(0).U32(0).U16(0).U16(0).U32(0x40000040)

	w.Pad(fileAlign)
	return append(w.Bytes(), section.Bytes()...)
}
