// Package symsrv derives symbol server identifiers and downloads images and
// PDBs following the Microsoft symbol server path convention
// <server>/<file name>/<id>/<file name>.
package symsrv

import (
	"fmt"
	"strings"

	"github.com/jtang613/kerndbg/pkg/pdb/streams"
)

// DefaultServer is the public Microsoft symbol server.
const DefaultServer = "https://msdl.microsoft.com/download/symbols"

// FileID is the image identifier: the link timestamp as eight uppercase hex
// digits followed by the image size in lowercase hex.
func FileID(timestamp, size uint32) string {
	return fmt.Sprintf("%08X%x", timestamp, size)
}

// ImageURL returns the download URL of an executable image.
func ImageURL(server, name string, timestamp, size uint32) string {
	return joinURL(server, name, FileID(timestamp, size), name)
}

// DebugInfo identifies the PDB an image was linked against.
type DebugInfo struct {
	PDBName string
	GUID    [16]byte
	Age     uint32
}

// ID returns the PDB identifier: the GUID in symbol server form followed by
// the age in uppercase hex without padding.
func (d DebugInfo) ID() string {
	return streams.FormatGUID(d.GUID) + fmt.Sprintf("%X", d.Age)
}

// PDBURL returns the download URL of the PDB described by info.
func PDBURL(server string, info DebugInfo) string {
	return joinURL(server, info.PDBName, info.ID(), info.PDBName)
}

func joinURL(server string, parts ...string) string {
	return strings.TrimRight(server, "/") + "/" + strings.Join(parts, "/")
}
