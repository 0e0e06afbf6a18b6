// Package report renders the addresses of a catalogue of kernel symbols and
// structure fields for one PDB.
package report

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/jtang613/kerndbg/pkg/pdb"
	"github.com/jtang613/kerndbg/pkg/pdb/pdberr"
)

// Catalogue lists what a report resolves: plain symbol names and dotted
// field paths.
type Catalogue struct {
	Symbols []string `yaml:"symbols" toml:"symbols" msgpack:"symbols"`
	Fields  []string `yaml:"fields" toml:"fields" msgpack:"fields"`
}

// DefaultCatalogue returns the kernel symbols and fields reported when the
// configuration names none.
func DefaultCatalogue() Catalogue {
	return Catalogue{
		Symbols: []string{
			"PsActiveProcessHead",
			"PsInitialSystemProcess",
			"PsLoadedModuleList",
			"KiProcessorBlock",
			"KeServiceDescriptorTable",
			"KiServiceTable",
			"KdDebuggerDataBlock",
		},
		Fields: []string{
			"_EPROCESS.Pcb",
			"_EPROCESS.UniqueProcessId",
			"_EPROCESS.ActiveProcessLinks",
			"_EPROCESS.Token",
			"_EPROCESS.ImageFileName",
			"_EPROCESS.Peb",
			"_EPROCESS.ThreadListHead",
			"_EPROCESS.Protection",
			"_EPROCESS.Pcb.DirectoryTableBase",
			"_KPROCESS.DirectoryTableBase",
			"_KPROCESS.ThreadListHead",
			"_KTHREAD.ApcState",
			"_KTHREAD.PreviousMode",
			"_KTHREAD.Teb",
			"_KTHREAD.ThreadListEntry",
			"_ETHREAD.Tcb",
			"_ETHREAD.Cid",
			"_ETHREAD.ThreadListEntry",
			"_KPRCB.CurrentThread",
			"_KPRCB.NextThread",
			"_KPRCB.IdleThread",
		},
	}
}

// Line is one resolved or unresolved catalogue entry.
type Line struct {
	Path     string `msgpack:"path"`
	Address  uint64 `msgpack:"address"`
	Resolved bool   `msgpack:"resolved"`
	Reason   string `msgpack:"reason,omitempty"`
}

func (l Line) String() string {
	if !l.Resolved {
		return fmt.Sprintf("%s @ <unresolved: %s>", l.Path, l.Reason)
	}
	return fmt.Sprintf("%s @ 0x%x", l.Path, l.Address)
}

// Report is the rendered catalogue for one PDB.
type Report struct {
	Header     string `msgpack:"header,omitempty"`
	Base       uint64 `msgpack:"base"`
	Symbols    []Line `msgpack:"symbols"`
	Fields     []Line `msgpack:"fields"`
	Unresolved int    `msgpack:"unresolved"`
}

// Generate resolves every catalogue entry against the store. Failed
// entries become placeholder lines; they never stop the report.
func Generate(s *pdb.Store, base uint64, cat Catalogue) Report {
	r := Report{Base: base}
	for _, name := range cat.Symbols {
		addr, err := pdb.ResolveSymbol(s, base, name)
		r.Symbols = append(r.Symbols, r.line(name, addr, err))
	}
	for _, path := range cat.Fields {
		addr, err := pdb.ResolveFieldPath(s, base, path)
		r.Fields = append(r.Fields, r.line(path, addr, err))
	}
	return r
}

func (r *Report) line(path string, addr uint64, err error) Line {
	if err != nil {
		r.Unresolved++
		return Line{Path: path, Reason: reason(err)}
	}
	return Line{Path: path, Address: addr, Resolved: true}
}

var reasons = []error{
	pdberr.ErrNotFound,
	pdberr.ErrUnknownField,
	pdberr.ErrNotAggregate,
	pdberr.ErrIncompleteType,
	pdberr.ErrInvalidPath,
}

// reason names the error class, falling back to the full message.
func reason(err error) string {
	for _, sentinel := range reasons {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

// WriteTo writes the header line, if any, then one line per symbol and field.
func (r Report) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var total int64
	write := func(s string) error {
		n, err := bw.WriteString(s + "\n")
		total += int64(n)
		return err
	}

	if r.Header != "" {
		if err := write(r.Header); err != nil {
			return total, err
		}
	}
	for _, lines := range [][]Line{r.Symbols, r.Fields} {
		for _, l := range lines {
			if err := write(l.String()); err != nil {
				return total, err
			}
		}
	}
	return total, bw.Flush()
}

// Header formats the first line of a report file.
func Header(codename, version string) string {
	return codename + " - " + version
}
