package pdb

import (
	"fmt"
	"iter"
	"os"

	"fortio.org/safecast"
	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"github.com/jtang613/kerndbg/pkg/pdb/codeview"
	"github.com/jtang613/kerndbg/pkg/pdb/msf"
	"github.com/jtang613/kerndbg/pkg/pdb/streams"
)

// Stream indices
const (
	StreamPDB = 1 // PDB info stream
	StreamTPI = 2 // Type info stream
	StreamDBI = 3 // Debug info stream
	StreamIPI = 4 // ID info stream
)

type loadConfig struct {
	logger        zerolog.Logger
	moduleSymbols bool
}

// LoadOption configures Load.
type LoadOption func(*loadConfig)

// WithLogger reports stream and build statistics at debug level.
func WithLogger(logger zerolog.Logger) LoadOption {
	return func(c *loadConfig) { c.logger = logger }
}

// WithModuleSymbols controls whether per-module symbol streams are decoded
// in addition to the global symbol record stream. Enabled by default.
func WithModuleSymbols(enabled bool) LoadOption {
	return func(c *loadConfig) { c.moduleSymbols = enabled }
}

// LoadFile reads a PDB file and builds its store.
func LoadFile(path string, opts ...LoadOption) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDB: %w", err)
	}
	return Load(data, opts...)
}

// Load parses an in-memory PDB and builds its store. Container errors abort
// immediately. The symbol and type streams are read independently, and
// Build reports the failures of both.
func Load(data []byte, opts ...LoadOption) (*Store, error) {
	cfg := loadConfig{logger: zerolog.Nop(), moduleSymbols: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	m, err := msf.Open(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open MSF: %w", err)
	}
	cfg.logger.Debug().
		Uint32("block_size", m.BlockSize()).
		Int("streams", m.NumStreams()).
		Msg("Opened MSF container")

	pdbInfo, err := readStream(m, StreamPDB, streams.ReadPDBInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDB info stream: %w", err)
	}
	dbi, err := readStream(m, StreamDBI, streams.ReadDBIStream)
	if err != nil {
		return nil, fmt.Errorf("failed to read DBI stream: %w", err)
	}

	sections, err := readSectionHeaders(m, dbi)
	if err != nil {
		return nil, fmt.Errorf("failed to read section headers: %w", err)
	}

	info := Info{
		GUID:      pdbInfo.GUID,
		Age:       pdbInfo.Age,
		Signature: pdbInfo.Signature,
		Version:   pdbInfo.Version,
		Machine:   dbi.Header.Machine,
		Streams:   m.NumStreams(),
	}
	// Images record the DBI age, which lags the info stream age after
	// incremental links.
	if dbi.Header.Age != 0 {
		info.Age = dbi.Header.Age
	}

	symbols := loadSymbols(m, dbi, cfg)
	types := loadTypes(m, cfg.logger)

	store, err := Build(symbols, types,
		WithSections(sections),
		WithInfo(info),
		WithFingerprint(xxh3.Hash(data)),
		WithBuildLogger(cfg.logger),
	)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// readStream reads a fixed stream and parses it.
func readStream[T any](m *msf.MSF, index int, parse func([]byte) (T, error)) (T, error) {
	data, err := m.ReadStream(index)
	if err != nil {
		var zero T
		return zero, err
	}
	return parse(data)
}

// readSectionHeaders returns nil when the DBI stream names no section
// header stream.
func readSectionHeaders(m *msf.MSF, dbi *streams.DBIStream) ([]streams.SectionHeader, error) {
	idx, ok := dbi.StreamIndex(streams.DbgHeaderSectionHdr)
	if !ok {
		return nil, nil
	}
	return readStream(m, idx, streams.ReadSectionHeaders)
}

// loadSymbols chains the global symbol record stream with the module
// symbol streams. A stream that cannot be read surfaces as the sequence's
// error.
func loadSymbols(m *msf.MSF, dbi *streams.DBIStream, cfg loadConfig) iter.Seq2[codeview.Symbol, error] {
	var seqs []iter.Seq2[codeview.Symbol, error]

	if idx := dbi.Header.SymRecordStream; idx != streams.NoStream {
		data, err := m.ReadStream(int(idx))
		if err != nil {
			return failed[codeview.Symbol](fmt.Errorf("symbol record stream %d: %w", idx, err))
		}
		cfg.logger.Debug().Int("stream", int(idx)).Int("bytes", len(data)).Msg("Read symbol record stream")
		seqs = append(seqs, codeview.DecodeSymbols(data))
	}

	if !cfg.moduleSymbols {
		return concat(seqs...)
	}
	for i, mod := range dbi.Modules {
		if !mod.HasSymbols() {
			continue
		}
		data, err := m.ReadStream(int(mod.ModuleSymStream))
		if err != nil {
			return failed[codeview.Symbol](fmt.Errorf("module %d (%s) symbols: %w", i, mod.ModuleName, err))
		}
		// Line information follows the symbols in the same stream.
		if n, err := safecast.Conv[int](mod.SymByteSize); err == nil && n < len(data) {
			data = data[:n]
		}
		seqs = append(seqs, codeview.DecodeModuleSymbols(fmt.Sprintf("module %d symbols", i), data))
	}
	cfg.logger.Debug().Int("modules", len(dbi.Modules)).Int("symbol_streams", len(seqs)).Msg("Collected symbol streams")

	return concat(seqs...)
}

func loadTypes(m *msf.MSF, logger zerolog.Logger) iter.Seq2[codeview.TypeRecord, error] {
	tpi, err := readStream(m, StreamTPI, streams.ReadTPIStream)
	if err != nil {
		return failed[codeview.TypeRecord](fmt.Errorf("TPI stream: %w", err))
	}
	logger.Debug().
		Uint32("version", tpi.Header.Version).
		Uint32("begin", tpi.Header.TypeIndexBegin).
		Uint32("end", tpi.Header.TypeIndexEnd).
		Int("bytes", len(tpi.Records)).
		Msg("Read TPI stream")
	return codeview.DecodeTypes(tpi.Records, codeview.TypeIndex(tpi.Header.TypeIndexBegin))
}

// failed is a sequence that yields a single error.
func failed[T any](err error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		yield(zero, err)
	}
}

// concat yields every sequence in turn, stopping at the first error.
func concat[T any](seqs ...iter.Seq2[T, error]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, seq := range seqs {
			for v, err := range seq {
				if !yield(v, err) || err != nil {
					return
				}
			}
		}
	}
}
