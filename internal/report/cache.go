package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/xxh3"

	kerrors "github.com/jtang613/kerndbg/internal/errors"
)

// Current schema version - increment when the cached Report format changes.
const cacheSchemaVersion uint16 = 1

// Cache stores generated reports on disk, keyed by image identity,
// catalogue and base address. Safe for concurrent use.
type Cache struct {
	mu     sync.RWMutex
	dir    string
	logger zerolog.Logger
}

type cacheEntry struct {
	Schema uint16 `msgpack:"schema"`
	Report Report `msgpack:"report"`
}

// NewCache returns a cache rooted at dir. A nil cache is valid and never hits.
func NewCache(dir string, logger zerolog.Logger) *Cache {
	return &Cache{dir: dir, logger: logger}
}

// CacheKey hashes everything a report depends on.
func CacheKey(imageID string, cat Catalogue, base uint64) uint64 {
	h := xxh3.New()
	_, _ = h.WriteString(imageID)
	for _, group := range [][]string{cat.Symbols, cat.Fields} {
		_, _ = h.WriteString("\x00")
		for _, s := range group {
			_, _ = h.WriteString(s)
			_, _ = h.WriteString("\x01")
		}
	}
	_, _ = h.WriteString(strconv.FormatUint(base, 16))
	return h.Sum64()
}

func (c *Cache) pathFor(key uint64) string {
	return filepath.Join(c.dir, fmt.Sprintf("%016x.mp", key))
}

// Get returns the cached report for key. Entries of another schema miss.
func (c *Cache) Get(key uint64) (Report, bool, error) {
	if c == nil {
		return Report{}, false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := os.ReadFile(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Report{}, false, nil
		}
		return Report{}, false, fmt.Errorf("failed to read cached report: %w", err)
	}

	var entry cacheEntry
	if err := msgpack.Unmarshal(data, &entry); err != nil {
		return Report{}, false, fmt.Errorf("failed to decode cached report: %w", err)
	}
	if entry.Schema != cacheSchemaVersion {
		return Report{}, false, nil
	}
	return entry.Report, true, nil
}

// Put writes a report through a temporary file and an atomic rename.
func (c *Cache) Put(key uint64, r Report) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	data, err := msgpack.Marshal(&cacheEntry{Schema: cacheSchemaVersion, Report: r})
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	f, err := os.CreateTemp(c.dir, "tmp-*")
	if err != nil {
		return err
	}
	defer kerrors.DeferRemove(c.logger, f.Name())

	if _, err := f.Write(data); err != nil {
		kerrors.DeferClose(c.logger, f, "failed to close cache file")
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), c.pathFor(key))
}
