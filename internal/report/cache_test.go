package report

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/jtang613/kerndbg/internal/testutil"
)

func sampleReport() Report {
	return Report{
		Header: "Windows 11 22H2 - 10.0.22621.2506",
		Base:   0xfffff80000000000,
		Symbols: []Line{
			{Path: "KiProcessorBlock", Address: 0xfffff80000c00040, Resolved: true},
		},
		Fields: []Line{
			{Path: "_KPRCB.CurrentThread", Address: 0x8, Resolved: true},
			{Path: "_KPRCB.Missing", Reason: "unknown field"},
		},
		Unresolved: 1,
	}
}

func TestCache_PutGet(t *testing.T) {
	c := NewCache(filepath.Join(t.TempDir(), "cache"), testutil.NewTestLogger(t))
	key := CacheKey("652867E510A9000", DefaultCatalogue(), 0)

	_, ok, err := c.Get(key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(key, sampleReport()))

	got, ok, err := c.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sampleReport(), got)

	entries, err := os.ReadDir(c.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestCache_SchemaMismatch(t *testing.T) {
	c := NewCache(t.TempDir(), testutil.NewTestLogger(t))
	key := CacheKey("id", Catalogue{}, 0)

	data, err := msgpack.Marshal(&cacheEntry{Schema: cacheSchemaVersion + 1, Report: sampleReport()})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(c.pathFor(key), data, 0o644))

	_, ok, err := c.Get(key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_Corrupt(t *testing.T) {
	c := NewCache(t.TempDir(), testutil.NewTestLogger(t))
	key := CacheKey("id", Catalogue{}, 0)
	require.NoError(t, os.WriteFile(c.pathFor(key), []byte{0xc1}, 0o644))

	_, _, err := c.Get(key)
	assert.Error(t, err)
}

func TestCache_Nil(t *testing.T) {
	var c *Cache
	_, ok, err := c.Get(1)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.Put(1, sampleReport()))
}

func TestCache_Concurrent(t *testing.T) {
	c := NewCache(t.TempDir(), testutil.NewTestLogger(t))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := CacheKey("id", Catalogue{}, uint64(i%2))
			assert.NoError(t, c.Put(key, sampleReport()))
			_, ok, err := c.Get(key)
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()
}

func TestCacheKey(t *testing.T) {
	cat := Catalogue{Symbols: []string{"A"}, Fields: []string{"B.c"}}
	key := CacheKey("id", cat, 0)

	assert.Equal(t, key, CacheKey("id", cat, 0))
	assert.NotEqual(t, key, CacheKey("other", cat, 0))
	assert.NotEqual(t, key, CacheKey("id", cat, 0x1000))
	assert.NotEqual(t, key, CacheKey("id", Catalogue{Symbols: []string{"A", "B.c"}}, 0), "groups are delimited")
	assert.NotEqual(t, key, CacheKey("id", Catalogue{Fields: []string{"A", "B.c"}}, 0))
}
