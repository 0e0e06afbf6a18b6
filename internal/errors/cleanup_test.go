package errors

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCloser struct {
	closeErr error
	closed   bool
}

func (m *mockCloser) Close() error {
	m.closed = true
	return m.closeErr
}

func TestDeferClose(t *testing.T) {
	tests := []struct {
		name       string
		closer     *mockCloser
		wantLogged bool
	}{
		{"successful close", &mockCloser{}, false},
		{"close with error", &mockCloser{closeErr: errors.New("close failed")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			DeferClose(zerolog.New(&buf), tt.closer, "failed to close report")

			assert.True(t, tt.closer.closed)
			assert.Equal(t, tt.wantLogged, buf.Len() > 0)
			if tt.wantLogged {
				assert.Contains(t, buf.String(), "failed to close report")
				assert.Contains(t, buf.String(), "close failed")
			}
		})
	}
}

func TestDeferClose_Nil(t *testing.T) {
	var buf bytes.Buffer
	DeferClose(zerolog.New(&buf), nil, "unused")
	assert.Zero(t, buf.Len())
}

func TestDeferRemove(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	path := filepath.Join(t.TempDir(), "ntoskrnl.exe.tmp")
	require.NoError(t, os.WriteFile(path, []byte("MZ"), 0o644))

	DeferRemove(logger, path)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Already renamed away.
	DeferRemove(logger, path)
	DeferRemove(logger, "")
	assert.Zero(t, buf.Len())
}
