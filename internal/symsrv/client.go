package symsrv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	kerrors "github.com/jtang613/kerndbg/internal/errors"
	"github.com/jtang613/kerndbg/internal/retry"
)

// DefaultMaxSize bounds a single download. Kernel PDBs are tens of MiB.
const DefaultMaxSize = 1 << 30

// ErrTooLarge is returned when a response exceeds the client's size limit.
var ErrTooLarge = errors.New("download exceeds size limit")

// StatusError reports a non-success HTTP response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Client downloads files from a symbol server.
type Client struct {
	http    *http.Client
	retry   retry.Config
	maxSize int64
	logger  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetry sets the retry policy.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithMaxSize sets the per-download size limit in bytes.
func WithMaxSize(n int64) Option {
	return func(c *Client) { c.maxSize = n }
}

// WithLogger sets the logger used for download progress.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client with a 2 minute timeout and the default retry policy.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: 2 * time.Minute},
		retry:   retry.DefaultConfig(),
		maxSize: DefaultMaxSize,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Download fetches url into dst. The file is written to a temporary file
// in the same directory and renamed into place, so dst either holds the
// complete body or is left untouched. Missing files (404) are not retried.
func (c *Client) Download(ctx context.Context, url, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	c.logger.Info().Str("url", url).Str("path", dst).Msg("Downloading")
	err := retry.Do(ctx, c.retry, func() error {
		return c.fetch(ctx, url, dst)
	}, shouldRetry)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	c.logger.Debug().Str("path", dst).Msg("Download complete")
	return nil
}

func (c *Client) fetch(ctx context.Context, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer kerrors.DeferClose(c.logger, resp.Body, "failed to close response body")

	if resp.StatusCode != http.StatusOK {
		return &StatusError{URL: url, Code: resp.StatusCode}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer kerrors.DeferRemove(c.logger, tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, c.maxSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	if n > c.maxSize {
		return fmt.Errorf("%s: %w (%d bytes)", url, ErrTooLarge, c.maxSize)
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}
	return nil
}

// shouldRetry retries network failures and temporary HTTP statuses.
func shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTooLarge) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Temporary()
	}
	return true
}

// IsNotFound reports whether err is a 404 from the symbol server.
func IsNotFound(err error) bool {
	var status *StatusError
	return errors.As(err, &status) && status.Code == http.StatusNotFound
}
