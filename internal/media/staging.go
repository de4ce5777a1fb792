package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var whitespace = regexp.MustCompile(`\s+`)

// stagedFile is an upload written to local disk for probing and upload. It lives for one Ingest call.
type stagedFile struct {
	path   string
	size   int64
	origin string
}

// baseName returns the staged file name without extension; it doubles as the storage public id.
func (f *stagedFile) baseName() string {
	name := filepath.Base(f.path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// SanitizeFilename strips directories and replaces whitespace runs with "_".
func SanitizeFilename(name string) string {
	name = filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, `\`, "/")))
	name = whitespace.ReplaceAllString(strings.TrimSpace(name), "_")
	if name == "" || name == "." || name == "/" {
		return "upload"
	}
	return name
}

// StagingName returns "<uuid>_<sanitized name>".
func StagingName(original string) string {
	return uuid.New().String() + "_" + SanitizeFilename(original)
}

// stage copies r into dir under name. A partially written file is removed on error.
func stage(ctx context.Context, dir, name, origin string, r io.Reader) (*stagedFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	p := filepath.Join(dir, name)
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create staged file: %w", err)
	}
	n, err := io.Copy(f, &ctxReader{ctx: ctx, r: r})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(p)
		return nil, fmt.Errorf("write staged file: %w", err)
	}
	return &stagedFile{path: p, size: n, origin: origin}, nil
}

// release removes the staged file. Missing files are not an error.
func (f *stagedFile) release() error {
	if f == nil {
		return nil
	}
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
