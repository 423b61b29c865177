// Package files implements the blocking file-mover routine run on the
// thread pool: finished artifacts are moved into the output directory
// without stalling the cooperative call sites.
package files

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/calderhq/dispatch/internal/dispatch"
)

// MoveRequest asks for src to be moved under the mover's output directory,
// optionally renamed to Name.
type MoveRequest struct {
	Src  string
	Name string
}

// Mover moves files into a fixed output directory. Use its Execute method as
// the fn of a pool.BlockingBackend.
type Mover struct {
	outDir string
}

// NewMover builds a Mover targeting outDir.
func NewMover(outDir string) *Mover {
	return &Mover{outDir: outDir}
}

// Execute moves the requested file and returns its destination path.
func (m *Mover) Execute(ctx context.Context, payload any) (any, error) {
	req, ok := payload.(MoveRequest)
	if !ok {
		return nil, dispatch.Usagef("file mover: unsupported payload type %T", payload)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = filepath.Base(req.Src)
	}
	if err := os.MkdirAll(m.outDir, 0o750); err != nil {
		return nil, fmt.Errorf("create out dir: %w", err)
	}
	dst := filepath.Join(m.outDir, name)

	if err := os.Rename(req.Src, dst); err != nil {
		// Rename fails across filesystems; fall back to copy+remove.
		if copyErr := copyFile(req.Src, dst); copyErr != nil {
			return nil, fmt.Errorf("move %s: %w", req.Src, copyErr)
		}
		if rmErr := os.Remove(req.Src); rmErr != nil {
			return nil, fmt.Errorf("remove source after copy: %w", rmErr)
		}
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 -- path comes from the submitting caller
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst) // #nosec G304
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close destination: %w", err)
	}
	return nil
}
