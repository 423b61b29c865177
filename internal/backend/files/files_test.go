package files

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calderhq/dispatch/internal/dispatch"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestMoverMovesFile(t *testing.T) {
	t.Parallel()
	srcDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "out")
	src := writeFile(t, srcDir, "report.txt", "ordinance text")

	m := NewMover(outDir)
	val, err := m.Execute(context.Background(), MoveRequest{Src: src})
	require.NoError(t, err)

	dst, ok := val.(string)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(outDir, "report.txt"), dst)

	body, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "ordinance text", string(body))

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err), "source removed after move")
}

func TestMoverRenames(t *testing.T) {
	t.Parallel()
	srcDir := t.TempDir()
	outDir := t.TempDir()
	src := writeFile(t, srcDir, "tmp-1234.txt", "body")

	m := NewMover(outDir)
	val, err := m.Execute(context.Background(), MoveRequest{Src: src, Name: "final.txt"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "final.txt"), val)
}

func TestMoverRejectsUnknownPayload(t *testing.T) {
	t.Parallel()
	m := NewMover(t.TempDir())

	_, err := m.Execute(context.Background(), "not a request")
	var ue *dispatch.UsageError
	assert.ErrorAs(t, err, &ue)
}

func TestMoverHonorsContext(t *testing.T) {
	t.Parallel()
	m := NewMover(t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Execute(ctx, MoveRequest{Src: "whatever"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMoverMissingSource(t *testing.T) {
	t.Parallel()
	m := NewMover(t.TempDir())

	_, err := m.Execute(context.Background(), MoveRequest{Src: filepath.Join(t.TempDir(), "ghost.txt")})
	assert.Error(t, err)
}
