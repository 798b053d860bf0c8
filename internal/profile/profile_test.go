package profile

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/periscope/internal/slogger"
)

func TestStore_Create(t *testing.T) {
	t.Run("creates unique empty directories", func(t *testing.T) {
		s := NewStore(t.TempDir())

		a, err := s.Create("alpha")
		require.NoError(t, err)
		b, err := s.Create("alpha")
		require.NoError(t, err)

		assert.NotEqual(t, a, b)
		for _, dir := range []string{a, b} {
			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries)
			assert.Equal(t, s.Root(), filepath.Dir(dir))
			assert.True(t, strings.HasPrefix(filepath.Base(dir), "periscope-alpha-"))
		}
	})

	t.Run("creates missing root", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "nested", "profiles")
		s := NewStore(root)

		dir, err := s.Create("")
		require.NoError(t, err)
		assert.DirExists(t, dir)
	})

	t.Run("sanitizes hint", func(t *testing.T) {
		s := NewStore(t.TempDir())

		dir, err := s.Create("../../etc/passwd")
		require.NoError(t, err)
		assert.Equal(t, s.Root(), filepath.Dir(dir))
		assert.NotContains(t, filepath.Base(dir), "/")
	})

	t.Run("restricts permissions", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("permission bits not meaningful on windows")
		}
		s := NewStore(t.TempDir())

		dir, err := s.Create("perm")
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(dirMode), info.Mode().Perm())
	})
}

func TestStore_Destroy(t *testing.T) {
	ctx := context.Background()

	t.Run("removes directory recursively", func(t *testing.T) {
		s := NewStore(t.TempDir())
		dir, err := s.Create("x")
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "Default", "Cache"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "Default", "Preferences"), []byte("{}"), 0o644))

		require.NoError(t, s.Destroy(ctx, dir))
		assert.NoDirExists(t, dir)
	})

	t.Run("is idempotent", func(t *testing.T) {
		s := NewStore(t.TempDir())
		dir, err := s.Create("x")
		require.NoError(t, err)

		require.NoError(t, s.Destroy(ctx, dir))
		require.NoError(t, s.Destroy(ctx, dir))
		require.NoError(t, s.Destroy(ctx, ""))
	})

	t.Run("refuses paths it does not own", func(t *testing.T) {
		s := NewStore(t.TempDir())
		other := t.TempDir()

		err := s.Destroy(ctx, other)
		require.ErrorIs(t, err, ErrOutsideRoot)
		assert.DirExists(t, other)

		err = s.Destroy(ctx, filepath.Join(s.Root(), "not-ours"))
		require.ErrorIs(t, err, ErrOutsideRoot)
	})

	t.Run("logs instead of failing on removal error", func(t *testing.T) {
		if runtime.GOOS == "windows" || os.Geteuid() == 0 {
			t.Skip("requires non-root unix permissions")
		}
		s := NewStore(t.TempDir())
		dir, err := s.Create("locked")
		require.NoError(t, err)
		inner := filepath.Join(dir, "inner")
		require.NoError(t, os.MkdirAll(inner, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(inner, "f"), []byte("x"), 0o644))
		require.NoError(t, os.Chmod(inner, 0o500))
		t.Cleanup(func() { _ = os.Chmod(inner, 0o755) })

		var buf bytes.Buffer
		logCtx := slogger.WithLogger(ctx, slogger.New(slogger.Config{Verbosity: 1, Output: &buf}))

		require.NoError(t, s.Destroy(logCtx, dir))
		assert.Contains(t, buf.String(), "failed to remove profile directory")
	})
}
