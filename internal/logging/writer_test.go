package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputWriters(t *testing.T) {
	t.Run("tees both streams into one file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "browser.log")
		var stdout, stderr bytes.Buffer

		w, err := NewOutputWriters(path, &stdout, &stderr)
		require.NoError(t, err)

		_, err = w.Stdout.Write([]byte("DevTools listening on ws://127.0.0.1:9222\n"))
		require.NoError(t, err)
		_, err = w.Stderr.Write([]byte("[WARNING] gpu disabled\n"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "DevTools listening on ws://127.0.0.1:9222\n[WARNING] gpu disabled\n", string(data))
		assert.Equal(t, "DevTools listening on ws://127.0.0.1:9222\n", stdout.String())
		assert.Equal(t, "[WARNING] gpu disabled\n", stderr.String())
		assert.Equal(t, path, w.Path())
	})

	t.Run("appends to existing log", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "browser.log")
		require.NoError(t, os.WriteFile(path, []byte("previous run\n"), 0o644))

		w, err := NewOutputWriters(path, nil, nil)
		require.NoError(t, err)
		_, err = w.Stdout.Write([]byte("next run\n"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "previous run\nnext run\n", string(data))
	})

	t.Run("close is idempotent and later writes are dropped", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "browser.log")
		w, err := NewOutputWriters(path, nil, nil)
		require.NoError(t, err)

		require.NoError(t, w.Close())
		require.NoError(t, w.Close())

		n, err := w.Stderr.Write([]byte("late\n"))
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	})

	t.Run("concurrent writers keep whole writes", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "browser.log")
		w, err := NewOutputWriters(path, nil, nil)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for _, tw := range []*TeeWriter{w.Stdout, w.Stderr} {
			wg.Add(1)
			go func(tw *TeeWriter) {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					_, _ = tw.Write([]byte("0123456789\n"))
				}
			}(tw)
		}
		wg.Wait()
		require.NoError(t, w.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
		assert.Len(t, lines, 200)
		for _, line := range lines {
			assert.Equal(t, "0123456789", line)
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := NewOutputWriters(filepath.Join(t.TempDir(), "nope", "browser.log"), nil, nil)
		assert.Error(t, err)
	})
}
