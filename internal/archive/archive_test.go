package archive

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/kestrel/internal/artifacts"
	"github.com/kestrelhq/kestrel/internal/config"
	"github.com/kestrelhq/kestrel/internal/renderer"
	"github.com/kestrelhq/kestrel/internal/reports"
)

func putString(t *testing.T, b Backend, key, payload string) {
	t.Helper()
	err := b.Put(context.Background(), key, bytes.NewReader([]byte(payload)), int64(len(payload)))
	require.NoError(t, err)
}

func getString(t *testing.T, b Backend, key string) string {
	t.Helper()
	rc, err := b.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestFilesystemBackendRoundTrip(t *testing.T) {
	backend := NewFilesystemBackend(t.TempDir())
	ctx := context.Background()

	putString(t, backend, "sched-1/exec-1/report.png", "png-bytes")
	require.Equal(t, "png-bytes", getString(t, backend, "sched-1/exec-1/report.png"))

	require.NoError(t, backend.Delete(ctx, "sched-1/exec-1/report.png"))

	_, err := backend.Get(ctx, "sched-1/exec-1/report.png")
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing key is not an error.
	require.NoError(t, backend.Delete(ctx, "sched-1/exec-1/report.png"))
}

func TestFilesystemBackendRejectsBadKeys(t *testing.T) {
	backend := NewFilesystemBackend(t.TempDir())
	ctx := context.Background()

	for _, key := range []string{
		"",
		"../outside",
		"a/../../outside",
		"/etc/passwd",
		"a\x00b",
	} {
		err := backend.Put(ctx, key, bytes.NewReader(nil), 0)
		require.Error(t, err, "key %q", key)
	}
}

func TestFilesystemBackendSweep(t *testing.T) {
	base := t.TempDir()
	backend := NewFilesystemBackend(base)
	ctx := context.Background()

	putString(t, backend, "old/exec/report.png", "old")
	putString(t, backend, "new/exec/report.png", "new")

	// Age the first artifact past the cutoff.
	old := time.Now().Add(-48 * time.Hour)
	oldPath := filepath.Join(base, "old", "exec", "report.png")
	require.NoError(t, os.Chtimes(oldPath, old, old))

	removed, err := backend.Sweep(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = backend.Get(ctx, "old/exec/report.png")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, "new", getString(t, backend, "new/exec/report.png"))

	// Emptied directories are cleaned up.
	_, err = os.Stat(filepath.Join(base, "old"))
	require.True(t, os.IsNotExist(err))
}

func TestCompressedBackendRoundTrip(t *testing.T) {
	payload := "the quick brown fox jumps over the lazy dog"

	for _, compression := range []string{"gzip", "zstd"} {
		t.Run(compression, func(t *testing.T) {
			base := t.TempDir()
			backend := NewCompressedBackend(NewFilesystemBackend(base), compression)

			putString(t, backend, "sched/exec/report.txt", payload)
			require.Equal(t, payload, getString(t, backend, "sched/exec/report.txt"))

			// The stored bytes are transformed, not the plain payload.
			raw, err := os.ReadFile(filepath.Join(base, "sched", "exec", "report.txt"))
			require.NoError(t, err)
			require.NotEqual(t, payload, string(raw))
		})
	}
}

func TestCompressedBackendUnsupportedType(t *testing.T) {
	backend := NewCompressedBackend(NewFilesystemBackend(t.TempDir()), "lzma")

	err := backend.Put(context.Background(), "k", bytes.NewReader([]byte("x")), 1)
	require.Error(t, err)
}

func TestNewBackendSelection(t *testing.T) {
	ctx := context.Background()

	t.Run("filesystem", func(t *testing.T) {
		backend, err := NewBackend(ctx, config.ArchiveConfig{
			Backend: "filesystem",
			Path:    t.TempDir(),
		})
		require.NoError(t, err)
		require.IsType(t, &FilesystemBackend{}, backend)
	})

	t.Run("filesystem without path", func(t *testing.T) {
		_, err := NewBackend(ctx, config.ArchiveConfig{Backend: "filesystem"})
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("compression wrapper", func(t *testing.T) {
		backend, err := NewBackend(ctx, config.ArchiveConfig{
			Backend:     "filesystem",
			Path:        t.TempDir(),
			Compression: "gzip",
		})
		require.NoError(t, err)
		require.IsType(t, &CompressedBackend{}, backend)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := NewBackend(ctx, config.ArchiveConfig{Backend: "ftp"})
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("s3 requires region", func(t *testing.T) {
		_, err := NewBackend(ctx, config.ArchiveConfig{
			Backend: "s3",
			S3:      config.S3Config{Bucket: "artifacts"},
		})
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestServiceStoreAndFetch(t *testing.T) {
	svc := NewService(NewFilesystemBackend(t.TempDir()), 30*24*time.Hour)
	ctx := context.Background()

	tests := []struct {
		name     string
		artifact *artifacts.Artifact
		filename string
		payload  string
	}{
		{
			name:     "screenshot",
			artifact: &artifacts.Artifact{Format: reports.FormatPNG, Screenshot: []byte("png-bytes")},
			filename: "report.png",
			payload:  "png-bytes",
		},
		{
			name:     "csv",
			artifact: &artifacts.Artifact{Format: reports.FormatCSV, CSV: []byte("metric\n10\n")},
			filename: "report.csv",
			payload:  "metric\n10\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, svc.Store(ctx, "sched-1", "exec-"+tt.name, tt.artifact))

			data, err := svc.Fetch(ctx, "sched-1", "exec-"+tt.name, tt.filename)
			require.NoError(t, err)
			require.Equal(t, tt.payload, string(data))
		})
	}
}

func TestServiceStoreTextArtifact(t *testing.T) {
	svc := NewService(NewFilesystemBackend(t.TempDir()), 0)
	ctx := context.Background()

	artifact := &artifacts.Artifact{
		Format: reports.FormatText,
		Table: &renderer.Table{
			Columns: []string{"metric"},
			Rows:    [][]any{{10.0}},
		},
	}
	require.NoError(t, svc.Store(ctx, "sched-1", "exec-1", artifact))

	data, err := svc.Fetch(ctx, "sched-1", "exec-1", "report.txt")
	require.NoError(t, err)
	require.Contains(t, string(data), "metric")
	require.Contains(t, string(data), "10")
}

func TestServiceSweepDisabledWithoutRetention(t *testing.T) {
	svc := NewService(NewFilesystemBackend(t.TempDir()), 0)

	removed, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, removed)
}
