package vfs_test

import (
	"context"
	"encoding/base64"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecampus/gitgateway/internal/githost"
	"github.com/codecampus/gitgateway/internal/vfs"
)

// fakeContentReader serves canned content entries per path and counts
// upstream fetches
type fakeContentReader struct {
	entries map[string][]githost.ContentEntry
	errs    map[string][]error
	calls   atomic.Int64
}

func (f *fakeContentReader) GetContents(_ context.Context, _, _, path, _ string) ([]githost.ContentEntry, error) {
	f.calls.Add(1)
	if errs := f.errs[path]; len(errs) > 0 {
		err := errs[0]
		f.errs[path] = errs[1:]
		if err != nil {
			return nil, err
		}
	}
	entries, ok := f.entries[path]
	if !ok {
		return nil, githost.ErrNotFound
	}
	return entries, nil
}

func fileEntry(path, content string) githost.ContentEntry {
	return githost.ContentEntry{
		Name:     path[strings.LastIndex(path, "/")+1:],
		Path:     path,
		Type:     "file",
		Size:     int64(len(content)),
		Encoding: "base64",
		Content:  base64.StdEncoding.EncodeToString([]byte(content)),
	}
}

func TestArchiveStat(t *testing.T) {
	t.Parallel()

	reader := &fakeContentReader{entries: map[string][]githost.ContentEntry{
		"main.go": {fileEntry("main.go", "package main\n")},
		"src": {
			{Name: "a.go", Path: "src/a.go", Type: "file"},
			{Name: "sub", Path: "src/sub", Type: "dir"},
		},
	}}
	provider := vfs.NewArchiveProvider(reader, "cs101", "homework-1", "main")
	ctx := context.Background()

	root, err := provider.Stat(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, vfs.TypeDirectory, root.Type)

	file, err := provider.Stat(ctx, "main.go")
	require.NoError(t, err)
	assert.Equal(t, vfs.TypeFile, file.Type)
	assert.Equal(t, int64(len("package main\n")), file.Size)

	dir, err := provider.Stat(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, vfs.TypeDirectory, dir.Type)

	_, err = provider.Stat(ctx, "missing.go")
	assert.ErrorIs(t, err, vfs.ErrNotFound)
}

func TestArchiveReadDirectory(t *testing.T) {
	t.Parallel()

	reader := &fakeContentReader{entries: map[string][]githost.ContentEntry{
		"src": {
			{Name: "a.go", Path: "src/a.go", Type: "file"},
			{Name: "sub", Path: "src/sub", Type: "dir"},
		},
	}}
	provider := vfs.NewArchiveProvider(reader, "cs101", "homework-1", "main")

	entries, err := provider.ReadDirectory(context.Background(), "src")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, vfs.DirEntry{Name: "a.go", Type: vfs.TypeFile}, entries[0])
	assert.Equal(t, vfs.DirEntry{Name: "sub", Type: vfs.TypeDirectory}, entries[1])
}

func TestArchiveReadFile(t *testing.T) {
	t.Parallel()

	reader := &fakeContentReader{entries: map[string][]githost.ContentEntry{
		"main.go": {fileEntry("main.go", "package main\n")},
		"src": {
			{Name: "a.go", Path: "src/a.go", Type: "file"},
		},
	}}
	provider := vfs.NewArchiveProvider(reader, "cs101", "homework-1", "main")
	ctx := context.Background()

	content, err := provider.ReadFile(ctx, "main.go")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(content))

	_, err = provider.ReadFile(ctx, "src")
	require.Error(t, err, "directories are not readable as files")
}

func TestArchiveReadFileSingleEntryDirectory(t *testing.T) {
	t.Parallel()

	// A directory with exactly one file lists as a one-element array; it
	// must still be rejected as a file read.
	reader := &fakeContentReader{entries: map[string][]githost.ContentEntry{
		"docs": {fileEntry("docs/readme.md", "# readme\n")},
	}}
	provider := vfs.NewArchiveProvider(reader, "cs101", "homework-1", "main")
	ctx := context.Background()

	_, err := provider.ReadFile(ctx, "docs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a file")

	info, err := provider.Stat(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, vfs.TypeDirectory, info.Type)
}

func TestArchiveMutationsNotSupported(t *testing.T) {
	t.Parallel()

	provider := vfs.NewArchiveProvider(&fakeContentReader{}, "cs101", "homework-1", "main")
	ctx := context.Background()

	assert.ErrorIs(t, provider.WriteFile(ctx, "a", nil), vfs.ErrNotSupported)
	assert.ErrorIs(t, provider.Delete(ctx, "a"), vfs.ErrNotSupported)
	assert.ErrorIs(t, provider.Rename(ctx, "a", "b"), vfs.ErrNotSupported)
	assert.ErrorIs(t, provider.CreateDirectory(ctx, "a"), vfs.ErrNotSupported)
}

func TestArchiveCachesFetches(t *testing.T) {
	t.Parallel()

	reader := &fakeContentReader{entries: map[string][]githost.ContentEntry{
		"main.go": {fileEntry("main.go", "package main\n")},
	}}
	provider := vfs.NewArchiveProvider(reader, "cs101", "homework-1", "main")
	ctx := context.Background()

	_, err := provider.ReadFile(ctx, "main.go")
	require.NoError(t, err)
	_, err = provider.Stat(ctx, "main.go")
	require.NoError(t, err)
	_, err = provider.ReadFile(ctx, "main.go")
	require.NoError(t, err)

	assert.Equal(t, int64(1), reader.calls.Load(), "repeat reads within the TTL hit the cache")
}

func TestArchiveCacheExpires(t *testing.T) {
	t.Parallel()

	reader := &fakeContentReader{entries: map[string][]githost.ContentEntry{
		"main.go": {fileEntry("main.go", "package main\n")},
	}}
	provider := vfs.NewArchiveProvider(reader, "cs101", "homework-1", "main",
		vfs.WithCacheTTL(10*time.Millisecond))
	ctx := context.Background()

	_, err := provider.ReadFile(ctx, "main.go")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = provider.ReadFile(ctx, "main.go")
	require.NoError(t, err)
	assert.Equal(t, int64(2), reader.calls.Load())
}

func TestArchiveRetriesServerErrors(t *testing.T) {
	t.Parallel()

	reader := &fakeContentReader{
		entries: map[string][]githost.ContentEntry{
			"main.go": {fileEntry("main.go", "package main\n")},
		},
		errs: map[string][]error{
			"main.go": {&githost.UpstreamError{StatusCode: 502}},
		},
	}
	provider := vfs.NewArchiveProvider(reader, "cs101", "homework-1", "main")

	content, err := provider.ReadFile(context.Background(), "main.go")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(content))
	assert.Equal(t, int64(2), reader.calls.Load(), "a server error earns a retry")
}

func TestArchiveDoesNotRetryMissingPaths(t *testing.T) {
	t.Parallel()

	reader := &fakeContentReader{}
	provider := vfs.NewArchiveProvider(reader, "cs101", "homework-1", "main")

	_, err := provider.ReadFile(context.Background(), "missing.go")
	assert.ErrorIs(t, err, vfs.ErrNotFound)
	assert.Equal(t, int64(1), reader.calls.Load(), "404 is not retried")
}

func TestArchiveWatchIsNoop(t *testing.T) {
	t.Parallel()

	provider := vfs.NewArchiveProvider(&fakeContentReader{}, "cs101", "homework-1", "main")
	cancel := provider.Watch("main.go")
	require.NotNil(t, cancel)
	cancel()
}
