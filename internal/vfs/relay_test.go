package vfs_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecampus/gitgateway/internal/auth"
	"github.com/codecampus/gitgateway/internal/policy"
	"github.com/codecampus/gitgateway/internal/vfs"
)

// subscriber is the event registration surface of the live relay
type subscriber interface {
	Subscribe(fn func(vfs.Event)) func()
}

// fakeBackend is an in-memory RelayBackend recording calls
type fakeBackend struct {
	mu       sync.Mutex
	files    map[string][]byte
	patterns []string

	healthGate    chan struct{}
	healthEntered sync.Once
	entered       chan struct{}
	healthCalls   atomic.Int64
	healthErr     error
	statErr       error
	statCalls     atomic.Int64
}

func newFakeBackend(patterns ...string) *fakeBackend {
	return &fakeBackend{
		files:    map[string][]byte{"main.go": []byte("package main\n")},
		patterns: patterns,
	}
}

func (f *fakeBackend) Health(_ context.Context) error {
	f.healthCalls.Add(1)
	if f.entered != nil {
		f.healthEntered.Do(func() { close(f.entered) })
	}
	if f.healthGate != nil {
		<-f.healthGate
	}
	return f.healthErr
}

func (f *fakeBackend) Policy(_ context.Context) ([]string, error) {
	return f.patterns, nil
}

func (f *fakeBackend) Stat(_ context.Context, path string) (*vfs.FileInfo, error) {
	f.statCalls.Add(1)
	if f.statErr != nil {
		return nil, f.statErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return nil, vfs.ErrNotFound
	}
	return &vfs.FileInfo{Type: vfs.TypeFile, Size: int64(len(data))}, nil
}

func (f *fakeBackend) ReadDirectory(_ context.Context, _ string) ([]vfs.DirEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := make([]vfs.DirEntry, 0, len(f.files))
	for name := range f.files {
		entries = append(entries, vfs.DirEntry{Name: name, Type: vfs.TypeFile})
	}
	return entries, nil
}

func (f *fakeBackend) ReadFile(_ context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return nil, vfs.ErrNotFound
	}
	return data, nil
}

func (f *fakeBackend) WriteFile(_ context.Context, path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = data
	return nil
}

func (f *fakeBackend) Delete(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
	return nil
}

func (f *fakeBackend) Rename(_ context.Context, oldPath, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[newPath] = f.files[oldPath]
	delete(f.files, oldPath)
	return nil
}

func (f *fakeBackend) CreateDirectory(_ context.Context, _ string) error {
	return nil
}

func TestRelayHandshakeRunsOnce(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.healthGate = make(chan struct{})
	backend.entered = make(chan struct{})
	provider := vfs.NewRelayProvider(backend, auth.RoleStudent)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := provider.Stat(context.Background(), "main.go")
			assert.NoError(t, err)
		}()
	}

	// Let every caller pile up behind the in-flight handshake, then
	// release it.
	<-backend.entered
	close(backend.healthGate)
	wg.Wait()

	assert.Equal(t, int64(1), backend.healthCalls.Load(), "concurrent callers share one handshake")
}

func TestRelayHandshakeFailure(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.healthErr = errors.New("workspace unreachable")
	provider := vfs.NewRelayProvider(backend, auth.RoleStudent)

	_, err := provider.Stat(context.Background(), "main.go")
	require.ErrorContains(t, err, "workspace handshake failed")
	assert.Zero(t, backend.statCalls.Load(), "operations must not run without a handshake")
}

func TestRelayReadWrite(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	provider := vfs.NewRelayProvider(backend, auth.RoleStudent)
	ctx := context.Background()

	require.NoError(t, provider.WriteFile(ctx, "notes.txt", []byte("hello")))

	content, err := provider.ReadFile(ctx, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	info, err := provider.Stat(ctx, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)

	require.NoError(t, provider.Rename(ctx, "notes.txt", "renamed.txt"))
	require.NoError(t, provider.Delete(ctx, "renamed.txt"))
	_, err = provider.ReadFile(ctx, "renamed.txt")
	assert.ErrorIs(t, err, vfs.ErrNotFound)
}

func TestRelayReadonlyGates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		role    auth.Role
		path    string
		blocked bool
	}{
		{
			name:    "metadata is read-only for students",
			role:    auth.RoleStudent,
			path:    vfs.MetadataPath,
			blocked: true,
		},
		{
			name:    "metadata is read-only even for admins",
			role:    auth.RoleAdmin,
			path:    vfs.MetadataPath,
			blocked: true,
		},
		{
			name:    "policy config is read-only for students",
			role:    auth.RoleStudent,
			path:    policy.ConfigPath,
			blocked: true,
		},
		{
			name:    "instructors may edit the policy config",
			role:    auth.RoleInstructor,
			path:    policy.ConfigPath,
			blocked: false,
		},
		{
			name:    "pattern blocks students",
			role:    auth.RoleStudent,
			path:    "tests/grader.py",
			blocked: true,
		},
		{
			name:    "pattern does not block instructors",
			role:    auth.RoleInstructor,
			path:    "tests/grader.py",
			blocked: false,
		},
		{
			name:    "unprotected path writable by students",
			role:    auth.RoleStudent,
			path:    "solution.py",
			blocked: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			provider := vfs.NewRelayProvider(newFakeBackend("tests/**"), tt.role)
			err := provider.WriteFile(context.Background(), tt.path, []byte("x"))
			if tt.blocked {
				var violation *policy.Violation
				require.ErrorAs(t, err, &violation)
				assert.Equal(t, tt.path, violation.Path)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRelayRenameChecksBothEnds(t *testing.T) {
	t.Parallel()

	provider := vfs.NewRelayProvider(newFakeBackend("tests/**"), auth.RoleStudent)
	ctx := context.Background()

	var violation *policy.Violation
	assert.ErrorAs(t, provider.Rename(ctx, "tests/grader.py", "free.py"), &violation)
	assert.ErrorAs(t, provider.Rename(ctx, "main.go", "tests/sneaky.py"), &violation)
}

func TestRelayEvents(t *testing.T) {
	t.Parallel()

	provider := vfs.NewRelayProvider(newFakeBackend(), auth.RoleStudent)
	sub, ok := provider.(subscriber)
	require.True(t, ok)

	var mu sync.Mutex
	var events []vfs.Event
	cancel := sub.Subscribe(func(e vfs.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})

	ctx := context.Background()
	require.NoError(t, provider.WriteFile(ctx, "a.txt", []byte("x")))
	require.NoError(t, provider.Rename(ctx, "a.txt", "b.txt"))
	require.NoError(t, provider.Delete(ctx, "b.txt"))
	require.NoError(t, provider.CreateDirectory(ctx, "dir"))

	mu.Lock()
	got := append([]vfs.Event(nil), events...)
	mu.Unlock()
	assert.Equal(t, []vfs.Event{
		{Type: vfs.EventChanged, Path: "a.txt"},
		{Type: vfs.EventDeleted, Path: "a.txt"},
		{Type: vfs.EventCreated, Path: "b.txt"},
		{Type: vfs.EventDeleted, Path: "b.txt"},
		{Type: vfs.EventCreated, Path: "dir"},
	}, got)

	cancel()
	require.NoError(t, provider.WriteFile(ctx, "c.txt", []byte("x")))
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, events, 5, "cancelled subscribers receive no further events")
}

func TestRelayBlockedWriteFiresNoEvent(t *testing.T) {
	t.Parallel()

	provider := vfs.NewRelayProvider(newFakeBackend("tests/**"), auth.RoleStudent)
	sub, ok := provider.(subscriber)
	require.True(t, ok)

	fired := false
	cancel := sub.Subscribe(func(vfs.Event) { fired = true })
	defer cancel()

	require.Error(t, provider.WriteFile(context.Background(), "tests/grader.py", []byte("x")))
	assert.False(t, fired)
}
