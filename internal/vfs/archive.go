package vfs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codecampus/gitgateway/internal/githost"
)

// ContentReader is the subset of the git host client the archive view
// reads through
type ContentReader interface {
	GetContents(ctx context.Context, owner, repo, path, ref string) ([]githost.ContentEntry, error)
}

// archiveProvider is the read-only archive view over the content API,
// used for inspecting a repository at an arbitrary ref. Every mutation
// returns ErrNotSupported.
type archiveProvider struct {
	reader ContentReader
	owner  string
	repo   string
	ref    string
	cache  *ttlCache
}

// ArchiveOption configures the archive view
type ArchiveOption func(*archiveProvider)

// WithCacheTTL overrides the default cache TTL
func WithCacheTTL(ttl time.Duration) ArchiveOption {
	return func(p *archiveProvider) {
		p.cache = newTTLCache(ttl)
	}
}

// NewArchiveProvider creates a read-only provider over the content API
// for one repository at one ref
func NewArchiveProvider(reader ContentReader, owner, repo, ref string, opts ...ArchiveOption) Provider {
	p := &archiveProvider{
		reader: reader,
		owner:  owner,
		repo:   repo,
		ref:    ref,
		cache:  newTTLCache(defaultCacheTTL),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// contents fetches the entries at path through the cache and the retry
// decorator
func (p *archiveProvider) contents(ctx context.Context, path string) ([]githost.ContentEntry, error) {
	path = strings.Trim(path, "/")

	if cached, ok := p.cache.get(path); ok {
		return cached.([]githost.ContentEntry), nil
	}

	entries, err := withRetry(ctx, func(ctx context.Context) ([]githost.ContentEntry, error) {
		return p.reader.GetContents(ctx, p.owner, p.repo, path, p.ref)
	})
	if err != nil {
		if errors.Is(err, githost.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	p.cache.set(path, entries)
	return entries, nil
}

func (p *archiveProvider) Stat(ctx context.Context, path string) (*FileInfo, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return &FileInfo{Type: TypeDirectory}, nil
	}

	entries, err := p.contents(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(entries) == 1 && entries[0].Type == "file" && strings.Trim(entries[0].Path, "/") == path {
		return &FileInfo{Type: TypeFile, Size: entries[0].Size}, nil
	}
	return &FileInfo{Type: TypeDirectory}, nil
}

func (p *archiveProvider) ReadDirectory(ctx context.Context, path string) ([]DirEntry, error) {
	entries, err := p.contents(ctx, path)
	if err != nil {
		return nil, err
	}

	listing := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		t := TypeFile
		if e.Type == "dir" {
			t = TypeDirectory
		}
		listing = append(listing, DirEntry{Name: e.Name, Type: t})
	}
	return listing, nil
}

func (p *archiveProvider) ReadFile(ctx context.Context, path string) ([]byte, error) {
	path = strings.Trim(path, "/")
	entries, err := p.contents(ctx, path)
	if err != nil {
		return nil, err
	}
	// A single-element listing can also be a directory holding exactly one
	// file; only the entry's own path identifies a file response.
	if len(entries) != 1 || entries[0].Type != "file" || strings.Trim(entries[0].Path, "/") != path {
		return nil, fmt.Errorf("%s is not a file", path)
	}
	return entries[0].Decode()
}

func (*archiveProvider) WriteFile(context.Context, string, []byte) error {
	return ErrNotSupported
}

func (*archiveProvider) Delete(context.Context, string) error {
	return ErrNotSupported
}

func (*archiveProvider) Rename(context.Context, string, string) error {
	return ErrNotSupported
}

func (*archiveProvider) CreateDirectory(context.Context, string) error {
	return ErrNotSupported
}

// Watch is a no-op; the archive view has no change notifications
func (*archiveProvider) Watch(string) func() {
	return func() {}
}
