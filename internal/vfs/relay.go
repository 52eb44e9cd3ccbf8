package vfs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/codecampus/gitgateway/internal/auth"
	"github.com/codecampus/gitgateway/internal/policy"
)

// RelayBackend is the workspace endpoint the live relay forwards file
// operations to
type RelayBackend interface {
	// Health verifies the backend is reachable and ready
	Health(ctx context.Context) error

	// Policy returns the readonly patterns active in the workspace
	Policy(ctx context.Context) ([]string, error)

	Stat(ctx context.Context, path string) (*FileInfo, error)
	ReadDirectory(ctx context.Context, path string) ([]DirEntry, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	Rename(ctx context.Context, oldPath, newPath string) error
	CreateDirectory(ctx context.Context, path string) error
}

// relayProvider forwards file operations into a live workspace, gated by
// the readonly policy. The policy is loaded once during the connection
// handshake.
type relayProvider struct {
	backend RelayBackend
	role    auth.Role

	// group collapses concurrent handshakes into one in-flight call;
	// callers arriving during the handshake await its result instead of
	// issuing their own.
	group     singleflight.Group
	mu        sync.RWMutex
	connected bool
	patterns  []string

	subMu       sync.Mutex
	nextSub     int
	subscribers map[int]func(Event)
}

// NewRelayProvider creates a live-relay provider for an identity holding
// the given role in the workspace's course
func NewRelayProvider(backend RelayBackend, role auth.Role) Provider {
	return &relayProvider{
		backend:     backend,
		role:        role,
		subscribers: make(map[int]func(Event)),
	}
}

// connect performs the lazy health handshake. Only the first caller runs
// it; the rest share the in-flight result.
func (p *relayProvider) connect(ctx context.Context) error {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	if connected {
		return nil
	}

	_, err, _ := p.group.Do("connect", func() (any, error) {
		if err := p.backend.Health(ctx); err != nil {
			return nil, fmt.Errorf("workspace handshake failed: %w", err)
		}

		// Policy load is opportunistic; a failure degrades to an empty
		// policy rather than blocking the connection.
		patterns, err := p.backend.Policy(ctx)
		if err != nil {
			slog.Warn("Failed to load workspace readonly policy", "error", err)
			patterns = nil
		}

		p.mu.Lock()
		p.connected = true
		p.patterns = patterns
		p.mu.Unlock()
		return nil, nil
	})
	return err
}

// checkWrite applies the readonly gate to a mutation target. Workspace
// metadata is protected for everyone; privileged roles are exempt from
// the rest of the policy.
func (p *relayProvider) checkWrite(path string) error {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == MetadataPath {
		return &policy.Violation{Path: path, Pattern: MetadataPath}
	}
	if p.role.Privileged() {
		return nil
	}
	if trimmed == policy.ConfigPath {
		return &policy.Violation{Path: path, Pattern: policy.ConfigPath}
	}

	p.mu.RLock()
	patterns := p.patterns
	p.mu.RUnlock()
	if ok, pattern := policy.Match(path, patterns); ok {
		return &policy.Violation{Path: path, Pattern: pattern}
	}
	return nil
}

// Subscribe registers a listener for change events and returns its cancel
func (p *relayProvider) Subscribe(fn func(Event)) func() {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	id := p.nextSub
	p.nextSub++
	p.subscribers[id] = fn
	return func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		delete(p.subscribers, id)
	}
}

func (p *relayProvider) notify(e Event) {
	p.subMu.Lock()
	listeners := make([]func(Event), 0, len(p.subscribers))
	for _, fn := range p.subscribers {
		listeners = append(listeners, fn)
	}
	p.subMu.Unlock()

	for _, fn := range listeners {
		fn(e)
	}
}

func (p *relayProvider) Stat(ctx context.Context, path string) (*FileInfo, error) {
	if err := p.connect(ctx); err != nil {
		return nil, err
	}
	return withRetry(ctx, func(ctx context.Context) (*FileInfo, error) {
		return p.backend.Stat(ctx, path)
	})
}

func (p *relayProvider) ReadDirectory(ctx context.Context, path string) ([]DirEntry, error) {
	if err := p.connect(ctx); err != nil {
		return nil, err
	}
	return withRetry(ctx, func(ctx context.Context) ([]DirEntry, error) {
		return p.backend.ReadDirectory(ctx, path)
	})
}

func (p *relayProvider) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := p.connect(ctx); err != nil {
		return nil, err
	}
	return withRetry(ctx, func(ctx context.Context) ([]byte, error) {
		return p.backend.ReadFile(ctx, path)
	})
}

func (p *relayProvider) WriteFile(ctx context.Context, path string, data []byte) error {
	if err := p.connect(ctx); err != nil {
		return err
	}
	if err := p.checkWrite(path); err != nil {
		return err
	}
	if err := p.backend.WriteFile(ctx, path, data); err != nil {
		return err
	}
	p.notify(Event{Type: EventChanged, Path: path})
	return nil
}

func (p *relayProvider) Delete(ctx context.Context, path string) error {
	if err := p.connect(ctx); err != nil {
		return err
	}
	if err := p.checkWrite(path); err != nil {
		return err
	}
	if err := p.backend.Delete(ctx, path); err != nil {
		return err
	}
	p.notify(Event{Type: EventDeleted, Path: path})
	return nil
}

func (p *relayProvider) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := p.connect(ctx); err != nil {
		return err
	}
	if err := p.checkWrite(oldPath); err != nil {
		return err
	}
	if err := p.checkWrite(newPath); err != nil {
		return err
	}
	if err := p.backend.Rename(ctx, oldPath, newPath); err != nil {
		return err
	}
	p.notify(Event{Type: EventDeleted, Path: oldPath})
	p.notify(Event{Type: EventCreated, Path: newPath})
	return nil
}

func (p *relayProvider) CreateDirectory(ctx context.Context, path string) error {
	if err := p.connect(ctx); err != nil {
		return err
	}
	if err := p.checkWrite(path); err != nil {
		return err
	}
	if err := p.backend.CreateDirectory(ctx, path); err != nil {
		return err
	}
	p.notify(Event{Type: EventCreated, Path: path})
	return nil
}

// Watch registers a listener reporting all workspace changes. Path
// filtering is left to the listener.
func (p *relayProvider) Watch(string) func() {
	return p.Subscribe(func(Event) {})
}
