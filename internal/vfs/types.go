// Package vfs presents remote repository content through standard file
// operations for consumption by an embedded code editor. Two providers
// share one interface: a read-only archive view over the content API and a
// live relay into the active workspace.
package vfs

import (
	"context"
	"time"
)

// MetadataPath is the workspace metadata file. It is read-only to
// everyone, including privileged roles.
const MetadataPath = ".campus/workspace.json"

// FileType discriminates files from directories
type FileType int

const (
	// TypeFile is a regular file
	TypeFile FileType = iota
	// TypeDirectory is a directory
	TypeDirectory
)

// FileInfo describes a single filesystem node
type FileInfo struct {
	Type    FileType  `json:"type"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
}

// DirEntry is one entry of a directory listing
type DirEntry struct {
	Name string   `json:"name"`
	Type FileType `json:"type"`
}

// EventType classifies a change notification
type EventType int

const (
	// EventCreated signals a new file or directory
	EventCreated EventType = iota
	// EventChanged signals modified file content
	EventChanged
	// EventDeleted signals a removed file or directory
	EventDeleted
)

// Event is a change notification fired after a successful mutation
type Event struct {
	Type EventType
	Path string
}

// Provider exposes remote repository content through conventional file
// operations. Paths are slash-separated and relative to the workspace
// root.
type Provider interface {
	// Stat describes the node at path; ErrNotFound if absent
	Stat(ctx context.Context, path string) (*FileInfo, error)

	// ReadDirectory lists the entries of a directory
	ReadDirectory(ctx context.Context, path string) ([]DirEntry, error)

	// ReadFile returns the content of a file
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile creates or replaces a file
	WriteFile(ctx context.Context, path string, data []byte) error

	// Delete removes a file or directory
	Delete(ctx context.Context, path string) error

	// Rename moves a node to a new path
	Rename(ctx context.Context, oldPath, newPath string) error

	// CreateDirectory creates a directory, including missing parents
	CreateDirectory(ctx context.Context, path string) error

	// Watch registers interest in a path. Providers without change
	// notifications return a no-op cancel.
	Watch(path string) (cancel func())
}
