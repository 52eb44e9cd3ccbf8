// Package githost implements the repository lifecycle manager: a client
// for the backing git host's management API covering organizations, users,
// teams, repositories, template generation and content reads.
package githost

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested resource does not exist on the host.
// Optional lookups map 404 to this sentinel instead of a fatal error.
var ErrNotFound = errors.New("git host resource not found")

// UpstreamError is a non-2xx, non-recoverable response from the host API
type UpstreamError struct {
	StatusCode int
	URL        string
	Body       string
}

// Error returns the error message
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("git host returned %d for %s: %s", e.StatusCode, e.URL, e.Body)
}

// HTTPStatus returns the status code carried by the error
func (e *UpstreamError) HTTPStatus() int {
	return e.StatusCode
}

// Repository describes a repository on the host
type Repository struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Private  bool   `json:"private"`
	Template bool   `json:"template"`
	HTMLURL  string `json:"html_url"`
}

// ContentEntry is a single file or directory returned by the contents API
type ContentEntry struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Type     string `json:"type"` // "file" or "dir"
	Size     int64  `json:"size"`
	Encoding string `json:"encoding,omitempty"`
	Content  string `json:"content,omitempty"`
}

// Decode returns the decoded file content of a file entry
func (e *ContentEntry) Decode() ([]byte, error) {
	if e.Encoding == "base64" {
		return base64.StdEncoding.DecodeString(e.Content)
	}
	return []byte(e.Content), nil
}

// Client defines the management operations the gateway needs from the git
// host. All creation operations are idempotent: a conflict response from
// the host is recovered locally and never surfaced.
type Client interface {
	// EnsureOrg creates a private organization if it does not exist
	EnsureOrg(ctx context.Context, org string) error

	// EnsureUser creates a host account for the user if it does not exist.
	// The account is created with a random, unused password; authentication
	// is never performed against it directly.
	EnsureUser(ctx context.Context, username, email string) error

	// AddUserToOrg grants the user read access to the organization's
	// repositories through the default members team, creating the team if
	// needed. This is the only path to org-repo read access.
	AddUserToOrg(ctx context.Context, org, username string) error

	// CreateRepo creates a repository under the owner, choosing the org or
	// user creation endpoint based on the owner kind
	CreateRepo(ctx context.Context, owner, name string, private, template bool) error

	// GenerateFromTemplate materializes a new repository from a template's
	// git history
	GenerateFromTemplate(ctx context.Context, templateOwner, templateRepo, owner, name string) error

	// UpdateRepo updates repository visibility
	UpdateRepo(ctx context.Context, owner, name string, private bool) error

	// GetRepo returns repository metadata; ErrNotFound if absent
	GetRepo(ctx context.Context, owner, name string) (*Repository, error)

	// GetContents returns a single file descriptor or a directory listing
	// at the given ref; ErrNotFound if the path does not exist
	GetContents(ctx context.Context, owner, repo, path, ref string) ([]ContentEntry, error)
}
