// Package provision orchestrates repository provisioning: it binds the
// assignment directory, the git host lifecycle client and the record store
// into the create/probe/visibility operations the API exposes.
package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/codecampus/gitgateway/internal/httpclient"
)

// ErrAssignmentNotFound indicates the assignment directory has no entry
// for the requested id
var ErrAssignmentNotFound = errors.New("assignment not found")

// Assignment is the directory entry the gateway needs about an assignment.
// The course/assignment domain model itself is owned by the platform.
type Assignment struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	CourseID   string `json:"course_id"`
	CourseSlug string `json:"course_slug"`
}

// AssignmentDirectory resolves assignment ids to directory entries
type AssignmentDirectory interface {
	// Assignment returns the entry for the id; ErrAssignmentNotFound if absent
	Assignment(ctx context.Context, id string) (*Assignment, error)
}

// httpDirectory resolves assignments against the platform's directory
// endpoint
type httpDirectory struct {
	baseURL string
	client  httpclient.Client
}

// NewHTTPDirectory creates an AssignmentDirectory over the platform
// endpoint at baseURL
func NewHTTPDirectory(baseURL string, client httpclient.Client) AssignmentDirectory {
	if client == nil {
		client = httpclient.NewDefaultClient(0)
	}
	return &httpDirectory{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}
}

func (d *httpDirectory) Assignment(ctx context.Context, id string) (*Assignment, error) {
	body, err := d.client.Get(ctx, d.baseURL+"/assignments/"+url.PathEscape(id))
	if err != nil {
		var httpErr *httpclient.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == 404 {
			return nil, ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("failed to look up assignment %s: %w", id, err)
	}

	var a Assignment
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("failed to decode assignment %s: %w", id, err)
	}
	return &a, nil
}
