// Package records tracks the lifecycle records of managed repositories:
// which physical repository backs each assignment template and each
// student submission.
package records

import (
	"context"
	"errors"
	"time"
)

// Kind discriminates the two kinds of managed repositories
type Kind string

const (
	// KindTemplate is an instructor-authored starter repository
	KindTemplate Kind = "TEMPLATE"
	// KindSubmission is a per-student repository generated from a template
	KindSubmission Kind = "SUBMISSION"
)

// Status is the submission workflow state of a submission repository
type Status string

const (
	// StatusDraft marks a submission that can still be changed
	StatusDraft Status = "DRAFT"
	// StatusSubmitted marks a finalized submission
	StatusSubmitted Status = "SUBMITTED"
)

// Record identifies a physical repository managed by the gateway.
// Path ("owner/name") is immutable once set; records are never deleted.
type Record struct {
	Kind         Kind      `json:"kind"`
	Path         string    `json:"path"`
	Private      bool      `json:"private"`
	AssignmentID string    `json:"assignment_id"`
	CourseID     string    `json:"course_id"`
	SubmissionID string    `json:"submission_id,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	Status       Status    `json:"status,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ErrNotFound indicates no record exists for the requested key
var ErrNotFound = errors.New("repository record not found")

// Store persists repository records.
//
// Put operations are idempotent: at most one template record exists per
// assignment and at most one submission record per (assignment, user)
// pair; inserting a duplicate returns the existing record unchanged.
type Store interface {
	// PutTemplate records the template repository for an assignment
	PutTemplate(ctx context.Context, rec *Record) (*Record, error)

	// PutSubmission records the submission repository for an (assignment, user) pair
	PutSubmission(ctx context.Context, rec *Record) (*Record, error)

	// TemplateByAssignment returns the template record for an assignment
	TemplateByAssignment(ctx context.Context, assignmentID string) (*Record, error)

	// SubmissionByAssignment returns the submission record for an (assignment, user) pair
	SubmissionByAssignment(ctx context.Context, assignmentID, userID string) (*Record, error)

	// SubmissionByID returns the submission record with the given submission id
	SubmissionByID(ctx context.Context, submissionID string) (*Record, error)

	// SetPrivate updates the recorded visibility of a repository
	SetPrivate(ctx context.Context, kind Kind, key string, private bool) error

	// SetStatus updates the workflow status of a submission
	SetStatus(ctx context.Context, submissionID string, status Status) error
}
