// Package scope dispatches the assignment/submission type discriminator to
// a strategy pair sharing one resolve/authorize contract, instead of
// branching through request handlers.
package scope

import (
	"context"
	"errors"
	"fmt"

	"github.com/codecampus/gitgateway/internal/auth"
	"github.com/codecampus/gitgateway/internal/records"
)

// Type discriminates the two logical repository scopes
type Type string

const (
	// TypeAssignment addresses an assignment's template repository
	TypeAssignment Type = "assignment"
	// TypeSubmission addresses a student's submission repository
	TypeSubmission Type = "submission"
)

// ParseType validates a path segment as a scope type
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeAssignment, TypeSubmission:
		return Type(s), nil
	default:
		return "", fmt.Errorf("unknown scope type %q", s)
	}
}

var (
	// ErrNotEnrolled indicates the caller has no enrollment in the resolved course
	ErrNotEnrolled = errors.New("caller is not enrolled in this course")
	// ErrRoleNotAllowed indicates the caller's role may not perform the operation
	ErrRoleNotAllowed = errors.New("caller's role may not perform this operation")
)

// Resolution is the outcome of resolving a logical id to a physical repository
type Resolution struct {
	// RepoPath is the physical "owner/name" path on the git host
	RepoPath string
	// CourseID is the course the repository belongs to
	CourseID string
	// Record is the underlying repository record
	Record *records.Record
}

// Scope resolves logical ids and authorizes operations for one repository kind
type Scope interface {
	// Resolve maps a logical id to a physical repository.
	// Returns records.ErrNotFound for unknown ids.
	Resolve(ctx context.Context, id string) (*Resolution, error)

	// AuthorizeRead checks that the identity may read the repository
	AuthorizeRead(id *auth.Identity, res *Resolution) error

	// AuthorizePush checks that the identity may push to the repository
	AuthorizePush(id *auth.Identity, res *Resolution) error
}

// For returns the scope strategy for the given type
func For(t Type, store records.Store) (Scope, error) {
	switch t {
	case TypeAssignment:
		return &assignmentScope{store: store}, nil
	case TypeSubmission:
		return &submissionScope{store: store}, nil
	default:
		return nil, fmt.Errorf("unknown scope type %q", t)
	}
}

// enrollmentFor is the shared read authorization: any enrollment in the
// resolved course suffices.
func enrollmentFor(id *auth.Identity, res *Resolution) (auth.Enrollment, error) {
	enr, ok := id.EnrollmentFor(res.CourseID)
	if !ok {
		return auth.Enrollment{}, ErrNotEnrolled
	}
	return enr, nil
}

// assignmentScope resolves assignment ids to template repositories
type assignmentScope struct {
	store records.Store
}

func (s *assignmentScope) Resolve(ctx context.Context, id string) (*Resolution, error) {
	rec, err := s.store.TemplateByAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Resolution{RepoPath: rec.Path, CourseID: rec.CourseID, Record: rec}, nil
}

func (*assignmentScope) AuthorizeRead(id *auth.Identity, res *Resolution) error {
	_, err := enrollmentFor(id, res)
	return err
}

// AuthorizePush allows only instructors and admins to push to template
// repositories.
func (*assignmentScope) AuthorizePush(id *auth.Identity, res *Resolution) error {
	enr, err := enrollmentFor(id, res)
	if err != nil {
		return err
	}
	switch enr.Role {
	case auth.RoleInstructor, auth.RoleAdmin:
		return nil
	default:
		return fmt.Errorf("pushing to a template repository requires an instructor or admin role: %w", ErrRoleNotAllowed)
	}
}

// submissionScope resolves submission ids to submission repositories
type submissionScope struct {
	store records.Store
}

func (s *submissionScope) Resolve(ctx context.Context, id string) (*Resolution, error) {
	rec, err := s.store.SubmissionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Resolution{RepoPath: rec.Path, CourseID: rec.CourseID, Record: rec}, nil
}

func (*submissionScope) AuthorizeRead(id *auth.Identity, res *Resolution) error {
	_, err := enrollmentFor(id, res)
	return err
}

// AuthorizePush allows only students and mentors to push to submission
// repositories.
func (*submissionScope) AuthorizePush(id *auth.Identity, res *Resolution) error {
	enr, err := enrollmentFor(id, res)
	if err != nil {
		return err
	}
	switch enr.Role {
	case auth.RoleStudent, auth.RoleMentor:
		return nil
	default:
		return fmt.Errorf("pushing to a submission repository requires a student or mentor role: %w", ErrRoleNotAllowed)
	}
}
