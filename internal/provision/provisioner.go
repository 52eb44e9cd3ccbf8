package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codecampus/gitgateway/internal/auth"
	"github.com/codecampus/gitgateway/internal/githost"
	"github.com/codecampus/gitgateway/internal/naming"
	"github.com/codecampus/gitgateway/internal/records"
	"github.com/codecampus/gitgateway/internal/scope"
)

// Info describes a provisioned repository to the caller
type Info struct {
	// RepoURL is the clone URL through the gateway, with the caller's
	// session token embedded as the transport password
	RepoURL string `json:"repoUrl"`
	// ExpiresAt is the expiry of the embedded credential
	ExpiresAt time.Time `json:"expiresAt"`
	// SubmissionID identifies the submission record, when applicable
	SubmissionID string `json:"submissionId,omitempty"`
}

// ProbeResult answers the idempotent existence probe
type ProbeResult struct {
	Exists    bool       `json:"exists"`
	RepoURL   string     `json:"repoUrl,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	IsPrivate *bool      `json:"isPrivate,omitempty"`
}

// Provisioner orchestrates repository creation against the git host and
// the record store
type Provisioner struct {
	host      githost.Client
	store     records.Store
	directory AssignmentDirectory
	publicURL string
}

// NewProvisioner creates a provisioner. publicURL is the gateway's
// externally reachable base URL, used to build clone URLs that route
// through the proxy.
func NewProvisioner(host githost.Client, store records.Store, directory AssignmentDirectory, publicURL string) *Provisioner {
	return &Provisioner{
		host:      host,
		store:     store,
		directory: directory,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}
}

// cloneURL builds the proxied clone URL for a logical repository with the
// caller's session token embedded as the transport password
func (p *Provisioner) cloneURL(t scope.Type, logicalID string, id *auth.Identity) string {
	u, err := url.Parse(p.publicURL)
	if err != nil || u.Host == "" {
		return fmt.Sprintf("%s/git/%s/%s.git", p.publicURL, t, logicalID)
	}
	u.User = url.UserPassword(id.Username, id.Token)
	u.Path = strings.TrimSuffix(u.Path, "/") + fmt.Sprintf("/git/%s/%s.git", t, logicalID)
	return u.String()
}

// lookup resolves the assignment and the caller's enrollment in its course
func (p *Provisioner) lookup(ctx context.Context, id *auth.Identity, assignmentID string) (*Assignment, auth.Enrollment, error) {
	a, err := p.directory.Assignment(ctx, assignmentID)
	if err != nil {
		return nil, auth.Enrollment{}, err
	}
	enr, ok := id.EnrollmentFor(a.CourseID)
	if !ok {
		return nil, auth.Enrollment{}, scope.ErrNotEnrolled
	}
	return a, enr, nil
}

// EnsureTemplate provisions the template repository for an assignment.
// Only instructors and admins may call it. Re-provisioning an existing
// template is a no-op returning the recorded repository.
func (p *Provisioner) EnsureTemplate(ctx context.Context, id *auth.Identity, assignmentID string) (*Info, error) {
	a, enr, err := p.lookup(ctx, id, assignmentID)
	if err != nil {
		return nil, err
	}
	if !enr.Role.Privileged() {
		return nil, fmt.Errorf("creating a template repository requires an instructor or admin role: %w", scope.ErrRoleNotAllowed)
	}

	if _, err := p.store.TemplateByAssignment(ctx, assignmentID); err == nil {
		return &Info{
			RepoURL:   p.cloneURL(scope.TypeAssignment, assignmentID, id),
			ExpiresAt: id.ExpiresAt,
		}, nil
	} else if !errors.Is(err, records.ErrNotFound) {
		return nil, err
	}

	org := naming.OrgForCourse(a.CourseSlug)
	if err := p.host.EnsureOrg(ctx, org); err != nil {
		return nil, err
	}

	name, err := naming.TemplateRepo(a.Title)
	if err != nil {
		return nil, err
	}
	if err := p.host.CreateRepo(ctx, org, name, true, true); err != nil {
		return nil, err
	}

	if _, err := p.store.PutTemplate(ctx, &records.Record{
		Kind:         records.KindTemplate,
		Path:         org + "/" + name,
		Private:      true,
		AssignmentID: assignmentID,
		CourseID:     a.CourseID,
	}); err != nil {
		return nil, err
	}

	slog.Info("Provisioned template repository",
		"assignment", assignmentID,
		"repo", org+"/"+name)

	return &Info{
		RepoURL:   p.cloneURL(scope.TypeAssignment, assignmentID, id),
		ExpiresAt: id.ExpiresAt,
	}, nil
}

// EnsureSubmission provisions the caller's submission repository for an
// assignment by generating it from the assignment's template. Only
// students may call it; the template must already exist.
func (p *Provisioner) EnsureSubmission(ctx context.Context, id *auth.Identity, assignmentID string) (*Info, error) {
	a, enr, err := p.lookup(ctx, id, assignmentID)
	if err != nil {
		return nil, err
	}
	if enr.Role != auth.RoleStudent {
		return nil, fmt.Errorf("creating a submission repository requires a student role: %w", scope.ErrRoleNotAllowed)
	}

	if existing, err := p.store.SubmissionByAssignment(ctx, assignmentID, id.UserID); err == nil {
		return &Info{
			RepoURL:      p.cloneURL(scope.TypeSubmission, existing.SubmissionID, id),
			ExpiresAt:    id.ExpiresAt,
			SubmissionID: existing.SubmissionID,
		}, nil
	} else if !errors.Is(err, records.ErrNotFound) {
		return nil, err
	}

	template, err := p.store.TemplateByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	templateOwner, templateRepo, err := splitPath(template.Path)
	if err != nil {
		return nil, err
	}

	if err := p.host.EnsureUser(ctx, id.Username, id.Email); err != nil {
		return nil, err
	}
	if err := p.host.AddUserToOrg(ctx, naming.OrgForCourse(a.CourseSlug), id.Username); err != nil {
		return nil, err
	}

	name, err := naming.SubmissionRepo(a.CourseSlug, a.Title, id.Username)
	if err != nil {
		return nil, err
	}
	if err := p.host.GenerateFromTemplate(ctx, templateOwner, templateRepo, id.Username, name); err != nil {
		return nil, err
	}

	stored, err := p.store.PutSubmission(ctx, &records.Record{
		Kind:         records.KindSubmission,
		Path:         id.Username + "/" + name,
		Private:      true,
		AssignmentID: assignmentID,
		CourseID:     a.CourseID,
		SubmissionID: uuid.NewString(),
		UserID:       id.UserID,
		Status:       records.StatusDraft,
		ExpiresAt:    id.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Provisioned submission repository",
		"assignment", assignmentID,
		"user", id.Username,
		"repo", stored.Path)

	return &Info{
		RepoURL:      p.cloneURL(scope.TypeSubmission, stored.SubmissionID, id),
		ExpiresAt:    id.ExpiresAt,
		SubmissionID: stored.SubmissionID,
	}, nil
}

// Probe answers the idempotent existence check without creating anything.
// It reports the repository the caller would reach, with a clone URL
// carrying the caller's current session token.
func (p *Provisioner) Probe(ctx context.Context, id *auth.Identity, assignmentID string, kind records.Kind) (*ProbeResult, error) {
	if _, _, err := p.lookup(ctx, id, assignmentID); err != nil {
		return nil, err
	}

	var (
		rec *records.Record
		err error
		t   scope.Type
		lid string
	)
	switch kind {
	case records.KindTemplate:
		rec, err = p.store.TemplateByAssignment(ctx, assignmentID)
		t, lid = scope.TypeAssignment, assignmentID
	case records.KindSubmission:
		rec, err = p.store.SubmissionByAssignment(ctx, assignmentID, id.UserID)
		if err == nil {
			t, lid = scope.TypeSubmission, rec.SubmissionID
		}
	default:
		return nil, fmt.Errorf("unknown repository kind %q", kind)
	}
	if errors.Is(err, records.ErrNotFound) {
		return &ProbeResult{Exists: false}, nil
	}
	if err != nil {
		return nil, err
	}

	private := rec.Private
	expires := id.ExpiresAt
	return &ProbeResult{
		Exists:    true,
		RepoURL:   p.cloneURL(t, lid, id),
		ExpiresAt: &expires,
		IsPrivate: &private,
	}, nil
}

// SetVisibility toggles repository visibility, gated by the same role
// rules as pushes: instructors and admins for templates, students and
// mentors for submissions.
func (p *Provisioner) SetVisibility(ctx context.Context, id *auth.Identity, assignmentID string, kind records.Kind, private bool) error {
	if _, _, err := p.lookup(ctx, id, assignmentID); err != nil {
		return err
	}

	var (
		rec *records.Record
		err error
		t   scope.Type
		key string
	)
	switch kind {
	case records.KindTemplate:
		rec, err = p.store.TemplateByAssignment(ctx, assignmentID)
		t, key = scope.TypeAssignment, assignmentID
	case records.KindSubmission:
		rec, err = p.store.SubmissionByAssignment(ctx, assignmentID, id.UserID)
		if err == nil {
			t, key = scope.TypeSubmission, rec.SubmissionID
		}
	default:
		return fmt.Errorf("unknown repository kind %q", kind)
	}
	if err != nil {
		return err
	}

	s, err := scope.For(t, p.store)
	if err != nil {
		return err
	}
	if err := s.AuthorizePush(id, &scope.Resolution{RepoPath: rec.Path, CourseID: rec.CourseID, Record: rec}); err != nil {
		return err
	}

	owner, name, err := splitPath(rec.Path)
	if err != nil {
		return err
	}
	if err := p.host.UpdateRepo(ctx, owner, name, private); err != nil {
		return err
	}
	return p.store.SetPrivate(ctx, kind, key, private)
}

// splitPath splits an "owner/name" repository path
func splitPath(path string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(path, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("malformed repository path %q", path)
	}
	return owner, name, nil
}
