// Package auth resolves session credentials into verified identities and
// provides the enrollment model every permission decision is based on.
// Session issuance is owned by the platform; this package only consumes
// the tokens it mints.
package auth

import (
	"context"
	"errors"
	"time"
)

// Role is the role a user holds within a course enrollment
type Role string

const (
	// RoleStudent is an enrolled student
	RoleStudent Role = "STUDENT"
	// RoleMentor assists students and may push to submission repositories
	RoleMentor Role = "MENTOR"
	// RoleInstructor owns course content and template repositories
	RoleInstructor Role = "INSTRUCTOR"
	// RoleAdmin is a platform administrator
	RoleAdmin Role = "ADMIN"
)

// Privileged reports whether the role is exempt from the general readonly
// policy (but never from workspace-metadata protection).
func (r Role) Privileged() bool {
	return r == RoleInstructor || r == RoleAdmin
}

// Enrollment binds a user to a course with a role
type Enrollment struct {
	CourseID string `json:"course_id"`
	Role     Role   `json:"role"`
}

// Identity is a verified platform identity with its course enrollments
type Identity struct {
	UserID      string
	Username    string
	Email       string
	Enrollments []Enrollment

	// Token is the bearer credential the identity was resolved from. It is
	// embedded into clone URLs as the transport password.
	Token string

	// ExpiresAt is the expiry of the session credential. The gateway
	// surfaces it but does not manage it.
	ExpiresAt time.Time
}

// EnrollmentFor returns the identity's enrollment in the given course
func (id *Identity) EnrollmentFor(courseID string) (Enrollment, bool) {
	for _, e := range id.Enrollments {
		if e.CourseID == courseID {
			return e, true
		}
	}
	return Enrollment{}, false
}

// ErrInvalidToken indicates the session credential is missing, malformed,
// expired or otherwise unverifiable.
var ErrInvalidToken = errors.New("invalid session token")

// Resolver resolves a bearer credential into a verified identity
type Resolver interface {
	// Resolve verifies the token and returns the identity it represents.
	// Returns ErrInvalidToken for any credential that does not verify.
	Resolve(ctx context.Context, token string) (*Identity, error)
}

type contextKey struct{}

// WithIdentity returns a context carrying the identity
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFromContext returns the identity stored in the context, if any
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok
}
