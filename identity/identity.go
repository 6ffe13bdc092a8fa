// Package identity maps identity-provider subjects to internal owner ids.
//
// The identity provider authenticates users; this package only carries the
// verified subject through a request context and resolves it to the user
// row that owns tasks.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrUnknownUser is returned when a subject has no provisioned user.
var ErrUnknownUser = errors.New("user not found")

// ErrNoSubject is returned when the context carries no subject.
var ErrNoSubject = errors.New("no authenticated subject")

type contextKey int

const ctxKeySubject contextKey = 0

// WithSubject returns a copy of ctx carrying the external subject.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ctxKeySubject, subject)
}

// SubjectFrom returns the external subject stored in ctx.
func SubjectFrom(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(ctxKeySubject).(string)
	return s, ok && s != ""
}

// User is a provisioned account.
type User struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"externalId"`
	Email      string    `json:"email"`
	Name       *string   `json:"name,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Profile is the provider-supplied data used to provision a user.
type Profile struct {
	ExternalID string
	Email      string
	Name       *string
}

// Normalize lowercases the email and drops a blank name.
func (p Profile) Normalize() Profile {
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	if p.Name != nil {
		n := strings.TrimSpace(*p.Name)
		if n == "" {
			p.Name = nil
		} else {
			p.Name = &n
		}
	}
	return p
}

// Resolver maps an external subject to an internal owner id.
type Resolver interface {
	Resolve(ctx context.Context, externalID string) (string, error)
}

// Directory stores provisioned users.
type Directory interface {
	Resolver
	Upsert(ctx context.Context, p Profile) (*User, error)
	Close() error
}

// Owner resolves the subject in ctx through r.
func Owner(ctx context.Context, r Resolver) (string, error) {
	sub, ok := SubjectFrom(ctx)
	if !ok {
		return "", ErrNoSubject
	}
	return r.Resolve(ctx, sub)
}
