// Package access gates admin routes on an externally-verified identity.
// JWT verification happens upstream at the identity provider's edge; this
// layer only consumes the asserted identity headers and applies the
// allowlist.
package access

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Default identity assertion headers, in the shape Cloudflare Access and
// similar providers emit after verifying the caller's JWT.
const (
	DefaultEmailHeader = "Cf-Access-Authenticated-User-Email"
	DefaultNameHeader  = "Cf-Access-Authenticated-User-Name"
)

var (
	// ErrNoIdentity means the request carried no verified identity.
	ErrNoIdentity = errors.New("no verified identity on request")
	// ErrForbidden means the identity is verified but not allowlisted.
	ErrForbidden = errors.New("identity not permitted")
)

// User is the verified caller identity attached to admin requests.
type User struct {
	Email string
	Name  string
}

// Authenticator turns an inbound request into a verified user or an error.
type Authenticator interface {
	Authenticate(r *http.Request) (*User, error)
}

// HeaderAuthenticator reads the identity the provider asserted via headers
// and checks it against an email allowlist. An empty allowlist admits any
// verified identity.
type HeaderAuthenticator struct {
	EmailHeader   string
	NameHeader    string
	AllowedEmails []string
}

func (a *HeaderAuthenticator) Authenticate(r *http.Request) (*User, error) {
	emailHeader := a.EmailHeader
	if emailHeader == "" {
		emailHeader = DefaultEmailHeader
	}
	nameHeader := a.NameHeader
	if nameHeader == "" {
		nameHeader = DefaultNameHeader
	}

	email := strings.ToLower(strings.TrimSpace(r.Header.Get(emailHeader)))
	if email == "" {
		return nil, ErrNoIdentity
	}
	if len(a.AllowedEmails) > 0 && !a.allowed(email) {
		return nil, ErrForbidden
	}
	return &User{
		Email: email,
		Name:  strings.TrimSpace(r.Header.Get(nameHeader)),
	}, nil
}

func (a *HeaderAuthenticator) allowed(email string) bool {
	for _, candidate := range a.AllowedEmails {
		if strings.EqualFold(strings.TrimSpace(candidate), email) {
			return true
		}
	}
	return false
}

type contextKey struct{}

// WithUser attaches the verified user to the request context.
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFrom extracts the verified user, when any, from the context.
func UserFrom(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(contextKey{}).(*User)
	return user, ok && user != nil
}
