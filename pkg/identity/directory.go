// Package identity provides the in-memory identity source backing the
// authentication mechanism stages: a user directory with passwords,
// authorities and optional run-as subjects, plus static bearer tokens.
package identity

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/gatehouse-io/gatehouse/pkg/domain"
	"github.com/gatehouse-io/gatehouse/pkg/engine/stages"
)

// User is one entry of the directory.
type User struct {
	Username    string
	Password    string
	Authorities []string
	// RunAs names another directory user this one executes as for the
	// remainder of a chain once authenticated.
	RunAs string
}

// Directory is an in-memory identity source. It is immutable after
// construction and safe for concurrent use.
type Directory struct {
	users  map[string]User
	tokens map[string]string // token -> principal
}

// NewDirectory builds a directory from the given users and static bearer
// tokens. Run-as references must resolve to another user; a dangling
// reference is a construction error so it surfaces at startup.
func NewDirectory(users []User, tokens map[string]string) (*Directory, error) {
	d := &Directory{
		users:  make(map[string]User, len(users)),
		tokens: make(map[string]string, len(tokens)),
	}
	for _, u := range users {
		if u.Username == "" {
			return nil, fmt.Errorf("user with empty username")
		}
		if _, dup := d.users[u.Username]; dup {
			return nil, fmt.Errorf("duplicate user %q", u.Username)
		}
		d.users[u.Username] = u
	}
	for _, u := range users {
		if u.RunAs == "" {
			continue
		}
		target, ok := d.users[u.RunAs]
		if !ok {
			return nil, fmt.Errorf("user %q runs as unknown user %q", u.Username, u.RunAs)
		}
		if target.RunAs != "" {
			return nil, fmt.Errorf("user %q runs as %q which itself declares run_as; nesting is not supported", u.Username, u.RunAs)
		}
	}
	for token, principal := range tokens {
		if token == "" || principal == "" {
			return nil, fmt.Errorf("token entries require both token and principal")
		}
		d.tokens[token] = principal
	}
	return d, nil
}

// Check implements stages.CredentialChecker. Both the unknown-user and the
// wrong-password cases return stages.ErrBadCredentials so callers cannot
// probe for valid usernames.
func (d *Directory) Check(_ context.Context, username, password string) (domain.Authentication, error) {
	u, ok := d.users[username]
	// Compare against the stored password even for unknown users so both
	// paths cost the same.
	stored := u.Password
	if subtle.ConstantTimeCompare([]byte(stored), []byte(password)) != 1 || !ok {
		return domain.Unauthenticated(), stages.ErrBadCredentials
	}
	return d.authenticationFor(u), nil
}

// Introspect implements stages.TokenIntrospector for the static token set.
func (d *Directory) Introspect(_ context.Context, token string) (domain.Authentication, error) {
	principal, ok := d.tokens[token]
	if !ok {
		return domain.Unauthenticated(), stages.ErrBadCredentials
	}
	if u, known := d.users[principal]; known {
		return d.authenticationFor(u), nil
	}
	return domain.NewAuthentication(principal), nil
}

// Authorities implements stages.AuthoritiesResolver for remember-me
// restores. An unknown principal resolves to no authorities rather than an
// error: the token was valid, the directory entry may simply have been
// removed since it was issued.
func (d *Directory) Authorities(_ context.Context, principal string) ([]string, error) {
	u, ok := d.users[principal]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), u.Authorities...), nil
}

func (d *Directory) authenticationFor(u User) domain.Authentication {
	auth := domain.NewAuthentication(u.Username, u.Authorities...)
	if u.RunAs != "" {
		target := d.users[u.RunAs]
		runAs := domain.NewAuthentication(target.Username, target.Authorities...)
		auth.RunAs = &runAs
	}
	return auth
}
