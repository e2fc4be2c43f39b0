// Package session carries the opaque storefront session through service calls.
//
// A session id correlates anonymous activity (cart, behavior events, popup
// offers) and is not a credential.
package session

import (
	"context"
	"errors"
	"regexp"

	"github.com/google/uuid"
)

const (
	HeaderName = "X-Session-ID"
	CookieName = "session_id"
)

var ErrInvalidID = errors.New("invalid session id")

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

type Context struct {
	ID         string
	CustomerID string
	Role       string
}

func New(id string) (Context, error) {
	if !Valid(id) {
		return Context{}, ErrInvalidID
	}
	return Context{ID: id}, nil
}

// Mint creates a session with a fresh random id.
func Mint() Context {
	return Context{ID: uuid.NewString()}
}

func Valid(id string) bool {
	return idPattern.MatchString(id)
}

func (c Context) Authenticated() bool {
	return c.CustomerID != ""
}

type ctxKey struct{}

func IntoContext(ctx context.Context, s Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) (Context, bool) {
	s, ok := ctx.Value(ctxKey{}).(Context)
	return s, ok
}
