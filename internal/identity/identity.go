// Package identity holds the authenticated identity attached to a connection
// at handshake time and the authenticators that establish it.
package identity

import (
	"context"
	"errors"
	"strings"
)

// ErrUnauthenticated is returned when handshake metadata carries no usable user id.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the immutable identity of one connection.
type Identity struct {
	UserID      string
	DisplayName string
}

// New trims its inputs and builds an Identity. The display name falls back to
// the user id.
func New(userID, displayName string) (Identity, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Identity{}, ErrUnauthenticated
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = userID
	}
	return Identity{UserID: userID, DisplayName: displayName}, nil
}

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
