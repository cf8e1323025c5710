package identity

import (
	"context"
	"errors"
)

// ErrForbidden is returned by a ChannelAuthorizer that denies access.
var ErrForbidden = errors.New("forbidden")

// ChannelAuthorizer decides whether an identity may use a channel. The
// gateway consults it on join and send; the voice handler on token issue.
type ChannelAuthorizer interface {
	AuthorizeChannel(ctx context.Context, id Identity, channelID string) error
}

// TrustAll accepts every channel id. Channel ids reach clients only through
// the workspace service, which performs membership checks on its own routes.
type TrustAll struct{}

// AuthorizeChannel implements ChannelAuthorizer.
func (TrustAll) AuthorizeChannel(context.Context, Identity, string) error { return nil }

// AuthorizerFunc adapts a function to ChannelAuthorizer.
type AuthorizerFunc func(ctx context.Context, id Identity, channelID string) error

// AuthorizeChannel implements ChannelAuthorizer.
func (f AuthorizerFunc) AuthorizeChannel(ctx context.Context, id Identity, channelID string) error {
	return f(ctx, id, channelID)
}
