package identity

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	req := require.New(t)

	id, err := New("  usr_1 ", "")
	req.NoError(err)
	req.Equal(Identity{UserID: "usr_1", DisplayName: "usr_1"}, id)

	id, err = New("usr_2", " Alice ")
	req.NoError(err)
	req.Equal("Alice", id.DisplayName)

	_, err = New("   ", "Alice")
	req.ErrorIs(err, ErrUnauthenticated)
}

func TestContextRoundTrip(t *testing.T) {
	req := require.New(t)

	_, ok := FromContext(context.Background())
	req.False(ok)

	want := Identity{UserID: "u", DisplayName: "U"}
	got, ok := FromContext(WithIdentity(context.Background(), want))
	req.True(ok)
	req.Equal(want, got)
}

func TestMetadataAuthenticator(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		headers map[string]string
		want    Identity
		wantErr bool
	}{
		{name: "query params", target: "/ws?userId=u1&displayName=Alice", want: Identity{UserID: "u1", DisplayName: "Alice"}},
		{name: "username alias", target: "/ws?userId=u1&username=al", want: Identity{UserID: "u1", DisplayName: "al"}},
		{name: "headers", target: "/ws", headers: map[string]string{"X-User-Id": "u2", "X-Display-Name": "Bob"}, want: Identity{UserID: "u2", DisplayName: "Bob"}},
		{name: "missing user", target: "/ws?displayName=Alice", wantErr: true},
		{name: "empty user", target: "/ws?userId=", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.target, nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			got, err := MetadataAuthenticator{}.Authenticate(r)
			if tt.wantErr {
				require.True(t, IsUnauthenticated(err))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestTokenAuthenticator(t *testing.T) {
	req := require.New(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	auth := NewTokenAuthenticator("secret", "huddle")
	auth.now = func() time.Time { return now }

	token, err := auth.Issue(Identity{UserID: "u1", DisplayName: "Alice"}, time.Minute)
	req.NoError(err)

	r := httptest.NewRequest("GET", "/ws?token="+token, nil)
	id, err := auth.Authenticate(r)
	req.NoError(err)
	req.Equal(Identity{UserID: "u1", DisplayName: "Alice"}, id)

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	id, err = auth.Authenticate(r)
	req.NoError(err)
	req.Equal("u1", id.UserID)

	_, err = auth.Authenticate(httptest.NewRequest("GET", "/ws", nil))
	req.ErrorIs(err, ErrUnauthenticated)

	other := NewTokenAuthenticator("other-secret", "huddle")
	_, err = other.Authenticate(httptest.NewRequest("GET", "/ws?token="+token, nil))
	req.ErrorIs(err, ErrUnauthenticated)

	auth.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, err = auth.Authenticate(httptest.NewRequest("GET", "/ws?token="+token, nil))
	req.ErrorIs(err, ErrUnauthenticated)
}

func TestAuthorizers(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	id := Identity{UserID: "u1"}

	req.NoError(TrustAll{}.AuthorizeChannel(ctx, id, "c1"))

	deny := AuthorizerFunc(func(_ context.Context, _ Identity, channelID string) error {
		if channelID == "secret" {
			return ErrForbidden
		}
		return nil
	})
	req.NoError(deny.AuthorizeChannel(ctx, id, "c1"))
	req.True(errors.Is(deny.AuthorizeChannel(ctx, id, "secret"), ErrForbidden))
}
