package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const bearerPrefix = "Bearer "

// Authenticator resolves the identity for an incoming connection request.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

// MetadataAuthenticator trusts the user id supplied in the handshake, either
// as query parameters (userId, displayName or username) or as the
// X-User-Id / X-Display-Name headers.
type MetadataAuthenticator struct{}

// Authenticate implements Authenticator.
func (MetadataAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	query := r.URL.Query()
	userID := firstNonEmpty(query.Get("userId"), r.Header.Get("X-User-Id"))
	displayName := firstNonEmpty(query.Get("displayName"), query.Get("username"), r.Header.Get("X-Display-Name"))
	return New(userID, displayName)
}

// Claims is the payload of a handshake token.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenAuthenticator verifies an HS256 token carried in the token query
// parameter or an Authorization bearer header. The subject is the user id.
type TokenAuthenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenAuthenticator returns a TokenAuthenticator signing and verifying with secret.
func NewTokenAuthenticator(secret, issuer string) *TokenAuthenticator {
	return &TokenAuthenticator{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Issue signs a handshake token for id valid for ttl.
func (a *TokenAuthenticator) Issue(id Identity, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Name: id.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Authenticate implements Authenticator.
func (a *TokenAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("token"))
	if raw == "" {
		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, bearerPrefix) {
			raw = strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
		}
	}
	if raw == "" {
		return Identity{}, ErrUnauthenticated
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return New(claims.Subject, claims.Name)
}

// IsUnauthenticated reports whether err stems from a failed handshake.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
