// Package voice issues access tokens for the external media service that
// hosts voice channels. A voice channel's media room is named after the
// channel id, so text and voice identities stay correlated.
package voice

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/huddle/internal/identity"
)

const roomPrefix = "voice_"

// ErrNotConfigured is returned when no API key or secret is set.
var ErrNotConfigured = errors.New("voice service is not configured")

// RoomName returns the media room for a channel.
func RoomName(channelID string) string {
	return roomPrefix + channelID
}

// ChannelID reverses RoomName.
func ChannelID(roomName string) (string, bool) {
	channelID, ok := strings.CutPrefix(roomName, roomPrefix)
	if !ok || channelID == "" {
		return "", false
	}
	return channelID, true
}

// VideoGrant is the room permission set carried by a media access token.
type VideoGrant struct {
	Room         string `json:"room"`
	RoomJoin     bool   `json:"roomJoin"`
	CanPublish   bool   `json:"canPublish"`
	CanSubscribe bool   `json:"canSubscribe"`
}

// Claims is the payload of a media access token.
type Claims struct {
	Name  string      `json:"name,omitempty"`
	Video *VideoGrant `json:"video,omitempty"`
	jwt.RegisteredClaims
}

// Token is the response handed to a client joining a voice channel.
type Token struct {
	URL      string `json:"url"`
	RoomName string `json:"roomName"`
	Token    string `json:"token"`
}

// Issuer signs media access tokens with the service API key pair.
type Issuer struct {
	url       string
	apiKey    string
	apiSecret string
	ttl       time.Duration
	now       func() time.Time
}

// NewIssuer returns an Issuer. An empty key or secret yields an issuer whose
// Issue always fails with ErrNotConfigured.
func NewIssuer(url, apiKey, apiSecret string, ttl time.Duration) *Issuer {
	return &Issuer{url: url, apiKey: apiKey, apiSecret: apiSecret, ttl: ttl, now: time.Now}
}

// Configured reports whether the issuer has credentials.
func (i *Issuer) Configured() bool {
	return i.apiKey != "" && i.apiSecret != ""
}

// Issue signs a token letting id join, publish to, and subscribe in the
// voice room of channelID.
func (i *Issuer) Issue(id identity.Identity, channelID string) (Token, error) {
	if !i.Configured() {
		return Token{}, ErrNotConfigured
	}
	now := i.now()
	room := RoomName(channelID)
	claims := Claims{
		Name: id.DisplayName,
		Video: &VideoGrant{
			Room:         room,
			RoomJoin:     true,
			CanPublish:   true,
			CanSubscribe: true,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.apiKey,
			Subject:   id.UserID,
			ID:        id.UserID,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.apiSecret))
	if err != nil {
		return Token{}, fmt.Errorf("sign voice token: %w", err)
	}
	return Token{URL: i.url, RoomName: room, Token: signed}, nil
}
