package voice

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Tyrowin/huddle/internal/identity"
)

type tokenRequest struct {
	ChannelID string `json:"channelId"`
}

// Handler serves POST requests for voice tokens. The caller is identified by
// the X-User-Id header; channel access is checked with authz.
func Handler(issuer *Issuer, authz identity.ChannelAuthorizer, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := identity.New(r.Header.Get("X-User-Id"), r.Header.Get("X-Display-Name"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing_user")
			return
		}

		var body tokenRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil ||
			strings.TrimSpace(body.ChannelID) == "" {
			writeError(w, http.StatusBadRequest, "invalid_body")
			return
		}

		if !issuer.Configured() {
			writeError(w, http.StatusInternalServerError, "livekit_not_configured")
			return
		}

		if err := authz.AuthorizeChannel(r.Context(), id, body.ChannelID); err != nil {
			if errors.Is(err, identity.ErrForbidden) {
				writeError(w, http.StatusForbidden, "not_a_member")
				return
			}
			log.Error("voice channel authorization failed", "user_id", id.UserID, "channel_id", body.ChannelID, "error", err)
			writeError(w, http.StatusServiceUnavailable, "authorization_unavailable")
			return
		}

		token, err := issuer.Issue(id, body.ChannelID)
		if err != nil {
			log.Error("voice token issue failed", "user_id", id.UserID, "channel_id", body.ChannelID, "error", err)
			writeError(w, http.StatusInternalServerError, "token_failed")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(token); err != nil {
			log.Warn("write voice token response", "error", err)
		}
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
