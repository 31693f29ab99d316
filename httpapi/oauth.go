package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/fenrick/MiroDiagramming/tokenauth"
)

// handleOAuthCallback exchanges the authorization code for tokens and
// redirects to the client app. state must carry a non-empty user_id after
// its first colon (the shape produced by the login redirect); a missing or
// malformed state fails 400 rather than falling back to a placeholder user,
// per this system's redesign of the original's "unknown" behavior.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	userID, ok := verifiedUserID(state)
	if !ok {
		writeError(w, newError(BadRequest, "invalid or unverified oauth state"))
		return
	}
	if code == "" {
		writeError(w, newError(BadRequest, "missing authorization code"))
		return
	}

	ctx := r.Context()
	tokens, err := s.oauth.ExchangeCode(ctx, code, s.cfg.OAuthRedirectURI)
	if err != nil {
		s.log.Error("oauth code exchange failed", "user_id", userID, "err", err)
		writeError(w, newError(BadRequest, "could not exchange authorization code"))
		return
	}

	sealedAccess, err := s.sealer.Seal(tokens.AccessToken)
	if err != nil {
		s.log.Error("sealing access token failed", "user_id", userID, "err", err)
		writeError(w, newError(Internal, "could not store tokens"))
		return
	}
	sealedRefresh, err := s.sealer.Seal(tokens.RefreshToken)
	if err != nil {
		s.log.Error("sealing refresh token failed", "user_id", userID, "err", err)
		writeError(w, newError(Internal, "could not store tokens"))
		return
	}

	now := time.Now()
	user := &tokenauth.User{
		ID:                 userID,
		SealedAccessToken:  sealedAccess,
		SealedRefreshToken: sealedRefresh,
		ExpiresAt:          now.Add(tokens.ExpiresIn),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.users.Put(ctx, user); err != nil {
		s.log.Error("persisting oauth tokens failed", "user_id", userID, "err", err)
		writeError(w, newError(Internal, "could not store tokens"))
		return
	}

	http.Redirect(w, r, "/app.html", http.StatusTemporaryRedirect)
}

// verifiedUserID extracts user_id from a state value of the form
// "<nonce>:<user_id>", as produced by the login redirect. It reports false
// if state is empty, carries no colon, or the user_id half is empty.
func verifiedUserID(state string) (string, bool) {
	if state == "" {
		return "", false
	}
	_, userID, found := strings.Cut(state, ":")
	if !found || userID == "" {
		return "", false
	}
	return userID, true
}
