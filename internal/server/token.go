package server

import (
	"context"
	"log/slog"
	"net/http"
)

// TokenIssuer acquires a short-lived voice session credential from the
// upstream agent service. The server's own API key stays server-side;
// clients only ever see the session token. wsagent.Provider satisfies
// this interface.
type TokenIssuer interface {
	AcquireToken(ctx context.Context) (string, error)
}

// tokenResponse is the body of a successful token request.
type tokenResponse struct {
	Token string `json:"token"`
}

// issueToken proxies a credential request to the agent service. Upstream
// failures surface as 502 so the client can distinguish hub errors from
// agent-service errors.
func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		s.metrics.RecordTokenRequest(r.Context(), "unconfigured")
		writeError(w, http.StatusServiceUnavailable, "voice sessions are not configured")
		return
	}

	token, err := s.tokens.AcquireToken(r.Context())
	if err != nil {
		s.metrics.RecordTokenRequest(r.Context(), "error")
		slog.Warn("token acquisition failed", "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.metrics.RecordTokenRequest(r.Context(), "ok")
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}
