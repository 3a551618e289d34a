package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/bidlink/marketplace-core/internal/audit"
	apperrors "github.com/bidlink/marketplace-core/internal/errors"
	"github.com/bidlink/marketplace-core/internal/httputil"
	"github.com/bidlink/marketplace-core/internal/util"
)

// BridgeAuthMiddleware admits only callers presenting the bridge token. It is
// unrelated to the marketplace session; the rendering layer never sees the
// session credential.
type BridgeAuthMiddleware struct {
	token string
}

func NewBridgeAuthMiddleware(token string) *BridgeAuthMiddleware {
	if token == "" {
		log.Warn().Msg("BRIDGE_TOKEN is empty, bridge accepts unauthenticated local callers")
	}
	return &BridgeAuthMiddleware{token: token}
}

func (m *BridgeAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := extractToken(r)
		if token == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing bridge token"))
			return
		}

		if !util.ConstantTimeEqual(token, m.token) {
			audit.Log(r.Context(), audit.Event{
				Type:        audit.EventBridgeAuthFail,
				Fingerprint: util.Fingerprint(token),
				Details:     map[string]interface{}{"path": r.URL.Path, "remote": r.RemoteAddr},
			})
			httputil.WriteError(w, apperrors.Unauthorized("Invalid bridge token"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractToken accepts the query parameter for EventSource clients, which
// cannot set headers.
func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}
