package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"gitea.com/go-chi/session"
	"go.uber.org/zap"

	"github.com/blogem/cmdb/authenticator"
	"github.com/blogem/cmdb/models"
	"github.com/blogem/cmdb/userctx"
)

// Session keys written on login
const (
	SessionUser   = "user"
	SessionGroups = "groups"
)

// Identify attaches the request's actor to its context. A bearer token is checked with
// verifier; without one the browser session is used, and session actors are UI callers.
// A request that presents an invalid token is rejected.
func Identify(verifier authenticator.Verifier, groupsClaim string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw, ok := bearerToken(r); ok {
				if verifier == nil {
					writeError(w, http.StatusUnauthorized, "bearer tokens are not accepted")
					return
				}
				claims, err := verifier.Verify(r.Context(), raw)
				if err != nil {
					logger.Info("rejected bearer token", zap.String("ip", getIPAddress(r)), zap.Error(err))
					writeError(w, http.StatusUnauthorized, "invalid bearer token")
					return
				}
				actor := claims.Actor(groupsClaim)
				next.ServeHTTP(w, r.WithContext(userctx.SetActor(r.Context(), actor)))
				return
			}

			if sess := session.GetSession(r); sess != nil {
				if user, ok := sess.Get(SessionUser).(string); ok && user != "" {
					groups, _ := sess.Get(SessionGroups).([]string)
					actor := userctx.Actor{Name: user, Groups: groups, UI: true}
					next.ServeHTTP(w, r.WithContext(userctx.SetActor(r.Context(), actor)))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireActor rejects anonymous requests
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !userctx.IsAuthenticated(r.Context()) {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(models.ErrorEnvelope(code, message))
}
