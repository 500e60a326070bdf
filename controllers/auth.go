package controllers

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"

	"gitea.com/go-chi/session"
	"go.uber.org/zap"

	"github.com/blogem/cmdb/authenticator"
	authmiddleware "github.com/blogem/cmdb/middleware"
)

// AuthController handles browser login through the OpenID Connect provider
type AuthController struct {
	provider    authenticator.Provider
	groupsClaim string
	logger      *zap.Logger
}

// NewAuthController creates a new auth controller
func NewAuthController(provider authenticator.Provider, groupsClaim string, logger *zap.Logger) *AuthController {
	return &AuthController{
		provider:    provider,
		groupsClaim: groupsClaim,
		logger:      logger,
	}
}

// Login initiates the authentication process
func (ac *AuthController) Login(w http.ResponseWriter, r *http.Request) {
	// Generate random state
	state, err := generateRandomState()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Save the state in the session to validate in callback
	sess := session.GetSession(r)
	sess.Set("state", state)

	http.Redirect(w, r, ac.provider.GetAuthURL(state), http.StatusTemporaryRedirect)
}

// Callback handles the callback from the provider
func (ac *AuthController) Callback(w http.ResponseWriter, r *http.Request) {
	sess := session.GetSession(r)

	// Verify state
	storedState, ok := sess.Get("state").(string)
	if !ok {
		http.Error(w, "State not found in session", http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("state") != storedState {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	// Exchange the code for a token
	token, err := ac.provider.ExchangeCode(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		http.Error(w, "Failed to exchange authorization code for a token", http.StatusUnauthorized)
		return
	}

	claims, err := ac.provider.GetClaims(r.Context(), token)
	if err != nil {
		ac.logger.Warn("failed to verify id token", zap.Error(err))
		http.Error(w, "Failed to verify ID Token", http.StatusUnauthorized)
		return
	}

	actor := claims.Actor(ac.groupsClaim)
	if actor.Name == "" {
		http.Error(w, "ID token carries no usable identity", http.StatusUnauthorized)
		return
	}
	sess.Set(authmiddleware.SessionUser, actor.Name)
	sess.Set(authmiddleware.SessionGroups, actor.Groups)
	sess.Delete("state")

	ac.logger.Info("user logged in", zap.String("user", actor.Name), zap.Strings("groups", actor.Groups))
	http.Redirect(w, r, "/api/nodes", http.StatusSeeOther)
}

// Logout clears the session
func (ac *AuthController) Logout(w http.ResponseWriter, r *http.Request) {
	sess := session.GetSession(r)
	sess.Delete(authmiddleware.SessionUser)
	sess.Delete(authmiddleware.SessionGroups)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// generateRandomState generates a random state value for CSRF protection
func generateRandomState() (string, error) {
	b := make([]byte, 32)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
