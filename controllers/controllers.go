package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/blogem/cmdb/apperr"
	"github.com/blogem/cmdb/authenticator"
	"github.com/blogem/cmdb/models"
	"github.com/blogem/cmdb/services"
)

// writeJSON renders v with the given status code
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// writeError renders err as an error envelope. Internal failures are logged with their cause
// and reported to the client without it.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	code := apperr.KindOf(err).HTTPStatus()
	if code >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, code, models.ErrorEnvelope(code, apperr.Message(err)))
}

// Controllers holds all controller instances
type Controllers struct {
	Auth *AuthController
	API  *APIController
}

// NewControllers creates and initializes all controller instances. provider may be nil when
// browser login is not configured.
func NewControllers(services *services.Services, provider authenticator.Provider, groupsClaim string, logger *zap.Logger) *Controllers {
	return &Controllers{
		Auth: NewAuthController(provider, groupsClaim, logger),
		API:  NewAPIController(services, logger),
	}
}

// Mount registers the API routes. Writes go through protect.
func (c *Controllers) Mount(r chi.Router, protect func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/{resource}", c.API.Search)
		r.Get("/{resource}/one", c.API.GetOne)
		r.Get("/{resource}/{id}", c.API.Get)
		r.Get("/{resource}/{id}/audit", c.API.History)

		r.Group(func(r chi.Router) {
			r.Use(protect)

			r.Put("/register", c.API.Register)
			r.Post("/{resource}", c.API.Create)
			r.Put("/{resource}", c.API.Upsert)
			r.Put("/{resource}/{id}", c.API.Update)
			r.Delete("/{resource}/{id}", c.API.Delete)
			r.Put("/{resource}/{id}/{relationship}", c.API.Assign)
		})
	})

	if c.Auth.provider != nil {
		r.Get("/login", c.Auth.Login)
		r.Get("/callback", c.Auth.Callback)
		r.Get("/logout", c.Auth.Logout)
	}
}
