package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/blogem/cmdb/apperr"
	"github.com/blogem/cmdb/models"
	"github.com/blogem/cmdb/registry"
	"github.com/blogem/cmdb/services"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 4 << 20

// APIController handles the JSON record API
type APIController struct {
	services *services.Services
	logger   *zap.Logger
}

// NewAPIController creates a new API controller
func NewAPIController(services *services.Services, logger *zap.Logger) *APIController {
	return &APIController{
		services: services,
		logger:   logger,
	}
}

// queryParams flattens the query string. Repeated keys are joined with commas, which filters
// read as alternatives.
func queryParams(r *http.Request) map[string]string {
	params := make(map[string]string)
	for key, values := range r.URL.Query() {
		params[key] = strings.Join(values, ",")
	}
	return params
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.BadRequest("invalid id %q", raw)
	}
	return id, nil
}

// decode reads a JSON body into v keeping numbers exact
func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.UseNumber()
	if err := decoder.Decode(v); err != nil {
		return apperr.BadRequest("invalid request body: %v", err)
	}
	return nil
}

// respondRecord renders a written record the way reads render it
func (c *APIController) respondRecord(w http.ResponseWriter, r *http.Request, resource string, rec *models.Record) {
	envelope, err := c.services.Query.Get(r.Context(), resource, rec.ID, services.FieldsAll)
	if err != nil {
		writeError(w, r, c.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope)
}

// Search handles GET /api/{resource}
func (c *APIController) Search(w http.ResponseWriter, r *http.Request) {
	envelope, err := c.services.Query.Search(r.Context(), chi.URLParam(r, "resource"), queryParams(r))
	if err != nil {
		writeError(w, r, c.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope)
}

// GetOne handles GET /api/{resource}/one
func (c *APIController) GetOne(w http.ResponseWriter, r *http.Request) {
	envelope, err := c.services.Query.GetOne(r.Context(), chi.URLParam(r, "resource"), queryParams(r))
	if err != nil {
		writeError(w, r, c.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope)
}

// Get handles GET /api/{resource}/{id}
func (c *APIController) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, c.logger, err)
		return
	}

	envelope, err := c.services.Query.Get(r.Context(), chi.URLParam(r, "resource"), id, r.URL.Query().Get("fields"))
	if err != nil {
		writeError(w, r, c.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope)
}

// History handles GET /api/{resource}/{id}/audit
func (c *APIController) History(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, c.logger, err)
		return
	}

	envelope, err := c.services.Query.History(r.Context(), chi.URLParam(r, "resource"), id)
	if err != nil {
		writeError(w, r, c.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope)
}

// Create handles POST /api/{resource}
func (c *APIController) Create(w http.ResponseWriter, r *http.Request) {
	var payload map[string]interface{}
	if err := decode(w, r, &payload); err != nil {
		writeError(w, r, c.logger, err)
		return
	}

	resource := chi.URLParam(r, "resource")
	rec, err := c.services.Mutations.Create(r.Context(), resource, payload)
	if err != nil {
		writeError(w, r, c.logger, err)
		return
	}
	c.respondRecord(w, r, resource, rec)
}

// Upsert handles PUT /api/{resource}
func (c *APIController) Upsert(w http.ResponseWriter, r *http.Request) {
	var payload map[string]interface{}
	if err := decode(w, r, &payload); err != nil {
		writeError(w, r, c.logger, err)
		return
	}

	resource := chi.URLParam(r, "resource")
	rec, err := c.services.Mutations.Upsert(r.Context(), resource, payload)
	if err != nil {
		writeError(w, r, c.logger, err)
		return
	}
	c.respondRecord(w, r, resource, rec)
}

// Update handles PUT /api/{resource}/{id}
func (c *APIController) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, c.logger, err)
		return
	}
	var payload map[string]interface{}
	if err := decode(w, r, &payload); err != nil {
		writeError(w, r, c.logger, err)
		return
	}

	resource := chi.URLParam(r, "resource")
	rec, err := c.services.Mutations.Update(r.Context(), resource, id, payload)
	if err != nil {
		writeError(w, r, c.logger, err)
		return
	}
	c.respondRecord(w, r, resource, rec)
}

// Delete handles DELETE /api/{resource}/{id}
func (c *APIController) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, c.logger, err)
		return
	}

	if err := c.services.Mutations.Delete(r.Context(), chi.URLParam(r, "resource"), id); err != nil {
		writeError(w, r, c.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewEnvelope(0, nil))
}

// Assign handles PUT /api/{resource}/{id}/{relationship}
func (c *APIController) Assign(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, c.logger, err)
		return
	}
	var form models.AssignmentForm
	if err := decode(w, r, &form); err != nil {
		writeError(w, r, c.logger, err)
		return
	}

	items, err := c.services.Assignments.Apply(r.Context(), chi.URLParam(r, "resource"), id, chi.URLParam(r, "relationship"), &form)
	if err != nil {
		writeError(w, r, c.logger, err)
		return
	}

	results := make([]interface{}, len(items))
	failed := 0
	for i, item := range items {
		results[i] = item
		if !item.OK() {
			failed++
		}
	}
	envelope := models.NewEnvelope(len(items), results)
	if failed > 0 {
		envelope.HTTPStatus.Message = fmt.Sprintf("%d of %d items failed", failed, len(items))
	}
	writeJSON(w, http.StatusOK, envelope)
}

// Register handles PUT /api/register
func (c *APIController) Register(w http.ResponseWriter, r *http.Request) {
	var form models.RegistrationForm
	if err := decode(w, r, &form); err != nil {
		writeError(w, r, c.logger, err)
		return
	}

	rec, err := c.services.Registration.Register(r.Context(), &form)
	if err != nil {
		writeError(w, r, c.logger, err)
		return
	}
	c.respondRecord(w, r, registry.Nodes, rec)
}
