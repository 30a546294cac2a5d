package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/arudel/reconcile/internal/auth"
	"github.com/arudel/reconcile/internal/domain"
)

// Handler exposes catalog and override management over HTTP.
type Handler struct {
	service *Service
}

// RegisterRoutes mounts the catalog and override endpoints on the mux.
func RegisterRoutes(mux *http.ServeMux, service *Service) {
	h := &Handler{service: service}
	mux.HandleFunc("POST /catalog/{entityType}", h.createEntity)
	mux.HandleFunc("GET /catalog/{entityType}", h.listEntities)
	mux.HandleFunc("GET /catalog/{entityType}/{id}", h.getEntity)
	mux.HandleFunc("PUT /catalog/{entityType}/{id}", h.updateEntity)
	mux.HandleFunc("DELETE /catalog/{entityType}/{id}", h.deleteEntity)
	mux.HandleFunc("POST /overrides", h.createOverride)
	mux.HandleFunc("DELETE /overrides/{projectId}/{entityType}/{id}", h.removeOverride)
}

type entityRequest struct {
	Fields domain.FieldMap `json:"fields"`
}

func (h *Handler) createEntity(w http.ResponseWriter, r *http.Request) {
	var req entityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	entity, err := h.service.CreateEntity(r.Context(), r.PathValue("entityType"), req.Fields)
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entity)
}

func (h *Handler) listEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := h.service.ListEntities(r.Context(), r.PathValue("entityType"))
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": entities})
}

func (h *Handler) getEntity(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid entity id: %v", err), http.StatusBadRequest)
		return
	}

	entity, err := h.service.GetEntity(r.Context(), r.PathValue("entityType"), id)
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

func (h *Handler) updateEntity(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid entity id: %v", err), http.StatusBadRequest)
		return
	}

	var req entityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	entity, err := h.service.UpdateEntity(r.Context(), r.PathValue("entityType"), id, req.Fields)
	if err != nil {
		// The write committed even when change detection failed; report the
		// updated entity so the caller knows only detection needs a retry.
		var reconcileErr *ReconciliationFailedError
		if errors.As(err, &reconcileErr) {
			writeJSON(w, http.StatusOK, map[string]any{
				"entity":  entity,
				"warning": reconcileErr.Error(),
			})
			return
		}
		writeCatalogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

func (h *Handler) deleteEntity(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid entity id: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteEntity(r.Context(), r.PathValue("entityType"), id); err != nil {
		writeCatalogError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type overrideRequest struct {
	ProjectID        uuid.UUID       `json:"project_id"`
	EntityType       string          `json:"entity_type"`
	GlobalEntityID   uuid.UUID       `json:"global_entity_id"`
	OverriddenFields domain.FieldMap `json:"overridden_fields"`
	TrackedFields    []string        `json:"tracked_fields,omitempty"`
}

func (h *Handler) createOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.ProjectID == uuid.Nil {
		http.Error(w, "project_id is required", http.StatusBadRequest)
		return
	}
	if err := auth.EnforceProjectScope(r.Context(), req.ProjectID); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	createdBy := auth.ActorFromContext(r.Context())
	override, err := h.service.CreateOverride(
		r.Context(), req.ProjectID, strings.TrimSpace(req.EntityType), req.GlobalEntityID,
		req.OverriddenFields, req.TrackedFields, createdBy,
	)
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, override)
}

func (h *Handler) removeOverride(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.PathValue("projectId"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid project id: %v", err), http.StatusBadRequest)
		return
	}
	if err := auth.EnforceProjectScope(r.Context(), projectID); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid entity id: %v", err), http.StatusBadRequest)
		return
	}

	ref := domain.OverrideRef{
		ProjectID:      projectID,
		EntityType:     r.PathValue("entityType"),
		GlobalEntityID: id,
	}
	if err := h.service.RemoveOverride(r.Context(), ref); err != nil {
		writeCatalogError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeCatalogError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	case domain.IsUnsupportedEntityType(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf("failed to encode response: %v", err), http.StatusInternalServerError)
	}
}
