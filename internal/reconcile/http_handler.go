package reconcile

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/arudel/reconcile/internal/auth"
	"github.com/arudel/reconcile/internal/domain"
)

// Handler exposes the notification API over HTTP.
type Handler struct {
	coordinator *Coordinator
}

// RegisterRoutes mounts the notification endpoints on the mux.
func RegisterRoutes(mux *http.ServeMux, coordinator *Coordinator) {
	h := &Handler{coordinator: coordinator}
	mux.HandleFunc("GET /notifications", h.listPending)
	mux.HandleFunc("POST /notifications/{id}/accept", h.accept)
	mux.HandleFunc("POST /notifications/{id}/ignore", h.ignore)
	mux.HandleFunc("POST /projects/{projectId}/notifications/accept-all", h.acceptAll)
	mux.HandleFunc("POST /projects/{projectId}/notifications/ignore-all", h.ignoreAll)
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.URL.Query().Get("projectId"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid project id: %v", err), http.StatusBadRequest)
		return
	}
	if err := auth.EnforceProjectScope(r.Context(), projectID); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	pending, err := h.coordinator.ListPending(r.Context(), projectID)
	if err != nil {
		writeReconcileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": pending})
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, domain.ResolutionAccept)
}

func (h *Handler) ignore(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, domain.ResolutionIgnore)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, action domain.ResolutionAction) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid notification id: %v", err), http.StatusBadRequest)
		return
	}

	if action == domain.ResolutionAccept {
		err = h.coordinator.AcceptNotification(r.Context(), id)
	} else {
		err = h.coordinator.IgnoreNotification(r.Context(), id)
	}
	if err != nil {
		writeReconcileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": action.Status()})
}

func (h *Handler) acceptAll(w http.ResponseWriter, r *http.Request) {
	h.resolveAll(w, r, domain.ResolutionAccept)
}

func (h *Handler) ignoreAll(w http.ResponseWriter, r *http.Request) {
	h.resolveAll(w, r, domain.ResolutionIgnore)
}

func (h *Handler) resolveAll(w http.ResponseWriter, r *http.Request, action domain.ResolutionAction) {
	projectID, err := uuid.Parse(r.PathValue("projectId"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid project id: %v", err), http.StatusBadRequest)
		return
	}
	if err := auth.EnforceProjectScope(r.Context(), projectID); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	var results []ResolutionResult
	if action == domain.ResolutionAccept {
		results, err = h.coordinator.AcceptAll(r.Context(), projectID)
	} else {
		results, err = h.coordinator.IgnoreAll(r.Context(), projectID)
	}
	if err != nil {
		writeReconcileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// writeReconcileError maps the engine's error taxonomy onto HTTP statuses.
func writeReconcileError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	case domain.IsUnsupportedEntityType(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case domain.IsConcurrentModification(err):
		http.Error(w, err.Error(), http.StatusConflict)
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
