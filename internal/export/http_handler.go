package export

import (
	"bytes"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/arudel/reconcile/internal/auth"
)

// Handler exposes notification report downloads.
type Handler struct {
	service *Service
}

// RegisterRoutes mounts the download endpoint on the mux.
func RegisterRoutes(mux *http.ServeMux, service *Service) {
	h := &Handler{service: service}
	mux.HandleFunc("GET /projects/{projectId}/notifications/export", h.download)
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.PathValue("projectId"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid project id: %v", err), http.StatusBadRequest)
		return
	}
	if err := auth.EnforceProjectScope(r.Context(), projectID); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var buf bytes.Buffer
	if _, err := h.service.WriteReport(r.Context(), projectID, format, &buf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	switch format {
	case FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
	default:
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=notifications_%s.%s", projectID, format))
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Printf("[EXPORT] failed to stream report for project %s: %v", projectID, err)
	}
}
