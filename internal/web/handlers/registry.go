package handlers

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/classeye/attendance/internal/database"
	"github.com/classeye/attendance/internal/registry"
)

// RegistryHandler rebuilds and inspects course registries.
type RegistryHandler struct {
	registry *registry.Registry
	store    database.RosterStore
}

// NewRegistryHandler creates a new registry handler.
func NewRegistryHandler(reg *registry.Registry, store database.RosterStore) *RegistryHandler {
	return &RegistryHandler{registry: reg, store: store}
}

// Rebuild handles POST /api/v1/registry/{courseID}/rebuild. The new snapshot
// is built from stored reference embeddings and published atomically;
// matching against the previous snapshot finishes undisturbed.
func (h *RegistryHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")

	snap, err := h.registry.LoadCourse(r.Context(), h.store, courseID)
	if err != nil {
		log.Printf("Registry rebuild for %s failed: %v", sanitizeForLog(courseID), err)
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"course_id":  snap.CourseID,
		"students":   snap.Students(),
		"embeddings": snap.Size(),
		"indexed":    snap.Indexed(),
		"built_at":   snap.BuiltAt,
	})
}

// List handles GET /api/v1/registry.
func (h *RegistryHandler) List(w http.ResponseWriter, r *http.Request) {
	courses := h.registry.Courses()
	out := make([]map[string]any, 0, len(courses))
	for _, courseID := range courses {
		snap, ok := h.registry.Snapshot(courseID)
		if !ok {
			continue
		}
		out = append(out, map[string]any{
			"course_id":  courseID,
			"students":   snap.Students(),
			"embeddings": snap.Size(),
			"indexed":    snap.Indexed(),
			"built_at":   snap.BuiltAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"courses": out})
}
