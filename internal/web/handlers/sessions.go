package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/classeye/attendance/internal/database"
	"github.com/classeye/attendance/internal/session"
)

// SessionsHandler drives the session lifecycle for the teacher interface.
type SessionsHandler struct {
	manager *session.Manager
	store   database.Store
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(manager *session.Manager, store database.Store) *SessionsHandler {
	return &SessionsHandler{manager: manager, store: store}
}

// OpenRequest is the body of POST /sessions.
type OpenRequest struct {
	CourseID string `json:"course_id"`
	Date     string `json:"date"`      // YYYY-MM-DD, defaults to today
	StartsAt string `json:"starts_at"` // RFC 3339, defaults to now
	EndsAt   string `json:"ends_at"`   // RFC 3339, defaults to starts_at + 90m
}

// SummaryResponse reports the roster split and attendance rate at close.
type SummaryResponse struct {
	CourseID    string   `json:"course_id"`
	SessionDate string   `json:"session_date"`
	Confirmed   []string `json:"confirmed"`
	Partial     []string `json:"partial"`
	Absent      []string `json:"absent"`
	Present     int      `json:"present"`
	Total       int      `json:"total"`
	Rate        float64  `json:"attendance_rate"`
}

// Open handles POST /api/v1/sessions.
func (h *SessionsHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.CourseID == "" {
		respondError(w, http.StatusBadRequest, "course_id is required")
		return
	}

	now := time.Now().UTC()
	if req.Date == "" {
		req.Date = now.Format(database.DateFormat)
	}

	startsAt := now
	if req.StartsAt != "" {
		t, err := time.Parse(time.RFC3339, req.StartsAt)
		if err != nil {
			respondError(w, http.StatusBadRequest, "starts_at must be RFC 3339")
			return
		}
		startsAt = t
	}
	endsAt := startsAt.Add(90 * time.Minute)
	if req.EndsAt != "" {
		t, err := time.Parse(time.RFC3339, req.EndsAt)
		if err != nil {
			respondError(w, http.StatusBadRequest, "ends_at must be RFC 3339")
			return
		}
		endsAt = t
	}
	if !endsAt.After(startsAt) {
		respondError(w, http.StatusBadRequest, "ends_at must be after starts_at")
		return
	}

	sess, err := h.manager.Open(r.Context(), req.CourseID, req.Date, startsAt, endsAt)
	if err != nil {
		if errors.Is(err, session.ErrSessionClosed) {
			respondError(w, http.StatusConflict, "session was already closed")
			return
		}
		log.Printf("Opening session %s/%s failed: %v", sanitizeForLog(req.CourseID), sanitizeForLog(req.Date), err)
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"course_id":    sess.CourseID,
		"session_date": sess.SessionDate,
		"starts_at":    sess.StartsAt,
		"ends_at":      sess.EndsAt,
		"status":       database.SessionOpen,
	})
}

// LiveStatus handles GET /api/v1/sessions/{courseID}/{date}.
func (h *SessionsHandler) LiveStatus(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")
	date := chi.URLParam(r, "date")

	if sess := h.manager.Get(courseID, date); sess != nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"course_id":    courseID,
			"session_date": date,
			"status":       database.SessionOpen,
			"students":     sess.LiveStatus(),
		})
		return
	}

	stored, err := h.store.GetSession(r.Context(), courseID, date)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if stored == nil {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"course_id":    courseID,
		"session_date": date,
		"status":       stored.Status,
	})
}

// Close handles DELETE /api/v1/sessions/{courseID}/{date}.
func (h *SessionsHandler) Close(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")
	date := chi.URLParam(r, "date")

	summary, err := h.manager.Close(r.Context(), courseID, date)
	if err != nil {
		if errors.Is(err, session.ErrSessionClosed) {
			respondError(w, http.StatusConflict, "session was already closed")
			return
		}
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	total := len(summary.Confirmed) + len(summary.Partial) + len(summary.Absent)
	resp := SummaryResponse{
		CourseID:    summary.CourseID,
		SessionDate: summary.SessionDate,
		Confirmed:   summary.Confirmed,
		Partial:     summary.Partial,
		Absent:      summary.Absent,
		Present:     len(summary.Confirmed),
		Total:       total,
	}
	if total > 0 {
		resp.Rate = float64(len(summary.Confirmed)) / float64(total)
	}
	respondJSON(w, http.StatusOK, resp)
}

// Records handles GET /api/v1/sessions/{courseID}/{date}/records.
func (h *SessionsHandler) Records(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")
	date := chi.URLParam(r, "date")

	records, err := h.store.ListAttendance(r.Context(), courseID, date)
	if err != nil {
		log.Printf("Listing records for %s/%s failed: %v", sanitizeForLog(courseID), sanitizeForLog(date), err)
		respondError(w, http.StatusInternalServerError, "failed to load attendance records")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"course_id":    courseID,
		"session_date": date,
		"records":      records,
		"count":        len(records),
	})
}

// Events handles GET /api/v1/sessions/{courseID}/{date}/events.
func (h *SessionsHandler) Events(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")
	date := chi.URLParam(r, "date")

	events, err := h.store.ListEvents(r.Context(), courseID, date)
	if err != nil {
		log.Printf("Listing events for %s/%s failed: %v", sanitizeForLog(courseID), sanitizeForLog(date), err)
		respondError(w, http.StatusInternalServerError, "failed to load operator events")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"course_id":    courseID,
		"session_date": date,
		"events":       events,
		"count":        len(events),
	})
}
