package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/classeye/attendance/internal/database"
	"github.com/classeye/attendance/internal/database/mock"
	"github.com/classeye/attendance/internal/session"
)

func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d: %s", expected, recorder.Code, recorder.Body.String())
	}
}

func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	if got := recorder.Header().Get("Content-Type"); got != expected {
		t.Errorf("expected content type %q, got %q", expected, got)
	}
}

func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nbody: %s", err, recorder.Body.String())
	}
}

// testStore seeds a mock store with a two-student CS101 roster.
func testStore(t *testing.T) *mock.MockStore {
	t.Helper()
	store := mock.NewMockStore()
	ctx := context.Background()
	for _, s := range []database.StudentRecord{
		{StudentID: "s-001", Name: "Adam Kral", CourseID: "CS101", Active: true},
		{StudentID: "s-002", Name: "Bara Novakova", CourseID: "CS101", Active: true},
	} {
		if err := store.UpsertStudent(ctx, s); err != nil {
			t.Fatalf("seeding store failed: %v", err)
		}
	}
	return store
}

func testManager(store database.Store) *session.Manager {
	return session.NewManager(store, 5*time.Second, 10*time.Second)
}

// sessionsRouter mounts the sessions handler the way routes.go does.
func sessionsRouter(h *SessionsHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/api/v1/sessions", h.Open)
	r.Get("/api/v1/sessions/{courseID}/{date}", h.LiveStatus)
	r.Delete("/api/v1/sessions/{courseID}/{date}", h.Close)
	r.Get("/api/v1/sessions/{courseID}/{date}/records", h.Records)
	r.Get("/api/v1/sessions/{courseID}/{date}/events", h.Events)
	return r
}

func registryRouter(h *RegistryHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/api/v1/registry/{courseID}/rebuild", h.Rebuild)
	r.Get("/api/v1/registry", h.List)
	return r
}
