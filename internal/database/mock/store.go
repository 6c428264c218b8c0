// Package mock provides an in-memory implementation of the database
// interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/classeye/attendance/internal/database"
	"github.com/google/uuid"
)

type attendanceKey struct {
	courseID    string
	studentID   string
	sessionDate string
}

type sessionKey struct {
	courseID    string
	sessionDate string
}

// MockStore is an in-memory database.Store with error injection hooks.
type MockStore struct {
	mu         sync.RWMutex
	attendance map[attendanceKey]database.AttendanceRecord
	sessions   map[sessionKey]database.SessionRecord
	events     []database.EventRecord
	students   map[string]database.StudentRecord
	embeddings map[string][]database.ReferenceEmbedding
	nextEmbID  int64

	// Error injection
	InsertAttendanceError error
	ListAttendanceError   error
	OpenSessionError      error
	CloseSessionError     error
	GetSessionError       error
	InsertEventError      error
	ListEventsError       error
	RosterError           error

	// InsertAttendanceCalls counts attempts, including failed ones.
	InsertAttendanceCalls int
}

var _ database.Store = (*MockStore)(nil)

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		attendance: make(map[attendanceKey]database.AttendanceRecord),
		sessions:   make(map[sessionKey]database.SessionRecord),
		students:   make(map[string]database.StudentRecord),
		embeddings: make(map[string][]database.ReferenceEmbedding),
	}
}

// InsertAttendance records one attendance record, insert-if-absent.
func (m *MockStore) InsertAttendance(ctx context.Context, rec database.AttendanceRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertAttendanceCalls++
	if m.InsertAttendanceError != nil {
		return false, m.InsertAttendanceError
	}
	key := attendanceKey{rec.CourseID, rec.StudentID, rec.SessionDate}
	if _, ok := m.attendance[key]; ok {
		return false, nil
	}
	m.attendance[key] = rec
	return true, nil
}

// ListAttendance returns the session's records ordered by first seen time.
func (m *MockStore) ListAttendance(ctx context.Context, courseID, sessionDate string) ([]database.AttendanceRecord, error) {
	if m.ListAttendanceError != nil {
		return nil, m.ListAttendanceError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var records []database.AttendanceRecord
	for key, rec := range m.attendance {
		if key.courseID == courseID && key.sessionDate == sessionDate {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].FirstSeenAt.Before(records[j].FirstSeenAt)
	})
	return records, nil
}

// OpenSession stores a new session record.
func (m *MockStore) OpenSession(ctx context.Context, rec database.SessionRecord) error {
	if m.OpenSessionError != nil {
		return m.OpenSessionError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessionKey{rec.CourseID, rec.SessionDate}
	if _, ok := m.sessions[key]; ok {
		return fmt.Errorf("session %s/%s already exists", rec.CourseID, rec.SessionDate)
	}
	m.sessions[key] = rec
	return nil
}

// CloseSession marks a session closed.
func (m *MockStore) CloseSession(ctx context.Context, courseID, sessionDate string) error {
	if m.CloseSessionError != nil {
		return m.CloseSessionError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessionKey{courseID, sessionDate}
	rec, ok := m.sessions[key]
	if !ok {
		return fmt.Errorf("session %s/%s not found", courseID, sessionDate)
	}
	if rec.Status != database.SessionClosed {
		rec.Status = database.SessionClosed
		m.sessions[key] = rec
	}
	return nil
}

// GetSession returns a stored session or nil.
func (m *MockStore) GetSession(ctx context.Context, courseID, sessionDate string) (*database.SessionRecord, error) {
	if m.GetSessionError != nil {
		return nil, m.GetSessionError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionKey{courseID, sessionDate}]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

// InsertEvent appends one operator event.
func (m *MockStore) InsertEvent(ctx context.Context, ev database.EventRecord) error {
	if m.InsertEventError != nil {
		return m.InsertEventError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	m.events = append(m.events, ev)
	return nil
}

// ListEvents returns the session's events in insertion order.
func (m *MockStore) ListEvents(ctx context.Context, courseID, sessionDate string) ([]database.EventRecord, error) {
	if m.ListEventsError != nil {
		return nil, m.ListEventsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var events []database.EventRecord
	for _, ev := range m.events {
		if ev.CourseID == courseID && ev.SessionDate == sessionDate {
			events = append(events, ev)
		}
	}
	return events, nil
}

// EventsOfKind returns the stored events of one kind, across sessions.
func (m *MockStore) EventsOfKind(kind string) []database.EventRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var events []database.EventRecord
	for _, ev := range m.events {
		if ev.Kind == kind {
			events = append(events, ev)
		}
	}
	return events
}

// UpsertStudent stores one student record.
func (m *MockStore) UpsertStudent(ctx context.Context, s database.StudentRecord) error {
	if m.RosterError != nil {
		return m.RosterError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[s.StudentID] = s
	return nil
}

// ListStudents returns the active students of one course, name-ordered.
func (m *MockStore) ListStudents(ctx context.Context, courseID string) ([]database.StudentRecord, error) {
	if m.RosterError != nil {
		return nil, m.RosterError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var students []database.StudentRecord
	for _, s := range m.students {
		if s.CourseID == courseID && s.Active {
			students = append(students, s)
		}
	}
	sort.Slice(students, func(i, j int) bool {
		if students[i].Name != students[j].Name {
			return students[i].Name < students[j].Name
		}
		return students[i].StudentID < students[j].StudentID
	})
	return students, nil
}

// ReplaceReferenceEmbeddings swaps a student's embedding set.
func (m *MockStore) ReplaceReferenceEmbeddings(ctx context.Context, studentID string, embs []database.ReferenceEmbedding) error {
	if m.RosterError != nil {
		return m.RosterError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]database.ReferenceEmbedding, 0, len(embs))
	for _, emb := range embs {
		m.nextEmbID++
		emb.ID = m.nextEmbID
		emb.Dim = len(emb.Embedding)
		stored = append(stored, emb)
	}
	m.embeddings[studentID] = stored
	return nil
}

// ListReferenceEmbeddings returns every embedding of the course's active
// students.
func (m *MockStore) ListReferenceEmbeddings(ctx context.Context, courseID string) ([]database.ReferenceEmbedding, error) {
	if m.RosterError != nil {
		return nil, m.RosterError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var embs []database.ReferenceEmbedding
	for studentID, set := range m.embeddings {
		s, ok := m.students[studentID]
		if !ok || !s.Active {
			continue
		}
		for _, emb := range set {
			if emb.CourseID == courseID {
				embs = append(embs, emb)
			}
		}
	}
	sort.Slice(embs, func(i, j int) bool { return embs[i].ID < embs[j].ID })
	return embs, nil
}

// AttendanceCount returns the number of stored attendance records.
func (m *MockStore) AttendanceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.attendance)
}
