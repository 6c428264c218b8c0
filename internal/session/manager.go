package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/classeye/attendance/internal/database"
)

type sessionKey struct {
	courseID    string
	sessionDate string
}

// Manager owns the live sessions of the process, keyed by course and date,
// and keeps their lifecycle in the store so a restart still refuses writes
// to sessions that already closed.
type Manager struct {
	store          database.Store
	confirmWindow  time.Duration
	singleSighting time.Duration

	mu       sync.RWMutex
	sessions map[sessionKey]*Session
}

// NewManager creates a session manager over the given store.
func NewManager(store database.Store, confirmWindow, singleSighting time.Duration) *Manager {
	return &Manager{
		store:          store,
		confirmWindow:  confirmWindow,
		singleSighting: singleSighting,
		sessions:       make(map[sessionKey]*Session),
	}
}

// Open starts a new session for the course's current roster. Opening a
// session that was already closed, today or ever, returns ErrSessionClosed;
// opening one that is already live is an error.
func (m *Manager) Open(ctx context.Context, courseID, sessionDate string, startsAt, endsAt time.Time) (*Session, error) {
	if _, err := database.ParseDate(sessionDate); err != nil {
		return nil, fmt.Errorf("invalid session date %q: %w", sessionDate, err)
	}

	stored, err := m.store.GetSession(ctx, courseID, sessionDate)
	if err != nil {
		return nil, fmt.Errorf("check session %s/%s: %w", courseID, sessionDate, err)
	}
	if stored != nil {
		if stored.Status == database.SessionClosed {
			return nil, ErrSessionClosed
		}
		return nil, fmt.Errorf("session %s/%s is already open", courseID, sessionDate)
	}

	students, err := m.store.ListStudents(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("load roster for %s: %w", courseID, err)
	}
	if len(students) == 0 {
		return nil, fmt.Errorf("course %s has no active students", courseID)
	}
	roster := make([]string, 0, len(students))
	for _, s := range students {
		roster = append(roster, s.StudentID)
	}

	rec := database.SessionRecord{
		CourseID:    courseID,
		SessionDate: sessionDate,
		StartsAt:    startsAt,
		EndsAt:      endsAt,
		Status:      database.SessionOpen,
		OpenedAt:    time.Now().UTC(),
	}
	if err := m.store.OpenSession(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist session %s/%s: %w", courseID, sessionDate, err)
	}

	sess := New(courseID, sessionDate, startsAt, endsAt, roster, m.confirmWindow, m.singleSighting, m.store)

	m.mu.Lock()
	m.sessions[sessionKey{courseID, sessionDate}] = sess
	m.mu.Unlock()

	log.Printf("Opened session %s/%s with %d students", courseID, sessionDate, len(roster))
	return sess, nil
}

// Get returns the live session, or nil when none is open.
func (m *Manager) Get(courseID, sessionDate string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionKey{courseID, sessionDate}]
}

// Live returns every currently open session.
func (m *Manager) Live() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// Close ends the session, persists the closure and returns the roster
// summary.
func (m *Manager) Close(ctx context.Context, courseID, sessionDate string) (*Summary, error) {
	m.mu.Lock()
	key := sessionKey{courseID, sessionDate}
	sess := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if sess == nil {
		stored, err := m.store.GetSession(ctx, courseID, sessionDate)
		if err != nil {
			return nil, fmt.Errorf("check session %s/%s: %w", courseID, sessionDate, err)
		}
		if stored != nil && stored.Status == database.SessionClosed {
			return nil, ErrSessionClosed
		}
		return nil, fmt.Errorf("session %s/%s is not open", courseID, sessionDate)
	}

	summary, err := sess.Close()
	if err != nil {
		return nil, err
	}

	if err := m.store.CloseSession(ctx, courseID, sessionDate); err != nil {
		return nil, fmt.Errorf("persist closure of %s/%s: %w", courseID, sessionDate, err)
	}

	log.Printf("Closed session %s/%s: %d confirmed, %d partial, %d absent",
		courseID, sessionDate, len(summary.Confirmed), len(summary.Partial), len(summary.Absent))
	return summary, nil
}

// RunSweeper periodically confirms aged single sightings on every live
// session and closes sessions whose class period ended, until the context
// ends.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.sweepPass(ctx, now)
		}
	}
}

// sweepPass runs one sweeper tick. Sessions past their end time are closed
// as if the teacher had closed them; the rest get their pending students
// swept.
func (m *Manager) sweepPass(ctx context.Context, now time.Time) {
	for _, sess := range m.Live() {
		if !sess.EndsAt.IsZero() && now.After(sess.EndsAt) {
			summary, err := m.Close(ctx, sess.CourseID, sess.SessionDate)
			if err != nil {
				log.Printf("Closing ended session %s/%s: %v", sess.CourseID, sess.SessionDate, err)
				continue
			}
			log.Printf("Session %s/%s reached its end time, closed with %d confirmed",
				sess.CourseID, sess.SessionDate, len(summary.Confirmed))
			continue
		}

		confirmed, err := sess.Sweep(ctx, now)
		if err != nil && err != ErrSessionClosed {
			log.Printf("Sweep of %s/%s: %v", sess.CourseID, sess.SessionDate, err)
		}
		for _, id := range confirmed {
			log.Printf("Confirmed %s in %s/%s after single-sighting timeout", id, sess.CourseID, sess.SessionDate)
		}
	}
}
