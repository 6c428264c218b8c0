// Package session implements the per-course attendance state machine. A
// session tracks every enrolled student from Unseen through Pending to
// Confirmed and emits exactly one attendance record per confirmed student.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/classeye/attendance/internal/database"
)

// ErrSessionClosed rejects state transitions after a session ended.
var ErrSessionClosed = errors.New("session is closed")

// Student states within an open session.
const (
	StateUnseen    = "unseen"
	StatePending   = "pending"
	StateConfirmed = "confirmed"
)

// Outcome describes what one sighting did to a student's state.
type Outcome int

const (
	// OutcomePending means this was the first accepted sighting.
	OutcomePending Outcome = iota
	// OutcomeConfirmed means this sighting confirmed attendance and a
	// record was written.
	OutcomeConfirmed
	// OutcomeAlreadyConfirmed means the student was confirmed earlier and
	// the sighting was ignored.
	OutcomeAlreadyConfirmed
)

// Sighting is one accepted match observed by a camera.
type Sighting struct {
	StudentID  string
	ObservedAt time.Time
	CameraID   string
	Confidence float64
}

// Summary reports the roster split at session close. Pending students had
// one sighting that never confirmed; absent students were never seen.
// Neither gets an attendance record.
type Summary struct {
	CourseID    string
	SessionDate string
	Confirmed   []string
	Partial     []string
	Absent      []string
}

type track struct {
	state       string
	firstSeenAt time.Time
	cameraID    string
	confidence  float64
	sightings   int
	writing     bool
}

// Session serializes all state transitions for one (course, session date)
// pair. Multiple cameras feed the same session concurrently; a single mutex
// keeps two simultaneous confirmations of one student from double-writing.
type Session struct {
	CourseID    string
	SessionDate string
	StartsAt    time.Time
	EndsAt      time.Time

	confirmWindow  time.Duration
	singleSighting time.Duration
	writer         database.AttendanceWriter

	mu        sync.Mutex
	writeDone *sync.Cond // signalled whenever a track's write finishes
	closed    bool
	students  map[string]*track
}

// New creates an open session over the given roster. Students outside the
// roster cannot be marked present even if a camera matches them.
func New(courseID, sessionDate string, startsAt, endsAt time.Time, roster []string, confirmWindow, singleSighting time.Duration, writer database.AttendanceWriter) *Session {
	students := make(map[string]*track, len(roster))
	for _, id := range roster {
		students[id] = &track{state: StateUnseen}
	}
	s := &Session{
		CourseID:       courseID,
		SessionDate:    sessionDate,
		StartsAt:       startsAt,
		EndsAt:         endsAt,
		confirmWindow:  confirmWindow,
		singleSighting: singleSighting,
		writer:         writer,
		students:       students,
	}
	s.writeDone = sync.NewCond(&s.mu)
	return s
}

// Observe applies one accepted sighting. The first sighting moves the
// student to Pending; a second sighting confirms and writes the attendance
// record. Confirmed students ignore further sightings.
func (s *Session) Observe(ctx context.Context, sighting Sighting) (Outcome, error) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return 0, ErrSessionClosed
	}

	tr, ok := s.students[sighting.StudentID]
	if !ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("student %s is not on the roster of %s", sighting.StudentID, s.CourseID)
	}

	switch tr.state {
	case StateConfirmed:
		s.mu.Unlock()
		return OutcomeAlreadyConfirmed, nil

	case StateUnseen:
		tr.state = StatePending
		tr.firstSeenAt = sighting.ObservedAt
		tr.cameraID = sighting.CameraID
		tr.confidence = sighting.Confidence
		tr.sightings = 1
		s.mu.Unlock()
		return OutcomePending, nil

	case StatePending:
		tr.sightings++
		if tr.writing {
			// another goroutine is committing this student right now
			s.mu.Unlock()
			return OutcomeAlreadyConfirmed, nil
		}
		tr.writing = true
		s.mu.Unlock()
		return s.commit(ctx, sighting.StudentID, tr)

	default:
		s.mu.Unlock()
		return 0, fmt.Errorf("student %s in unexpected state %q", sighting.StudentID, tr.state)
	}
}

// commit writes the attendance record outside the session mutex and then
// flips the student to Confirmed. On write failure the student drops back
// to Pending so a later sighting or sweep can retry.
func (s *Session) commit(ctx context.Context, studentID string, tr *track) (Outcome, error) {
	rec := database.AttendanceRecord{
		CourseID:    s.CourseID,
		StudentID:   studentID,
		SessionDate: s.SessionDate,
		FirstSeenAt: tr.firstSeenAt,
		CameraID:    tr.cameraID,
		Confidence:  tr.confidence,
	}

	_, err := s.writer.InsertAttendance(ctx, rec)

	s.mu.Lock()
	defer s.mu.Unlock()
	tr.writing = false
	s.writeDone.Broadcast()
	if err != nil {
		return 0, fmt.Errorf("record attendance for %s: %w", studentID, err)
	}
	tr.state = StateConfirmed
	return OutcomeConfirmed, nil
}

// Sweep confirms every Pending student whose single sighting has aged past
// the single-sighting timeout. It returns the students confirmed this pass
// and the first write error encountered, if any.
func (s *Session) Sweep(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}

	var due []string
	tracks := make(map[string]*track)
	for id, tr := range s.students {
		if tr.state == StatePending && !tr.writing && now.Sub(tr.firstSeenAt) >= s.singleSighting {
			tr.writing = true
			due = append(due, id)
			tracks[id] = tr
		}
	}
	s.mu.Unlock()

	var confirmed []string
	var firstErr error
	for _, id := range due {
		if _, err := s.commit(ctx, id, tracks[id]); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		confirmed = append(confirmed, id)
	}
	return confirmed, firstErr
}

// writesInFlight reports whether any track has a store write in progress.
// Callers must hold s.mu.
func (s *Session) writesInFlight() bool {
	for _, tr := range s.students {
		if tr.writing {
			return true
		}
	}
	return false
}

// LiveStatus returns every roster student's current state.
func (s *Session) LiveStatus() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := make(map[string]string, len(s.students))
	for id, tr := range s.students {
		status[id] = tr.state
	}
	return status
}

// Closed reports whether the session already ended.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close ends the session and splits the roster into confirmed, partial and
// absent students. Pending and Unseen students get no attendance record;
// they show up in the summary instead. Commits already writing to the store
// are waited out first, so every durably written record shows up as
// Confirmed in the summary. Closing twice returns ErrSessionClosed.
func (s *Session) Close() (*Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	s.closed = true

	// new sightings and sweeps are rejected from here on; drain the
	// writes that already left with the student marked writing
	for s.writesInFlight() {
		s.writeDone.Wait()
	}

	summary := &Summary{
		CourseID:    s.CourseID,
		SessionDate: s.SessionDate,
	}
	for id, tr := range s.students {
		switch tr.state {
		case StateConfirmed:
			summary.Confirmed = append(summary.Confirmed, id)
		case StatePending:
			summary.Partial = append(summary.Partial, id)
		default:
			summary.Absent = append(summary.Absent, id)
		}
	}
	sort.Strings(summary.Confirmed)
	sort.Strings(summary.Partial)
	sort.Strings(summary.Absent)
	return summary, nil
}
