package database

import (
	"time"
)

// DateFormat is the wire format for session dates throughout the engine.
const DateFormat = "2006-01-02"

// ParseDate validates a session date string.
func ParseDate(s string) (string, error) {
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		return "", err
	}
	return t.Format(DateFormat), nil
}

// AttendanceRecord is one committed attendance event. At most one record
// exists per (course, student, session date).
type AttendanceRecord struct {
	CourseID    string
	StudentID   string
	SessionDate string // DateFormat
	FirstSeenAt time.Time
	CameraID    string
	Confidence  float64
	CreatedAt   time.Time
}

// StudentRecord is an enrolled student as supplied by the enrollment system.
type StudentRecord struct {
	StudentID string
	Name      string
	CourseID  string
	Active    bool
	CreatedAt time.Time
}

// ReferenceEmbedding is one stored enrollment embedding for a student.
type ReferenceEmbedding struct {
	ID        int64
	StudentID string
	CourseID  string
	Angle     string // front, left, right
	Embedding []float32
	Dim       int
	CreatedAt time.Time
}

// SessionRecord tracks the open/closed lifecycle of one course session.
type SessionRecord struct {
	CourseID    string
	SessionDate string // DateFormat
	StartsAt    time.Time
	EndsAt      time.Time
	Status      string // "open" or "closed"
	OpenedAt    time.Time
	ClosedAt    *time.Time
}

// Session status values.
const (
	SessionOpen   = "open"
	SessionClosed = "closed"
)

// Operator event kinds, recorded separately from attendance records.
const (
	EventSkippedFrame    = "skipped_frame"
	EventUnusableFace    = "unusable_face"
	EventAmbiguousMatch  = "ambiguous_match"
	EventStoreEscalation = "store_escalation"
	EventCameraLost      = "camera_lost"
)

// EventRecord is one operator-visible event (skipped frame, ambiguous match,
// escalation). These never enter the attendance record store.
type EventRecord struct {
	ID          string // uuid
	CourseID    string
	SessionDate string
	Kind        string
	CameraID    string
	Detail      string
	CreatedAt   time.Time
}
