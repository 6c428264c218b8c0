// Package database defines the storage contracts and record types shared by
// the engine's backends. PostgreSQL is the primary store; a MySQL mirror
// covers legacy deployments; the mock backend serves tests.
package database

import "context"

// AttendanceWriter commits attendance records with insert-if-absent
// semantics. Insert returns false when the record already existed; that is
// not an error, the invariant held.
type AttendanceWriter interface {
	InsertAttendance(ctx context.Context, rec AttendanceRecord) (inserted bool, err error)
}

// AttendanceReader lists committed records for reporting.
type AttendanceReader interface {
	ListAttendance(ctx context.Context, courseID, sessionDate string) ([]AttendanceRecord, error)
}

// SessionStore persists session lifecycle so a restart refuses writes to
// closed sessions.
type SessionStore interface {
	OpenSession(ctx context.Context, rec SessionRecord) error
	CloseSession(ctx context.Context, courseID, sessionDate string) error
	GetSession(ctx context.Context, courseID, sessionDate string) (*SessionRecord, error)
}

// EventLog records operator-visible events, kept apart from attendance
// records.
type EventLog interface {
	InsertEvent(ctx context.Context, ev EventRecord) error
	ListEvents(ctx context.Context, courseID, sessionDate string) ([]EventRecord, error)
}

// RosterStore holds enrolled students and their reference embeddings.
type RosterStore interface {
	UpsertStudent(ctx context.Context, s StudentRecord) error
	ListStudents(ctx context.Context, courseID string) ([]StudentRecord, error)
	ReplaceReferenceEmbeddings(ctx context.Context, studentID string, embs []ReferenceEmbedding) error
	ListReferenceEmbeddings(ctx context.Context, courseID string) ([]ReferenceEmbedding, error)
}

// Store is the full storage surface the engine needs.
type Store interface {
	AttendanceWriter
	AttendanceReader
	SessionStore
	EventLog
	RosterStore
}

type storeWithWriter struct {
	Store
	writer AttendanceWriter
}

// WithWriter returns a Store whose attendance writes go through the given
// writer instead, so retry and mirror wrappers can be layered onto one
// backend.
func WithWriter(s Store, w AttendanceWriter) Store {
	return &storeWithWriter{Store: s, writer: w}
}

func (s *storeWithWriter) InsertAttendance(ctx context.Context, rec AttendanceRecord) (bool, error) {
	return s.writer.InsertAttendance(ctx, rec)
}
