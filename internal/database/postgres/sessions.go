package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/classeye/attendance/internal/database"
)

// SessionRepository persists session lifecycle state.
type SessionRepository struct {
	pool *Pool
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(pool *Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// OpenSession records a newly opened session. Reopening an existing
// (course, date) pair is an error; a session that ended stays closed.
func (r *SessionRepository) OpenSession(ctx context.Context, rec database.SessionRecord) error {
	query := `
		INSERT INTO attendance_sessions
			(course_id, session_date, starts_at, ends_at, status, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		rec.CourseID, rec.SessionDate, rec.StartsAt, rec.EndsAt, rec.Status, rec.OpenedAt)
	if err != nil {
		return fmt.Errorf("open session %s/%s: %w", rec.CourseID, rec.SessionDate, err)
	}
	return nil
}

// CloseSession marks the session closed. Closing an already closed session
// is a no-op.
func (r *SessionRepository) CloseSession(ctx context.Context, courseID, sessionDate string) error {
	query := `
		UPDATE attendance_sessions
		SET status = $3, closed_at = now()
		WHERE course_id = $1 AND session_date = $2 AND status <> $3
	`

	_, err := r.pool.Exec(ctx, query, courseID, sessionDate, database.SessionClosed)
	if err != nil {
		return fmt.Errorf("close session %s/%s: %w", courseID, sessionDate, err)
	}
	return nil
}

// GetSession returns the stored session, or nil when none was ever opened.
func (r *SessionRepository) GetSession(ctx context.Context, courseID, sessionDate string) (*database.SessionRecord, error) {
	query := `
		SELECT course_id, to_char(session_date, 'YYYY-MM-DD'),
		       starts_at, ends_at, status, opened_at, closed_at
		FROM attendance_sessions
		WHERE course_id = $1 AND session_date = $2
	`

	var rec database.SessionRecord
	err := r.pool.QueryRow(ctx, query, courseID, sessionDate).Scan(
		&rec.CourseID, &rec.SessionDate,
		&rec.StartsAt, &rec.EndsAt, &rec.Status, &rec.OpenedAt, &rec.ClosedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s/%s: %w", courseID, sessionDate, err)
	}
	return &rec, nil
}
