package mysql

import (
	"context"
	"fmt"

	"github.com/classeye/attendance/internal/database"
)

// Mirror writes attendance records into the legacy attendance table. The
// legacy schema has the same (course, student, date) uniqueness, so INSERT
// IGNORE keeps the mirror idempotent too.
type Mirror struct {
	pool *Pool
}

var _ database.AttendanceWriter = (*Mirror)(nil)

// NewMirror creates a mirror over one pool.
func NewMirror(pool *Pool) *Mirror {
	return &Mirror{pool: pool}
}

// InsertAttendance mirrors one record into the legacy table.
func (m *Mirror) InsertAttendance(ctx context.Context, rec database.AttendanceRecord) (bool, error) {
	query := `
		INSERT IGNORE INTO attendance (course_id, student_id, session_date, first_seen_at, camera_id, confidence)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := m.pool.db.ExecContext(ctx, query,
		rec.CourseID, rec.StudentID, rec.SessionDate, rec.FirstSeenAt, rec.CameraID, rec.Confidence)
	if err != nil {
		return false, fmt.Errorf("mirror attendance record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return affected == 1, nil
}
