package postgres

import (
	"context"
	"fmt"

	"github.com/classeye/attendance/internal/database"
)

// AttendanceRepository provides PostgreSQL-backed attendance record storage.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new attendance repository.
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

// InsertAttendance commits one attendance record. The primary key on
// (course_id, student_id, session_date) plus ON CONFLICT DO NOTHING makes
// the write idempotent under concurrent confirmation attempts; the returned
// bool is false when the record already existed.
func (r *AttendanceRepository) InsertAttendance(ctx context.Context, rec database.AttendanceRecord) (bool, error) {
	query := `
		INSERT INTO attendance_records (course_id, student_id, session_date, first_seen_at, camera_id, confidence)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (course_id, student_id, session_date) DO NOTHING
	`

	result, err := r.pool.Exec(ctx, query,
		rec.CourseID, rec.StudentID, rec.SessionDate, rec.FirstSeenAt, rec.CameraID, rec.Confidence)
	if err != nil {
		return false, fmt.Errorf("insert attendance record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return affected == 1, nil
}

// ListAttendance returns the committed records for one session, first seen
// first.
func (r *AttendanceRepository) ListAttendance(ctx context.Context, courseID, sessionDate string) ([]database.AttendanceRecord, error) {
	query := `
		SELECT course_id, student_id, to_char(session_date, 'YYYY-MM-DD'), first_seen_at, camera_id, confidence, created_at
		FROM attendance_records
		WHERE course_id = $1 AND session_date = $2
		ORDER BY first_seen_at
	`

	rows, err := r.pool.Query(ctx, query, courseID, sessionDate)
	if err != nil {
		return nil, fmt.Errorf("query attendance records: %w", err)
	}
	defer rows.Close()

	var records []database.AttendanceRecord
	for rows.Next() {
		var rec database.AttendanceRecord
		if err := rows.Scan(&rec.CourseID, &rec.StudentID, &rec.SessionDate,
			&rec.FirstSeenAt, &rec.CameraID, &rec.Confidence, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attendance record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance records: %w", err)
	}
	return records, nil
}
