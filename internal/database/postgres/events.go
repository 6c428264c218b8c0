package postgres

import (
	"context"
	"fmt"

	"github.com/classeye/attendance/internal/database"
	"github.com/google/uuid"
)

// EventRepository stores operator events.
type EventRepository struct {
	pool *Pool
}

// NewEventRepository creates a new event repository.
func NewEventRepository(pool *Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// InsertEvent records one operator event. A missing ID gets a fresh UUID.
func (r *EventRepository) InsertEvent(ctx context.Context, ev database.EventRecord) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	query := `
		INSERT INTO operator_events
			(id, course_id, session_date, kind, camera_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		ev.ID, ev.CourseID, ev.SessionDate, ev.Kind, ev.CameraID, ev.Detail, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert operator event: %w", err)
	}
	return nil
}

// ListEvents returns the session's events, oldest first.
func (r *EventRepository) ListEvents(ctx context.Context, courseID, sessionDate string) ([]database.EventRecord, error) {
	query := `
		SELECT id, course_id, to_char(session_date, 'YYYY-MM-DD'),
		       kind, camera_id, detail, created_at
		FROM operator_events
		WHERE course_id = $1 AND session_date = $2
		ORDER BY created_at, id
	`

	rows, err := r.pool.Query(ctx, query, courseID, sessionDate)
	if err != nil {
		return nil, fmt.Errorf("query operator events: %w", err)
	}
	defer rows.Close()

	var events []database.EventRecord
	for rows.Next() {
		var ev database.EventRecord
		if err := rows.Scan(&ev.ID, &ev.CourseID, &ev.SessionDate, &ev.Kind, &ev.CameraID, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan operator event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operator events: %w", err)
	}
	return events, nil
}
