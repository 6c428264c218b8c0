package postgres

import (
	"context"
	"fmt"

	"github.com/classeye/attendance/internal/database"
	"github.com/pgvector/pgvector-go"
)

// RosterRepository provides PostgreSQL-backed student and reference
// embedding storage.
type RosterRepository struct {
	pool *Pool
}

// NewRosterRepository creates a new roster repository.
func NewRosterRepository(pool *Pool) *RosterRepository {
	return &RosterRepository{pool: pool}
}

// UpsertStudent inserts or refreshes one enrolled student.
func (r *RosterRepository) UpsertStudent(ctx context.Context, s database.StudentRecord) error {
	query := `
		INSERT INTO students (student_id, name, course_id, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (student_id) DO UPDATE SET
			name = EXCLUDED.name,
			course_id = EXCLUDED.course_id,
			active = EXCLUDED.active
	`

	_, err := r.pool.Exec(ctx, query, s.StudentID, s.Name, s.CourseID, s.Active)
	if err != nil {
		return fmt.Errorf("upsert student: %w", err)
	}
	return nil
}

// ListStudents returns the active students of one course in roster order.
func (r *RosterRepository) ListStudents(ctx context.Context, courseID string) ([]database.StudentRecord, error) {
	query := `
		SELECT student_id, name, course_id, active, created_at
		FROM students
		WHERE course_id = $1 AND active
		ORDER BY name, student_id
	`

	rows, err := r.pool.Query(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}
	defer rows.Close()

	var students []database.StudentRecord
	for rows.Next() {
		var s database.StudentRecord
		if err := rows.Scan(&s.StudentID, &s.Name, &s.CourseID, &s.Active, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return students, nil
}

// ReplaceReferenceEmbeddings swaps a student's stored embeddings in one
// transaction, so re-enrollment never leaves a half-updated reference set.
func (r *RosterRepository) ReplaceReferenceEmbeddings(ctx context.Context, studentID string, embs []database.ReferenceEmbedding) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM reference_embeddings WHERE student_id = $1", studentID); err != nil {
		return fmt.Errorf("delete old reference embeddings: %w", err)
	}

	query := `
		INSERT INTO reference_embeddings (student_id, course_id, angle, embedding, dim)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, emb := range embs {
		vec := pgvector.NewVector(emb.Embedding)
		if _, err := tx.ExecContext(ctx, query, emb.StudentID, emb.CourseID, emb.Angle, vec, len(emb.Embedding)); err != nil {
			return fmt.Errorf("insert reference embedding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reference embeddings: %w", err)
	}
	return nil
}

// ListReferenceEmbeddings returns every stored embedding for a course,
// roster-ordered, for rebuilding the in-memory registry at startup.
func (r *RosterRepository) ListReferenceEmbeddings(ctx context.Context, courseID string) ([]database.ReferenceEmbedding, error) {
	query := `
		SELECT e.id, e.student_id, e.course_id, e.angle, e.embedding, e.dim, e.created_at
		FROM reference_embeddings e
		JOIN students s ON s.student_id = e.student_id
		WHERE e.course_id = $1 AND s.active
		ORDER BY s.name, e.student_id, e.id
	`

	rows, err := r.pool.Query(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("query reference embeddings: %w", err)
	}
	defer rows.Close()

	var embs []database.ReferenceEmbedding
	for rows.Next() {
		var emb database.ReferenceEmbedding
		var vec pgvector.Vector
		if err := rows.Scan(&emb.ID, &emb.StudentID, &emb.CourseID, &emb.Angle, &vec, &emb.Dim, &emb.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reference embedding: %w", err)
		}
		emb.Embedding = vec.Slice()
		embs = append(embs, emb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reference embeddings: %w", err)
	}
	return embs, nil
}
