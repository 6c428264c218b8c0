package registry

import (
	"context"
	"fmt"

	"github.com/classeye/attendance/internal/database"
)

// LoadCourse rebuilds a course snapshot from stored reference embeddings and
// publishes it. Students without any stored embedding are excluded and
// warned about once, the same as during a photo build.
func (r *Registry) LoadCourse(ctx context.Context, store database.RosterStore, courseID string) (*Snapshot, error) {
	students, err := store.ListStudents(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("load roster for %s: %w", courseID, err)
	}
	if len(students) == 0 {
		return nil, fmt.Errorf("course %s has no active students", courseID)
	}

	embs, err := store.ListReferenceEmbeddings(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("load reference embeddings for %s: %w", courseID, err)
	}

	names := make(map[string]string, len(students))
	for _, s := range students {
		names[s.StudentID] = s.Name
	}

	byStudent := make(map[string][]Candidate)
	for _, emb := range embs {
		name, ok := names[emb.StudentID]
		if !ok {
			continue
		}
		byStudent[emb.StudentID] = append(byStudent[emb.StudentID], Candidate{
			StudentID: emb.StudentID,
			Name:      name,
			Angle:     emb.Angle,
			Embedding: emb.Embedding,
		})
	}

	var candidates []Candidate
	matchable := 0
	for _, s := range students {
		cands := byStudent[s.StudentID]
		if len(cands) == 0 {
			r.warnOnce(courseID, s.StudentID)
			continue
		}
		matchable++
		candidates = append(candidates, cands...)
	}
	if matchable == 0 {
		return nil, fmt.Errorf("course %s: no student has stored reference embeddings", courseID)
	}

	snap := NewSnapshot(courseID, candidates, r.annCutoff)
	r.Publish(snap)
	return snap, nil
}
