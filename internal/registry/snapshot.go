package registry

import (
	"math"
	"time"
)

// Candidate is one reference embedding for one enrolled student. A student
// contributes one candidate per valid enrollment photo angle.
type Candidate struct {
	StudentID string
	Name      string
	Angle     string // front, left, right
	Embedding []float32
}

// Neighbor pairs a candidate with its distance to a probe.
type Neighbor struct {
	Candidate *Candidate
	Distance  float64
}

// Snapshot is an immutable view of a course's enrolled reference embeddings.
// Snapshots are built off to the side and published atomically; matchers
// holding an old snapshot keep using it until they finish.
type Snapshot struct {
	CourseID   string
	BuiltAt    time.Time
	candidates []Candidate
	students   int
	index      *annIndex // nil below the ANN cutoff
}

// Candidates returns the ordered candidate sequence.
func (s *Snapshot) Candidates() []Candidate {
	return s.candidates
}

// Size returns the number of reference embeddings in the snapshot.
func (s *Snapshot) Size() int {
	return len(s.candidates)
}

// Students returns the number of distinct students with at least one valid
// reference embedding.
func (s *Snapshot) Students() int {
	return s.students
}

// Indexed reports whether the snapshot answers Nearest through the ANN
// index rather than a linear scan.
func (s *Snapshot) Indexed() bool {
	return s.index != nil
}

// Nearest returns the closest candidates to the probe, one per distinct
// student, nearest first. Distances are exact cosine distances in both the
// linear and the indexed path, so accept/reject decisions are identical.
func (s *Snapshot) Nearest(probe []float32, students int) []Neighbor {
	if len(s.candidates) == 0 || students <= 0 {
		return nil
	}
	if s.index != nil {
		if neighbors := s.index.nearest(s.candidates, probe, students); neighbors != nil {
			return neighbors
		}
		// Index could not produce enough distinct students; fall through.
	}
	return s.linearNearest(probe, students)
}

// linearNearest scans every candidate, keeping the best distance per student.
func (s *Snapshot) linearNearest(probe []float32, students int) []Neighbor {
	best := make(map[string]Neighbor, s.students)
	for i := range s.candidates {
		c := &s.candidates[i]
		d := CosineDistance(probe, c.Embedding)
		if prev, ok := best[c.StudentID]; !ok || d < prev.Distance {
			best[c.StudentID] = Neighbor{Candidate: c, Distance: d}
		}
	}
	return topNeighbors(best, students)
}

// topNeighbors selects the n nearest entries from a per-student best map.
func topNeighbors(best map[string]Neighbor, n int) []Neighbor {
	out := make([]Neighbor, 0, len(best))
	for _, nb := range best {
		out = append(out, nb)
	}
	// Selection by repeated minimum; n is 2 in practice.
	for i := 0; i < n && i < len(out); i++ {
		minIdx := i
		for j := i + 1; j < len(out); j++ {
			if out[j].Distance < out[minIdx].Distance {
				minIdx = j
			}
		}
		out[i], out[minIdx] = out[minIdx], out[i]
	}
	if n < len(out) {
		out = out[:n]
	}
	return out
}

// CosineDistance computes the cosine distance between two vectors.
// Returns a value between 0 (identical) and 2 (opposite); invalid input
// yields the maximum distance.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors.
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}

	return 1 - similarity
}
