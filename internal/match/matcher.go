// Package match decides whether a probe embedding identifies an enrolled
// student. Matching is stateless: a probe, a registry snapshot, and the
// configured threshold fully determine the result.
package match

import (
	"github.com/classeye/attendance/internal/registry"
)

// Result is the outcome of matching one probe against one snapshot.
type Result struct {
	StudentID string  // empty when no candidate is within the threshold
	Name      string
	Distance  float64
	Threshold float64

	// Ambiguous is set when a second student is within epsilon of the
	// minimum distance. Ambiguous results are logged for review, never
	// committed to attendance.
	Ambiguous        bool
	RunnerUpID       string
	RunnerUpDistance float64
}

// Unknown reports whether no candidate was within the threshold.
func (r Result) Unknown() bool {
	return r.StudentID == ""
}

// Accepted reports whether the result identifies exactly one student.
func (r Result) Accepted() bool {
	return r.StudentID != "" && !r.Ambiguous
}

// Confidence converts the distance to the 0..1 score stored with records.
func (r Result) Confidence() float64 {
	if r.Unknown() {
		return 0
	}
	c := 1 - r.Distance
	if c < 0 {
		c = 0
	}
	return c
}

// Matcher applies the accept/reject policy.
type Matcher struct {
	threshold float64
	epsilon   float64
}

// New creates a matcher. threshold is the maximum accepted cosine distance;
// two students within epsilon of the minimum make a probe ambiguous.
func New(threshold, epsilon float64) *Matcher {
	return &Matcher{threshold: threshold, epsilon: epsilon}
}

// Match compares the probe against every candidate in the snapshot and
// returns the decision. The minimum distance wins only when it is within
// the threshold; a runner-up student within epsilon flags the result as
// ambiguous instead of silently picking one.
func (m *Matcher) Match(probe []float32, snap *registry.Snapshot) Result {
	result := Result{Threshold: m.threshold}
	if snap == nil || snap.Size() == 0 {
		return result
	}

	neighbors := snap.Nearest(probe, 2)
	if len(neighbors) == 0 {
		return result
	}

	best := neighbors[0]
	if best.Distance > m.threshold {
		return result
	}

	result.StudentID = best.Candidate.StudentID
	result.Name = best.Candidate.Name
	result.Distance = best.Distance

	if len(neighbors) > 1 {
		second := neighbors[1]
		if second.Distance-best.Distance <= m.epsilon {
			result.Ambiguous = true
			result.RunnerUpID = second.Candidate.StudentID
			result.RunnerUpDistance = second.Distance
		}
	}

	return result
}
