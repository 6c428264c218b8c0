// Package registry holds the enrolled reference embeddings matched against
// live probes. Each course has an immutable snapshot; rebuilds publish a new
// snapshot with a single swap so matching never sees a half-built set.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/classeye/attendance/internal/faceapi"
)

// EnrollmentPhoto is one reference image supplied by the enrollment system.
type EnrollmentPhoto struct {
	StudentID string
	Name      string
	Angle     string // front, left, right
	Image     []byte
}

// BuildOptions tunes one registry build.
type BuildOptions struct {
	OnProgress func(done, total int) // optional progress callback
}

// BuildReport summarizes a registry build for the operator.
type BuildReport struct {
	CourseID   string
	Students   int
	Embeddings int
	Excluded   []string // students with zero valid reference embeddings
	Warnings   []string
}

// Registry maps courses to published snapshots.
type Registry struct {
	detector  faceapi.Detector
	annCutoff int

	mu        sync.RWMutex
	snapshots map[string]*Snapshot
	warned    map[string]bool // one data-quality warning per (course, student)
}

// New creates an empty registry. Snapshots above annCutoff candidates get an
// HNSW index; zero or negative disables indexing.
func New(detector faceapi.Detector, annCutoff int) *Registry {
	return &Registry{
		detector:  detector,
		annCutoff: annCutoff,
		snapshots: make(map[string]*Snapshot),
		warned:    make(map[string]bool),
	}
}

// Snapshot returns the published snapshot for a course. The returned value
// is immutable; callers may use it for any number of matches.
func (r *Registry) Snapshot(courseID string) (*Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snapshots[courseID]
	return snap, ok
}

// Courses lists the courses with a published snapshot.
func (r *Registry) Courses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.snapshots))
	for id := range r.snapshots {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Build extracts embeddings from enrollment photos and publishes a new
// snapshot for the course. The old snapshot stays visible until the new one
// is complete; in-flight matches finish against whichever they hold.
func (r *Registry) Build(ctx context.Context, courseID string, photos []EnrollmentPhoto, opts BuildOptions) (*BuildReport, error) {
	if courseID == "" {
		return nil, errors.New("course ID is required")
	}
	if len(photos) == 0 {
		return nil, fmt.Errorf("course %s: no enrollment photos supplied", courseID)
	}

	report := &BuildReport{CourseID: courseID}

	// Preserve roster order: first photo of each student decides position.
	var studentOrder []string
	names := make(map[string]string)
	embeddings := make(map[string][]Candidate)

	for i, photo := range photos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, ok := names[photo.StudentID]; !ok {
			studentOrder = append(studentOrder, photo.StudentID)
			names[photo.StudentID] = photo.Name
		}

		emb, err := r.referenceEmbedding(ctx, photo)
		if err != nil {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("student %s (%s angle): %v", photo.StudentID, photo.Angle, err))
		} else {
			embeddings[photo.StudentID] = append(embeddings[photo.StudentID], Candidate{
				StudentID: photo.StudentID,
				Name:      names[photo.StudentID],
				Angle:     photo.Angle,
				Embedding: emb,
			})
		}

		if opts.OnProgress != nil {
			opts.OnProgress(i+1, len(photos))
		}
	}

	var candidates []Candidate
	for _, studentID := range studentOrder {
		cands := embeddings[studentID]
		if len(cands) == 0 {
			report.Excluded = append(report.Excluded, studentID)
			r.warnOnce(courseID, studentID)
			continue
		}
		report.Students++
		report.Embeddings += len(cands)
		candidates = append(candidates, cands...)
	}

	if report.Students == 0 {
		return report, fmt.Errorf("course %s: no student produced a valid reference embedding", courseID)
	}

	r.Publish(NewSnapshot(courseID, candidates, r.annCutoff))

	return report, nil
}

// NewSnapshot builds an immutable snapshot from prepared candidates, e.g.
// reference embeddings loaded back from the store. Candidates above
// annCutoff get an HNSW index; zero or negative disables indexing.
func NewSnapshot(courseID string, candidates []Candidate, annCutoff int) *Snapshot {
	snap := &Snapshot{
		CourseID:   courseID,
		BuiltAt:    time.Now(),
		candidates: candidates,
		students:   countStudents(candidates),
	}
	if annCutoff > 0 && len(candidates) > annCutoff {
		snap.index = buildIndex(candidates)
	}
	return snap
}

// Publish installs a snapshot for its course with a single swap. Readers
// holding the previous snapshot are unaffected.
func (r *Registry) Publish(snap *Snapshot) {
	r.mu.Lock()
	r.snapshots[snap.CourseID] = snap
	r.mu.Unlock()
}

// referenceEmbedding runs detection over one enrollment photo and returns
// the embedding of the highest-scoring face.
func (r *Registry) referenceEmbedding(ctx context.Context, photo EnrollmentPhoto) ([]float32, error) {
	faces, err := r.detector.DetectFaces(ctx, photo.Image)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, errors.New("no face detected in reference photo")
	}

	best := faces[0]
	for _, f := range faces[1:] {
		if f.DetScore > best.DetScore {
			best = f
		}
	}
	return best.Embedding, nil
}

// warnOnce logs the zero-embedding exclusion the first time it is seen for a
// (course, student) pair. Subsequent rebuilds stay quiet about it.
func (r *Registry) warnOnce(courseID, studentID string) {
	key := courseID + "/" + studentID
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.warned[key] {
		return
	}
	r.warned[key] = true
	log.Printf("registry: student %s excluded from course %s matching (no valid reference embeddings)", studentID, courseID)
}
