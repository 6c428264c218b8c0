package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/classeye/attendance/internal/database"
)

// RetryWriter retries failed attendance writes with exponential backoff.
// The insert is idempotent, so retrying a write that actually landed is
// safe. After maxElapsed the error surfaces to the caller for escalation.
type RetryWriter struct {
	inner      database.AttendanceWriter
	maxElapsed time.Duration
}

var _ database.AttendanceWriter = (*RetryWriter)(nil)

// NewRetryWriter wraps a writer with bounded retries.
func NewRetryWriter(inner database.AttendanceWriter, maxElapsed time.Duration) *RetryWriter {
	return &RetryWriter{inner: inner, maxElapsed: maxElapsed}
}

// InsertAttendance writes one record, retrying transient store failures.
func (w *RetryWriter) InsertAttendance(ctx context.Context, rec database.AttendanceRecord) (bool, error) {
	var inserted bool

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = w.maxElapsed

	err := backoff.Retry(func() error {
		var err error
		inserted, err = w.inner.InsertAttendance(ctx, rec)
		return err
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// MirrorWriter fans a write out to a best-effort secondary store after the
// primary succeeded. Mirror failures are logged, never surfaced; the
// primary store stays authoritative.
type MirrorWriter struct {
	primary database.AttendanceWriter
	mirror  database.AttendanceWriter
}

var _ database.AttendanceWriter = (*MirrorWriter)(nil)

// NewMirrorWriter creates a fan-out writer.
func NewMirrorWriter(primary, mirror database.AttendanceWriter) *MirrorWriter {
	return &MirrorWriter{primary: primary, mirror: mirror}
}

// InsertAttendance writes to the primary store, then mirrors.
func (w *MirrorWriter) InsertAttendance(ctx context.Context, rec database.AttendanceRecord) (bool, error) {
	inserted, err := w.primary.InsertAttendance(ctx, rec)
	if err != nil {
		return false, err
	}
	if inserted {
		if _, merr := w.mirror.InsertAttendance(ctx, rec); merr != nil {
			log.Printf("Mirror write for %s/%s/%s failed: %v", rec.CourseID, rec.StudentID, rec.SessionDate, merr)
		}
	}
	return inserted, nil
}
