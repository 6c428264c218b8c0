package session

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/classeye/attendance/internal/database"
	"github.com/classeye/attendance/internal/database/mock"
)

func newTestSession(t *testing.T, store database.AttendanceWriter, roster ...string) *Session {
	t.Helper()
	start := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	return New("CS101", "2026-09-14", start, start.Add(90*time.Minute),
		roster, 5*time.Second, 10*time.Second, store)
}

func TestFirstSightingIsPending(t *testing.T) {
	store := mock.NewMockStore()
	sess := newTestSession(t, store, "s-001")

	outcome, err := sess.Observe(context.Background(), Sighting{
		StudentID:  "s-001",
		ObservedAt: sess.StartsAt,
		CameraID:   "cam-1",
		Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	if outcome != OutcomePending {
		t.Errorf("Expected OutcomePending, got %v", outcome)
	}
	if store.AttendanceCount() != 0 {
		t.Errorf("Expected no record after single sighting, got %d", store.AttendanceCount())
	}
	if got := sess.LiveStatus()["s-001"]; got != StatePending {
		t.Errorf("Expected state pending, got %s", got)
	}
}

func TestTwoSightingsConfirmWithFirstSeenTimestamp(t *testing.T) {
	store := mock.NewMockStore()
	sess := newTestSession(t, store, "s-001")
	ctx := context.Background()

	first := sess.StartsAt.Add(time.Minute)
	if _, err := sess.Observe(ctx, Sighting{StudentID: "s-001", ObservedAt: first, CameraID: "cam-1", Confidence: 0.92}); err != nil {
		t.Fatalf("First sighting failed: %v", err)
	}

	// second probe 2 seconds later, within the 5 second window
	outcome, err := sess.Observe(ctx, Sighting{StudentID: "s-001", ObservedAt: first.Add(2 * time.Second), CameraID: "cam-2", Confidence: 0.85})
	if err != nil {
		t.Fatalf("Second sighting failed: %v", err)
	}
	if outcome != OutcomeConfirmed {
		t.Errorf("Expected OutcomeConfirmed, got %v", outcome)
	}

	records, err := store.ListAttendance(ctx, "CS101", "2026-09-14")
	if err != nil {
		t.Fatalf("ListAttendance failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected exactly 1 record, got %d", len(records))
	}
	rec := records[0]
	if !rec.FirstSeenAt.Equal(first) {
		t.Errorf("Expected first-seen timestamp %v, got %v", first, rec.FirstSeenAt)
	}
	if rec.CameraID != "cam-1" {
		t.Errorf("Expected first sighting's camera, got %s", rec.CameraID)
	}
	if rec.Confidence != 0.92 {
		t.Errorf("Expected first sighting's confidence, got %f", rec.Confidence)
	}
}

func TestConfirmedIsTerminal(t *testing.T) {
	store := mock.NewMockStore()
	sess := newTestSession(t, store, "s-001")
	ctx := context.Background()

	at := sess.StartsAt
	for i := 0; i < 5; i++ {
		if _, err := sess.Observe(ctx, Sighting{StudentID: "s-001", ObservedAt: at.Add(time.Duration(i) * time.Second), CameraID: "cam-1", Confidence: 0.9}); err != nil {
			t.Fatalf("Sighting %d failed: %v", i, err)
		}
	}

	outcome, err := sess.Observe(ctx, Sighting{StudentID: "s-001", ObservedAt: at.Add(time.Minute), CameraID: "cam-1", Confidence: 0.9})
	if err != nil {
		t.Fatalf("Late sighting failed: %v", err)
	}
	if outcome != OutcomeAlreadyConfirmed {
		t.Errorf("Expected OutcomeAlreadyConfirmed, got %v", outcome)
	}
	if store.AttendanceCount() != 1 {
		t.Errorf("Expected exactly 1 record, got %d", store.AttendanceCount())
	}
}

func TestUnknownStudentRejected(t *testing.T) {
	store := mock.NewMockStore()
	sess := newTestSession(t, store, "s-001")

	_, err := sess.Observe(context.Background(), Sighting{StudentID: "s-999", ObservedAt: sess.StartsAt, CameraID: "cam-1"})
	if err == nil {
		t.Fatal("Expected error for student outside roster")
	}
}

func TestSweepConfirmsAgedSingleSighting(t *testing.T) {
	store := mock.NewMockStore()
	sess := newTestSession(t, store, "s-001", "s-002")
	ctx := context.Background()

	first := sess.StartsAt
	if _, err := sess.Observe(ctx, Sighting{StudentID: "s-001", ObservedAt: first, CameraID: "cam-1", Confidence: 0.8}); err != nil {
		t.Fatalf("Sighting failed: %v", err)
	}

	// timeout not reached yet
	confirmed, err := sess.Sweep(ctx, first.Add(5*time.Second))
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if len(confirmed) != 0 {
		t.Errorf("Expected no confirmations before timeout, got %v", confirmed)
	}

	confirmed, err = sess.Sweep(ctx, first.Add(10*time.Second))
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if !reflect.DeepEqual(confirmed, []string{"s-001"}) {
		t.Errorf("Expected s-001 confirmed by timeout, got %v", confirmed)
	}
	if store.AttendanceCount() != 1 {
		t.Errorf("Expected 1 record, got %d", store.AttendanceCount())
	}
	if got := sess.LiveStatus()["s-001"]; got != StateConfirmed {
		t.Errorf("Expected confirmed state, got %s", got)
	}
}

func TestClosedSessionRejectsSightings(t *testing.T) {
	store := mock.NewMockStore()
	sess := newTestSession(t, store, "s-001")
	ctx := context.Background()

	if _, err := sess.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := sess.Observe(ctx, Sighting{StudentID: "s-001", ObservedAt: sess.StartsAt, CameraID: "cam-1"}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed, got %v", err)
	}
	if _, err := sess.Sweep(ctx, time.Now()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed from sweep, got %v", err)
	}
	if _, err := sess.Close(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed from double close, got %v", err)
	}
	if store.AttendanceCount() != 0 {
		t.Errorf("Expected no records, got %d", store.AttendanceCount())
	}
}

func TestCloseSummarySplitsRoster(t *testing.T) {
	store := mock.NewMockStore()
	sess := newTestSession(t, store, "s-001", "s-002", "s-003")
	ctx := context.Background()

	at := sess.StartsAt
	// s-001 confirmed by two sightings
	sess.Observe(ctx, Sighting{StudentID: "s-001", ObservedAt: at, CameraID: "cam-1", Confidence: 0.9})
	sess.Observe(ctx, Sighting{StudentID: "s-001", ObservedAt: at.Add(time.Second), CameraID: "cam-1", Confidence: 0.9})
	// s-002 pending with a single sighting
	sess.Observe(ctx, Sighting{StudentID: "s-002", ObservedAt: at, CameraID: "cam-2", Confidence: 0.7})
	// s-003 never seen

	summary, err := sess.Close()
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !reflect.DeepEqual(summary.Confirmed, []string{"s-001"}) {
		t.Errorf("Confirmed = %v", summary.Confirmed)
	}
	if !reflect.DeepEqual(summary.Partial, []string{"s-002"}) {
		t.Errorf("Partial = %v", summary.Partial)
	}
	if !reflect.DeepEqual(summary.Absent, []string{"s-003"}) {
		t.Errorf("Absent = %v", summary.Absent)
	}
	// partial and absent students get no record
	if store.AttendanceCount() != 1 {
		t.Errorf("Expected 1 record, got %d", store.AttendanceCount())
	}
}

// gatedWriter blocks every insert until released, so tests can hold a commit
// in flight.
type gatedWriter struct {
	inner   database.AttendanceWriter
	entered chan struct{}
	release chan struct{}
}

func (w *gatedWriter) InsertAttendance(ctx context.Context, rec database.AttendanceRecord) (bool, error) {
	w.entered <- struct{}{}
	<-w.release
	return w.inner.InsertAttendance(ctx, rec)
}

func TestCloseWaitsForInFlightWrite(t *testing.T) {
	store := mock.NewMockStore()
	writer := &gatedWriter{
		inner:   store,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	sess := newTestSession(t, writer, "s-001")
	ctx := context.Background()

	at := sess.StartsAt
	if _, err := sess.Observe(ctx, Sighting{StudentID: "s-001", ObservedAt: at, CameraID: "cam-1", Confidence: 0.9}); err != nil {
		t.Fatalf("First sighting failed: %v", err)
	}

	outcomes := make(chan Outcome, 1)
	go func() {
		outcome, err := sess.Observe(ctx, Sighting{StudentID: "s-001", ObservedAt: at.Add(time.Second), CameraID: "cam-2", Confidence: 0.9})
		if err != nil {
			t.Errorf("Second sighting failed: %v", err)
		}
		outcomes <- outcome
	}()
	<-writer.entered // the commit is now stalled inside the store write

	summaries := make(chan *Summary, 1)
	go func() {
		summary, err := sess.Close()
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}
		summaries <- summary
	}()

	select {
	case <-summaries:
		t.Fatal("Close returned while a write was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(writer.release)
	if outcome := <-outcomes; outcome != OutcomeConfirmed {
		t.Errorf("Expected OutcomeConfirmed, got %v", outcome)
	}
	summary := <-summaries
	if !reflect.DeepEqual(summary.Confirmed, []string{"s-001"}) {
		t.Errorf("Expected the written record reflected as confirmed, got Confirmed=%v Partial=%v", summary.Confirmed, summary.Partial)
	}
	if store.AttendanceCount() != 1 {
		t.Errorf("Expected 1 record, got %d", store.AttendanceCount())
	}
}

func TestSecondSightingAfterWindowStillConfirms(t *testing.T) {
	store := mock.NewMockStore()
	sess := newTestSession(t, store, "s-001")
	ctx := context.Background()

	first := sess.StartsAt
	sess.Observe(ctx, Sighting{StudentID: "s-001", ObservedAt: first, CameraID: "cam-1", Confidence: 0.9})

	// 7 seconds later, past the 5 second window but before the 10 second
	// single-sighting timeout would have swept the student anyway
	outcome, err := sess.Observe(ctx, Sighting{StudentID: "s-001", ObservedAt: first.Add(7 * time.Second), CameraID: "cam-2", Confidence: 0.9})
	if err != nil {
		t.Fatalf("Late second sighting failed: %v", err)
	}
	if outcome != OutcomeConfirmed {
		t.Errorf("Expected a late second sighting to confirm, got %v", outcome)
	}
	records, _ := store.ListAttendance(ctx, "CS101", "2026-09-14")
	if len(records) != 1 || !records[0].FirstSeenAt.Equal(first) {
		t.Errorf("Expected 1 record timestamped at the first sighting, got %+v", records)
	}
}

func TestConcurrentConfirmationsWriteOneRecord(t *testing.T) {
	store := mock.NewMockStore()
	sess := newTestSession(t, store, "s-001")
	ctx := context.Background()

	at := sess.StartsAt
	const cameras = 8
	var wg sync.WaitGroup
	for i := 0; i < cameras; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := sess.Observe(ctx, Sighting{
				StudentID:  "s-001",
				ObservedAt: at.Add(time.Duration(i) * time.Millisecond),
				CameraID:   "cam-1",
				Confidence: 0.9,
			})
			if err != nil {
				t.Errorf("Concurrent sighting failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if store.AttendanceCount() != 1 {
		t.Errorf("Expected exactly 1 record, got %d", store.AttendanceCount())
	}
}

func TestFailedWriteKeepsStudentPending(t *testing.T) {
	store := mock.NewMockStore()
	sess := newTestSession(t, store, "s-001")
	ctx := context.Background()

	at := sess.StartsAt
	sess.Observe(ctx, Sighting{StudentID: "s-001", ObservedAt: at, CameraID: "cam-1", Confidence: 0.9})

	store.InsertAttendanceError = errors.New("connection refused")
	if _, err := sess.Observe(ctx, Sighting{StudentID: "s-001", ObservedAt: at.Add(time.Second), CameraID: "cam-1", Confidence: 0.9}); err == nil {
		t.Fatal("Expected write error to surface")
	}
	if got := sess.LiveStatus()["s-001"]; got != StatePending {
		t.Errorf("Expected student back in pending after failed write, got %s", got)
	}

	// the store recovers and a later sighting confirms
	store.InsertAttendanceError = nil
	outcome, err := sess.Observe(ctx, Sighting{StudentID: "s-001", ObservedAt: at.Add(2 * time.Second), CameraID: "cam-1", Confidence: 0.9})
	if err != nil {
		t.Fatalf("Retry sighting failed: %v", err)
	}
	if outcome != OutcomeConfirmed {
		t.Errorf("Expected OutcomeConfirmed, got %v", outcome)
	}
	if store.AttendanceCount() != 1 {
		t.Errorf("Expected 1 record, got %d", store.AttendanceCount())
	}
}
