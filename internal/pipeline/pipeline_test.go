package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"testing"
	"time"

	"github.com/classeye/attendance/internal/camera"
	"github.com/classeye/attendance/internal/config"
	"github.com/classeye/attendance/internal/database"
	"github.com/classeye/attendance/internal/database/mock"
	"github.com/classeye/attendance/internal/faceapi"
	"github.com/classeye/attendance/internal/match"
	"github.com/classeye/attendance/internal/registry"
	"github.com/classeye/attendance/internal/session"
)

// fakeDetector maps frame payloads to canned detections and optionally
// serves region embeddings.
type fakeDetector struct {
	detections map[string][]faceapi.Detection
	err        error
	embed      func(region []byte) ([]float32, error)
}

func (d *fakeDetector) DetectFaces(_ context.Context, imageData []byte) ([]faceapi.Detection, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.detections[string(imageData)], nil
}

func (d *fakeDetector) EmbedRegion(_ context.Context, region []byte) ([]float32, error) {
	if d.embed == nil {
		return nil, &faceapi.ExtractionError{Err: errors.New("no embedding for region")}
	}
	return d.embed(region)
}

func detectionWith(embedding []float32) []faceapi.Detection {
	return []faceapi.Detection{{
		FaceIndex: 0,
		Dim:       len(embedding),
		Embedding: embedding,
		BBox:      []float64{10, 10, 50, 50},
		DetScore:  0.99,
	}}
}

func newTestPipeline(t *testing.T, detector *fakeDetector, candidates []registry.Candidate) (*Pipeline, *mock.MockStore, *session.Session) {
	t.Helper()

	store := mock.NewMockStore()
	ctx := context.Background()
	for _, c := range candidates {
		store.UpsertStudent(ctx, database.StudentRecord{
			StudentID: c.StudentID, Name: c.Name, CourseID: "CS101", Active: true,
		})
	}

	reg := registry.New(detector, 512)
	reg.Publish(registry.NewSnapshot("CS101", candidates, 512))

	mgr := session.NewManager(store, 5*time.Second, 10*time.Second)
	start := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	sess, err := mgr.Open(ctx, "CS101", "2026-09-14", start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("Open session failed: %v", err)
	}

	cfg := config.PipelineConfig{QueueSize: 4, ReconnectMax: time.Second, StoreRetryMax: time.Second, DetectParallel: 1}
	p := New(detector, detector, reg, match.New(0.4, 0.01), mgr, store, cfg)
	return p, store, sess
}

func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("Encoding test image failed: %v", err)
	}
	return buf.Bytes()
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	q := newFrameQueue(2)
	for i := 0; i < 5; i++ {
		q.Push(&camera.Frame{CameraID: "cam-1", Data: []byte{byte(i)}})
	}

	if q.Dropped() != 3 {
		t.Errorf("Expected 3 dropped frames, got %d", q.Dropped())
	}

	// the two newest frames survive
	first := <-q.Pop()
	second := <-q.Pop()
	if first.Data[0] != 3 || second.Data[0] != 4 {
		t.Errorf("Expected frames 3 and 4, got %d and %d", first.Data[0], second.Data[0])
	}
}

func TestProcessFrameConfirmsAttendance(t *testing.T) {
	detector := &fakeDetector{detections: map[string][]faceapi.Detection{
		"frame-a": detectionWith([]float32{1, 0, 0}),
	}}
	candidates := []registry.Candidate{
		{StudentID: "s-001", Name: "Adam Kral", Angle: "front", Embedding: []float32{1, 0, 0}},
		{StudentID: "s-002", Name: "Bara Novakova", Angle: "front", Embedding: []float32{0, 1, 0}},
	}
	p, store, sess := newTestPipeline(t, detector, candidates)

	ctx := context.Background()
	at := time.Date(2026, 9, 14, 9, 5, 0, 0, time.UTC)
	p.processFrame(ctx, &camera.Frame{CameraID: "cam-1", CapturedAt: at, Data: []byte("frame-a")})
	p.processFrame(ctx, &camera.Frame{CameraID: "cam-2", CapturedAt: at.Add(2 * time.Second), Data: []byte("frame-a")})

	if store.AttendanceCount() != 1 {
		t.Fatalf("Expected 1 record, got %d", store.AttendanceCount())
	}
	records, _ := store.ListAttendance(ctx, "CS101", "2026-09-14")
	if records[0].StudentID != "s-001" {
		t.Errorf("Expected s-001 confirmed, got %s", records[0].StudentID)
	}
	if !records[0].FirstSeenAt.Equal(at) {
		t.Errorf("Expected first-seen %v, got %v", at, records[0].FirstSeenAt)
	}
	if got := sess.LiveStatus()["s-001"]; got != session.StateConfirmed {
		t.Errorf("Expected confirmed, got %s", got)
	}
}

func TestProcessFrameIgnoresUnknownFaces(t *testing.T) {
	detector := &fakeDetector{detections: map[string][]faceapi.Detection{
		"stranger": detectionWith([]float32{0, 0, 1}),
	}}
	candidates := []registry.Candidate{
		{StudentID: "s-001", Name: "Adam Kral", Angle: "front", Embedding: []float32{1, 0, 0}},
	}
	p, store, _ := newTestPipeline(t, detector, candidates)

	p.processFrame(context.Background(), &camera.Frame{CameraID: "cam-1", CapturedAt: time.Now(), Data: []byte("stranger")})

	if store.AttendanceCount() != 0 {
		t.Errorf("Expected no records for unknown face, got %d", store.AttendanceCount())
	}
}

func TestProcessFrameLogsAmbiguousMatch(t *testing.T) {
	// two distinct students share an identical reference embedding
	probe := []float32{1, 0, 0}
	detector := &fakeDetector{detections: map[string][]faceapi.Detection{
		"twin": detectionWith(probe),
	}}
	candidates := []registry.Candidate{
		{StudentID: "s-001", Name: "Adam Kral", Angle: "front", Embedding: probe},
		{StudentID: "s-002", Name: "Alan Kral", Angle: "front", Embedding: probe},
	}
	p, store, _ := newTestPipeline(t, detector, candidates)

	p.processFrame(context.Background(), &camera.Frame{CameraID: "cam-1", CapturedAt: time.Now(), Data: []byte("twin")})

	if store.AttendanceCount() != 0 {
		t.Errorf("Expected ambiguous match not to commit, got %d records", store.AttendanceCount())
	}
	events := store.EventsOfKind(database.EventAmbiguousMatch)
	if len(events) != 1 {
		t.Fatalf("Expected 1 ambiguous-match event, got %d", len(events))
	}
	if events[0].CameraID != "cam-1" {
		t.Errorf("Expected camera ID on event, got %q", events[0].CameraID)
	}
}

func TestProcessFrameSkipsBadFrames(t *testing.T) {
	detector := &fakeDetector{err: &faceapi.DetectionError{Err: errors.New("corrupt frame")}}
	candidates := []registry.Candidate{
		{StudentID: "s-001", Name: "Adam Kral", Angle: "front", Embedding: []float32{1, 0, 0}},
	}
	p, store, _ := newTestPipeline(t, detector, candidates)

	p.processFrame(context.Background(), &camera.Frame{CameraID: "cam-1", CapturedAt: time.Now(), Data: []byte("garbage")})

	if store.AttendanceCount() != 0 {
		t.Errorf("Expected no records from a bad frame, got %d", store.AttendanceCount())
	}
	if len(store.EventsOfKind(database.EventSkippedFrame)) != 1 {
		t.Error("Expected a skipped-frame event")
	}
}

func TestProcessFrameRecoversEmbeddingFromRegion(t *testing.T) {
	// the combined pass found a face but returned no embedding; the crop
	// of its bounding box is embedded separately
	frame := testJPEG(t, 100, 100)
	detector := &fakeDetector{
		detections: map[string][]faceapi.Detection{
			string(frame): {{FaceIndex: 0, BBox: []float64{10, 10, 60, 60}, DetScore: 0.95}},
		},
		embed: func(_ []byte) ([]float32, error) { return []float32{1, 0, 0}, nil },
	}
	candidates := []registry.Candidate{
		{StudentID: "s-001", Name: "Adam Kral", Angle: "front", Embedding: []float32{1, 0, 0}},
	}
	p, store, _ := newTestPipeline(t, detector, candidates)

	ctx := context.Background()
	at := time.Date(2026, 9, 14, 9, 5, 0, 0, time.UTC)
	p.processFrame(ctx, &camera.Frame{CameraID: "cam-1", CapturedAt: at, Data: frame})
	p.processFrame(ctx, &camera.Frame{CameraID: "cam-1", CapturedAt: at.Add(2 * time.Second), Data: frame})

	if store.AttendanceCount() != 1 {
		t.Fatalf("Expected the recovered embedding to confirm, got %d records", store.AttendanceCount())
	}
	if events := store.EventsOfKind(database.EventUnusableFace); len(events) != 0 {
		t.Errorf("Expected no unusable-face events, got %d", len(events))
	}
}

func TestProcessFrameLogsUnusableRegion(t *testing.T) {
	// frame payload is not a decodable image, so the crop fails
	detector := &fakeDetector{detections: map[string][]faceapi.Detection{
		"opaque": {{FaceIndex: 0, BBox: []float64{0, 0, 100, 100}, DetScore: 0.9}},
	}}
	candidates := []registry.Candidate{
		{StudentID: "s-001", Name: "Adam Kral", Angle: "front", Embedding: []float32{1, 0, 0}},
	}
	p, store, _ := newTestPipeline(t, detector, candidates)

	p.processFrame(context.Background(), &camera.Frame{CameraID: "cam-1", CapturedAt: time.Now(), Data: []byte("opaque")})

	if store.AttendanceCount() != 0 {
		t.Errorf("Expected no records from an unusable region, got %d", store.AttendanceCount())
	}
	if len(store.EventsOfKind(database.EventUnusableFace)) != 1 {
		t.Error("Expected an unusable-face event")
	}
}

func TestCaptureFeedsQueueUntilDisconnect(t *testing.T) {
	detector := &fakeDetector{}
	candidates := []registry.Candidate{
		{StudentID: "s-001", Name: "Adam Kral", Angle: "front", Embedding: []float32{1, 0, 0}},
	}
	p, _, _ := newTestPipeline(t, detector, candidates)

	src := camera.NewMockCamera("cam-1", [][]byte{[]byte("f1"), []byte("f2")})
	err := p.capture(context.Background(), src)

	var disc *camera.DisconnectedError
	if !errors.As(err, &disc) {
		t.Fatalf("Expected DisconnectedError after exhaustion, got %v", err)
	}
	if len(p.queue.Pop()) != 2 {
		t.Errorf("Expected 2 queued frames, got %d", len(p.queue.Pop()))
	}
}

// flakyWriter fails the first n writes.
type flakyWriter struct {
	failures int
	calls    int
}

func (w *flakyWriter) InsertAttendance(_ context.Context, _ database.AttendanceRecord) (bool, error) {
	w.calls++
	if w.calls <= w.failures {
		return false, fmt.Errorf("transient failure %d", w.calls)
	}
	return true, nil
}

func TestRetryWriterRecoversFromTransientFailures(t *testing.T) {
	inner := &flakyWriter{failures: 2}
	w := NewRetryWriter(inner, 5*time.Second)

	inserted, err := w.InsertAttendance(context.Background(), database.AttendanceRecord{})
	if err != nil {
		t.Fatalf("Expected retries to succeed, got %v", err)
	}
	if !inserted {
		t.Error("Expected inserted=true")
	}
	if inner.calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", inner.calls)
	}
}

func TestRetryWriterGivesUpEventually(t *testing.T) {
	inner := &flakyWriter{failures: 1 << 30}
	w := NewRetryWriter(inner, 300*time.Millisecond)

	_, err := w.InsertAttendance(context.Background(), database.AttendanceRecord{})
	if err == nil {
		t.Fatal("Expected error after retry budget exhausted")
	}
}

func TestMirrorWriterFailuresStayLocal(t *testing.T) {
	primary := mock.NewMockStore()
	mirror := mock.NewMockStore()
	mirror.InsertAttendanceError = errors.New("legacy store down")
	w := NewMirrorWriter(primary, mirror)

	rec := database.AttendanceRecord{CourseID: "CS101", StudentID: "s-001", SessionDate: "2026-09-14"}
	inserted, err := w.InsertAttendance(context.Background(), rec)
	if err != nil {
		t.Fatalf("Expected mirror failure to stay local, got %v", err)
	}
	if !inserted {
		t.Error("Expected inserted=true")
	}
	if primary.AttendanceCount() != 1 {
		t.Errorf("Expected primary write, got %d records", primary.AttendanceCount())
	}

	// duplicates are not mirrored again
	mirror.InsertAttendanceError = nil
	if _, err := w.InsertAttendance(context.Background(), rec); err != nil {
		t.Fatalf("Duplicate insert failed: %v", err)
	}
	if mirror.AttendanceCount() != 0 {
		t.Errorf("Expected duplicate not mirrored, got %d", mirror.AttendanceCount())
	}
}
