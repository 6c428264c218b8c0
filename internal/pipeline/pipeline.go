// Package pipeline runs the capture-to-store loop: camera workers feed a
// bounded frame queue, match workers detect and identify faces and hand
// accepted sightings to the live sessions.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/classeye/attendance/internal/camera"
	"github.com/classeye/attendance/internal/config"
	"github.com/classeye/attendance/internal/database"
	"github.com/classeye/attendance/internal/faceapi"
	"github.com/classeye/attendance/internal/match"
	"github.com/classeye/attendance/internal/registry"
	"github.com/classeye/attendance/internal/session"
)

// Pipeline wires cameras, the face service, the registry and the session
// manager together. Frame capture never blocks on matching or store
// latency; the queue drops the oldest frame under pressure.
type Pipeline struct {
	detector  faceapi.Detector
	extractor faceapi.Extractor
	registry  *registry.Registry
	matcher   *match.Matcher
	manager   *session.Manager
	events    database.EventLog
	cfg       config.PipelineConfig

	queue *frameQueue
}

// regionMargin pads the bounding box on every side before re-embedding, so
// the crop keeps some context around the face.
const regionMargin = 0.2

// New creates a pipeline. The extractor recovers faces the combined detect
// pass found but could not embed. Cameras are started by Run.
func New(detector faceapi.Detector, extractor faceapi.Extractor, reg *registry.Registry, matcher *match.Matcher, manager *session.Manager, events database.EventLog, cfg config.PipelineConfig) *Pipeline {
	return &Pipeline{
		detector:  detector,
		extractor: extractor,
		registry:  reg,
		matcher:   matcher,
		manager:   manager,
		events:    events,
		cfg:       cfg,
		queue:     newFrameQueue(cfg.QueueSize),
	}
}

// Run starts one capture worker per camera and the match workers, then
// blocks until the context ends and every worker drained.
func (p *Pipeline) Run(ctx context.Context, cameras []config.CameraConfig) error {
	if len(cameras) == 0 {
		return errors.New("no cameras configured")
	}

	var wg sync.WaitGroup

	workers := p.cfg.DetectParallel
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.matchLoop(ctx)
		}()
	}

	for _, cam := range cameras {
		wg.Add(1)
		go func(cam config.CameraConfig) {
			defer wg.Done()
			p.captureLoop(ctx, cam)
		}(cam)
	}

	wg.Wait()
	return nil
}

// Dropped reports how many frames the queue evicted so far.
func (p *Pipeline) Dropped() int64 {
	return p.queue.Dropped()
}

// captureLoop owns one camera for the lifetime of the context. The camera
// resource is released on every exit path; a disconnect triggers
// re-acquisition with capped exponential backoff rather than ending the
// loop.
func (p *Pipeline) captureLoop(ctx context.Context, cam config.CameraConfig) {
	for ctx.Err() == nil {
		src, err := p.acquire(ctx, cam)
		if err != nil {
			return
		}

		err = p.capture(ctx, src)
		src.Close()

		if ctx.Err() != nil {
			return
		}

		var disc *camera.DisconnectedError
		if errors.As(err, &disc) {
			log.Printf("Camera %s disconnected: %v", cam.ID, err)
			p.logEvent(ctx, database.EventCameraLost, cam.ID, disc.Error())
			continue
		}
		if err != nil {
			log.Printf("Camera %s stopped: %v", cam.ID, err)
			p.logEvent(ctx, database.EventCameraLost, cam.ID, err.Error())
		}
	}
}

func (p *Pipeline) acquire(ctx context.Context, cam config.CameraConfig) (camera.FrameSource, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = p.cfg.ReconnectMax
	bo.MaxElapsedTime = 0 // keep trying until the context ends

	var src camera.FrameSource
	err := backoff.Retry(func() error {
		var err error
		src, err = camera.Open(ctx, cam)
		if err != nil {
			log.Printf("Camera %s acquisition failed, will retry: %v", cam.ID, err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, fmt.Errorf("acquire camera %s: %w", cam.ID, err)
	}
	return src, nil
}

func (p *Pipeline) capture(ctx context.Context, src camera.FrameSource) error {
	for {
		frame, err := src.Next(ctx)
		if err != nil {
			return err
		}
		p.queue.Push(frame)
	}
}

func (p *Pipeline) matchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-p.queue.Pop():
			p.processFrame(ctx, frame)
		}
	}
}

// processFrame detects faces in one frame and applies accepted matches to
// every live session. Bad frames and unusable faces are skipped and
// logged; they never end the loop.
func (p *Pipeline) processFrame(ctx context.Context, frame *camera.Frame) {
	sessions := p.manager.Live()
	if len(sessions) == 0 {
		return
	}

	detections, err := p.detector.DetectFaces(ctx, frame.Data)
	if err != nil {
		var detErr *faceapi.DetectionError
		if errors.As(err, &detErr) {
			p.logEvent(ctx, database.EventSkippedFrame, frame.CameraID, detErr.Error())
			return
		}
		log.Printf("Detection on camera %s failed: %v", frame.CameraID, err)
		return
	}

	for _, det := range detections {
		probe := det.Embedding
		if len(probe) == 0 {
			var err error
			probe, err = p.embedRegion(ctx, frame, det)
			if err != nil {
				p.logEvent(ctx, database.EventUnusableFace, frame.CameraID, err.Error())
				continue
			}
		}
		for _, sess := range sessions {
			p.applyMatch(ctx, sess, frame, probe)
		}
	}
}

// embedRegion crops the detected face out of the frame and asks the service
// for a dedicated embedding. Tiny or undecodable regions come back as an
// ExtractionError.
func (p *Pipeline) embedRegion(ctx context.Context, frame *camera.Frame, det faceapi.Detection) ([]float32, error) {
	crop, err := faceapi.CropRegion(frame.Data, det.BBox, regionMargin)
	if err != nil {
		return nil, err
	}
	return p.extractor.EmbedRegion(ctx, crop)
}

func (p *Pipeline) applyMatch(ctx context.Context, sess *session.Session, frame *camera.Frame, probe []float32) {
	snap, ok := p.registry.Snapshot(sess.CourseID)
	if !ok {
		return
	}

	result := p.matcher.Match(probe, snap)
	if result.Ambiguous {
		detail := fmt.Sprintf("probe within epsilon of %s (%.4f) and %s (%.4f)",
			result.StudentID, result.Distance, result.RunnerUpID, result.RunnerUpDistance)
		p.logSessionEvent(ctx, sess, database.EventAmbiguousMatch, frame.CameraID, detail)
		return
	}
	if !result.Accepted() {
		return
	}

	_, err := sess.Observe(ctx, session.Sighting{
		StudentID:  result.StudentID,
		ObservedAt: frame.CapturedAt,
		CameraID:   frame.CameraID,
		Confidence: result.Confidence(),
	})
	if errors.Is(err, session.ErrSessionClosed) {
		return
	}
	if err != nil {
		// the writer already retried; surface to the operator
		log.Printf("Attendance write for %s in %s/%s failed: %v", result.StudentID, sess.CourseID, sess.SessionDate, err)
		p.logSessionEvent(ctx, sess, database.EventStoreEscalation, frame.CameraID, err.Error())
	}
}

// logEvent records an operator event against every live session, so each
// session's operator sees camera level problems.
func (p *Pipeline) logEvent(ctx context.Context, kind, cameraID, detail string) {
	for _, sess := range p.manager.Live() {
		p.logSessionEvent(ctx, sess, kind, cameraID, detail)
	}
}

func (p *Pipeline) logSessionEvent(ctx context.Context, sess *session.Session, kind, cameraID, detail string) {
	ev := database.EventRecord{
		CourseID:    sess.CourseID,
		SessionDate: sess.SessionDate,
		Kind:        kind,
		CameraID:    cameraID,
		Detail:      detail,
		CreatedAt:   time.Now().UTC(),
	}
	if err := p.events.InsertEvent(ctx, ev); err != nil {
		log.Printf("Recording %s event failed: %v", kind, err)
	}
}
