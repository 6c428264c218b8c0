// Package camera abstracts classroom cameras as frame producers. A source is
// acquired, read until it fails or is closed, and must be re-acquired after a
// disconnect; the pipeline owns the retry policy.
package camera

import (
	"context"
	"fmt"
	"time"

	"github.com/classeye/attendance/internal/config"
)

// Frame is one captured image. It lives for a single processing cycle.
type Frame struct {
	CameraID   string
	CapturedAt time.Time
	Data       []byte // encoded image, typically JPEG
}

// FrameSource produces a continuous sequence of frames from one camera.
// Next blocks until a frame is available, the context is cancelled, or the
// camera disconnects. A source that returned a DisconnectedError is dead;
// acquire a new one.
type FrameSource interface {
	ID() string
	Next(ctx context.Context) (*Frame, error)
	Close() error
}

// DisconnectedError reports a camera that stopped producing frames. The
// condition is recoverable by re-acquiring the source.
type DisconnectedError struct {
	CameraID string
	Err      error
}

func (e *DisconnectedError) Error() string {
	return fmt.Sprintf("camera %s disconnected: %v", e.CameraID, e.Err)
}

func (e *DisconnectedError) Unwrap() error { return e.Err }

// Open acquires the frame source declared by cfg. The returned source holds
// the camera resource until Close.
func Open(ctx context.Context, cfg config.CameraConfig) (FrameSource, error) {
	switch cfg.Kind {
	case "usb":
		return OpenUSBCamera(ctx, cfg.ID, cfg.Source, cfg.FPS)
	case "wifi":
		return OpenWiFiCamera(ctx, cfg.ID, cfg.Source)
	default:
		return nil, fmt.Errorf("unknown camera kind %q", cfg.Kind)
	}
}
