package camera

import (
	"context"
	"io"
	"sync"
	"time"
)

// MockCamera replays a fixed frame sequence. Used in tests and for running
// the pipeline against recorded footage without camera hardware.
type MockCamera struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	pos    int
	closed bool

	// FailAfter, when positive, disconnects the source after that many
	// frames have been produced.
	FailAfter int
	// Delay throttles Next to simulate a capture interval.
	Delay time.Duration
}

// NewMockCamera creates a mock source producing the given frames in order.
// When the sequence is exhausted the source reports a disconnect.
func NewMockCamera(id string, frames [][]byte) *MockCamera {
	return &MockCamera{id: id, frames: frames}
}

func (c *MockCamera) ID() string { return c.id }

func (c *MockCamera) Next(ctx context.Context) (*Frame, error) {
	if c.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.Delay):
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, &DisconnectedError{CameraID: c.id, Err: io.ErrClosedPipe}
	}
	if c.FailAfter > 0 && c.pos >= c.FailAfter {
		return nil, &DisconnectedError{CameraID: c.id, Err: io.ErrUnexpectedEOF}
	}
	if c.pos >= len(c.frames) {
		return nil, &DisconnectedError{CameraID: c.id, Err: io.EOF}
	}

	frame := &Frame{
		CameraID:   c.id,
		CapturedAt: time.Now(),
		Data:       c.frames[c.pos],
	}
	c.pos++
	return frame, nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
