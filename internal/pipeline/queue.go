package pipeline

import (
	"sync/atomic"

	"github.com/classeye/attendance/internal/camera"
)

// frameQueue is a bounded queue decoupling frame capture from matching.
// When full, the oldest frame is dropped; cameras never block on a slow
// matcher or store.
type frameQueue struct {
	ch      chan *camera.Frame
	dropped atomic.Int64
}

func newFrameQueue(size int) *frameQueue {
	if size < 1 {
		size = 1
	}
	return &frameQueue{ch: make(chan *camera.Frame, size)}
}

// Push enqueues a frame, evicting the oldest one when the queue is full.
func (q *frameQueue) Push(frame *camera.Frame) {
	for {
		select {
		case q.ch <- frame:
			return
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

// Pop returns the channel to consume frames from.
func (q *frameQueue) Pop() <-chan *camera.Frame {
	return q.ch
}

// Dropped reports how many frames were evicted so far.
func (q *frameQueue) Dropped() int64 {
	return q.dropped.Load()
}
