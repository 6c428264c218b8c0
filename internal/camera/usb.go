package camera

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// USBCamera reads a local V4L2 device through an ffmpeg subprocess emitting
// an MJPEG byte stream on stdout. ffmpeg owns the device handle; killing the
// process releases it on every exit path.
type USBCamera struct {
	id     string
	device string
	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *bufio.Reader
	cancel context.CancelFunc
}

// OpenUSBCamera acquires the device and starts the capture process at the
// given frame rate.
func OpenUSBCamera(ctx context.Context, id, device string, fps int) (*USBCamera, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("camera %s: ffmpeg not found in PATH: %w", id, err)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, ffmpegPath,
		"-f", "v4l2",
		"-i", device,
		"-vf", fmt.Sprintf("fps=%d", fps),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-loglevel", "error",
		"-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("camera %s: stdout pipe: %w", id, err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &DisconnectedError{CameraID: id, Err: fmt.Errorf("starting ffmpeg: %w", err)}
	}

	return &USBCamera{
		id:     id,
		device: device,
		cmd:    cmd,
		stdout: stdout,
		reader: bufio.NewReaderSize(stdout, 1<<20),
		cancel: cancel,
	}, nil
}

func (c *USBCamera) ID() string { return c.id }

// Next reads one JPEG frame from the ffmpeg pipe.
func (c *USBCamera) Next(ctx context.Context) (*Frame, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		data, err := readJPEGFrame(c.reader)
		ch <- result{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		c.cancel()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, &DisconnectedError{CameraID: c.id, Err: r.err}
		}
		return &Frame{CameraID: c.id, CapturedAt: time.Now(), Data: r.data}, nil
	}
}

// Close stops the capture process and releases the device.
func (c *USBCamera) Close() error {
	c.cancel()
	// Wait reaps the process; the error is the expected kill signal.
	_ = c.cmd.Wait()
	return nil
}

// readJPEGFrame scans the stream for the next complete JPEG image, delimited
// by the SOI (FF D8) and EOI (FF D9) markers.
func readJPEGFrame(r *bufio.Reader) ([]byte, error) {
	// Find the start-of-image marker.
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != 0xFF {
			continue
		}
		next, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if next == 0xD8 {
			break
		}
	}

	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xD8})

	// Copy until the end-of-image marker.
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(b)
		if buf.Len() > maxFrameBytes {
			return nil, fmt.Errorf("frame exceeds %d bytes without EOI marker", maxFrameBytes)
		}
		if b != 0xFF {
			continue
		}
		next, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(next)
		if next == 0xD9 {
			return buf.Bytes(), nil
		}
	}
}
