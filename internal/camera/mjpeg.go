package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"time"
)

// maxFrameBytes caps a single MJPEG part. Anything larger is a corrupt
// stream, not a classroom frame.
const maxFrameBytes = 8 << 20

// WiFiCamera reads an MJPEG stream over HTTP (multipart/x-mixed-replace),
// the format served by IP webcams and phone camera apps.
type WiFiCamera struct {
	id     string
	url    string
	resp   *http.Response
	reader *multipart.Reader
	cancel context.CancelFunc
}

// OpenWiFiCamera connects to the stream URL and locks onto its multipart
// boundary. The connection is held until Close.
func OpenWiFiCamera(ctx context.Context, id, url string) (*WiFiCamera, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The stream outlives the acquisition call, so it gets its own context.
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("camera %s: create request: %w", id, err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, &DisconnectedError{CameraID: id, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, &DisconnectedError{
			CameraID: id,
			Err:      fmt.Errorf("stream returned status %d", resp.StatusCode),
		}
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" || params["boundary"] == "" {
		resp.Body.Close()
		cancel()
		return nil, &DisconnectedError{
			CameraID: id,
			Err:      fmt.Errorf("not an MJPEG stream: content type %q", resp.Header.Get("Content-Type")),
		}
	}

	return &WiFiCamera{
		id:     id,
		url:    url,
		resp:   resp,
		reader: multipart.NewReader(resp.Body, params["boundary"]),
		cancel: cancel,
	}, nil
}

func (c *WiFiCamera) ID() string { return c.id }

// Next reads the next frame part from the stream.
func (c *WiFiCamera) Next(ctx context.Context) (*Frame, error) {
	type result struct {
		frame *Frame
		err   error
	}
	ch := make(chan result, 1)

	go func() {
		part, err := c.reader.NextPart()
		if err != nil {
			ch <- result{err: &DisconnectedError{CameraID: c.id, Err: err}}
			return
		}
		defer part.Close()

		data, err := io.ReadAll(io.LimitReader(part, maxFrameBytes))
		if err != nil {
			ch <- result{err: &DisconnectedError{CameraID: c.id, Err: err}}
			return
		}
		ch <- result{frame: &Frame{CameraID: c.id, CapturedAt: time.Now(), Data: data}}
	}()

	select {
	case <-ctx.Done():
		// Unblock the part reader; the source is unusable afterwards.
		c.cancel()
		return nil, ctx.Err()
	case r := <-ch:
		return r.frame, r.err
	}
}

// Close releases the stream connection. Safe to call more than once.
func (c *WiFiCamera) Close() error {
	c.cancel()
	if c.resp != nil {
		if err := c.resp.Body.Close(); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("closing camera %s stream: %w", c.id, err)
		}
	}
	return nil
}
