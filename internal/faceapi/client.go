package faceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const defaultBaseURL = "http://localhost:8000"

// Detector locates faces in a frame. No detections is a valid, non-error
// result: an empty slice and a nil error.
type Detector interface {
	DetectFaces(ctx context.Context, imageData []byte) ([]Detection, error)
}

// Extractor computes a fixed-length embedding for a cropped face region.
// It must be deterministic for identical input.
type Extractor interface {
	EmbedRegion(ctx context.Context, imageData []byte) ([]float32, error)
}

// Client talks to the face embedding service. It implements both Detector
// and Extractor.
type Client struct {
	baseURL string
	dim     int
	client  *http.Client
}

// NewClient creates a face service client. dim is the expected embedding
// dimensionality; responses with a different length are rejected.
func NewClient(baseURL string, dim int) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		dim:     dim,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// postMultipartImage constructs a multipart form with the image data and
// posts it to the given endpoint. The part carries an explicit Content-Type
// header based on magic byte detection.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, int, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, 0, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, 0, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}

	return body, resp.StatusCode, nil
}

// DetectFaces runs the service's combined detect+embed pass over a frame.
// Bad or unreadable frames yield a DetectionError.
func (c *Client) DetectFaces(ctx context.Context, imageData []byte) ([]Detection, error) {
	if len(imageData) == 0 {
		return nil, &DetectionError{Err: errors.New("empty frame")}
	}

	body, status, err := c.postMultipartImage(ctx, "/detect/face", imageData)
	if err != nil {
		return nil, &DetectionError{Err: err}
	}
	if status != http.StatusOK {
		return nil, &DetectionError{Err: fmt.Errorf("API error (status %d): %s", status, string(body))}
	}

	var resp detectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &DetectionError{Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	faces := make([]Detection, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		if len(f.Embedding) != c.dim {
			// A malformed face entry is dropped, not fatal to the frame.
			continue
		}
		faces = append(faces, f)
	}

	return faces, nil
}

// EmbedRegion computes the embedding for a cropped face region. Regions the
// service rejects yield an ExtractionError.
func (c *Client) EmbedRegion(ctx context.Context, imageData []byte) ([]float32, error) {
	if len(imageData) == 0 {
		return nil, &ExtractionError{Err: errors.New("empty region")}
	}

	body, status, err := c.postMultipartImage(ctx, "/embed/face", imageData)
	if err != nil {
		return nil, &ExtractionError{Err: err}
	}
	if status != http.StatusOK {
		return nil, &ExtractionError{Err: fmt.Errorf("API error (status %d): %s", status, string(body))}
	}

	var resp embedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ExtractionError{Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	if len(resp.Embedding) == 0 {
		return nil, &ExtractionError{Err: errors.New("empty embedding returned")}
	}
	if len(resp.Embedding) != c.dim {
		return nil, &ExtractionError{
			Err: fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(resp.Embedding), c.dim),
		}
	}

	return resp.Embedding, nil
}

// Dim returns the expected embedding dimensionality.
func (c *Client) Dim() int {
	return c.dim
}

// detectMIMEType detects the MIME type from image data.
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// GIF: 47 49 46 38
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}
	return "application/octet-stream"
}
