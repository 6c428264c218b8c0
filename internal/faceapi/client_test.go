package faceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
)

// testJPEG encodes a solid-color image for upload tests.
func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestDetectFaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect/face" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("failed to parse multipart form: %v", err)
		}
		json.NewEncoder(w).Encode(detectResponse{
			FacesCount: 2,
			Faces: []Detection{
				{FaceIndex: 0, Dim: 4, Embedding: []float32{1, 0, 0, 0}, BBox: []float64{10, 10, 60, 60}, DetScore: 0.98},
				{FaceIndex: 1, Dim: 4, Embedding: []float32{0, 1, 0, 0}, BBox: []float64{80, 20, 130, 70}, DetScore: 0.91},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, 4)
	faces, err := client.DetectFaces(context.Background(), testJPEG(t, 200, 100))
	if err != nil {
		t.Fatalf("DetectFaces failed: %v", err)
	}
	if len(faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(faces))
	}
	if faces[0].DetScore != 0.98 {
		t.Errorf("expected det score 0.98, got %f", faces[0].DetScore)
	}
}

func TestDetectFaces_NoFacesIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(detectResponse{FacesCount: 0, Faces: []Detection{}})
	}))
	defer server.Close()

	client := NewClient(server.URL, 4)
	faces, err := client.DetectFaces(context.Background(), testJPEG(t, 100, 100))
	if err != nil {
		t.Fatalf("expected no error for empty result, got %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("expected 0 faces, got %d", len(faces))
	}
}

func TestDetectFaces_BadFrame(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "cannot decode image", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewClient(server.URL, 4)
	_, err := client.DetectFaces(context.Background(), []byte("not an image"))

	var detErr *DetectionError
	if !errors.As(err, &detErr) {
		t.Fatalf("expected DetectionError, got %T: %v", err, err)
	}
}

func TestDetectFaces_DropsWrongDimension(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(detectResponse{
			FacesCount: 2,
			Faces: []Detection{
				{FaceIndex: 0, Dim: 4, Embedding: []float32{1, 0, 0, 0}},
				{FaceIndex: 1, Dim: 3, Embedding: []float32{0, 1, 0}},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, 4)
	faces, err := client.DetectFaces(context.Background(), testJPEG(t, 100, 100))
	if err != nil {
		t.Fatalf("DetectFaces failed: %v", err)
	}
	if len(faces) != 1 {
		t.Errorf("expected wrong-dimension face to be dropped, got %d faces", len(faces))
	}
}

func TestEmbedRegion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(embedResponse{Dim: 4, Embedding: []float32{0.5, 0.5, 0, 0}})
	}))
	defer server.Close()

	client := NewClient(server.URL, 4)
	emb, err := client.EmbedRegion(context.Background(), testJPEG(t, 64, 64))
	if err != nil {
		t.Fatalf("EmbedRegion failed: %v", err)
	}
	if len(emb) != 4 {
		t.Errorf("expected embedding of length 4, got %d", len(emb))
	}
}

func TestEmbedRegion_Unusable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "region too small", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewClient(server.URL, 4)
	_, err := client.EmbedRegion(context.Background(), testJPEG(t, 8, 8))

	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected ExtractionError, got %T: %v", err, err)
	}
}

func TestEmbedRegion_DimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Dim: 3, Embedding: []float32{1, 0, 0}})
	}))
	defer server.Close()

	client := NewClient(server.URL, 4)
	_, err := client.EmbedRegion(context.Background(), testJPEG(t, 64, 64))

	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected ExtractionError, got %T: %v", err, err)
	}
}

func TestCropRegion(t *testing.T) {
	frame := testJPEG(t, 200, 200)

	crop, err := CropRegion(frame, []float64{50, 50, 150, 150}, 0.1)
	if err != nil {
		t.Fatalf("CropRegion failed: %v", err)
	}

	img, _, err := image.Decode(bytes.NewReader(crop))
	if err != nil {
		t.Fatalf("crop is not a decodable image: %v", err)
	}
	if img.Bounds().Dx() < 100 {
		t.Errorf("expected crop at least as wide as the box, got %d", img.Bounds().Dx())
	}
}

func TestCropRegion_TooSmall(t *testing.T) {
	frame := testJPEG(t, 200, 200)

	_, err := CropRegion(frame, []float64{10, 10, 20, 20}, 0)
	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected ExtractionError for tiny region, got %T: %v", err, err)
	}
}

func TestDetectMIMEType(t *testing.T) {
	jpegData := testJPEG(t, 10, 10)
	if got := detectMIMEType(jpegData); got != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %s", got)
	}
	if got := detectMIMEType([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}); got != "image/png" {
		t.Errorf("expected image/png, got %s", got)
	}
	if got := detectMIMEType([]byte("xx")); got != "application/octet-stream" {
		t.Errorf("expected octet-stream for short data, got %s", got)
	}
}
