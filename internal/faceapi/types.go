package faceapi

import "fmt"

// Detection is one face found in a frame: bounding box, detector score and
// the embedding computed by the service in the same pass.
type Detection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2] in raw pixel coordinates
	DetScore  float64   `json:"det_score"`
}

// detectResponse is the face service response for a full-frame detection pass.
type detectResponse struct {
	FacesCount int         `json:"faces_count"`
	Faces      []Detection `json:"faces"`
	Model      string      `json:"model"`
}

// embedResponse is the face service response for embedding a cropped region.
type embedResponse struct {
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// DetectionError reports a frame the face service could not read. The frame
// is skipped; the pipeline keeps running.
type DetectionError struct {
	Err error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("face detection failed: %v", e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

// ExtractionError reports a face region too small or too low-quality to
// embed. The detection is discarded as "no usable face".
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("face extraction failed: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
