package faceapi

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// minRegionSide is the smallest usable crop edge in pixels. Anything smaller
// cannot produce a stable embedding.
const minRegionSide = 24

// CropRegion cuts the bounding box out of a frame and returns it as JPEG
// bytes, padded by margin (a fraction of the box size) on every side.
// Regions smaller than minRegionSide yield an ExtractionError.
func CropRegion(imageData []byte, bbox []float64, margin float64) ([]byte, error) {
	if len(bbox) != 4 {
		return nil, &ExtractionError{Err: fmt.Errorf("bounding box needs 4 coordinates, got %d", len(bbox))}
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, &ExtractionError{Err: fmt.Errorf("failed to decode frame: %w", err)}
	}

	bounds := img.Bounds()
	w := bbox[2] - bbox[0]
	h := bbox[3] - bbox[1]

	rect := image.Rect(
		clamp(int(bbox[0]-w*margin), bounds.Min.X, bounds.Max.X),
		clamp(int(bbox[1]-h*margin), bounds.Min.Y, bounds.Max.Y),
		clamp(int(bbox[2]+w*margin), bounds.Min.X, bounds.Max.X),
		clamp(int(bbox[3]+h*margin), bounds.Min.Y, bounds.Max.Y),
	)

	if rect.Dx() < minRegionSide || rect.Dy() < minRegionSide {
		return nil, &ExtractionError{
			Err: fmt.Errorf("face region too small: %dx%d", rect.Dx(), rect.Dy()),
		}
	}

	crop := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.BiLinear.Scale(crop, crop.Bounds(), img, rect, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, crop, &jpeg.Options{Quality: 90}); err != nil {
		return nil, &ExtractionError{Err: fmt.Errorf("failed to encode region: %w", err)}
	}

	return buf.Bytes(), nil
}

// ResizeImage resizes an image to fit within maxSize while keeping aspect
// ratio. Returns JPEG-encoded bytes; images already within bounds pass
// through untouched.
func ResizeImage(data []byte, maxSize int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width <= maxSize && height <= maxSize {
		return data, nil
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = int(float64(height) * float64(maxSize) / float64(width))
	} else {
		newHeight = maxSize
		newWidth = int(float64(width) * float64(maxSize) / float64(height))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}

	return buf.Bytes(), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
