package encode

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"safescan/internal/scan"
)

const (
	// DefaultMaxDimension bounds the longest side of the encoded frame
	DefaultMaxDimension = 640
	// DefaultQuality is the JPEG quality used when none is configured
	DefaultQuality = 80
)

// Encoder compresses raw frames into bounded JPEG payloads. Frames larger
// than MaxDimension on either side are downscaled preserving aspect ratio
// before encoding.
type Encoder struct {
	maxDimension int
	quality      int
}

// NewEncoder creates an encoder with the given bounds. Zero or negative
// values fall back to the defaults.
func NewEncoder(maxDimension, quality int) *Encoder {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Encoder{maxDimension: maxDimension, quality: quality}
}

// Encode produces an immutable EncodedFrame from a raw frame
func (e *Encoder) Encode(frame *scan.Frame) (*scan.EncodedFrame, error) {
	if frame == nil || frame.Image == nil {
		return nil, fmt.Errorf("nil frame")
	}

	img := frame.Image
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("empty frame (%dx%d)", bounds.Dx(), bounds.Dy())
	}

	if bounds.Dx() > e.maxDimension || bounds.Dy() > e.maxDimension {
		img = imaging.Fit(img, e.maxDimension, e.maxDimension, imaging.Lanczos)
		bounds = img.Bounds()
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(e.quality)); err != nil {
		return nil, fmt.Errorf("jpeg encode failed: %w", err)
	}

	return &scan.EncodedFrame{
		Data:    buf.Bytes(),
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
		Quality: e.quality,
	}, nil
}

// Decode is a convenience for frame sources: it decodes an image payload
// into a raw frame, normalizing orientation-free formats the service
// accepts (JPEG, PNG, BMP).
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("image decode failed: %w", err)
	}
	return img, nil
}

// Ensure Encoder satisfies the scanner's encoder contract
var _ scan.FrameEncoder = (*Encoder)(nil)
