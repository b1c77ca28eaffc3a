package utils

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	// ErrEmptyImage is returned when there are no bytes to decode or the decoded image has no pixels
	ErrEmptyImage = errors.New("empty image")
	// ErrImageTooLarge is returned when the image header declares more pixels than allowed
	ErrImageTooLarge = errors.New("image too large")
)

// DefaultMaxPixels bounds decoded frames to 4096x4096
const DefaultMaxPixels = 4096 * 4096

// Codec decodes compressed image buffers into frames and encodes frames back
// for transfer to the inference service
type Codec struct {
	// JPEGQuality is used by Encode
	JPEGQuality int
	// MaxPixels limits width*height of decoded images, 0 disables the check
	MaxPixels int
}

// NewCodec creates a codec with the default JPEG quality and pixel limit
func NewCodec() *Codec {
	return &Codec{JPEGQuality: 90, MaxPixels: DefaultMaxPixels}
}

// Decode decodes any registered format (jpeg, png, gif, bmp, tiff, webp)
func (c *Codec) Decode(data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	// Decoders allocate the pixel buffer from the header before reading any
	// pixel data, so the declared size is checked first
	header, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}
	if c.MaxPixels > 0 && int64(header.Width)*int64(header.Height) > int64(c.MaxPixels) {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageTooLarge, header.Width, header.Height, c.MaxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	frame := NewFrame(img)
	if frame.Empty() {
		return nil, ErrEmptyImage
	}
	return frame, nil
}

// Encode encodes a frame as JPEG
func (c *Codec) Encode(frame *Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, frame.Image(), imaging.JPEG, imaging.JPEGQuality(c.JPEGQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
