// Package imaging decodes, crops, resizes and encodes frames and face crops.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"github.com/kozaktomas/people-tracker/internal/facematch"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// ErrEmptyImage is returned for zero-length image data or zero-area crops.
var ErrEmptyImage = errors.New("empty image")

// Decode decodes JPEG, PNG or BMP data.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// EncodeJPEG encodes an image as JPEG with the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if img == nil {
		return nil, ErrEmptyImage
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// Fit scales img down so that neither side exceeds maxSize, keeping the
// aspect ratio. It returns the image and the applied scale factor (1 when no
// resize was needed).
func Fit(img image.Image, maxSize int) (image.Image, float64) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if maxSize <= 0 || (width <= maxSize && height <= maxSize) {
		return img, 1
	}

	// Calculate new dimensions.
	var newWidth, newHeight int
	var scale float64
	if width > height {
		scale = float64(maxSize) / float64(width)
		newWidth = maxSize
		newHeight = max(1, int(float64(height)*scale))
	} else {
		scale = float64(maxSize) / float64(height)
		newHeight = maxSize
		newWidth = max(1, int(float64(width)*scale))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized, scale
}

// ResizeImage resizes encoded image data to fit within maxSize (width or
// height) while keeping aspect ratio, and returns it re-encoded as JPEG.
func ResizeImage(data []byte, maxSize int) ([]byte, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	resized, _ := Fit(img, maxSize)
	return EncodeJPEG(resized, 85)
}

// Crop copies the region of img covered by the pixel box [x1, y1, x2, y2],
// clipped to the image bounds. The copy does not share pixels with img.
func Crop(img image.Image, box []float64) (image.Image, error) {
	if img == nil {
		return nil, ErrEmptyImage
	}
	bounds := img.Bounds()
	r, ok := facematch.ClampBox(box, bounds.Dx(), bounds.Dy())
	if !ok {
		return nil, ErrEmptyImage
	}
	src := image.Rect(r[0], r[1], r[2], r[3]).Add(bounds.Min)
	dst := image.NewRGBA(image.Rect(0, 0, src.Dx(), src.Dy()))
	draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Src)
	return dst, nil
}
