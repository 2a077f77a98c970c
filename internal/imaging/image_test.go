package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"
)

// Helper functions for creating test images

func createTestImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodeJPEG(img image.Image) []byte {
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}

func encodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

// --- ResizeImage tests ---

func TestResizeImage_NeedsResize_Landscape(t *testing.T) {
	img := createTestImage(2000, 1000, color.White)
	data := encodeJPEG(img)

	resized, err := ResizeImage(data, 500)
	if err != nil {
		t.Fatalf("ResizeImage failed: %v", err)
	}

	decodedImg, _, err := image.Decode(bytes.NewReader(resized))
	if err != nil {
		t.Fatalf("failed to decode resized image: %v", err)
	}

	bounds := decodedImg.Bounds()
	if bounds.Dx() != 500 {
		t.Errorf("expected width 500, got %d", bounds.Dx())
	}
	if bounds.Dy() != 250 {
		t.Errorf("expected height 250, got %d", bounds.Dy())
	}
}

func TestResizeImage_NeedsResize_Portrait(t *testing.T) {
	img := createTestImage(1000, 2000, color.White)
	data := encodeJPEG(img)

	resized, err := ResizeImage(data, 500)
	if err != nil {
		t.Fatalf("ResizeImage failed: %v", err)
	}

	decodedImg, _, err := image.Decode(bytes.NewReader(resized))
	if err != nil {
		t.Fatalf("failed to decode resized image: %v", err)
	}

	bounds := decodedImg.Bounds()
	if bounds.Dy() != 500 || bounds.Dx() != 250 {
		t.Errorf("expected 250x500, got %dx%d", bounds.Dx(), bounds.Dy())
	}
}

func TestResizeImage_InvalidData(t *testing.T) {
	if _, err := ResizeImage([]byte("not an image"), 500); err == nil {
		t.Error("expected error for invalid image data")
	}
}

func TestResizeImage_EmptyData(t *testing.T) {
	if _, err := ResizeImage([]byte{}, 500); err == nil {
		t.Error("expected error for empty data")
	}
}

func TestResizeImage_PNGInput(t *testing.T) {
	img := createTestImage(100, 100, color.White)
	data := encodePNG(img)

	resized, err := ResizeImage(data, 200)
	if err != nil {
		t.Fatalf("ResizeImage failed for PNG: %v", err)
	}

	// Should convert to JPEG
	_, format, err := image.Decode(bytes.NewReader(resized))
	if err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("expected jpeg output format, got %s", format)
	}
}

func TestFit(t *testing.T) {
	img := createTestImage(1280, 720, color.White)

	fitted, scale := Fit(img, 640)
	if fitted.Bounds().Dx() != 640 || fitted.Bounds().Dy() != 360 {
		t.Errorf("expected 640x360, got %dx%d", fitted.Bounds().Dx(), fitted.Bounds().Dy())
	}
	if math.Abs(scale-0.5) > 1e-9 {
		t.Errorf("scale = %v, want 0.5", scale)
	}

	small := createTestImage(320, 240, color.White)
	same, scale := Fit(small, 640)
	if same != image.Image(small) || scale != 1 {
		t.Error("images within bounds must be returned unchanged")
	}
}

func TestCrop(t *testing.T) {
	img := createTestImage(100, 80, color.White)
	img.Set(15, 25, color.RGBA{255, 0, 0, 255})

	crop, err := Crop(img, []float64{10, 20, 30, 50})
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	b := crop.Bounds()
	if b.Min.X != 0 || b.Min.Y != 0 || b.Dx() != 20 || b.Dy() != 30 {
		t.Errorf("unexpected crop bounds %v", b)
	}
	r, g, _, _ := crop.At(5, 5).RGBA()
	if r>>8 != 255 || g>>8 != 0 {
		t.Errorf("crop does not contain the marked pixel")
	}

	// The crop must not alias the source.
	img.Set(15, 25, color.White)
	if r, _, _, _ := crop.At(5, 5).RGBA(); r>>8 != 255 {
		t.Error("crop shares pixels with the source image")
	}
}

func TestCrop_OutOfBounds(t *testing.T) {
	img := createTestImage(50, 50, color.White)
	if _, err := Crop(img, []float64{60, 60, 80, 80}); err == nil {
		t.Error("expected error for a box outside the image")
	}
	if _, err := Crop(nil, []float64{0, 0, 1, 1}); err == nil {
		t.Error("expected error for nil image")
	}
}

func TestEncodeDecodeJPEG(t *testing.T) {
	data, err := EncodeJPEG(createTestImage(16, 16, color.Gray{100}), 85)
	if err != nil {
		t.Fatalf("EncodeJPEG failed: %v", err)
	}
	img, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if img.Bounds().Dx() != 16 {
		t.Errorf("expected width 16, got %d", img.Bounds().Dx())
	}
}

func TestComputeStats_Uniform(t *testing.T) {
	st := ComputeStats(createTestImage(20, 10, color.RGBA{200, 100, 50, 255}))

	if st.Width != 20 || st.Height != 10 {
		t.Errorf("dimensions = %dx%d", st.Width, st.Height)
	}
	if math.Abs(st.AvgRed-200) > 0.5 || math.Abs(st.AvgGreen-100) > 0.5 || math.Abs(st.AvgBlue-50) > 0.5 {
		t.Errorf("channel means = %v/%v/%v", st.AvgRed, st.AvgGreen, st.AvgBlue)
	}
	if st.Contrast > 1e-9 {
		t.Errorf("uniform image contrast = %v, want 0", st.Contrast)
	}
	if st.Sharpness > 1e-9 || st.EdgeDensity != 0 {
		t.Errorf("uniform image sharpness = %v, edges = %v", st.Sharpness, st.EdgeDensity)
	}
}

func TestComputeStats_Checkerboard(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := range 10 {
		for x := range 10 {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	st := ComputeStats(img)
	if st.Contrast < 100 {
		t.Errorf("checkerboard contrast = %v, expected high", st.Contrast)
	}
	if st.Sharpness <= 0 || st.EdgeDensity < 0.99 {
		t.Errorf("checkerboard sharpness = %v, edges = %v", st.Sharpness, st.EdgeDensity)
	}
}
