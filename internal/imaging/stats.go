package imaging

import (
	"image"
	"math"
)

// Stats summarizes the pixels of an image.
type Stats struct {
	Width       int
	Height      int
	Brightness  float64 // mean luma, 0-255
	Contrast    float64 // luma standard deviation
	Sharpness   float64 // variance of the 4-neighbour Laplacian
	EdgeDensity float64 // share of pixels whose Laplacian exceeds edgeThreshold
	AvgRed      float64
	AvgGreen    float64
	AvgBlue     float64
}

const edgeThreshold = 30

// ComputeStats returns brightness, contrast, sharpness and channel means.
func ComputeStats(img image.Image) Stats {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	st := Stats{Width: w, Height: h}
	if w == 0 || h == 0 {
		return st
	}

	gray := make([]float64, w*h)
	var sumR, sumG, sumB, sum float64
	for y := range h {
		for x := range w {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			rf, gf, bf := float64(r>>8), float64(g>>8), float64(b>>8)
			l := 0.299*rf + 0.587*gf + 0.114*bf
			gray[y*w+x] = l
			sum += l
			sumR += rf
			sumG += gf
			sumB += bf
		}
	}
	n := float64(w * h)
	st.Brightness = sum / n
	st.AvgRed = sumR / n
	st.AvgGreen = sumG / n
	st.AvgBlue = sumB / n

	var variance float64
	for _, l := range gray {
		d := l - st.Brightness
		variance += d * d
	}
	st.Contrast = math.Sqrt(variance / n)

	if w < 3 || h < 3 {
		return st
	}
	var lapSum, lapSq float64
	var edges int
	inner := float64((w - 2) * (h - 2))
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			lap := gray[i-w] + gray[i+w] + gray[i-1] + gray[i+1] - 4*gray[i]
			lapSum += lap
			lapSq += lap * lap
			if math.Abs(lap) > edgeThreshold {
				edges++
			}
		}
	}
	mean := lapSum / inner
	st.Sharpness = lapSq/inner - mean*mean
	st.EdgeDensity = float64(edges) / inner
	return st
}
