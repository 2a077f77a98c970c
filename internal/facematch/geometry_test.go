package facematch

import (
	"math"
	"testing"
)

func TestComputeIoU(t *testing.T) {
	tests := []struct {
		name     string
		bbox1    []float64
		bbox2    []float64
		expected float64
	}{
		{
			name:     "identical boxes",
			bbox1:    []float64{0, 0, 10, 10},
			bbox2:    []float64{0, 0, 10, 10},
			expected: 1.0,
		},
		{
			name:     "no overlap",
			bbox1:    []float64{0, 0, 10, 10},
			bbox2:    []float64{20, 20, 30, 30},
			expected: 0.0,
		},
		{
			name:     "partial overlap",
			bbox1:    []float64{0, 0, 10, 10},
			bbox2:    []float64{5, 5, 15, 15},
			expected: 25.0 / 175.0, // intersection=25, union=100+100-25=175
		},
		{
			name:     "one inside other",
			bbox1:    []float64{0, 0, 20, 20},
			bbox2:    []float64{5, 5, 15, 15},
			expected: 100.0 / 400.0, // intersection=100, union=400 (larger box)
		},
		{
			name:     "invalid bbox1",
			bbox1:    []float64{0, 0, 10},
			bbox2:    []float64{0, 0, 10, 10},
			expected: 0.0,
		},
		{
			name:     "empty bboxes",
			bbox1:    []float64{},
			bbox2:    []float64{},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ComputeIoU(tt.bbox1, tt.bbox2)
			if math.Abs(result-tt.expected) > 0.0001 {
				t.Errorf("ComputeIoU(%v, %v) = %v, want %v", tt.bbox1, tt.bbox2, result, tt.expected)
			}
		})
	}
}

func TestBoxArea(t *testing.T) {
	tests := []struct {
		name     string
		bbox     []float64
		expected float64
	}{
		{"unit square", []float64{0, 0, 1, 1}, 1},
		{"rectangle", []float64{10, 20, 30, 60}, 800},
		{"inverted", []float64{10, 10, 0, 0}, 0},
		{"short", []float64{1, 2}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BoxArea(tt.bbox); math.Abs(got-tt.expected) > 0.0001 {
				t.Errorf("BoxArea(%v) = %v, want %v", tt.bbox, got, tt.expected)
			}
		})
	}
}

func TestFaceInBody(t *testing.T) {
	body := []float64{100, 50, 300, 600}
	tests := []struct {
		name     string
		face     []float64
		expected bool
	}{
		{"face at top of body", []float64{170, 60, 230, 130}, true},
		{"face beside body", []float64{320, 60, 380, 130}, false},
		{"center on edge", []float64{280, 60, 320, 100}, true},
		{"invalid face", []float64{170, 60}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FaceInBody(tt.face, body); got != tt.expected {
				t.Errorf("FaceInBody(%v, %v) = %v, want %v", tt.face, body, got, tt.expected)
			}
		})
	}
}

func TestClampBox(t *testing.T) {
	tests := []struct {
		name     string
		bbox     []float64
		expected [4]int
		ok       bool
	}{
		{"inside", []float64{10, 10, 20, 30}, [4]int{10, 10, 20, 30}, true},
		{"overflowing", []float64{-5, -5, 150, 90}, [4]int{0, 0, 100, 80}, true},
		{"outside", []float64{120, 10, 140, 30}, [4]int{}, false},
		{"invalid", []float64{1, 2, 3}, [4]int{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ClampBox(tt.bbox, 100, 80)
			if ok != tt.ok || got != tt.expected {
				t.Errorf("ClampBox(%v) = %v, %v; want %v, %v", tt.bbox, got, ok, tt.expected, tt.ok)
			}
		})
	}
}

func TestScaleBox(t *testing.T) {
	result := ScaleBox([]float64{10, 20, 30, 40}, 0.5)
	expected := []float64{5, 10, 15, 20}
	for i := range result {
		if math.Abs(result[i]-expected[i]) > 0.0001 {
			t.Errorf("ScaleBox() = %v, want %v", result, expected)
			break
		}
	}
}
