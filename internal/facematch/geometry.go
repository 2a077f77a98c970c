package facematch

// ComputeIoU calculates Intersection over Union between two bounding boxes.
// bbox1 and bbox2 are [x1, y1, x2, y2] in the same coordinate system.
func ComputeIoU(bbox1, bbox2 []float64) float64 {
	if len(bbox1) != 4 || len(bbox2) != 4 {
		return 0
	}

	// Calculate intersection.
	x1 := max(bbox1[0], bbox2[0])
	y1 := max(bbox1[1], bbox2[1])
	x2 := min(bbox1[2], bbox2[2])
	y2 := min(bbox1[3], bbox2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := (x2 - x1) * (y2 - y1)

	// Calculate union.
	union := BoxArea(bbox1) + BoxArea(bbox2) - intersection

	if union <= 0 {
		return 0
	}

	return intersection / union
}

// BoxArea returns the area of an [x1, y1, x2, y2] box, 0 for invalid boxes.
func BoxArea(bbox []float64) float64 {
	if len(bbox) != 4 || bbox[2] <= bbox[0] || bbox[3] <= bbox[1] {
		return 0
	}
	return (bbox[2] - bbox[0]) * (bbox[3] - bbox[1])
}

// BoxCenter returns the center point of an [x1, y1, x2, y2] box.
func BoxCenter(bbox []float64) (float64, float64, bool) {
	if len(bbox) != 4 {
		return 0, 0, false
	}
	return (bbox[0] + bbox[2]) / 2, (bbox[1] + bbox[3]) / 2, true
}

// ContainsPoint reports whether (x, y) lies inside the box, edges included.
func ContainsPoint(bbox []float64, x, y float64) bool {
	if len(bbox) != 4 {
		return false
	}
	return x >= bbox[0] && x <= bbox[2] && y >= bbox[1] && y <= bbox[3]
}

// FaceInBody reports whether the center of a face box lies inside a body box.
func FaceInBody(face, body []float64) bool {
	cx, cy, ok := BoxCenter(face)
	if !ok {
		return false
	}
	return ContainsPoint(body, cx, cy)
}

// ClampBox clips a pixel box to the given image size and rounds it to
// integer coordinates. It returns false when nothing is left.
func ClampBox(bbox []float64, width, height int) ([4]int, bool) {
	if len(bbox) != 4 || width <= 0 || height <= 0 {
		return [4]int{}, false
	}
	x1 := clampInt(int(bbox[0]), 0, width)
	y1 := clampInt(int(bbox[1]), 0, height)
	x2 := clampInt(int(bbox[2]+0.5), 0, width)
	y2 := clampInt(int(bbox[3]+0.5), 0, height)
	if x2 <= x1 || y2 <= y1 {
		return [4]int{}, false
	}
	return [4]int{x1, y1, x2, y2}, true
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// ScaleBox multiplies every coordinate of the box by factor.
func ScaleBox(bbox []float64, factor float64) []float64 {
	if len(bbox) != 4 {
		return bbox
	}
	return []float64{bbox[0] * factor, bbox[1] * factor, bbox[2] * factor, bbox[3] * factor}
}
