// Package identity holds tracked people, their face fingerprints and the
// nearest-identity matcher.
package identity

import "math"

// Fingerprint is a fixed-length face encoding produced by an external encoder.
type Fingerprint []float32

// Distance returns the Euclidean distance between two fingerprints.
// Fingerprints of different or zero length are infinitely far apart.
func Distance(a, b Fingerprint) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Mean returns the centroid of the given fingerprints, or nil when there are
// none. All fingerprints must have the same length.
func Mean(fps []Fingerprint) Fingerprint {
	if len(fps) == 0 {
		return nil
	}
	dim := len(fps[0])
	acc := make([]float64, dim)
	for _, fp := range fps {
		for i := range dim {
			acc[i] += float64(fp[i])
		}
	}
	mean := make(Fingerprint, dim)
	n := float64(len(fps))
	for i := range dim {
		mean[i] = float32(acc[i] / n)
	}
	return mean
}

// Valid reports whether the fingerprint is usable: non-empty, of the expected
// dimension (when dim > 0) and free of NaN or Inf components.
func (f Fingerprint) Valid(dim int) bool {
	if len(f) == 0 || (dim > 0 && len(f) != dim) {
		return false
	}
	for _, v := range f {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return false
		}
	}
	return true
}

// Clone returns a copy that does not share the backing array.
func (f Fingerprint) Clone() Fingerprint {
	if f == nil {
		return nil
	}
	out := make(Fingerprint, len(f))
	copy(out, f)
	return out
}

// Certainty converts a match distance into a 0-100 display percentage.
func Certainty(distance float64) float64 {
	return max(0, min(100, (1-distance)*100))
}
