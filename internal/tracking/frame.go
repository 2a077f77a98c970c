// Package tracking turns per-frame face observations into stable identities.
// It owns the candidate ledger and the Active/Lost state machine.
package tracking

import (
	"image"
	"time"

	"github.com/kozaktomas/people-tracker/internal/identity"
)

// FaceObservation is one detected face with its encoding.
type FaceObservation struct {
	Fingerprint identity.Fingerprint
	Crop        image.Image
	Box         []float64 // [x1, y1, x2, y2] in frame pixels
}

// BodyObservation is one detected body, optionally with pose landmarks.
type BodyObservation struct {
	Box  []float64
	Crop image.Image
	Pose *identity.Pose
}

// Frame is everything the detector produced for one tick. An empty frame
// is a valid input and means nobody was seen.
type Frame struct {
	Faces      []FaceObservation
	Bodies     []BodyObservation
	CapturedAt time.Time
}
