package identity

import (
	"fmt"
	"image"
	"time"
)

// State is the lifecycle state of an identity.
type State int

const (
	// Active identities were matched recently.
	Active State = iota
	// Lost identities went unmatched beyond the grace period. They remain matchable.
	Lost
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Lost:
		return "lost"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name, so exported identities read back.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "active":
		*s = Active
	case "lost":
		*s = Lost
	default:
		return fmt.Errorf("unknown identity state %q", text)
	}
	return nil
}

// Sample is one stored fingerprint with the face thumbnail it came from.
type Sample struct {
	Fingerprint Fingerprint
	Thumbnail   []byte    // JPEG
	Box         []float64 // [x1, y1, x2, y2], optional
}

// Landmark is a single normalized pose keypoint.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

// Pose is a set of landmarks in MediaPipe order (0 nose, 11/12 shoulders,
// 13/14 elbows, 15/16 wrists, 23/24 hips, 25/26 knees).
type Pose struct {
	Landmarks []Landmark `json:"landmarks"`
}

// Landmark returns the landmark at index i, or false if it is missing.
func (p *Pose) Landmark(i int) (Landmark, bool) {
	if p == nil || i < 0 || i >= len(p.Landmarks) {
		return Landmark{}, false
	}
	return p.Landmarks[i], true
}

// Observation is the transient per-tick view of an identity. It is
// overwritten every tick it is seen and never persisted.
type Observation struct {
	FaceImage image.Image
	FaceBox   []float64
	BodyImage image.Image
	BodyBox   []float64
	Pose      *Pose
	Distance  float64
	SeenAt    time.Time
}

// Identity is a durable tracked person.
type Identity struct {
	ID          int64
	DisplayName string
	State       State
	Missed      int
	Visible     bool
	CreatedAt   time.Time
	LastSeen    time.Time
	Observation Observation

	samples []Sample
	mean    Fingerprint
}

// New creates an identity with no samples.
func New(id int64, now time.Time) *Identity {
	return &Identity{ID: id, State: Active, CreatedAt: now, LastSeen: now}
}

// Samples returns the stored samples. Callers must not modify them.
func (i *Identity) Samples() []Sample {
	return i.samples
}

// SampleCount returns the number of stored fingerprints.
func (i *Identity) SampleCount() int {
	return len(i.samples)
}

// Mean returns the centroid of the stored fingerprints, nil if there are none.
func (i *Identity) Mean() Fingerprint {
	return i.mean
}

// AddSample appends a sample unless the identity already holds maxSamples
// fingerprints or one of them lies within dupEps of the new fingerprint.
// The mean is recomputed from the full set on every append.
func (i *Identity) AddSample(s Sample, maxSamples int, dupEps float64) bool {
	if !i.CanAdd(s.Fingerprint, maxSamples, dupEps) {
		return false
	}
	i.samples = append(i.samples, Sample{
		Fingerprint: s.Fingerprint.Clone(),
		Thumbnail:   s.Thumbnail,
		Box:         s.Box,
	})
	i.recomputeMean()
	return true
}

// CanAdd reports whether AddSample would store fp.
func (i *Identity) CanAdd(fp Fingerprint, maxSamples int, dupEps float64) bool {
	if len(fp) == 0 {
		return false
	}
	if maxSamples > 0 && len(i.samples) >= maxSamples {
		return false
	}
	for _, existing := range i.samples {
		if Distance(existing.Fingerprint, fp) <= dupEps {
			return false
		}
	}
	return true
}

// SetSamples replaces the stored samples, used when restoring from storage.
// Samples of a different dimension than the first one are dropped.
func (i *Identity) SetSamples(samples []Sample) {
	i.samples = i.samples[:0]
	for _, s := range samples {
		if len(s.Fingerprint) == 0 {
			continue
		}
		if len(i.samples) > 0 && len(s.Fingerprint) != len(i.samples[0].Fingerprint) {
			continue
		}
		i.samples = append(i.samples, s)
	}
	i.recomputeMean()
}

func (i *Identity) recomputeMean() {
	fps := make([]Fingerprint, len(i.samples))
	for n, s := range i.samples {
		fps[n] = s.Fingerprint
	}
	i.mean = Mean(fps)
}

// Name returns the display name or a generated "Person N" label.
func (i *Identity) Name() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return fmt.Sprintf("Person %d", i.ID)
}

// Label formats the overlay label for a matched identity.
func (i *Identity) Label(certainty float64) string {
	label := fmt.Sprintf("ID %d (%.1f%%)", i.ID, certainty)
	if i.DisplayName != "" {
		label += " - " + i.DisplayName
	}
	return label
}

// NewLabel formats the overlay label for a freshly promoted identity.
func (i *Identity) NewLabel() string {
	return fmt.Sprintf("NEW ID %d", i.ID)
}

// Snapshot is a read-only copy of an identity that is safe to hand to other
// goroutines.
type Snapshot struct {
	ID           int64     `json:"id"`
	DisplayName  string    `json:"display_name,omitempty"`
	State        State     `json:"state"`
	Missed       int       `json:"missed"`
	Visible      bool      `json:"visible"`
	Fingerprints int       `json:"fingerprints"`
	CreatedAt    time.Time `json:"created_at"`
	LastSeen     time.Time `json:"last_seen"`
	Certainty    float64   `json:"certainty"`
	FaceBox      []float64 `json:"face_box,omitempty"`
	BodyBox      []float64 `json:"body_box,omitempty"`
	Label        string    `json:"label"`
}

// Snapshot copies the identity's exported state.
func (i *Identity) Snapshot() Snapshot {
	certainty := 0.0
	if i.Visible {
		certainty = Certainty(i.Observation.Distance)
	}
	label := i.Label(certainty)
	if i.Visible && i.Observation.SeenAt.Equal(i.CreatedAt) {
		label = i.NewLabel()
	}
	return Snapshot{
		ID:           i.ID,
		DisplayName:  i.DisplayName,
		State:        i.State,
		Missed:       i.Missed,
		Visible:      i.Visible,
		Fingerprints: len(i.samples),
		CreatedAt:    i.CreatedAt,
		LastSeen:     i.LastSeen,
		Certainty:    certainty,
		FaceBox:      append([]float64(nil), i.Observation.FaceBox...),
		BodyBox:      append([]float64(nil), i.Observation.BodyBox...),
		Label:        label,
	}
}
