package database

import (
	"time"

	"github.com/kozaktomas/people-tracker/internal/identity"
)

// StoredFingerprint is one persisted face encoding of an identity.
type StoredFingerprint struct {
	Vector    []float32
	BBox      []float64 // [x1, y1, x2, y2] in frame pixels, may be empty
	Thumbnail []byte    // JPEG face crop, may be empty
}

// StoredIdentity is the persisted form of a tracked person. Lifecycle state
// is not stored: restored identities always start Lost.
type StoredIdentity struct {
	ID           int64
	DisplayName  string
	Fingerprints []StoredFingerprint
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FromIdentity copies the durable part of an identity.
func FromIdentity(id *identity.Identity) StoredIdentity {
	samples := id.Samples()
	fps := make([]StoredFingerprint, 0, len(samples))
	for _, s := range samples {
		fps = append(fps, StoredFingerprint{
			Vector:    []float32(s.Fingerprint.Clone()),
			BBox:      append([]float64(nil), s.Box...),
			Thumbnail: s.Thumbnail,
		})
	}
	return StoredIdentity{
		ID:           id.ID,
		DisplayName:  id.DisplayName,
		Fingerprints: fps,
		CreatedAt:    id.CreatedAt,
		UpdatedAt:    time.Now(),
	}
}

// ToIdentity rebuilds an identity from storage. Fingerprints that are empty,
// contain NaN/Inf or do not match dim (when dim > 0) are dropped; the number
// of dropped fingerprints is returned.
func (s StoredIdentity) ToIdentity(dim int) (*identity.Identity, int) {
	id := identity.New(s.ID, s.CreatedAt)
	id.DisplayName = s.DisplayName
	id.LastSeen = s.UpdatedAt

	samples := make([]identity.Sample, 0, len(s.Fingerprints))
	dropped := 0
	for _, fp := range s.Fingerprints {
		f := identity.Fingerprint(fp.Vector)
		if !f.Valid(dim) {
			dropped++
			continue
		}
		samples = append(samples, identity.Sample{Fingerprint: f, Thumbnail: fp.Thumbnail, Box: fp.BBox})
	}
	id.SetSamples(samples)
	dropped += len(samples) - id.SampleCount()
	return id, dropped
}
