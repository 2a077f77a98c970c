package tracking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/kozaktomas/people-tracker/internal/identity"
)

// ErrInvalidMerge is returned when a merge names no identity to absorb or
// asks an identity to absorb itself.
var ErrInvalidMerge = errors.New("invalid merge")

// DuplicatePair is two identities whose mean fingerprints lie close together.
type DuplicatePair struct {
	A        identity.Snapshot `json:"a"`
	B        identity.Snapshot `json:"b"`
	Distance float64           `json:"distance"`
}

// FindDuplicates returns every pair of identities whose mean fingerprints
// are closer than threshold, nearest first. Identities without fingerprints
// are skipped.
func (e *Engine) FindDuplicates(threshold float64) []DuplicatePair {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var withMean []*identity.Identity
	for _, ident := range e.store.All() {
		if ident.Mean() != nil {
			withMean = append(withMean, ident)
		}
	}

	var pairs []DuplicatePair
	for i, a := range withMean {
		for _, b := range withMean[i+1:] {
			d := identity.Distance(a.Mean(), b.Mean())
			if d < threshold {
				pairs = append(pairs, DuplicatePair{A: a.Snapshot(), B: b.Snapshot(), Distance: d})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].Distance < pairs[j].Distance
	})
	return pairs
}

// Merge folds the fingerprints of the absorbed identities into keep, subject
// to MaxFingerprints and DuplicateEps. Absorbed identities are not deleted:
// they stay in the store as Lost with no fingerprints, so they never match
// again and their IDs are not reused. keep inherits the first display name
// found if it has none, and the current sighting if an absorbed identity is
// visible. Every touched identity is flushed before Merge returns; save
// failures are reported in the error and retried by later flushes.
func (e *Engine) Merge(ctx context.Context, keep int64, absorb ...int64) (identity.Snapshot, error) {
	absorb = slices.Clone(absorb)
	slices.Sort(absorb)
	absorb = slices.Compact(absorb)
	if len(absorb) == 0 {
		return identity.Snapshot{}, fmt.Errorf("%w: no identities to absorb", ErrInvalidMerge)
	}
	if slices.Contains(absorb, keep) {
		return identity.Snapshot{}, fmt.Errorf("%w: identity %d cannot absorb itself", ErrInvalidMerge, keep)
	}

	e.mu.Lock()
	target := e.store.Get(keep)
	if target == nil {
		e.mu.Unlock()
		return identity.Snapshot{}, fmt.Errorf("identity %d: %w", keep, identity.ErrUnknownIdentity)
	}
	sources := make([]*identity.Identity, 0, len(absorb))
	for _, id := range absorb {
		src := e.store.Get(id)
		if src == nil {
			e.mu.Unlock()
			return identity.Snapshot{}, fmt.Errorf("identity %d: %w", id, identity.ErrUnknownIdentity)
		}
		sources = append(sources, src)
	}

	folded := 0
	for _, src := range sources {
		for _, s := range src.Samples() {
			if m := target.Mean(); m != nil && len(m) != len(s.Fingerprint) {
				continue
			}
			if target.AddSample(s, e.opts.MaxFingerprints, e.opts.DuplicateEps) {
				folded++
			}
		}
		if target.DisplayName == "" {
			target.DisplayName = src.DisplayName
		}
		if src.Visible && !target.Visible {
			target.Visible = true
			target.State = identity.Active
			target.Missed = 0
			target.LastSeen = src.LastSeen
			target.Observation = src.Observation
		}
		if target.CreatedAt.After(src.CreatedAt) {
			target.CreatedAt = src.CreatedAt
		}

		src.SetSamples(nil)
		src.DisplayName = ""
		src.State = identity.Lost
		src.Visible = false
		src.Missed = 0
		src.Observation = identity.Observation{}
		e.matcher.Invalidate(src.ID)
		e.dirty[src.ID] = struct{}{}
	}
	e.matcher.Invalidate(target.ID)
	e.dirty[target.ID] = struct{}{}
	snap := target.Snapshot()
	e.mu.Unlock()

	e.logger.Info("identities merged", "identity_id", keep, "absorbed", absorb, "folded_fingerprints", folded)
	if failed := e.Flush(ctx); failed > 0 {
		return snap, fmt.Errorf("merged into identity %d, but %d identities could not be saved", keep, failed)
	}
	return snap, nil
}
