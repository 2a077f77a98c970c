package identity

import (
	"math"

	"github.com/kozaktomas/people-tracker/internal/constants"
)

// MatchOptions tunes the reliability weighting and the optional HNSW prefilter.
type MatchOptions struct {
	// ReliableDiscount multiplies the distance of identities holding at least
	// ReliableMinSamples fingerprints.
	ReliableDiscount   float64
	ReliableMinSamples int
	// SparsePenalty multiplies the distance of identities holding exactly one fingerprint.
	SparsePenalty float64
	// ANNMinIdentities enables the HNSW prefilter once the store holds this
	// many matchable identities. Zero disables it.
	ANNMinIdentities int
	// ANNCandidates is the number of nearest means re-ranked exactly.
	ANNCandidates int
}

// DefaultMatchOptions returns the standard weighting with the prefilter disabled.
func DefaultMatchOptions() MatchOptions {
	return MatchOptions{
		ReliableDiscount:   constants.DefaultReliableDiscount,
		ReliableMinSamples: constants.ReliableMinFingerprints,
		SparsePenalty:      constants.DefaultSparsePenalty,
		ANNCandidates:      constants.DefaultANNCandidates,
	}
}

// Matcher finds the nearest identity for a fingerprint. It scans Active and
// Lost identities alike so a returning person is recognized, not duplicated.
type Matcher struct {
	store *Store
	opts  MatchOptions
	index *Index
}

// NewMatcher creates a matcher over the store.
func NewMatcher(store *Store, opts MatchOptions) *Matcher {
	m := &Matcher{store: store, opts: opts}
	if opts.ANNMinIdentities > 0 {
		m.index = NewIndex()
	}
	return m
}

// Weighted returns the reliability-weighted distance between fp and the
// identity's mean, or +Inf if the identity has no fingerprints.
func (m *Matcher) Weighted(id *Identity, fp Fingerprint) float64 {
	mean := id.Mean()
	if mean == nil {
		return math.Inf(1)
	}
	d := Distance(fp, mean)
	switch n := id.SampleCount(); {
	case m.opts.ReliableMinSamples > 0 && n >= m.opts.ReliableMinSamples:
		d *= m.opts.ReliableDiscount
	case n == 1:
		d *= m.opts.SparsePenalty
	}
	return d
}

// FindBestMatch returns the identity with the smallest weighted distance to
// fp, or (nil, +Inf) when no identity has fingerprints. It does not mutate
// anything except the prefilter's lazily rebuilt graph.
func (m *Matcher) FindBestMatch(fp Fingerprint) (*Identity, float64) {
	if m.index != nil && m.store.Len() >= m.opts.ANNMinIdentities {
		if best, dist, ok := m.searchIndexed(fp); ok {
			return best, dist
		}
	}
	return m.scan(fp, m.store.All())
}

func (m *Matcher) scan(fp Fingerprint, identities []*Identity) (*Identity, float64) {
	var best *Identity
	bestDist := math.Inf(1)
	for _, id := range identities {
		if id.Mean() == nil {
			continue
		}
		d := m.Weighted(id, fp)
		if d < bestDist {
			bestDist = d
			best = id
		}
	}
	return best, bestDist
}

// searchIndexed falls back to the linear scan (ok=false) if the graph
// library panics; the graph is then rebuilt on the next call.
func (m *Matcher) searchIndexed(fp Fingerprint) (best *Identity, dist float64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.index.Reset()
			best, dist, ok = nil, 0, false
		}
	}()

	m.index.Sync(m.store)
	ids, found := m.index.Search(fp, m.opts.ANNCandidates)
	if !found || len(ids) == 0 {
		return nil, 0, false
	}
	shortlist := make([]*Identity, 0, len(ids))
	for _, id := range ids {
		if ident := m.store.Get(id); ident != nil {
			shortlist = append(shortlist, ident)
		}
	}
	best, dist = m.scan(fp, shortlist)
	return best, dist, best != nil
}

// Invalidate tells the prefilter that an identity's mean changed.
func (m *Matcher) Invalidate(id int64) {
	if m.index != nil {
		m.index.MarkChanged(id)
	}
}
