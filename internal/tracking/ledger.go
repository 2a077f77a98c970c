package tracking

import (
	"image"
	"time"

	"github.com/kozaktomas/people-tracker/internal/identity"
)

// Candidate is an unmatched face waiting for confirmation.
type Candidate struct {
	Fingerprint identity.Fingerprint
	Crop        image.Image
	Box         []float64
	Hits        int
	AdmittedAt  time.Time
}

// Resolver is what the ledger needs from the engine while processing a tick.
type Resolver interface {
	// Match returns the nearest identity and its weighted distance.
	Match(fp identity.Fingerprint) (*identity.Identity, float64)
	// Fold attaches the candidate to an existing identity as a fresh observation.
	Fold(ident *identity.Identity, c *Candidate, distance float64)
	// Promote creates a new identity from the candidate.
	Promote(c *Candidate) *identity.Identity
}

// LedgerOptions holds the confirmation thresholds.
type LedgerOptions struct {
	MatchThreshold float64
	// CandidateThreshold holds back candidates whose best distance is below
	// it. Values at or below MatchThreshold disable the hold.
	CandidateThreshold float64
	ConfirmFrames      int
}

// LedgerResult summarizes one ledger pass.
type LedgerResult struct {
	Promoted []*identity.Identity
	Folded   []*identity.Identity
	Dropped  int
}

// Ledger tracks candidates in admission order. It is not safe for
// concurrent use.
type Ledger struct {
	opts       LedgerOptions
	candidates []*Candidate
	dropped    int
}

// NewLedger creates an empty ledger.
func NewLedger(opts LedgerOptions) *Ledger {
	if opts.ConfirmFrames < 1 {
		opts.ConfirmFrames = 1
	}
	return &Ledger{opts: opts}
}

// Admit appends a new candidate with zero hits.
func (l *Ledger) Admit(fp identity.Fingerprint, crop image.Image, box []float64, now time.Time) {
	l.candidates = append(l.candidates, &Candidate{
		Fingerprint: fp.Clone(),
		Crop:        crop,
		Box:         append([]float64(nil), box...),
		AdmittedAt:  now,
	})
}

// Tick counts a hit for every candidate and re-matches it against the
// current store, including identities promoted earlier in the same pass.
// A match folds the candidate into that identity; otherwise it is promoted
// once it reaches ConfirmFrames hits, unless it is ambiguous; candidates
// beyond twice that many hits are dropped. The candidate list is rebuilt from
// the survivors, never edited while it is being walked.
func (l *Ledger) Tick(r Resolver) LedgerResult {
	var res LedgerResult
	kept := make([]*Candidate, 0, len(l.candidates))

	for _, c := range l.candidates {
		c.Hits++
		best, dist := r.Match(c.Fingerprint)
		switch {
		case best != nil && dist < l.opts.MatchThreshold:
			r.Fold(best, c, dist)
			res.Folded = append(res.Folded, best)
		case c.Hits >= l.opts.ConfirmFrames && !l.ambiguous(best, dist):
			res.Promoted = append(res.Promoted, r.Promote(c))
		case c.Hits > 2*l.opts.ConfirmFrames:
			res.Dropped++
		default:
			kept = append(kept, c)
		}
	}

	l.candidates = kept
	l.dropped += res.Dropped
	return res
}

func (l *Ledger) ambiguous(best *identity.Identity, dist float64) bool {
	return best != nil && dist < l.opts.CandidateThreshold
}

// Len returns the number of waiting candidates.
func (l *Ledger) Len() int {
	return len(l.candidates)
}

// Dropped returns the number of candidates discarded as stale so far.
func (l *Ledger) Dropped() int {
	return l.dropped
}

// Candidates returns copies of the waiting candidates in admission order.
func (l *Ledger) Candidates() []Candidate {
	out := make([]Candidate, len(l.candidates))
	for i, c := range l.candidates {
		out[i] = *c
	}
	return out
}
