package tracking

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/kozaktomas/people-tracker/internal/config"
	"github.com/kozaktomas/people-tracker/internal/constants"
	"github.com/kozaktomas/people-tracker/internal/database"
	"github.com/kozaktomas/people-tracker/internal/facematch"
	"github.com/kozaktomas/people-tracker/internal/identity"
	"github.com/kozaktomas/people-tracker/internal/imaging"
	"github.com/kozaktomas/people-tracker/internal/metrics"
)

// Options parameterizes the engine. Thresholds are configuration, not constants.
type Options struct {
	MatchThreshold     float64
	CandidateThreshold float64
	ConfirmFrames      int
	MaxMissedTicks     int
	MaxFingerprints    int
	DuplicateEps       float64
	FingerprintDim     int // 0 = taken from the first valid fingerprint
	Match              identity.MatchOptions
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		MatchThreshold:     constants.DefaultMatchThreshold,
		CandidateThreshold: constants.DefaultMatchThreshold,
		ConfirmFrames:      constants.DefaultConfirmFrames,
		MaxMissedTicks:     constants.DefaultMaxMissedTicks,
		MaxFingerprints:    constants.DefaultMaxFingerprints,
		DuplicateEps:       constants.DefaultDuplicateEps,
		Match:              identity.DefaultMatchOptions(),
	}
}

// OptionsFromConfig maps validated configuration onto engine options.
func OptionsFromConfig(cfg config.TrackingConfig) Options {
	return Options{
		MatchThreshold:     cfg.MatchThreshold,
		CandidateThreshold: cfg.EffectiveCandidateThreshold(),
		ConfirmFrames:      cfg.ConfirmFrames,
		MaxMissedTicks:     cfg.MaxMissedTicks,
		MaxFingerprints:    cfg.MaxFingerprints,
		DuplicateEps:       cfg.DuplicateEps,
		FingerprintDim:     cfg.FingerprintDim,
		Match: identity.MatchOptions{
			ReliableDiscount:   cfg.ReliableDiscount,
			ReliableMinSamples: constants.ReliableMinFingerprints,
			SparsePenalty:      cfg.SparsePenalty,
			ANNMinIdentities:   cfg.ANNMinIdentities,
			ANNCandidates:      cfg.ANNCandidates,
		},
	}
}

// Report describes what one tick changed.
type Report struct {
	Tick       uint64
	Matched    []int64 // identities observed this tick, including folds
	Created    []int64
	Returned   []int64 // Lost -> Active
	Lost       []int64 // Active -> Lost
	Skipped    int     // invalid observations
	Candidates int     // ledger size after the tick
	Dropped    int     // stale candidates removed this tick
}

// Sighting is a visible identity together with this tick's crops and pose.
// Images are never modified after capture, so they may be shared.
type Sighting struct {
	ID          int64
	Name        string
	Observation identity.Observation
}

// Engine resolves observations to identities. Tick calls are serialized;
// readers get copies under a read lock.
type Engine struct {
	mu      sync.RWMutex
	opts    Options
	store   *identity.Store
	matcher *identity.Matcher
	ledger  *Ledger
	repo    database.IdentityRepository
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	dim     int
	ticks   uint64
	dirty   map[int64]struct{}
}

// NewEngine creates an engine over a possibly pre-populated store. repo and
// m may be nil.
func NewEngine(store *identity.Store, opts Options, repo database.IdentityRepository, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if opts.CandidateThreshold < opts.MatchThreshold {
		opts.CandidateThreshold = opts.MatchThreshold
	}
	e := &Engine{
		opts:    opts,
		store:   store,
		matcher: identity.NewMatcher(store, opts.Match),
		ledger: NewLedger(LedgerOptions{
			MatchThreshold:     opts.MatchThreshold,
			CandidateThreshold: opts.CandidateThreshold,
			ConfirmFrames:      opts.ConfirmFrames,
		}),
		repo:    repo,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		dim:     opts.FingerprintDim,
		dirty:   make(map[int64]struct{}),
	}
	if e.dim == 0 {
		for _, id := range store.All() {
			if mean := id.Mean(); mean != nil {
				e.dim = len(mean)
				break
			}
		}
	}
	return e
}

// tickState carries per-tick bookkeeping and implements Resolver for the ledger.
type tickState struct {
	e       *Engine
	now     time.Time
	report  *Report
	matched map[int64]bool
	created []database.StoredIdentity
}

func (t *tickState) Match(fp identity.Fingerprint) (*identity.Identity, float64) {
	return t.e.matcher.FindBestMatch(fp)
}

func (t *tickState) Fold(ident *identity.Identity, c *Candidate, distance float64) {
	t.observe(ident, c.Fingerprint, c.Crop, c.Box, distance)
}

func (t *tickState) Promote(c *Candidate) *identity.Identity {
	e := t.e
	sample := identity.Sample{
		Fingerprint: c.Fingerprint,
		Box:         c.Box,
		Thumbnail:   e.thumbnail(c.Crop),
	}
	ident := e.store.Create(sample, e.opts.MaxFingerprints, t.now)
	ident.Visible = true
	ident.Observation = identity.Observation{
		FaceImage: c.Crop,
		FaceBox:   c.Box,
		SeenAt:    t.now,
	}
	e.matcher.Invalidate(ident.ID)
	t.matched[ident.ID] = true
	t.report.Matched = append(t.report.Matched, ident.ID)
	t.report.Created = append(t.report.Created, ident.ID)
	t.created = append(t.created, database.FromIdentity(ident))

	e.logger.Info("identity created", "identity_id", ident.ID, "hits", c.Hits)
	return ident
}

// observe attaches a face to an identity and marks it seen.
func (t *tickState) observe(ident *identity.Identity, fp identity.Fingerprint, crop image.Image, box []float64, distance float64) {
	e := t.e
	if ident.CanAdd(fp, e.opts.MaxFingerprints, e.opts.DuplicateEps) {
		ident.AddSample(identity.Sample{
			Fingerprint: fp,
			Box:         append([]float64(nil), box...),
			Thumbnail:   e.thumbnail(crop),
		}, e.opts.MaxFingerprints, e.opts.DuplicateEps)
		e.matcher.Invalidate(ident.ID)
		e.dirty[ident.ID] = struct{}{}
	}

	if ident.State == identity.Lost {
		t.report.Returned = append(t.report.Returned, ident.ID)
		e.logger.Info("identity returned", "identity_id", ident.ID, "name", ident.Name(), "distance", distance)
	}
	ident.State = identity.Active
	ident.Missed = 0
	ident.Visible = true
	ident.LastSeen = t.now
	ident.Observation = identity.Observation{
		FaceImage: crop,
		FaceBox:   append([]float64(nil), box...),
		Distance:  distance,
		SeenAt:    t.now,
	}
	if !t.matched[ident.ID] {
		t.matched[ident.ID] = true
		t.report.Matched = append(t.report.Matched, ident.ID)
	}
}

// Tick processes one frame: match faces, confirm candidates, attach bodies
// and age unmatched identities. Persistence of newly created identities
// happens after the state lock is released; failures are logged only.
func (e *Engine) Tick(ctx context.Context, frame Frame) Report {
	start := time.Now()

	report, created := e.resolve(frame)

	e.metrics.CountEvent("created", len(report.Created))
	e.metrics.CountEvent("returned", len(report.Returned))
	e.metrics.CountEvent("lost", len(report.Lost))
	e.metrics.CountEvent("dropped", report.Dropped)

	for _, stored := range created {
		e.save(ctx, stored)
	}

	e.metrics.ObserveTick(time.Since(start))
	return report
}

// resolve runs the locked part of a tick. A panic aborts the rest of the
// tick but releases the lock and keeps what was resolved so far.
func (e *Engine) resolve(frame Frame) (report Report, created []database.StoredIdentity) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var t *tickState
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tick aborted", "tick", report.Tick, "panic", r)
			if t != nil {
				created = t.created
			}
		}
	}()

	e.ticks++
	report = Report{Tick: e.ticks}
	now := e.now()
	t = &tickState{e: e, now: now, report: &report, matched: make(map[int64]bool)}

	for _, ident := range e.store.All() {
		ident.Visible = false
	}

	for _, face := range frame.Faces {
		if !e.acceptFingerprint(face.Fingerprint) {
			report.Skipped++
			e.metrics.CountObservation("skipped")
			continue
		}
		best, dist := e.matcher.FindBestMatch(face.Fingerprint)
		if best != nil && dist < e.opts.MatchThreshold {
			t.observe(best, face.Fingerprint, face.Crop, face.Box, dist)
			e.metrics.CountObservation("matched")
			continue
		}
		e.ledger.Admit(face.Fingerprint, face.Crop, face.Box, now)
		e.metrics.CountObservation("admitted")
	}

	res := e.ledger.Tick(t)
	report.Dropped = res.Dropped
	report.Candidates = e.ledger.Len()

	e.attachBodies(frame.Bodies)

	for _, ident := range e.store.All() {
		if ident.State != identity.Active || t.matched[ident.ID] {
			continue
		}
		ident.Missed++
		if ident.Missed > e.opts.MaxMissedTicks {
			ident.State = identity.Lost
			ident.Visible = false
			report.Lost = append(report.Lost, ident.ID)
			e.logger.Info("identity lost", "identity_id", ident.ID, "name", ident.Name(), "missed", ident.Missed)
		}
	}

	counts := e.store.CountByState()
	e.metrics.SetPopulation(counts[identity.Active], counts[identity.Lost], len(t.matched), report.Candidates)
	return report, t.created
}

// acceptFingerprint rejects empty, non-finite or wrong-dimension fingerprints.
// The first valid fingerprint fixes the dimension when none is configured.
func (e *Engine) acceptFingerprint(fp identity.Fingerprint) bool {
	if !fp.Valid(e.dim) {
		return false
	}
	if e.dim == 0 {
		e.dim = len(fp)
	}
	return true
}

// attachBodies gives every visible identity the tightest body box that
// contains the centre of its face box.
func (e *Engine) attachBodies(bodies []BodyObservation) {
	if len(bodies) == 0 {
		return
	}
	for _, ident := range e.store.All() {
		if !ident.Visible {
			continue
		}
		var best *BodyObservation
		bestArea := 0.0
		for i := range bodies {
			b := &bodies[i]
			if !facematch.FaceInBody(ident.Observation.FaceBox, b.Box) {
				continue
			}
			area := facematch.BoxArea(b.Box)
			if best == nil || area < bestArea {
				best, bestArea = b, area
			}
		}
		if best == nil {
			continue
		}
		ident.Observation.BodyImage = best.Crop
		ident.Observation.BodyBox = append([]float64(nil), best.Box...)
		ident.Observation.Pose = best.Pose
	}
}

func (e *Engine) thumbnail(crop image.Image) []byte {
	if crop == nil {
		return nil
	}
	data, err := imaging.EncodeJPEG(crop, constants.ThumbnailQuality)
	if err != nil {
		e.logger.Debug("thumbnail encoding failed", "error", err)
		return nil
	}
	return data
}

func (e *Engine) save(ctx context.Context, stored database.StoredIdentity) {
	if e.repo == nil {
		return
	}
	if err := e.repo.SaveIdentity(ctx, stored); err != nil {
		e.metrics.PersistFailed()
		e.logger.Warn("failed to save identity", "identity_id", stored.ID, "error", err)
		e.mu.Lock()
		e.dirty[stored.ID] = struct{}{}
		e.mu.Unlock()
	}
}

// Flush saves every identity whose fingerprints changed since its last save.
// It returns the number of identities that could not be saved.
func (e *Engine) Flush(ctx context.Context) int {
	if e.repo == nil {
		return 0
	}
	e.mu.Lock()
	pending := make([]database.StoredIdentity, 0, len(e.dirty))
	for id := range e.dirty {
		if ident := e.store.Get(id); ident != nil {
			pending = append(pending, database.FromIdentity(ident))
		}
	}
	clear(e.dirty)
	e.mu.Unlock()

	failed := 0
	for _, stored := range pending {
		if err := e.repo.SaveIdentity(ctx, stored); err != nil {
			failed++
			e.metrics.PersistFailed()
			e.logger.Warn("failed to flush identity", "identity_id", stored.ID, "error", err)
			e.mu.Lock()
			e.dirty[stored.ID] = struct{}{}
			e.mu.Unlock()
		}
	}
	if len(pending) > 0 {
		e.logger.Debug("flushed identities", "saved", len(pending)-failed, "failed", failed)
	}
	return failed
}

// Dirty returns the number of identities waiting to be flushed.
func (e *Engine) Dirty() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.dirty)
}

// SetDisplayName renames an identity and saves it immediately. The name is
// cleaned with facematch.CleanDisplayName; an empty result clears the display
// name. Save failures are logged and retried by Flush.
func (e *Engine) SetDisplayName(ctx context.Context, id int64, name string) (identity.Snapshot, error) {
	name = facematch.CleanDisplayName(name)
	if len(name) > constants.MaxNameLength {
		return identity.Snapshot{}, fmt.Errorf("name longer than %d bytes", constants.MaxNameLength)
	}

	e.mu.Lock()
	ident := e.store.Get(id)
	if ident == nil {
		e.mu.Unlock()
		return identity.Snapshot{}, fmt.Errorf("identity %d: %w", id, identity.ErrUnknownIdentity)
	}
	ident.DisplayName = name
	snap := ident.Snapshot()
	stored := database.FromIdentity(ident)
	e.mu.Unlock()

	e.logger.Info("identity renamed", "identity_id", id, "name", name)
	e.save(ctx, stored)
	return snap, nil
}

// Identity returns a snapshot of one identity.
func (e *Engine) Identity(id int64) (identity.Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ident := e.store.Get(id)
	if ident == nil {
		return identity.Snapshot{}, false
	}
	return ident.Snapshot(), true
}

// Identities returns snapshots of all identities ordered by ID.
func (e *Engine) Identities() []identity.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	all := e.store.All()
	out := make([]identity.Snapshot, 0, len(all))
	for _, ident := range all {
		out = append(out, ident.Snapshot())
	}
	return out
}

// Visible returns snapshots of the identities seen in the last tick.
func (e *Engine) Visible() []identity.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []identity.Snapshot
	for _, ident := range e.store.All() {
		if ident.Visible {
			out = append(out, ident.Snapshot())
		}
	}
	return out
}

// Sightings returns the visible identities with their current crops, ordered by ID.
func (e *Engine) Sightings() []Sighting {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Sighting
	for _, ident := range e.store.All() {
		if !ident.Visible {
			continue
		}
		obs := ident.Observation
		obs.FaceBox = append([]float64(nil), obs.FaceBox...)
		obs.BodyBox = append([]float64(nil), obs.BodyBox...)
		out = append(out, Sighting{ID: ident.ID, Name: ident.Name(), Observation: obs})
	}
	return out
}

// FindByName returns identities whose normalized display name equals name.
func (e *Engine) FindByName(name string) []identity.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	found := e.store.FindByName(name)
	out := make([]identity.Snapshot, 0, len(found))
	for _, ident := range found {
		out = append(out, ident.Snapshot())
	}
	return out
}

// Thumbnail returns the JPEG thumbnail of the n-th fingerprint of an identity.
func (e *Engine) Thumbnail(id int64, n int) ([]byte, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ident := e.store.Get(id)
	if ident == nil {
		return nil, false
	}
	samples := ident.Samples()
	if n < 0 || n >= len(samples) || len(samples[n].Thumbnail) == 0 {
		return nil, false
	}
	return samples[n].Thumbnail, true
}

// Record returns the durable form of an identity, fingerprints included.
func (e *Engine) Record(id int64) (database.StoredIdentity, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ident := e.store.Get(id)
	if ident == nil {
		return database.StoredIdentity{}, false
	}
	return database.FromIdentity(ident), true
}

// Candidates returns the waiting candidates.
func (e *Engine) Candidates() []Candidate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Candidates()
}

// Stats is a population summary.
type Stats struct {
	Ticks      uint64 `json:"ticks"`
	Active     int    `json:"active"`
	Lost       int    `json:"lost"`
	Visible    int    `json:"visible"`
	Candidates int    `json:"candidates"`
	Dropped    int    `json:"dropped_candidates"`
	Dirty      int    `json:"dirty"`
	NextID     int64  `json:"next_id"`
}

// Stats returns counts of identities and candidates.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	counts := e.store.CountByState()
	visible := 0
	for _, ident := range e.store.All() {
		if ident.Visible {
			visible++
		}
	}
	return Stats{
		Ticks:      e.ticks,
		Active:     counts[identity.Active],
		Lost:       counts[identity.Lost],
		Visible:    visible,
		Candidates: e.ledger.Len(),
		Dropped:    e.ledger.Dropped(),
		Dirty:      len(e.dirty),
		NextID:     e.store.NextID(),
	}
}
