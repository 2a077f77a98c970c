package tracking

import (
	"context"
	"errors"
	"image"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/kozaktomas/people-tracker/internal/database"
	"github.com/kozaktomas/people-tracker/internal/database/mock"
	"github.com/kozaktomas/people-tracker/internal/identity"
	"github.com/kozaktomas/people-tracker/internal/logging"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.MatchThreshold = 0.5
	opts.CandidateThreshold = 0.5
	opts.ConfirmFrames = 5
	opts.MaxMissedTicks = 50
	return opts
}

func newTestEngine(t *testing.T, store *identity.Store, opts Options, repo database.IdentityRepository) *Engine {
	t.Helper()
	e := NewEngine(store, opts, repo, logging.Discard(), nil)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time {
		clock = clock.Add(100 * time.Millisecond)
		return clock
	}
	return e
}

func face(values ...float32) FaceObservation {
	return FaceObservation{
		Fingerprint: identity.Fingerprint(values),
		Crop:        image.NewRGBA(image.Rect(0, 0, 8, 8)),
		Box:         []float64{10, 10, 50, 50},
	}
}

func frameOf(faces ...FaceObservation) Frame {
	return Frame{Faces: faces}
}

func TestTick_FiveFrameConfirmation(t *testing.T) {
	e := newTestEngine(t, identity.NewStore(), testOptions(), nil)
	ctx := context.Background()

	for tick := 1; tick <= 4; tick++ {
		rep := e.Tick(ctx, frameOf(face(1, 0, 0)))
		if len(rep.Created) != 0 {
			t.Fatalf("tick %d: unexpected identity", tick)
		}
		cands := e.Candidates()
		if len(cands) == 0 || cands[0].Hits != tick {
			t.Fatalf("tick %d: first candidate hits = %v", tick, cands)
		}
		if len(e.Identities()) != 0 {
			t.Fatalf("tick %d: identities exist before confirmation", tick)
		}
	}

	rep := e.Tick(ctx, frameOf(face(1, 0, 0)))
	if len(rep.Created) != 1 || rep.Created[0] != 1 {
		t.Fatalf("tick 5: created = %v, want [1]", rep.Created)
	}
	all := e.Identities()
	if len(all) != 1 {
		t.Fatalf("expected exactly 1 identity, got %d", len(all))
	}
	if all[0].State != identity.Active || all[0].Fingerprints != 1 || !all[0].Visible {
		t.Errorf("identity = %+v", all[0])
	}
	if rep.Candidates != 0 {
		t.Errorf("remaining candidates = %d, want 0", rep.Candidates)
	}
}

func TestTick_IdempotentRematch(t *testing.T) {
	e := newTestEngine(t, identity.NewStore(), testOptions(), nil)
	ctx := context.Background()

	e.Tick(ctx, frameOf(face(0, 1)))
	if got := len(e.Candidates()); got != 1 {
		t.Fatalf("candidates after first admit = %d, want 1", got)
	}
	for range 5 {
		// The same fingerprint twice per tick.
		e.Tick(ctx, frameOf(face(0, 1), face(0, 1)))
	}

	all := e.Identities()
	if len(all) != 1 {
		t.Fatalf("identities = %d, want 1", len(all))
	}
	if all[0].Fingerprints != 1 {
		t.Errorf("fingerprints = %d, want 1", all[0].Fingerprints)
	}
	if len(e.Candidates()) != 0 {
		t.Errorf("candidates left = %d", len(e.Candidates()))
	}
}

func TestTick_LostAndRecovered(t *testing.T) {
	opts := testOptions()
	// Unweighted distances: a single-sample identity otherwise measures
	// SparsePenalty times its raw distance.
	opts.Match.SparsePenalty = 1
	store := identity.NewStore()
	store.Create(identity.Sample{Fingerprint: identity.Fingerprint{0, 0}}, opts.MaxFingerprints, time.Now())
	e := newTestEngine(t, store, opts, nil)
	ctx := context.Background()

	for tick := 1; tick <= 50; tick++ {
		rep := e.Tick(ctx, Frame{})
		if len(rep.Lost) != 0 {
			t.Fatalf("tick %d: identity lost too early", tick)
		}
	}
	rep := e.Tick(ctx, Frame{})
	if len(rep.Lost) != 1 || rep.Lost[0] != 1 {
		t.Fatalf("tick 51: lost = %v, want [1]", rep.Lost)
	}
	snap, _ := e.Identity(1)
	if snap.State != identity.Lost || snap.Visible {
		t.Fatalf("identity after tick 51 = %+v", snap)
	}

	best, dist := e.matcher.FindBestMatch(identity.Fingerprint{0.1, 0})
	if best == nil || best.ID != 1 || math.Abs(dist-0.1) > 1e-6 {
		t.Fatalf("FindBestMatch = %v, %v", best, dist)
	}
	_, weighted := identity.NewMatcher(e.store, identity.DefaultMatchOptions()).FindBestMatch(identity.Fingerprint{0.1, 0})
	if math.Abs(weighted-0.105) > 1e-6 {
		t.Errorf("default weighting = %v, want 0.105", weighted)
	}

	rep = e.Tick(ctx, frameOf(face(0.1, 0)))
	if len(rep.Returned) != 1 || len(rep.Created) != 0 {
		t.Fatalf("tick 52: returned = %v, created = %v", rep.Returned, rep.Created)
	}
	snap, _ = e.Identity(1)
	if snap.State != identity.Active || snap.Missed != 0 || !snap.Visible {
		t.Errorf("identity after recovery = %+v", snap)
	}
	if len(e.Identities()) != 1 {
		t.Error("recovery must not create a new identity")
	}
}

func TestTick_IndexedCrowdWithMovingMeans(t *testing.T) {
	const people, dim = 20, 16
	opts := testOptions()
	opts.ConfirmFrames = 1
	opts.Match.ANNMinIdentities = 2
	opts.Match.ANNCandidates = people
	e := newTestEngine(t, identity.NewStore(), opts, nil)
	ctx := context.Background()

	rng := rand.New(rand.NewPCG(3, 5))
	centers := make([][]float32, people)
	for i := range centers {
		centers[i] = make([]float32, dim)
		for j := range centers[i] {
			centers[i][j] = rng.Float32()*2 - 1
		}
	}
	// Noise above DuplicateEps keeps adding samples, so means move.
	noisy := func(c []float32) FaceObservation {
		v := make([]float32, dim)
		for j := range v {
			v[j] = c[j] + (rng.Float32()*2-1)*0.055
		}
		return face(v...)
	}

	for tick := 1; tick <= 100; tick++ {
		faces := make([]FaceObservation, people)
		for i, c := range centers {
			faces[i] = noisy(c)
		}
		rep := e.Tick(ctx, frameOf(faces...))
		if tick > 1 && len(rep.Created) != 0 {
			t.Fatalf("tick %d: created %v", tick, rep.Created)
		}
	}

	all := e.Identities()
	if len(all) != people {
		t.Fatalf("identities = %d, want %d", len(all), people)
	}
	moved := 0
	for _, s := range all {
		if !s.Visible {
			t.Errorf("identity %d not visible", s.ID)
		}
		if s.Fingerprints > 1 {
			moved++
		}
	}
	if moved == 0 {
		t.Error("no identity gained samples; means never moved")
	}
}

func TestTick_PanicReleasesLock(t *testing.T) {
	e := newTestEngine(t, identity.NewStore(), testOptions(), nil)
	ctx := context.Background()
	clock := e.now
	e.now = func() time.Time { panic("clock failure") }

	rep := e.Tick(ctx, frameOf(face(1, 0)))
	if rep.Tick != 1 {
		t.Errorf("aborted tick = %d, want 1", rep.Tick)
	}

	done := make(chan struct{})
	go func() {
		e.Identities()
		e.Stats()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("readers blocked after an aborted tick")
	}

	e.now = clock
	if rep := e.Tick(ctx, frameOf(face(1, 0))); rep.Tick != 2 {
		t.Errorf("next tick = %d, want 2", rep.Tick)
	}
}

func TestTick_SkipsInvalidObservations(t *testing.T) {
	opts := testOptions()
	opts.FingerprintDim = 3
	e := newTestEngine(t, identity.NewStore(), opts, nil)

	rep := e.Tick(context.Background(), frameOf(
		face(),
		face(1, 2),
		face(float32(math.NaN()), 0, 0),
		face(1, 2, 3),
	))
	if rep.Skipped != 3 {
		t.Errorf("skipped = %d, want 3", rep.Skipped)
	}
	if rep.Candidates != 1 {
		t.Errorf("candidates = %d, want 1", rep.Candidates)
	}
}

func TestTick_InfersDimension(t *testing.T) {
	e := newTestEngine(t, identity.NewStore(), testOptions(), nil)
	rep := e.Tick(context.Background(), frameOf(face(1, 0), face(1, 0, 0)))
	if rep.Skipped != 1 || rep.Candidates != 1 {
		t.Errorf("report = %+v", rep)
	}
}

func TestTick_AmbiguousCandidateIsDropped(t *testing.T) {
	opts := testOptions()
	opts.CandidateThreshold = 0.8
	opts.Match.SparsePenalty = 1 // unweighted distances
	store := identity.NewStore()
	store.Create(identity.Sample{Fingerprint: identity.Fingerprint{0, 0}}, opts.MaxFingerprints, time.Now())
	e := newTestEngine(t, store, opts, nil)
	ctx := context.Background()

	// Distance 0.6: no match, but close enough to hold back promotion.
	e.Tick(ctx, frameOf(face(0.6, 0)))
	for tick := 2; tick <= 2*opts.ConfirmFrames; tick++ {
		rep := e.Tick(ctx, Frame{})
		if rep.Candidates != 1 || len(rep.Created) != 0 {
			t.Fatalf("tick %d: report = %+v", tick, rep)
		}
	}
	rep := e.Tick(ctx, Frame{})
	if rep.Candidates != 0 || rep.Dropped != 1 {
		t.Errorf("stale candidate not dropped: %+v", rep)
	}
	if got := e.Stats().Dropped; got != 1 {
		t.Errorf("Stats().Dropped = %d", got)
	}
	if len(e.Identities()) != 1 {
		t.Error("ambiguous candidate must not become an identity")
	}
}

func TestTick_DuplicateSuppressionAndBound(t *testing.T) {
	opts := testOptions()
	opts.MaxFingerprints = 2
	store := identity.NewStore()
	store.Create(identity.Sample{Fingerprint: identity.Fingerprint{0, 0}}, opts.MaxFingerprints, time.Now())
	e := newTestEngine(t, store, opts, nil)
	ctx := context.Background()

	e.Tick(ctx, frameOf(face(0.1, 0))) // within DuplicateEps
	if snap, _ := e.Identity(1); snap.Fingerprints != 1 {
		t.Errorf("near-duplicate appended: %d", snap.Fingerprints)
	}
	e.Tick(ctx, frameOf(face(0.3, 0)))
	e.Tick(ctx, frameOf(face(0, 0.3)))
	if snap, _ := e.Identity(1); snap.Fingerprints != 2 {
		t.Errorf("fingerprints = %d, want bound of 2", snap.Fingerprints)
	}
	if e.Dirty() != 1 {
		t.Errorf("dirty = %d, want 1", e.Dirty())
	}
}

func TestTick_AttachesBodyByFaceCentre(t *testing.T) {
	store := identity.NewStore()
	store.Create(identity.Sample{Fingerprint: identity.Fingerprint{0, 0}}, 10, time.Now())
	store.Create(identity.Sample{Fingerprint: identity.Fingerprint{5, 5}}, 10, time.Now())
	e := newTestEngine(t, store, testOptions(), nil)

	left := face(0, 0)
	left.Box = []float64{10, 10, 30, 30}
	right := face(5, 5)
	right.Box = []float64{210, 10, 230, 30}
	pose := &identity.Pose{Landmarks: []identity.Landmark{{X: 0.5, Y: 0.1}}}

	e.Tick(context.Background(), Frame{
		Faces: []FaceObservation{left, right},
		Bodies: []BodyObservation{
			{Box: []float64{0, 0, 400, 400}},
			{Box: []float64{200, 0, 260, 200}, Pose: pose},
			{Box: []float64{0, 0, 60, 200}},
		},
	})

	sightings := e.Sightings()
	if len(sightings) != 2 {
		t.Fatalf("sightings = %d, want 2", len(sightings))
	}
	if got := sightings[0].Observation.BodyBox; len(got) != 4 || got[2] != 60 {
		t.Errorf("identity 1 body = %v, want the tight left box", got)
	}
	if got := sightings[1].Observation.BodyBox; len(got) != 4 || got[0] != 200 {
		t.Errorf("identity 2 body = %v", got)
	}
	if sightings[1].Observation.Pose != pose {
		t.Error("pose not attached to identity 2")
	}
}

func TestTick_PersistsCreatedIdentities(t *testing.T) {
	repo := mock.NewMockIdentityRepository()
	opts := testOptions()
	opts.ConfirmFrames = 1
	e := newTestEngine(t, identity.NewStore(), opts, repo)

	e.Tick(context.Background(), frameOf(face(1, 1)))
	stored, ok := repo.Get(1)
	if !ok {
		t.Fatal("created identity was not saved")
	}
	if len(stored.Fingerprints) != 1 || len(stored.Fingerprints[0].Thumbnail) == 0 {
		t.Errorf("stored identity = %+v", stored)
	}
}

func TestTick_PersistenceFailureDoesNotAbort(t *testing.T) {
	repo := mock.NewMockIdentityRepository()
	repo.SetSaveError(errors.New("disk full"))
	opts := testOptions()
	opts.ConfirmFrames = 1
	e := newTestEngine(t, identity.NewStore(), opts, repo)
	ctx := context.Background()

	rep := e.Tick(ctx, frameOf(face(1, 1)))
	if len(rep.Created) != 1 {
		t.Fatalf("created = %v", rep.Created)
	}
	if e.Dirty() != 1 {
		t.Errorf("failed save should leave the identity dirty")
	}
	// In-memory state stays authoritative.
	rep = e.Tick(ctx, frameOf(face(1, 1)))
	if len(rep.Matched) != 1 || len(rep.Created) != 0 {
		t.Errorf("second tick report = %+v", rep)
	}

	if failed := e.Flush(ctx); failed != 1 {
		t.Errorf("Flush() failed = %d, want 1", failed)
	}
	repo.SetSaveError(nil)
	if failed := e.Flush(ctx); failed != 0 {
		t.Errorf("Flush() failed = %d, want 0", failed)
	}
	if e.Dirty() != 0 {
		t.Errorf("dirty after successful flush = %d", e.Dirty())
	}
	if _, ok := repo.Get(1); !ok {
		t.Error("identity not saved after recovery")
	}
}

func TestSetDisplayName(t *testing.T) {
	repo := mock.NewMockIdentityRepository()
	store := identity.NewStore()
	store.Create(identity.Sample{Fingerprint: identity.Fingerprint{0, 0}}, 10, time.Now())
	e := newTestEngine(t, store, testOptions(), repo)
	ctx := context.Background()

	snap, err := e.SetDisplayName(ctx, 1, "  Jan Novák ")
	if err != nil {
		t.Fatalf("SetDisplayName() error: %v", err)
	}
	if snap.DisplayName != "Jan Novák" {
		t.Errorf("display name = %q", snap.DisplayName)
	}
	if stored, ok := repo.Get(1); !ok || stored.DisplayName != "Jan Novák" {
		t.Error("rename was not persisted immediately")
	}
	if found := e.FindByName("jan-novak"); len(found) != 1 {
		t.Errorf("FindByName() = %v", found)
	}

	if _, err := e.SetDisplayName(ctx, 99, "x"); !errors.Is(err, identity.ErrUnknownIdentity) {
		t.Errorf("expected ErrUnknownIdentity, got %v", err)
	}
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := e.SetDisplayName(ctx, 1, string(long)); err == nil {
		t.Error("expected error for overlong name")
	}
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	repo := mock.NewMockIdentityRepository()
	repo.AddIdentity(database.StoredIdentity{ID: 3, DisplayName: "Eva", Fingerprints: []database.StoredFingerprint{{Vector: []float32{1, 0}}}})
	repo.AddIdentity(database.StoredIdentity{ID: 7, Fingerprints: []database.StoredFingerprint{{Vector: []float32{0, 1}}}})

	store := Restore(ctx, repo, 0, logging.Discard())
	if store.Len() != 2 || store.NextID() != 8 {
		t.Fatalf("store len = %d, next = %d", store.Len(), store.NextID())
	}
	for _, ident := range store.All() {
		if ident.State != identity.Lost || ident.Visible {
			t.Errorf("restored identity %d = %v visible=%v", ident.ID, ident.State, ident.Visible)
		}
	}

	// A restored identity is recognized rather than duplicated.
	e := newTestEngine(t, store, testOptions(), nil)
	rep := e.Tick(ctx, frameOf(face(1, 0)))
	if len(rep.Returned) != 1 || rep.Returned[0] != 3 {
		t.Errorf("returned = %v, want [3]", rep.Returned)
	}
}

func TestRestore_ColdStartOnError(t *testing.T) {
	repo := mock.NewMockIdentityRepository()
	repo.LoadError = errors.New("corrupt")
	store := Restore(context.Background(), repo, 0, logging.Discard())
	if store.Len() != 0 || store.NextID() != 1 {
		t.Errorf("expected empty store, got %d identities", store.Len())
	}
}
