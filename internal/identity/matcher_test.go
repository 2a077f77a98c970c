package identity

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"
)

func newIdentityWith(store *Store, samples ...Fingerprint) *Identity {
	id := store.Create(Sample{Fingerprint: samples[0]}, 50, time.Now())
	for _, s := range samples[1:] {
		id.AddSample(Sample{Fingerprint: s}, 50, 0)
	}
	return id
}

func TestFindBestMatch_EmptyStore(t *testing.T) {
	m := NewMatcher(NewStore(), DefaultMatchOptions())
	best, dist := m.FindBestMatch(fp(1, 2))
	if best != nil {
		t.Errorf("expected no match, got identity %d", best.ID)
	}
	if !math.IsInf(dist, 1) {
		t.Errorf("distance = %v, want +Inf", dist)
	}
}

func TestFindBestMatch_SkipsIdentitiesWithoutSamples(t *testing.T) {
	store := NewStore()
	store.Load([]*Identity{New(4, time.Now())})
	m := NewMatcher(store, DefaultMatchOptions())

	best, dist := m.FindBestMatch(fp(1, 2))
	if best != nil || !math.IsInf(dist, 1) {
		t.Errorf("FindBestMatch() = %v, %v; want nil, +Inf", best, dist)
	}
}

func TestFindBestMatch_Nearest(t *testing.T) {
	store := NewStore()
	near := newIdentityWith(store, fp(0, 0), fp(0.4, 0))
	newIdentityWith(store, fp(5, 5), fp(5.4, 5))
	m := NewMatcher(store, DefaultMatchOptions())

	best, dist := m.FindBestMatch(fp(0.2, 0.1))
	if best != near {
		t.Fatalf("expected identity %d, got %v", near.ID, best)
	}
	if math.Abs(dist-0.1) > 1e-6 {
		t.Errorf("distance = %v, want 0.1", dist)
	}
}

func TestFindBestMatch_ReliabilityWeighting(t *testing.T) {
	store := NewStore()
	single := newIdentityWith(store, fp(1, 0))
	reliable := newIdentityWith(store, fp(0, 1), fp(0.3, 1), fp(-0.3, 1))
	m := NewMatcher(store, DefaultMatchOptions())

	if got := m.Weighted(single, fp(0, 0)); math.Abs(got-1.05) > 1e-6 {
		t.Errorf("single-sample weighted distance = %v, want 1.05", got)
	}
	if got := m.Weighted(reliable, fp(0, 0)); math.Abs(got-0.95) > 1e-6 {
		t.Errorf("reliable weighted distance = %v, want 0.95", got)
	}

	// Equal raw distances: the identity with more evidence wins.
	best, _ := m.FindBestMatch(fp(0, 0))
	if best != reliable {
		t.Errorf("expected reliable identity %d to win, got %d", reliable.ID, best.ID)
	}
}

func TestFindBestMatch_TwoSamplesUnweighted(t *testing.T) {
	store := NewStore()
	id := newIdentityWith(store, fp(1, 0), fp(1, 0.5))
	m := NewMatcher(store, DefaultMatchOptions())

	raw := Distance(fp(0, 0), id.Mean())
	if got := m.Weighted(id, fp(0, 0)); math.Abs(got-raw) > 1e-9 {
		t.Errorf("weighted = %v, want raw %v", got, raw)
	}
}

func TestFindBestMatch_IncludesLost(t *testing.T) {
	store := NewStore()
	id := newIdentityWith(store, fp(1, 1))
	id.State = Lost
	m := NewMatcher(store, DefaultMatchOptions())

	best, _ := m.FindBestMatch(fp(1, 1.1))
	if best != id {
		t.Error("lost identities must remain matchable")
	}
}

func TestFindBestMatch_PureRead(t *testing.T) {
	store := NewStore()
	id := newIdentityWith(store, fp(1, 1))
	m := NewMatcher(store, DefaultMatchOptions())

	m.FindBestMatch(fp(1, 1))
	m.FindBestMatch(fp(1, 1))
	if id.SampleCount() != 1 || id.Missed != 0 || id.Visible {
		t.Error("FindBestMatch must not mutate identities")
	}
}

func TestFindBestMatch_WithIndex(t *testing.T) {
	store := NewStore()
	var ids []*Identity
	for i := range 40 {
		base := float32(i) * 3
		ids = append(ids, newIdentityWith(store, fp(base, 0, 0), fp(base+0.5, 0, 0)))
	}
	opts := DefaultMatchOptions()
	opts.ANNMinIdentities = 10
	opts.ANNCandidates = 5
	m := NewMatcher(store, opts)

	best, dist := m.FindBestMatch(fp(30.25, 0, 0))
	if best != ids[10] {
		t.Fatalf("expected identity %d, got %v", ids[10].ID, best)
	}
	if dist > 1e-6 {
		t.Errorf("distance = %v, want 0", dist)
	}

	// Move identity 10's mean and make sure the index follows.
	ids[10].AddSample(Sample{Fingerprint: fp(100, 0, 0)}, 50, 0)
	m.Invalidate(ids[10].ID)
	best, _ = m.FindBestMatch(fp(30.25, 0, 0))
	if best == ids[10] {
		t.Error("index should have re-inserted the moved mean")
	}
}

func TestFindBestMatch_IndexFollowsMovingMeans(t *testing.T) {
	const people, dim = 20, 16
	rng := rand.New(rand.NewPCG(7, 11))
	randomFp := func(center Fingerprint, spread float32) Fingerprint {
		out := make(Fingerprint, dim)
		for i := range out {
			out[i] = center[i] + (rng.Float32()*2-1)*spread
		}
		return out
	}
	origin := make(Fingerprint, dim)

	store := NewStore()
	ids := make([]*Identity, people)
	for i := range ids {
		ids[i] = newIdentityWith(store, randomFp(origin, 1))
	}
	opts := DefaultMatchOptions()
	opts.ANNMinIdentities = 2
	opts.ANNCandidates = people
	indexed := NewMatcher(store, opts)
	linear := NewMatcher(store, DefaultMatchOptions())
	linear.index = nil

	for round := range 200 {
		moved := ids[rng.IntN(people)]
		// SetSamples replaces the mean outright, so every round moves it.
		moved.SetSamples([]Sample{{Fingerprint: randomFp(origin, 1)}})
		indexed.Invalidate(moved.ID)

		query := randomFp(moved.Mean(), 0.05)
		gotBest, gotDist := indexed.FindBestMatch(query)
		wantBest, wantDist := linear.FindBestMatch(query)
		if gotBest != wantBest || math.Abs(gotDist-wantDist) > 1e-9 {
			t.Fatalf("round %d: indexed match %v (%v), linear %v (%v)", round, gotBest, gotDist, wantBest, wantDist)
		}
	}
	if n := indexed.index.Len(); n != people {
		t.Errorf("index holds %d identities, want %d", n, people)
	}
}

func TestFindBestMatch_IndexDimensionMismatchFallsBack(t *testing.T) {
	store := NewStore()
	for i := range 5 {
		newIdentityWith(store, fp(float32(i), 0))
	}
	opts := DefaultMatchOptions()
	opts.ANNMinIdentities = 1
	m := NewMatcher(store, opts)

	best, dist := m.FindBestMatch(fp(1, 0, 0))
	if best != nil || !math.IsInf(dist, 1) {
		t.Errorf("expected no match for wrong dimension, got %v, %v", best, dist)
	}
}

func TestStoreLoad(t *testing.T) {
	store := NewStore()
	a := New(3, time.Now())
	a.SetSamples([]Sample{{Fingerprint: fp(1, 1)}})
	a.Visible = true
	b := New(9, time.Now())
	dup := New(3, time.Now())

	if n := store.Load([]*Identity{b, a, dup, nil}); n != 2 {
		t.Fatalf("Load() = %d, want 2", n)
	}
	if store.NextID() != 10 {
		t.Errorf("NextID() = %d, want 10", store.NextID())
	}
	if a.State != Lost || a.Visible {
		t.Error("restored identities must start lost and invisible")
	}
	all := store.All()
	if all[0].ID != 3 || all[1].ID != 9 {
		t.Errorf("identities not ordered by ID: %d, %d", all[0].ID, all[1].ID)
	}

	created := store.Create(Sample{Fingerprint: fp(2, 2)}, 50, time.Now())
	if created.ID != 10 {
		t.Errorf("created ID = %d, want 10", created.ID)
	}
}

func TestStoreFindByName(t *testing.T) {
	store := NewStore()
	a := store.Create(Sample{Fingerprint: fp(1)}, 50, time.Now())
	a.DisplayName = "Jan Novák"
	store.Create(Sample{Fingerprint: fp(2)}, 50, time.Now())

	found := store.FindByName("jan-novak")
	if len(found) != 1 || found[0] != a {
		t.Errorf("FindByName() = %v, want [%d]", found, a.ID)
	}
	if found := store.FindByName(""); found != nil {
		t.Errorf("FindByName(\"\") = %v, want nil", found)
	}
}
