package identity

import (
	"sync"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/people-tracker/internal/constants"
)

// Index is an HNSW graph over identity mean fingerprints used to shortlist
// match candidates when the store is large. Exact weighted distances are
// always computed by the Matcher afterwards.
//
// Nodes are never deleted from the graph. A moved mean is added under a fresh
// node key and the old node goes stale; Search skips stale nodes and the
// graph is rebuilt once stale nodes outnumber live ones.
type Index struct {
	graph   *hnsw.Graph[int64]
	dim     int
	nextKey int64
	live    map[int64]int64 // identity ID -> node key
	owner   map[int64]int64 // live node key -> identity ID
	stale   int
	changed map[int64]bool
	mu      sync.Mutex
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		live:    make(map[int64]int64),
		owner:   make(map[int64]int64),
		changed: make(map[int64]bool),
	}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = constants.HNSWMaxNeighbors
	g.Ml = 1.0 / float64(constants.HNSWMaxNeighbors)
	g.Distance = hnsw.EuclideanDistance
	return g
}

// MarkChanged schedules an identity for re-insertion on the next Sync.
func (x *Index) MarkChanged(id int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.changed[id] = true
}

// Reset drops the graph; the next Sync rebuilds it from the store.
func (x *Index) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.graph = nil
}

// Sync brings the graph up to date with the store. The first call builds the
// graph from scratch; later calls re-insert only identities whose mean changed
// or that are not indexed yet.
func (x *Index) Sync(store *Store) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.graph == nil {
		x.rebuild(store)
		return
	}
	for _, ident := range store.All() {
		if _, ok := x.live[ident.ID]; ok && !x.changed[ident.ID] {
			continue
		}
		x.upsert(ident)
	}
	clear(x.changed)
	if x.stale > len(x.live) {
		x.rebuild(store)
	}
}

func (x *Index) rebuild(store *Store) {
	x.graph = newGraph()
	x.dim = 0
	x.nextKey = 0
	x.stale = 0
	clear(x.live)
	clear(x.owner)
	clear(x.changed)
	for _, ident := range store.All() {
		x.upsert(ident)
	}
}

func (x *Index) retire(id int64) {
	if key, ok := x.live[id]; ok {
		delete(x.owner, key)
		delete(x.live, id)
		x.stale++
	}
}

func (x *Index) upsert(ident *Identity) {
	mean := ident.Mean()
	if mean == nil {
		x.retire(ident.ID)
		return
	}
	if x.dim == 0 {
		x.dim = len(mean)
	}
	if len(mean) != x.dim {
		x.retire(ident.ID)
		return
	}
	x.retire(ident.ID)

	key := x.nextKey
	x.nextKey++
	// The graph keeps the slice, so hand it a private copy.
	x.graph.Add(hnsw.MakeNode(key, []float32(mean.Clone())))
	x.live[ident.ID] = key
	x.owner[key] = ident.ID
}

// Search returns the IDs of up to k identities whose means are nearest to fp.
// It reports false when the graph is empty or fp has a different dimension.
func (x *Index) Search(fp Fingerprint, k int) ([]int64, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.graph == nil || len(x.live) == 0 || len(fp) != x.dim {
		return nil, false
	}
	if k <= 0 {
		k = constants.DefaultANNCandidates
	}
	// Over-fetch so stale nodes cannot crowd live ones out of the result,
	// and widen the beam to match.
	n := min(k+x.stale, x.graph.Len())
	ef := x.graph.EfSearch
	x.graph.EfSearch = max(ef, n)
	neighbors := x.graph.Search([]float32(fp), n)
	x.graph.EfSearch = ef
	ids := make([]int64, 0, k)
	for _, node := range neighbors {
		id, ok := x.owner[node.Key]
		if !ok {
			continue
		}
		ids = append(ids, id)
		if len(ids) == k {
			break
		}
	}
	return ids, true
}

// Len returns the number of indexed identities.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.live)
}
