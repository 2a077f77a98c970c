package identity

import (
	"errors"
	"sort"
	"time"
)

// ErrUnknownIdentity is returned when an identity ID is not in the store.
var ErrUnknownIdentity = errors.New("unknown identity")

// Store owns the set of known identities. It is not safe for concurrent use;
// the resolution engine serializes access.
type Store struct {
	identities []*Identity // ordered by ID
	byID       map[int64]*Identity
	nextID     int64
}

// NewStore creates an empty store whose first identity gets ID 1.
func NewStore() *Store {
	return &Store{
		byID:   make(map[int64]*Identity),
		nextID: 1,
	}
}

// Load pre-populates the store with restored identities. Restored identities
// start Lost and invisible; IDs continue after the highest loaded ID.
// Identities with duplicate or non-positive IDs are skipped.
func (s *Store) Load(restored []*Identity) int {
	loaded := 0
	for _, id := range restored {
		if id == nil || id.ID <= 0 {
			continue
		}
		if _, exists := s.byID[id.ID]; exists {
			continue
		}
		id.State = Lost
		id.Visible = false
		id.Missed = 0
		s.byID[id.ID] = id
		s.identities = append(s.identities, id)
		if id.ID >= s.nextID {
			s.nextID = id.ID + 1
		}
		loaded++
	}
	sort.Slice(s.identities, func(a, b int) bool {
		return s.identities[a].ID < s.identities[b].ID
	})
	return loaded
}

// Create assigns the next ID to a new Active identity holding one sample.
func (s *Store) Create(sample Sample, maxSamples int, now time.Time) *Identity {
	id := New(s.nextID, now)
	s.nextID++
	id.AddSample(sample, maxSamples, -1)
	s.byID[id.ID] = id
	s.identities = append(s.identities, id)
	return id
}

// Get returns the identity with the given ID, or nil.
func (s *Store) Get(id int64) *Identity {
	return s.byID[id]
}

// All returns every identity ordered by ID. The slice must not be modified.
func (s *Store) All() []*Identity {
	return s.identities
}

// Len returns the number of identities.
func (s *Store) Len() int {
	return len(s.identities)
}

// NextID returns the ID the next created identity will receive.
func (s *Store) NextID() int64 {
	return s.nextID
}

// CountByState returns the number of identities per state.
func (s *Store) CountByState() map[State]int {
	counts := map[State]int{Active: 0, Lost: 0}
	for _, id := range s.identities {
		counts[id.State]++
	}
	return counts
}
