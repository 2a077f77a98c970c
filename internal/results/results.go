// Package results stores the latest enrichment output per identity and plugin.
package results

import (
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/people-tracker/internal/constants"
)

// Status of a plugin result.
type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusPending Status = "pending"
)

// Result is one plugin output for one identity.
type Result struct {
	IdentityID int64          `json:"identity_id"`
	Plugin     string         `json:"plugin"`
	Payload    map[string]any `json:"payload,omitempty"`
	ProducedAt time.Time      `json:"produced_at"`
	Status     Status         `json:"status"`
	Error      string         `json:"error,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
}

// Completed reports whether the result is final (ok or error).
func (r Result) Completed() bool {
	return r.Status == StatusOK || r.Status == StatusError
}

type key struct {
	id     int64
	plugin string
}

type entry struct {
	latest  Result
	history []Result // completed results, oldest first
}

// Aggregator is a concurrency-safe table of plugin results. Every Put is
// applied atomically under one mutex, so readers never see a partial update.
type Aggregator struct {
	mu         sync.RWMutex
	entries    map[key]*entry
	historyLen int
}

// New creates an aggregator that keeps historyLen completed results per key.
func New(historyLen int) *Aggregator {
	if historyLen < 1 {
		historyLen = constants.DefaultResultHistory
	}
	return &Aggregator{entries: make(map[key]*entry), historyLen: historyLen}
}

// Put stores a result, replacing the previous one for the same key. A
// pending result never replaces a completed one.
func (a *Aggregator) Put(r Result) {
	if r.ProducedAt.IsZero() {
		r.ProducedAt = time.Now()
	}
	r.Payload = clonePayload(r.Payload)

	a.mu.Lock()
	defer a.mu.Unlock()

	k := key{r.IdentityID, r.Plugin}
	e, ok := a.entries[k]
	if !ok {
		e = &entry{}
		a.entries[k] = e
	}
	if r.Status == StatusPending {
		if !e.latest.Completed() {
			e.latest = r
		}
		return
	}
	e.latest = r
	e.history = append(e.history, r)
	if len(e.history) > a.historyLen {
		e.history = append([]Result(nil), e.history[len(e.history)-a.historyLen:]...)
	}
}

// Latest returns the result for one key.
func (a *Aggregator) Latest(id int64, plugin string) (Result, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.entries[key{id, plugin}]
	if !ok {
		return Result{}, false
	}
	return copyResult(e.latest), true
}

// Get returns all plugin results for an identity.
func (a *Aggregator) Get(id int64) map[string]Result {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]Result)
	for k, e := range a.entries {
		if k.id == id {
			out[k.plugin] = copyResult(e.latest)
		}
	}
	return out
}

// GetByPlugin returns one plugin's results keyed by identity.
func (a *Aggregator) GetByPlugin(plugin string) map[int64]Result {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[int64]Result)
	for k, e := range a.entries {
		if k.plugin == plugin {
			out[k.id] = copyResult(e.latest)
		}
	}
	return out
}

// All returns every latest result ordered by identity then plugin.
func (a *Aggregator) All() []Result {
	a.mu.RLock()
	out := make([]Result, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, copyResult(e.latest))
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].IdentityID != out[j].IdentityID {
			return out[i].IdentityID < out[j].IdentityID
		}
		return out[i].Plugin < out[j].Plugin
	})
	return out
}

// History returns up to the configured number of completed results for a
// key, oldest first.
func (a *Aggregator) History(id int64, plugin string) []Result {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.entries[key{id, plugin}]
	if !ok {
		return nil
	}
	out := make([]Result, len(e.history))
	for i, r := range e.history {
		out[i] = copyResult(r)
	}
	return out
}

// Prune removes entries whose latest result is older than maxAge and
// returns how many were removed.
func (a *Aggregator) Prune(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	a.mu.Lock()
	defer a.mu.Unlock()
	removed := 0
	for k, e := range a.entries {
		if e.latest.ProducedAt.Before(cutoff) {
			delete(a.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of keys held.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

func copyResult(r Result) Result {
	r.Payload = clonePayload(r.Payload)
	return r
}

// clonePayload copies the top level of a payload. Nested values are shared
// and must be treated as read-only.
func clonePayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
