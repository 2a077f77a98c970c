package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kozaktomas/people-tracker/internal/plugin"
)

// PersonEvents logs when identities enter and leave the scene and reports
// how long they have been present.
type PersonEvents struct {
	logger *slog.Logger

	mu      sync.Mutex
	present map[int64]presence
}

type presence struct {
	name      string
	enteredAt time.Time
}

func NewPersonEvents(logger *slog.Logger) *PersonEvents {
	return &PersonEvents{logger: logger, present: make(map[int64]presence)}
}

func (*PersonEvents) Name() string            { return "person_events" }
func (*PersonEvents) Input() plugin.InputKind { return plugin.InputGeneric }
func (*PersonEvents) Async() bool             { return false }

func (p *PersonEvents) Process(_ context.Context, s plugin.Subject) (map[string]any, error) {
	now := s.Now
	if now.IsZero() {
		now = time.Now()
	}
	p.mu.Lock()
	entry, seen := p.present[s.IdentityID]
	if !seen {
		entry = presence{name: s.Name, enteredAt: now}
	}
	if s.Name != "" {
		entry.name = s.Name
	}
	p.present[s.IdentityID] = entry
	p.mu.Unlock()

	if !seen {
		p.logger.Info("person entered", "identity", s.IdentityID, "name", displayName(s.IdentityID, entry.name))
	}
	return map[string]any{
		"status":           "tracking",
		"entered_at":       entry.enteredAt,
		"duration_seconds": now.Sub(entry.enteredAt).Seconds(),
	}, nil
}

// IdentityLost logs the exit and forgets the identity.
func (p *PersonEvents) IdentityLost(_ context.Context, identityID int64, at time.Time) {
	p.mu.Lock()
	entry, ok := p.present[identityID]
	delete(p.present, identityID)
	p.mu.Unlock()
	if !ok {
		return
	}
	p.logger.Info("person left",
		"identity", identityID,
		"name", displayName(identityID, entry.name),
		"duration", at.Sub(entry.enteredAt).Round(100*time.Millisecond))
}

// Present returns how many identities are currently in the scene.
func (p *PersonEvents) Present() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.present)
}

func displayName(id int64, name string) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("Person ID %d", id)
}
