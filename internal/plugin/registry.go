package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kozaktomas/people-tracker/internal/config"
	"golang.org/x/time/rate"
)

type registration struct {
	plugin    Plugin
	interval  time.Duration
	enabled   bool
	rateLimit float64
	limiter   *rate.Limiter
	lastRun   map[int64]time.Time
}

// Registry holds plugins in registration order with per-identity timers.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	order  []*registration
	byName map[string]*registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*registration)}
}

// Register adds a plugin. Names must be unique.
func (r *Registry) Register(p Plugin, interval time.Duration, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%s: %w", name, ErrDuplicatePlugin)
	}
	reg := &registration{
		plugin:   p,
		interval: interval,
		enabled:  enabled,
		lastRun:  make(map[int64]time.Time),
	}
	r.order = append(r.order, reg)
	r.byName[name] = reg
	return nil
}

// Unregister removes a plugin and its timers.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownPlugin)
	}
	delete(r.byName, name)
	for i, reg := range r.order {
		if reg.plugin.Name() == name {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *Registry) lookup(name string) (*registration, error) {
	reg, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownPlugin)
	}
	return reg, nil
}

// SetEnabled turns a plugin on or off. Timers are kept, so a re-enabled
// plugin is due as soon as its interval has passed since its last real run.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, err := r.lookup(name)
	if err != nil {
		return err
	}
	reg.enabled = enabled
	return nil
}

// SetInterval changes the minimum time between runs per identity.
func (r *Registry) SetInterval(name string, interval time.Duration) error {
	if interval < 0 {
		return fmt.Errorf("%s: negative interval", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, err := r.lookup(name)
	if err != nil {
		return err
	}
	reg.interval = interval
	return nil
}

// SetRateLimit caps the plugin's outbound requests per second across all
// identities. Zero removes the cap.
func (r *Registry) SetRateLimit(name string, perSecond float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, err := r.lookup(name)
	if err != nil {
		return err
	}
	reg.rateLimit = perSecond
	if perSecond <= 0 {
		reg.limiter = nil
		return nil
	}
	reg.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	return nil
}

// Limiter returns the plugin's rate limiter, nil when unlimited.
func (r *Registry) Limiter(name string) *rate.Limiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.byName[name]; ok {
		return reg.limiter
	}
	return nil
}

// Plugins returns the registered plugins in registration order.
func (r *Registry) Plugins() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, len(r.order))
	for i, reg := range r.order {
		out[i] = reg.plugin
	}
	return out
}

// DueFor reports whether the plugin is enabled and its interval has elapsed
// for the identity. A plugin that never ran for the identity is due.
func (r *Registry) DueFor(identityID int64, name string, now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byName[name]
	if !ok || !reg.enabled {
		return false
	}
	last, ran := reg.lastRun[identityID]
	return !ran || now.Sub(last) >= reg.interval
}

// MarkRun starts a new interval for the identity.
func (r *Registry) MarkRun(identityID int64, name string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.byName[name]; ok {
		reg.lastRun[identityID] = now
	}
}

// Status describes one registered plugin.
type Status struct {
	Name       string    `json:"name"`
	Input      InputKind `json:"input"`
	Async      bool      `json:"async"`
	Enabled    bool      `json:"enabled"`
	IntervalMS int64     `json:"interval_ms"`
	RateLimit  float64   `json:"rate_limit,omitempty"`
	Identities int       `json:"identities"`
}

// Status returns all plugins in registration order.
func (r *Registry) Status() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.order))
	for _, reg := range r.order {
		out = append(out, Status{
			Name:       reg.plugin.Name(),
			Input:      reg.plugin.Input(),
			Async:      reg.plugin.Async(),
			Enabled:    reg.enabled,
			IntervalMS: reg.interval.Milliseconds(),
			RateLimit:  reg.rateLimit,
			Identities: len(reg.lastRun),
		})
	}
	return out
}

// Apply overrides plugin settings from the settings file. Settings for
// unregistered plugins are returned so the caller can report them.
func (r *Registry) Apply(settings *config.PluginSettings) []string {
	var unknown []string
	for name, s := range settings.Plugins {
		if s.Enabled != nil {
			if err := r.SetEnabled(name, *s.Enabled); err != nil {
				unknown = append(unknown, name)
				continue
			}
		}
		if s.Interval > 0 {
			if err := r.SetInterval(name, s.Interval); err != nil {
				unknown = append(unknown, name)
				continue
			}
		}
		if err := r.SetRateLimit(name, s.RateLimit); err != nil {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// Start runs the startup check of every plugin that has one.
func (r *Registry) Start(ctx context.Context, logger *slog.Logger) {
	for _, p := range r.Plugins() {
		s, ok := p.(Starter)
		if !ok {
			continue
		}
		if err := s.Start(ctx); err != nil {
			logger.Warn("plugin startup check failed", "plugin", p.Name(), "error", err)
			continue
		}
		logger.Debug("plugin ready", "plugin", p.Name())
	}
}
