package plugin

import (
	"context"
	"log/slog"
	"time"

	"github.com/kozaktomas/people-tracker/internal/results"
)

// Scheduler decides which plugins are due for which identities and hands
// them to the executor.
type Scheduler struct {
	registry *Registry
	executor *Executor
	results  *results.Aggregator
	logger   *slog.Logger
}

// NewScheduler wires a scheduler to its registry and executor. Subjects get
// their Results view from agg.
func NewScheduler(registry *Registry, executor *Executor, agg *results.Aggregator, logger *slog.Logger) *Scheduler {
	return &Scheduler{registry: registry, executor: executor, results: agg, logger: logger}
}

// RunDue runs every due plugin for every subject, subjects in the given
// order and plugins in registration order. Each subject's Results are
// refreshed before every plugin call, so a plugin sees what plugins
// registered before it wrote in this pass. Returns the number of runs.
func (s *Scheduler) RunDue(ctx context.Context, subjects []Subject, now time.Time) int {
	plugins := s.registry.Plugins()
	runs := 0
	for _, subject := range subjects {
		subject.Now = now
		for _, p := range plugins {
			if ctx.Err() != nil {
				return runs
			}
			if !s.registry.DueFor(subject.IdentityID, p.Name(), now) {
				continue
			}
			s.registry.MarkRun(subject.IdentityID, p.Name(), now)
			subject.Results = s.results.Get(subject.IdentityID)
			s.executor.Run(ctx, p, subject)
			runs++
		}
	}
	return runs
}

// NotifyLost tells every plugin with a LostHook that the identity went Lost.
func (s *Scheduler) NotifyLost(ctx context.Context, identityID int64, at time.Time) {
	for _, p := range s.registry.Plugins() {
		hook, ok := p.(LostHook)
		if !ok {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("plugin lost hook panicked", "plugin", p.Name(), "identity", identityID, "panic", r)
				}
			}()
			hook.IdentityLost(ctx, identityID, at)
		}()
	}
}
