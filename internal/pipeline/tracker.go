// Package pipeline drives the tracker: it feeds frames through the
// resolution engine, hands visible identities to the plugin scheduler and
// publishes identity lifecycle events.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/people-tracker/internal/config"
	"github.com/kozaktomas/people-tracker/internal/constants"
	"github.com/kozaktomas/people-tracker/internal/frames"
	"github.com/kozaktomas/people-tracker/internal/identity"
	"github.com/kozaktomas/people-tracker/internal/plugin"
	"github.com/kozaktomas/people-tracker/internal/results"
	"github.com/kozaktomas/people-tracker/internal/tracking"
)

// Detector turns an image into per-frame observations.
type Detector interface {
	Detect(ctx context.Context, img image.Image) (tracking.Frame, error)
}

// Options controls pacing and housekeeping.
type Options struct {
	// FPS paces Run. Zero or less processes frames as fast as the source
	// delivers them.
	FPS           float64
	ResultMaxAge  time.Duration
	PruneInterval time.Duration
	FlushInterval time.Duration
}

// DefaultOptions returns the housekeeping defaults.
func DefaultOptions() Options {
	return Options{
		FPS:           10,
		ResultMaxAge:  constants.DefaultResultMaxAge,
		PruneInterval: constants.DefaultPruneInterval,
		FlushInterval: constants.DefaultFlushInterval,
	}
}

// OptionsFromConfig maps configuration onto tracker options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		FPS:           cfg.Tracking.FPS,
		ResultMaxAge:  cfg.Plugins.ResultMaxAge,
		PruneInterval: cfg.Plugins.PruneInterval,
		FlushInterval: cfg.Plugins.FlushInterval,
	}
}

// Stats is the combined runtime state reported by the API.
type Stats struct {
	tracking.Stats
	Frames    uint64 `json:"frames"`
	InFlight  int    `json:"in_flight"`
	Results   int    `json:"results"`
	Listeners int    `json:"listeners"`
}

// Tracker owns one engine and its plugin pipeline.
type Tracker struct {
	engine    *tracking.Engine
	registry  *plugin.Registry
	scheduler *plugin.Scheduler
	executor  *plugin.Executor
	results   *results.Aggregator
	detector  Detector
	events    *EventBroadcaster
	logger    *slog.Logger
	opts      Options

	mu     sync.Mutex // serializes ticks
	frames atomic.Uint64
}

// New wires a tracker. detector may be nil when frames are fed directly
// through ProcessFrame.
func New(engine *tracking.Engine, registry *plugin.Registry, executor *plugin.Executor, agg *results.Aggregator,
	detector Detector, opts Options, logger *slog.Logger) *Tracker {
	return &Tracker{
		engine:    engine,
		registry:  registry,
		scheduler: plugin.NewScheduler(registry, executor, agg, logger),
		executor:  executor,
		results:   agg,
		detector:  detector,
		events:    NewEventBroadcaster(),
		logger:    logger,
		opts:      opts,
	}
}

func (t *Tracker) Engine() *tracking.Engine     { return t.engine }
func (t *Tracker) Registry() *plugin.Registry   { return t.registry }
func (t *Tracker) Results() *results.Aggregator { return t.results }
func (t *Tracker) Events() *EventBroadcaster    { return t.events }
func (t *Tracker) Executor() *plugin.Executor   { return t.executor }

// ProcessFrame runs one tick: resolve observations, publish lifecycle
// events, notify lost hooks and run every due plugin on the visible
// identities. Calls never overlap.
func (t *Tracker) ProcessFrame(ctx context.Context, frame tracking.Frame) tracking.Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	report := t.engine.Tick(ctx, frame)
	t.frames.Add(1)
	now := time.Now()

	for _, id := range report.Created {
		t.publish(EventIdentityCreated, id, "new person confirmed", now)
	}
	for _, id := range report.Returned {
		t.publish(EventIdentityReturned, id, "person returned", now)
	}
	for _, id := range report.Lost {
		t.scheduler.NotifyLost(ctx, id, now)
		t.publish(EventIdentityLost, id, "person left", now)
	}

	sightings := t.engine.Sightings()
	subjects := make([]plugin.Subject, 0, len(sightings))
	for _, s := range sightings {
		subjects = append(subjects, plugin.Subject{
			IdentityID:  s.ID,
			Name:        s.Name,
			Observation: s.Observation,
		})
	}
	runs := t.scheduler.RunDue(ctx, subjects, now)

	if len(report.Created)+len(report.Returned)+len(report.Lost) > 0 || report.Skipped > 0 {
		t.logger.Debug("tick",
			"tick", report.Tick,
			"matched", len(report.Matched),
			"created", len(report.Created),
			"returned", len(report.Returned),
			"lost", len(report.Lost),
			"skipped", report.Skipped,
			"candidates", report.Candidates,
			"plugin_runs", runs)
	}
	return report
}

// ProcessImage detects people in img and runs a tick. A detector failure is
// treated as an input gap: an empty frame is processed and the error is
// returned alongside its report.
func (t *Tracker) ProcessImage(ctx context.Context, img image.Image, capturedAt time.Time) (tracking.Report, error) {
	if t.detector == nil {
		return tracking.Report{}, errors.New("no detector configured")
	}
	frame, err := t.detector.Detect(ctx, img)
	if err != nil {
		t.logger.Warn("detection failed, processing empty frame", "error", err)
		frame = tracking.Frame{}
		err = fmt.Errorf("detect: %w", err)
	}
	frame.CapturedAt = capturedAt
	return t.ProcessFrame(ctx, frame), err
}

func (t *Tracker) publish(eventType string, id int64, message string, at time.Time) {
	ev := Event{Type: eventType, IdentityID: id, Message: message, At: at}
	if snap, ok := t.engine.Identity(id); ok {
		ev.Name = snap.DisplayName
		ev.Data = snap
	}
	t.events.Send(ev)
}

// Rename sets an identity's display name and publishes the change.
func (t *Tracker) Rename(ctx context.Context, id int64, name string) (identity.Snapshot, error) {
	snap, err := t.engine.SetDisplayName(ctx, id, name)
	if err != nil {
		return identity.Snapshot{}, err
	}
	t.events.Send(Event{
		Type:       EventIdentityRenamed,
		IdentityID: id,
		Name:       snap.DisplayName,
		Message:    "display name changed",
		Data:       snap,
	})
	return snap, nil
}

// Run pulls frames from src until ctx is cancelled or the source is
// exhausted. Source errors other than io.EOF are input gaps and produce an
// empty tick. onFrame, when set, observes every report.
func (t *Tracker) Run(ctx context.Context, src frames.Source, onFrame func(tracking.Report)) error {
	var pace <-chan time.Time
	if t.opts.FPS > 0 {
		ticker := time.NewTicker(time.Duration(float64(time.Second) / t.opts.FPS))
		defer ticker.Stop()
		pace = ticker.C
	}

	for {
		if pace != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-pace:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		img, capturedAt, err := src.Next(ctx)
		var report tracking.Report
		switch {
		case errors.Is(err, io.EOF):
			t.logger.Info("frame source exhausted", "frames", t.frames.Load())
			return nil
		case ctx.Err() != nil:
			return nil
		case err != nil:
			t.logger.Warn("frame unavailable, processing empty frame", "error", err)
			report = t.ProcessFrame(ctx, tracking.Frame{CapturedAt: time.Now()})
		default:
			report, _ = t.ProcessImage(ctx, img, capturedAt)
		}
		if onFrame != nil {
			onFrame(report)
		}
	}
}

// Maintain prunes stale results and flushes changed identities on their
// intervals until ctx is cancelled.
func (t *Tracker) Maintain(ctx context.Context) {
	prune := time.NewTicker(positive(t.opts.PruneInterval, constants.DefaultPruneInterval))
	defer prune.Stop()
	flush := time.NewTicker(positive(t.opts.FlushInterval, constants.DefaultFlushInterval))
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-prune.C:
			if n := t.results.Prune(positive(t.opts.ResultMaxAge, constants.DefaultResultMaxAge)); n > 0 {
				t.logger.Debug("pruned plugin results", "removed", n)
			}
		case <-flush.C:
			if failed := t.engine.Flush(ctx); failed > 0 {
				t.logger.Warn("identities not persisted, retrying later", "failed", failed)
			}
		}
	}
}

// ApplySettings applies reloaded per-plugin settings.
func (t *Tracker) ApplySettings(settings *config.PluginSettings) {
	for _, name := range t.registry.Apply(settings) {
		t.logger.Warn("settings name unknown plugin", "plugin", name)
	}
}

// WatchSettings applies the settings file now and on every change until ctx
// is cancelled.
func (t *Tracker) WatchSettings(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	settings, err := config.LoadPluginSettings(path)
	switch {
	case err == nil:
		t.ApplySettings(settings)
	case config.IsMissing(err):
		t.logger.Info("plugin settings file not found, using defaults", "path", path)
	default:
		return fmt.Errorf("load plugin settings: %w", err)
	}
	return config.WatchPluginSettings(ctx, path, t.logger, t.ApplySettings)
}

// Shutdown waits for outstanding plugin requests, persists every changed
// identity and closes the event stream.
func (t *Tracker) Shutdown(ctx context.Context) error {
	waitErr := t.executor.Wait(ctx)
	if waitErr != nil {
		t.logger.Warn("plugin requests still running at shutdown", "in_flight", t.executor.InFlight())
	}

	t.mu.Lock()
	failed := t.engine.Flush(ctx)
	t.mu.Unlock()
	t.logger.Info("tracker stopped", "frames", t.frames.Load(), "unsaved", failed)

	t.events.Close()
	return waitErr
}

// Stats reports engine, executor and aggregator state.
func (t *Tracker) Stats() Stats {
	return Stats{
		Stats:     t.engine.Stats(),
		Frames:    t.frames.Load(),
		InFlight:  t.executor.InFlight(),
		Results:   t.results.Len(),
		Listeners: t.events.Listeners(),
	}
}

func positive(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
