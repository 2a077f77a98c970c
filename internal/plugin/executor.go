package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/people-tracker/internal/constants"
	"github.com/kozaktomas/people-tracker/internal/metrics"
	"github.com/kozaktomas/people-tracker/internal/results"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrBudgetExceeded is recorded when a sync plugin outlives its budget.
var ErrBudgetExceeded = errors.New("exceeded sync budget")

// ExecutorOptions bounds plugin execution.
type ExecutorOptions struct {
	SyncBudget   time.Duration
	AsyncTimeout time.Duration
	AsyncWorkers int
}

// DefaultExecutorOptions returns the default budgets.
func DefaultExecutorOptions() ExecutorOptions {
	return ExecutorOptions{
		SyncBudget:   constants.DefaultSyncBudget,
		AsyncTimeout: constants.DefaultAsyncTimeout,
		AsyncWorkers: constants.DefaultAsyncWorkers,
	}
}

// LimiterSource returns the rate limiter of a plugin, nil when unlimited.
type LimiterSource interface {
	Limiter(name string) *rate.Limiter
}

type flightKey struct {
	id     int64
	plugin string
}

// Executor runs plugins and records their results in the aggregator.
type Executor struct {
	opts     ExecutorOptions
	results  *results.Aggregator
	limiters LimiterSource
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// base parents background requests so they outlive the tick that
	// started them. Only the request timeout and base cancellation stop them.
	base context.Context
	sem  *semaphore.Weighted
	wg   sync.WaitGroup

	mu       sync.Mutex
	inFlight map[flightKey]string // request id
	overrun  map[string]bool      // sync plugins still running past their budget
}

// NewExecutor creates an executor. ctx is the process lifetime; cancelling
// it aborts outstanding background requests. limiters may be nil.
func NewExecutor(ctx context.Context, opts ExecutorOptions, agg *results.Aggregator, limiters LimiterSource, logger *slog.Logger, m *metrics.Metrics) *Executor {
	def := DefaultExecutorOptions()
	if opts.SyncBudget <= 0 {
		opts.SyncBudget = def.SyncBudget
	}
	if opts.AsyncTimeout <= 0 {
		opts.AsyncTimeout = def.AsyncTimeout
	}
	if opts.AsyncWorkers <= 0 {
		opts.AsyncWorkers = def.AsyncWorkers
	}
	return &Executor{
		opts:     opts,
		results:  agg,
		limiters: limiters,
		logger:   logger,
		metrics:  m,
		base:     ctx,
		sem:      semaphore.NewWeighted(int64(opts.AsyncWorkers)),
		inFlight: make(map[flightKey]string),
		overrun:  make(map[string]bool),
	}
}

// Run executes one plugin for one subject. Sync plugins finish before Run
// returns. Async plugins return the aggregator's current view of the key
// (last completed result, else pending) while work continues in the
// background.
//
// A sync call that overruns its budget keeps running in the background; the
// plugin is skipped for every subject until that call returns, so a sync
// plugin never runs concurrently with itself.
func (e *Executor) Run(ctx context.Context, p Plugin, subject Subject) results.Result {
	if p.Async() {
		return e.runAsync(p, subject)
	}
	if err := missingInput(p.Input(), subject); err != nil {
		return e.record(p.Name(), subject.IdentityID, "", nil, err, 0)
	}
	return e.runSync(ctx, p, subject)
}

type outcome struct {
	payload map[string]any
	err     error
}

func (e *Executor) runSync(ctx context.Context, p Plugin, subject Subject) results.Result {
	name := p.Name()
	e.mu.Lock()
	running := e.overrun[name]
	e.mu.Unlock()
	if running {
		e.metrics.PluginSkippedWith(name, "overrun_running")
		r, _ := e.results.Latest(subject.IdentityID, name)
		return r
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.SyncBudget)
	defer cancel()

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		payload, err := safeProcess(ctx, p, subject)
		done <- outcome{payload, err}
	}()

	select {
	case out := <-done:
		return e.record(p.Name(), subject.IdentityID, "", out.payload, out.err, time.Since(start))
	case <-ctx.Done():
		elapsed := time.Since(start)
		e.mu.Lock()
		e.overrun[name] = true
		e.mu.Unlock()
		go func() {
			<-done
			e.mu.Lock()
			delete(e.overrun, name)
			e.mu.Unlock()
		}()
		e.logger.Warn("sync plugin overran its budget",
			"plugin", p.Name(), "identity", subject.IdentityID,
			"budget", e.opts.SyncBudget, "elapsed", elapsed)
		e.metrics.PluginSkippedWith(p.Name(), "overrun")
		return e.record(p.Name(), subject.IdentityID, "", nil, fmt.Errorf("%w (%s)", ErrBudgetExceeded, e.opts.SyncBudget), elapsed)
	}
}

func (e *Executor) runAsync(p Plugin, subject Subject) results.Result {
	k := flightKey{subject.IdentityID, p.Name()}

	e.mu.Lock()
	if _, busy := e.inFlight[k]; busy {
		e.mu.Unlock()
		e.metrics.PluginSkippedWith(p.Name(), "in_flight")
		r, _ := e.results.Latest(k.id, k.plugin)
		return r
	}
	if err := missingInput(p.Input(), subject); err != nil {
		e.mu.Unlock()
		return e.record(k.plugin, k.id, "", nil, err, 0)
	}
	requestID := uuid.NewString()
	e.inFlight[k] = requestID
	e.wg.Add(1)
	e.mu.Unlock()

	e.results.Put(results.Result{
		IdentityID: k.id,
		Plugin:     k.plugin,
		Status:     results.StatusPending,
		RequestID:  requestID,
	})
	e.metrics.InFlight(1)

	subject.RequestID = requestID
	go e.background(p, subject, k, requestID)

	r, _ := e.results.Latest(k.id, k.plugin)
	return r
}

func (e *Executor) background(p Plugin, subject Subject, k flightKey, requestID string) {
	defer e.wg.Done()
	// The marker is released after the result is recorded, so a due tick
	// never starts a second request for the key.
	defer func() {
		e.mu.Lock()
		delete(e.inFlight, k)
		e.mu.Unlock()
		e.metrics.InFlight(-1)
	}()

	ctx, cancel := context.WithTimeout(e.base, e.opts.AsyncTimeout)
	defer cancel()

	start := time.Now()
	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.record(k.plugin, k.id, requestID, nil, fmt.Errorf("waiting for worker: %w", err), time.Since(start))
		return
	}
	defer e.sem.Release(1)

	if e.limiters != nil {
		if lim := e.limiters.Limiter(k.plugin); lim != nil {
			if err := lim.Wait(ctx); err != nil {
				e.metrics.PluginSkippedWith(k.plugin, "rate_limited")
				e.record(k.plugin, k.id, requestID, nil, fmt.Errorf("rate limit: %w", err), time.Since(start))
				return
			}
		}
	}

	payload, err := safeProcess(ctx, p, subject)
	e.record(k.plugin, k.id, requestID, payload, err, time.Since(start))
}

// record stores a completed result and returns it.
func (e *Executor) record(plugin string, id int64, requestID string, payload map[string]any, err error, elapsed time.Duration) results.Result {
	r := results.Result{
		IdentityID: id,
		Plugin:     plugin,
		Payload:    payload,
		ProducedAt: time.Now(),
		Status:     results.StatusOK,
		RequestID:  requestID,
	}
	if err != nil {
		r.Status = results.StatusError
		r.Error = err.Error()
		r.Payload = nil
		e.logger.Debug("plugin failed", "plugin", plugin, "identity", id, "request_id", requestID, "error", err)
	}
	e.results.Put(r)
	e.metrics.ObservePlugin(plugin, string(r.Status), elapsed)
	return r
}

// InFlight returns the number of outstanding background requests.
func (e *Executor) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inFlight)
}

// Wait blocks until all background requests finished or ctx is done.
func (e *Executor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for plugin requests: %w", ctx.Err())
	}
}

// safeProcess turns a plugin panic into an error.
func safeProcess(ctx context.Context, p Plugin, subject Subject) (payload map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %s panicked: %v", p.Name(), r)
			payload = nil
		}
	}()
	return p.Process(ctx, subject)
}
