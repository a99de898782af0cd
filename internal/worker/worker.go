package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/api/schemas"
	"github.com/xkilldash9x/pageprobe/internal/config"
)

// Engine executes one action per call against the session's page and
// returns an Observation of the resulting state. Calls are serialized.
type Engine struct {
	session Session
	guard   config.GuardConfig
	logger  *zap.Logger
	newID   func() string

	mu          sync.Mutex
	page        Page
	collector   *SignalCollector
	executor    *ActionExecutor
	snapshotter *Snapshotter
}

// Option is a function that configures an Engine.
type Option func(*Engine)

// WithGuardConfig overrides the guard timeouts taken from configuration.
func WithGuardConfig(cfg config.GuardConfig) Option {
	return func(e *Engine) {
		e.guard = cfg
	}
}

// WithCycleIDs replaces the generator of cycle ids used in logs.
func WithCycleIDs(gen func() string) Option {
	return func(e *Engine) {
		e.newID = gen
	}
}

// NewEngine creates an engine bound to session.
func NewEngine(session Session, cfg config.Interface, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		session: session,
		guard:   cfg.Guard(),
		logger:  logger.Named("worker"),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Navigate loads url in the session's page. Errors are logged and returned;
// the caller decides whether the run can continue.
func (e *Engine) Navigate(ctx context.Context, url string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	if err := e.session.Navigate(ctx, url); err != nil {
		e.logger.Warn("Navigation failed.", zap.String("url", url), zap.Error(err))
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	e.logger.Debug("Navigation complete.", zap.String("url", url), zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Execute runs one action cycle. It never returns an error: failures are
// reported as a degraded Observation with an empty DOM and the error text
// appended to the console errors.
func (e *Engine) Execute(ctx context.Context, action schemas.ActionDecision) (obs schemas.Observation) {
	e.mu.Lock()
	defer e.mu.Unlock()

	logger := e.logger.With(
		zap.String("cycle_id", e.newID()),
		zap.String("action", action.String()),
	)
	start := time.Now()
	bound := false

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic during action cycle.", zap.Any("panic", r))
			if !bound {
				obs = errorObservation(panicError(r))
				return
			}
			obs = e.degrade(ctx, logger, panicError(r))
		}
	}()

	page, err := e.session.Page()
	if err != nil {
		logger.Warn("No page available for action cycle.", zap.Error(err))
		return errorObservation(err)
	}
	e.bind(page)

	// 1. Fresh signals for this cycle.
	e.collector.Reset()
	e.collector.Attach()
	bound = true
	defer e.collector.Detach()

	// 2. Perform the action.
	if err := e.executor.Execute(ctx, action); err != nil {
		return e.degrade(ctx, logger, err)
	}

	// 3. Observe the resulting page.
	e.collector.CapturePerformanceTiming(ctx)

	dom, err := e.captureDOM(ctx, page)
	if err = applyPolicy(logger, OpDOM, wrapExecution(OpDOM, err)); err != nil {
		return e.degrade(ctx, logger, err)
	}

	screenshot := e.snapshotter.CaptureFullPage(ctx)
	e.collector.Detach()

	obs = schemas.Observation{
		DOM:        dom,
		Screenshot: screenshot,
		Signals:    e.collector.Snapshot().Signals(),
	}
	logger.Debug("Action cycle complete.",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("dom_bytes", len(dom)),
		zap.Int("console_errors", len(obs.Signals.Console.Errors)),
		zap.Int("failed_requests", obs.Signals.Network.FailedRequests))
	return obs
}

// bind builds the per-page components, reusing them while the page is unchanged.
func (e *Engine) bind(page Page) {
	if e.page == page && e.collector != nil {
		return
	}
	if e.collector != nil {
		e.collector.Detach()
	}
	e.page = page
	e.collector = NewSignalCollector(page, e.guard.CaptureTimeout, e.logger)
	e.executor = NewActionExecutor(page, NewGuard(page, e.guard, e.logger), e.guard.WaitDuration, e.logger)
	e.snapshotter = NewSnapshotter(page, e.guard.CaptureTimeout, e.logger)
}

// captureDOM reads the serialized document, bounded by the capture timeout.
func (e *Engine) captureDOM(ctx context.Context, page Page) (string, error) {
	if e.guard.CaptureTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.guard.CaptureTimeout)
		defer cancel()
	}
	return page.Content(ctx)
}

// degrade assembles the Observation for a failed cycle: a best-effort
// screenshot, an empty DOM and the signals gathered before the failure.
func (e *Engine) degrade(ctx context.Context, logger *zap.Logger, cause error) (obs schemas.Observation) {
	obs = errorObservation(cause)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic while degrading observation.", zap.Any("panic", r))
		}
	}()

	// The screenshot is still wanted when the caller's context is what failed.
	obs.Screenshot = e.snapshotter.CaptureFullPage(context.WithoutCancel(ctx))
	e.collector.Detach()

	signals := e.collector.Snapshot().Signals()
	signals.Console.Errors = append(signals.Console.Errors, cause.Error())
	obs.Signals = signals

	logger.Warn("Action cycle failed; returning degraded observation.", zap.Error(cause))
	return obs
}

// errorObservation is the observation for a cycle that failed before any
// page state could be gathered.
func errorObservation(cause error) schemas.Observation {
	obs := schemas.NewObservation()
	obs.Signals.Console.Errors = append(obs.Signals.Console.Errors, cause.Error())
	return obs
}
