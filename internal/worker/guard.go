// File: internal/worker/guard.go
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/internal/config"
)

// Guard wraps page operations with existence and timeout preconditions.
type Guard struct {
	page   Page
	cfg    config.GuardConfig
	logger *zap.Logger
}

// NewGuard creates a Guard for page using the given timeouts.
func NewGuard(page Page, cfg config.GuardConfig, logger *zap.Logger) *Guard {
	return &Guard{
		page:   page,
		cfg:    cfg,
		logger: logger.Named("guard"),
	}
}

// EnsureExists waits up to the configured selector timeout for selector to attach.
func (g *Guard) EnsureExists(ctx context.Context, selector string) error {
	return g.EnsureExistsWithin(ctx, selector, g.cfg.SelectorTimeout)
}

// EnsureExistsWithin waits up to timeout for selector to attach. Any failure,
// including cancellation, is reported as a SelectorNotFoundError.
func (g *Guard) EnsureExistsWithin(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := g.page.WaitAttached(waitCtx, selector); err != nil {
		g.logger.Debug("Selector did not attach.", zap.String("selector", selector), zap.Error(err))
		return applyPolicy(g.logger, OpEnsureExists, &SelectorNotFoundError{Selector: selector})
	}
	return nil
}

// WithTimeout runs op under the configured action timeout.
func (g *Guard) WithTimeout(ctx context.Context, label string, op func(context.Context) error) error {
	return g.WithTimeoutWithin(ctx, label, g.cfg.ActionTimeout, op)
}

// WithTimeoutWithin runs op with a context that is cancelled after timeout.
// The call returns no later than the deadline even if op does not honour
// cancellation; in that case op keeps running until it observes the context.
func (g *Guard) WithTimeoutWithin(ctx context.Context, label string, timeout time.Duration, op func(context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &ExecutionError{Op: OpGuardedOp, Err: panicError(r)}
			}
		}()
		done <- op(opCtx)
	}()

	err := g.await(ctx, opCtx, done, label, timeout)
	return applyPolicy(g.logger, OpGuardedOp, wrapExecution(OpGuardedOp, err))
}

// await collects the result of a guarded op. A result already sitting in done
// when the deadline fires wins over the timeout.
func (g *Guard) await(ctx, opCtx context.Context, done <-chan error, label string, timeout time.Duration) error {
	var err error
	select {
	case err = <-done:
	case <-opCtx.Done():
		select {
		case err = <-done:
		default:
			if ctx.Err() != nil {
				// The caller gave up; not a guard timeout.
				return ctx.Err()
			}
			g.logger.Debug("Guarded operation timed out.", zap.String("action", label), zap.Duration("timeout", timeout))
			return &ActionTimeoutError{Action: label}
		}
	}

	// Drivers report the expired deadline in their own words.
	if err != nil && ctx.Err() == nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		err = &ActionTimeoutError{Action: label}
	}
	return err
}

// SettleAfterNavigation waits, best effort, for the network to go idle.
// It never returns an error; idleness is not guaranteed on busy pages.
func (g *Guard) SettleAfterNavigation(ctx context.Context) {
	if g.cfg.SettleTimeout <= 0 {
		return
	}
	settleCtx, cancel := context.WithTimeout(ctx, g.cfg.SettleTimeout)
	defer cancel()

	err := g.page.WaitNetworkIdle(settleCtx, g.cfg.NetworkQuietPeriod)
	if err = applyPolicy(g.logger, OpSettle, err); err != nil {
		g.logger.Warn("Settle wait failed.", zap.Error(err))
	}
}
