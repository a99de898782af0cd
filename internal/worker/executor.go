// File: internal/worker/executor.go
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/api/schemas"
)

// ActionExecutor maps one ActionDecision onto guarded page operations.
type ActionExecutor struct {
	page         Page
	guard        *Guard
	waitDuration time.Duration
	logger       *zap.Logger
}

// NewActionExecutor creates an executor. WAIT actions pause for waitDuration.
func NewActionExecutor(page Page, guard *Guard, waitDuration time.Duration, logger *zap.Logger) *ActionExecutor {
	return &ActionExecutor{
		page:         page,
		guard:        guard,
		waitDuration: waitDuration,
		logger:       logger.Named("executor"),
	}
}

// Execute performs action. Actions missing a required target or value are
// skipped without error. Guard errors are returned unchanged.
func (e *ActionExecutor) Execute(ctx context.Context, action schemas.ActionDecision) error {
	switch action.Kind {
	case schemas.ActionClick, schemas.ActionPaginate:
		if !action.HasTarget() {
			e.skip(action, "missing target")
			return nil
		}
		return e.clickAndSettle(ctx, action)

	case schemas.ActionType:
		if !action.HasTarget() || !action.HasValue() {
			e.skip(action, "missing target or value")
			return nil
		}
		if err := e.guard.EnsureExists(ctx, action.Target); err != nil {
			return err
		}
		return e.guard.WithTimeout(ctx, string(action.Kind), func(opCtx context.Context) error {
			return e.page.Fill(opCtx, action.Target, action.Value)
		})

	case schemas.ActionSubmit:
		if !action.HasTarget() {
			// Without a target, Enter submits the focused form.
			err := e.guard.WithTimeout(ctx, string(action.Kind), func(opCtx context.Context) error {
				return applyPolicy(e.logger, OpKeypress, wrapExecution(OpKeypress, e.page.PressEnter(opCtx)))
			})
			if err != nil {
				return err
			}
			e.guard.SettleAfterNavigation(ctx)
			return nil
		}
		return e.clickAndSettle(ctx, action)

	case schemas.ActionWait:
		err := e.page.Pause(ctx, e.waitDuration)
		return applyPolicy(e.logger, OpPause, wrapExecution(OpPause, err))

	case schemas.ActionStop:
		return nil

	default:
		return &UnsupportedActionError{Kind: action.Kind}
	}
}

func (e *ActionExecutor) clickAndSettle(ctx context.Context, action schemas.ActionDecision) error {
	if err := e.guard.EnsureExists(ctx, action.Target); err != nil {
		return err
	}
	err := e.guard.WithTimeout(ctx, string(action.Kind), func(opCtx context.Context) error {
		return e.page.Click(opCtx, action.Target)
	})
	if err != nil {
		return err
	}
	e.guard.SettleAfterNavigation(ctx)
	return nil
}

func (e *ActionExecutor) skip(action schemas.ActionDecision, reason string) {
	e.logger.Debug("Skipping action with unmet precondition.",
		zap.String("action", string(action.Kind)),
		zap.String("reason", reason))
}
