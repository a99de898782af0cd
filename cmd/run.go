// File: cmd/run.go
package cmd

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/pageprobe/api/schemas"
	"github.com/xkilldash9x/pageprobe/internal/browser"
	"github.com/xkilldash9x/pageprobe/internal/config"
	"github.com/xkilldash9x/pageprobe/internal/observability"
	"github.com/xkilldash9x/pageprobe/internal/worker"
)

const sessionShutdownTimeout = 15 * time.Second

// SessionFactory opens a browser session for a run.
type SessionFactory func(ctx context.Context, cfg config.Interface, logger *zap.Logger) (browser.Session, error)

func newBrowserSession(ctx context.Context, cfg config.Interface, logger *zap.Logger) (browser.Session, error) {
	return browser.NewSession(ctx, cfg, logger)
}

// demoActions is the script used when no actions file is given.
func demoActions() []schemas.ActionDecision {
	return []schemas.ActionDecision{
		{Kind: schemas.ActionWait, Rationale: "let the page settle", Confidence: 1},
		{Kind: schemas.ActionClick, Target: "a", Rationale: "follow the first link", Confidence: 0.5},
	}
}

// StepResult is one entry of the run report.
type StepResult struct {
	Step        int                    `json:"step"`
	Action      schemas.ActionDecision `json:"action"`
	Title       string                 `json:"title"`
	Screenshot  string                 `json:"screenshotFile,omitempty"`
	Observation schemas.Observation    `json:"observation"`
}

func newRunCmd(state *appState, factory SessionFactory) *cobra.Command {
	var actionsFile string

	cmd := &cobra.Command{
		Use:   "run <url>",
		Short: "Navigate to a URL and execute a sequence of actions, recording an observation after each",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			actions := demoActions()
			if actionsFile != "" {
				loaded, err := loadActions(actionsFile)
				if err != nil {
					return err
				}
				actions = loaded
			}
			for i, a := range actions {
				if err := a.Validate(); err != nil {
					logger.Warn("Action will be skipped or degraded.", zap.Int("step", i+1), zap.Error(err))
				}
			}

			results, err := runProbe(cmd.Context(), logger, state.cfg, normalizeTarget(args[0]), actions, factory)
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), state.cfg.Runner().Output, results)
		},
	}

	cmd.Flags().StringVarP(&actionsFile, "actions", "a", "", "JSON file with the actions to execute (default: WAIT then CLICK \"a\")")
	cmd.Flags().String("backend", "", "browser backend: chromedp or playwright (overrides config/env)")
	cmd.Flags().Bool("headless", true, "run the browser without a window (overrides config/env)")
	cmd.Flags().StringP("screenshots", "s", "", "directory for per-step screenshots (overrides config/env)")
	cmd.Flags().StringP("output", "o", "", "file for the JSON report; stdout when empty (overrides config/env)")
	cmd.Flags().Float64("rate", 0, "maximum actions per second, 0 for unlimited (overrides config/env)")
	cmd.Flags().String("log-level", "", "log level (overrides config/env)")
	return cmd
}

// normalizeTarget adds a scheme to bare hosts.
func normalizeTarget(target string) string {
	if strings.Contains(target, "://") || strings.HasPrefix(target, "about:") || strings.HasPrefix(target, "data:") {
		return target
	}
	return "https://" + target
}

func loadActions(path string) ([]schemas.ActionDecision, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read actions file: %w", err)
	}
	var actions []schemas.ActionDecision
	if err := json.Unmarshal(data, &actions); err != nil {
		return nil, fmt.Errorf("failed to parse actions file %s: %w", path, err)
	}
	for i := range actions {
		if kind, err := schemas.ParseActionKind(string(actions[i].Kind)); err == nil {
			actions[i].Kind = kind
		}
	}
	return actions, nil
}

// runProbe opens a session, navigates to target and executes every action,
// stopping after STOP. Screenshots are written while the next step runs.
func runProbe(ctx context.Context, logger *zap.Logger, cfg config.Interface, target string, actions []schemas.ActionDecision, factory SessionFactory) ([]StepResult, error) {
	session, err := factory(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}
	logger = logger.With(zap.String("session_id", session.ID()))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sessionShutdownTimeout)
		defer cancel()
		if err := session.Close(shutdownCtx); err != nil {
			logger.Warn("Error during browser session shutdown.", zap.Error(err))
		}
	}()

	engine := worker.NewEngine(session, cfg, logger)
	if err := engine.Navigate(ctx, target); err != nil {
		return nil, err
	}
	logger.Info("Navigated to target.", zap.String("url", target), zap.Int("actions", len(actions)))

	runner := cfg.Runner()
	limit := rate.Inf
	if runner.ActionsPerSecond > 0 {
		limit = rate.Limit(runner.ActionsPerSecond)
	}
	limiter := rate.NewLimiter(limit, 1)

	writers, wctx := errgroup.WithContext(ctx)
	writers.SetLimit(4)
	if runner.ScreenshotDir != "" {
		if err := os.MkdirAll(runner.ScreenshotDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create screenshot directory: %w", err)
		}
	}

	results := make([]StepResult, 0, len(actions))
	for i, action := range actions {
		if err := limiter.Wait(ctx); err != nil {
			logger.Warn("Run interrupted.", zap.Error(err))
			break
		}

		obs := engine.Execute(ctx, action)
		step := StepResult{
			Step:        i + 1,
			Action:      action,
			Title:       pageTitle(obs.DOM),
			Observation: obs,
		}

		if runner.ScreenshotDir != "" && obs.HasScreenshot() {
			step.Screenshot = filepath.Join(runner.ScreenshotDir, screenshotName(step.Step, action.Kind))
			encoded, path := *obs.Screenshot, step.Screenshot
			writers.Go(func() error {
				if err := wctx.Err(); err != nil {
					return err
				}
				return writeScreenshot(path, encoded)
			})
		}

		logger.Info("Step complete.",
			zap.Int("step", step.Step),
			zap.Stringer("action", action),
			zap.String("title", step.Title),
			zap.Bool("failed", obs.Failed()),
			zap.Int("console_errors", len(obs.Signals.Console.Errors)))
		results = append(results, step)

		if action.Kind == schemas.ActionStop {
			break
		}
	}

	if err := writers.Wait(); err != nil {
		return results, fmt.Errorf("failed to save screenshots: %w", err)
	}
	return results, nil
}

func screenshotName(step int, kind schemas.ActionKind) string {
	return fmt.Sprintf("step%02d_%s.png", step, strings.ToLower(string(kind)))
}

func writeScreenshot(path, encoded string) error {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("screenshot for %s is not valid base64: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}

// writeReport encodes results as indented JSON to path, or to stdout when path is empty.
func writeReport(stdout io.Writer, path string, results []StepResult) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	data = append(data, '\n')

	if path == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
