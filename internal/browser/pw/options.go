// internal/browser/pw/options.go
package pw

import (
	"context"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/xkilldash9x/pageprobe/internal/config"
)

const (
	defaultLaunchTimeout = time.Minute
	installTimeout       = 5 * time.Minute
)

// defaultArgs keep Chromium stable in containers.
var defaultArgs = []string{
	"--disable-gpu",
	"--no-sandbox",
	"--disable-dev-shm-usage",
	"--enable-automation",
}

func launchOptions(cfg config.BrowserConfig) playwright.BrowserTypeLaunchOptions {
	timeout := cfg.LaunchTimeout
	if timeout <= 0 {
		timeout = defaultLaunchTimeout
	}
	args := append([]string{}, defaultArgs...)
	args = append(args, cfg.Args...)

	return playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args:     args,
		Timeout:  playwright.Float(float64(timeout.Milliseconds())),
	}
}

func contextOptions(cfg config.BrowserConfig) playwright.BrowserNewContextOptions {
	opts := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(cfg.IgnoreTLSErrors),
	}
	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		opts.Viewport = &playwright.Size{Width: w, Height: h}
	}
	return opts
}

// timeoutFrom converts the remaining time on ctx into a Playwright timeout in
// milliseconds. It returns nil when ctx has no deadline so the page default
// applies.
func timeoutFrom(ctx context.Context) *float64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return nil
	}
	ms := time.Until(deadline).Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return playwright.Float(float64(ms))
}

// await runs a blocking Playwright call and returns early when ctx is done.
// The call itself is bounded by the timeout derived from ctx.
func await(ctx context.Context, call func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- call() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
