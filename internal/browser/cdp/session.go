// internal/browser/cdp/session.go
package cdp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/internal/config"
	"github.com/xkilldash9x/pageprobe/internal/worker"
)

const shutdownGracePeriod = 10 * time.Second

// Session owns one Chrome process and a single tab driven through CDP.
type Session struct {
	id     string
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	mu     sync.RWMutex
	page   *Page
	closed bool
}

var _ worker.Session = (*Session)(nil)

// NewSession launches Chrome and opens a tab with network and runtime
// domains enabled. The browser lives until Close is called.
func NewSession(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	s := &Session{
		id:  uuid.NewString(),
		cfg: cfg,
	}
	s.logger = logger.Named("cdp_session").With(zap.String("session_id", s.id))

	// The allocator outlives ctx; only Close tears the browser down.
	s.allocCtx, s.allocCancel = chromedp.NewExecAllocator(context.WithoutCancel(ctx), execAllocatorOptions(cfg)...)
	s.tabCtx, s.tabCancel = chromedp.NewContext(s.allocCtx,
		chromedp.WithLogf(s.logger.Sugar().Debugf),
		chromedp.WithErrorf(s.logger.Sugar().Debugf),
	)
	page := newPage(s.tabCtx, s.logger)

	if err := s.launch(ctx); err != nil {
		s.tabCancel()
		s.allocCancel()
		return nil, err
	}

	s.page = page
	s.logger.Info("Browser session initialized.", zap.Bool("headless", cfg.Headless))
	return s, nil
}

// launch runs the first actions on the tab. chromedp binds the browser
// process to the context of the first Run, so it must be the tab context
// itself; the launch timeout is enforced from outside.
func (s *Session) launch(ctx context.Context) error {
	actions := []chromedp.Action{network.Enable(), runtime.Enable()}
	if w, h := s.cfg.Viewport["width"], s.cfg.Viewport["height"]; w > 0 && h > 0 {
		actions = append(actions, chromedp.EmulateViewport(int64(w), int64(h)))
	}

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(s.tabCtx, actions...) }()

	timeout := s.cfg.LaunchTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to start browser: %w", err)
		}
		return nil
	case <-timer.C:
		s.tabCancel()
		<-done
		return fmt.Errorf("browser did not start within %s", timeout)
	case <-ctx.Done():
		s.tabCancel()
		<-done
		return fmt.Errorf("browser start aborted: %w", ctx.Err())
	}
}

// ID returns the unique session id.
func (s *Session) ID() string { return s.id }

// Page implements worker.Session.
func (s *Session) Page() (worker.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.page == nil {
		return nil, worker.ErrSessionNotInitialized
	}
	return s.page, nil
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.mu.RLock()
	page, closed := s.page, s.closed
	s.mu.RUnlock()
	if closed || page == nil {
		return worker.ErrSessionNotInitialized
	}

	if s.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.NavigationTimeout)
		defer cancel()
	}

	page.translator.reset()
	if err := page.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// Close shuts the tab and the browser down. It is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")

	// chromedp.Cancel blocks until the browser exits, so bound it.
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(s.tabCtx) }()

	var err error
	select {
	case err = <-done:
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	case <-ctx.Done():
		err = fmt.Errorf("browser shutdown interrupted: %w", ctx.Err())
	case <-time.After(shutdownGracePeriod):
		err = fmt.Errorf("browser shutdown timed out after %s", shutdownGracePeriod)
	}

	s.tabCancel()
	s.allocCancel()
	return err
}

// chromeFlag is a single Chrome command line switch.
type chromeFlag struct {
	name  string
	value interface{}
}

// chromeFlags derives the Chrome switches from configuration.
func chromeFlags(cfg config.BrowserConfig) []chromeFlag {
	flags := []chromeFlag{
		{"no-sandbox", true},
		{"disable-gpu", true},
		{"enable-automation", true},
		{"no-first-run", true},
		{"no-default-browser-check", true},
	}
	if cfg.Headless {
		flags = append(flags, chromeFlag{"headless", true}, chromeFlag{"hide-scrollbars", true}, chromeFlag{"mute-audio", true})
	}
	if cfg.IgnoreTLSErrors {
		flags = append(flags, chromeFlag{"ignore-certificate-errors", true})
	}
	if cfg.UserDataDir != "" {
		flags = append(flags, chromeFlag{"user-data-dir", cfg.UserDataDir})
	}
	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		flags = append(flags, chromeFlag{"window-size", fmt.Sprintf("%d,%d", w, h)})
	}

	// Args may be "--flag" or "--flag=value".
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if key == "" {
			continue
		}
		if found {
			flags = append(flags, chromeFlag{key, value})
		} else {
			flags = append(flags, chromeFlag{key, true})
		}
	}
	return flags
}

// execAllocatorOptions turns the configured switches into allocator options.
func execAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	flags := chromeFlags(cfg)
	opts := make([]chromedp.ExecAllocatorOption, 0, len(flags))
	for _, f := range flags {
		opts = append(opts, chromedp.Flag(f.name, f.value))
	}
	return opts
}
