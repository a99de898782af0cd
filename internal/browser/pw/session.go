// internal/browser/pw/session.go
package pw

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/internal/config"
	"github.com/xkilldash9x/pageprobe/internal/worker"
)

// Session owns a Playwright driver, one Chromium instance and a single page.
type Session struct {
	id     string
	cfg    config.BrowserConfig
	logger *zap.Logger

	pw      *playwright.Playwright
	browser playwright.Browser
	bctx    playwright.BrowserContext

	mu     sync.RWMutex
	page   *Page
	closed bool
}

var _ worker.Session = (*Session)(nil)

// launched carries the handles produced by a launch attempt.
type launched struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	bctx    playwright.BrowserContext
	page    playwright.Page
	err     error
}

func (l launched) close() {
	if l.browser != nil {
		_ = l.browser.Close()
	}
	if l.pw != nil {
		_ = l.pw.Stop()
	}
}

// NewSession installs Chromium when configured, starts the driver and opens a page.
func NewSession(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	s := &Session{
		id:  uuid.NewString(),
		cfg: cfg,
	}
	s.logger = logger.Named("pw_session").With(zap.String("session_id", s.id))
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("browser start aborted: %w", err)
	}

	if cfg.InstallBrowsers {
		if err := s.ensureInstallation(ctx); err != nil {
			return nil, err
		}
	}

	done := make(chan launched, 1)
	go func() { done <- s.launch() }()

	var l launched
	select {
	case l = <-done:
	case <-ctx.Done():
		// Release whatever the launch ends up producing.
		go func() { (<-done).close() }()
		return nil, fmt.Errorf("browser start aborted: %w", ctx.Err())
	}
	if l.err != nil {
		l.close()
		return nil, l.err
	}

	s.pw, s.browser, s.bctx = l.pw, l.browser, l.bctx
	s.page = newPage(l.page, s.logger)
	s.logger.Info("Browser session initialized.",
		zap.Bool("headless", cfg.Headless),
		zap.String("browser_version", l.browser.Version()))
	return s, nil
}

func (s *Session) ensureInstallation(ctx context.Context) error {
	s.logger.Info("Verifying Playwright browser installation...")
	installCtx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()

	err := await(installCtx, func() error {
		return playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}})
	})
	if err != nil {
		return fmt.Errorf("failed to install playwright browsers: %w", err)
	}
	return nil
}

func (s *Session) launch() (l launched) {
	var err error
	if l.pw, err = playwright.Run(); err != nil {
		l.err = fmt.Errorf("failed to start playwright driver: %w", err)
		return l
	}
	if l.browser, err = l.pw.Chromium.Launch(launchOptions(s.cfg)); err != nil {
		l.err = fmt.Errorf("failed to launch browser instance: %w", err)
		return l
	}
	if l.bctx, err = l.browser.NewContext(contextOptions(s.cfg)); err != nil {
		l.err = fmt.Errorf("failed to create browser context: %w", err)
		return l
	}
	if l.page, err = l.bctx.NewPage(); err != nil {
		l.err = fmt.Errorf("failed to open page: %w", err)
	}
	return l
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

	err := await(ctx, func() error {
		_, err := page.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateLoad,
			Timeout:   timeoutFrom(ctx),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// Close shuts the page, the browser and the driver down. It is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")
	return await(ctx, func() error {
		var errs []error
		if s.bctx != nil {
			errs = append(errs, s.bctx.Close())
		}
		if s.browser != nil {
			errs = append(errs, s.browser.Close())
		}
		if s.pw != nil {
			errs = append(errs, s.pw.Stop())
		}
		return errors.Join(errs...)
	})
}
