// internal/browser/pw/page.go
package pw

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/internal/worker"
)

// navigationDurationJS returns -1 when the page has no navigation entry.
const navigationDurationJS = `() => {
	const [nav] = performance.getEntriesByType("navigation");
	return nav ? nav.duration : -1;
}`

// Page implements worker.Page on a Playwright page.
type Page struct {
	page   playwright.Page
	logger *zap.Logger

	subMu  sync.RWMutex
	nextID uint64
	subs   map[uint64]worker.EventHandler
}

var _ worker.Page = (*Page)(nil)

// newPage installs the page listeners once; Subscribe fans events out.
func newPage(page playwright.Page, logger *zap.Logger) *Page {
	p := &Page{
		page:   page,
		logger: logger.Named("page"),
		subs:   make(map[uint64]worker.EventHandler),
	}
	page.OnConsole(func(msg playwright.ConsoleMessage) { p.dispatch(consoleEvent(msg)) })
	page.OnRequestFailed(func(req playwright.Request) { p.dispatch(requestFailedEvent(req)) })
	page.OnResponse(func(resp playwright.Response) { p.dispatch(responseEvent(resp)) })
	page.OnCrash(func(playwright.Page) { p.dispatch(worker.CrashEvent{}) })
	return p
}

func (p *Page) dispatch(ev worker.PageEvent) {
	p.subMu.RLock()
	handlers := make([]worker.EventHandler, 0, len(p.subs))
	for _, h := range p.subs {
		handlers = append(handlers, h)
	}
	p.subMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Subscribe implements worker.Page.
func (p *Page) Subscribe(handler worker.EventHandler) func() {
	p.subMu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = handler
	p.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.subMu.Lock()
			delete(p.subs, id)
			p.subMu.Unlock()
		})
	}
}

func (p *Page) WaitAttached(ctx context.Context, selector string) error {
	return await(ctx, func() error {
		_, err := p.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
			State:   playwright.WaitForSelectorStateAttached,
			Timeout: timeoutFrom(ctx),
		})
		return err
	})
}

func (p *Page) Click(ctx context.Context, selector string) error {
	return await(ctx, func() error {
		return p.page.Locator(selector).Click(playwright.LocatorClickOptions{Timeout: timeoutFrom(ctx)})
	})
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	return await(ctx, func() error {
		return p.page.Locator(selector).Fill(value, playwright.LocatorFillOptions{Timeout: timeoutFrom(ctx)})
	})
}

func (p *Page) PressEnter(ctx context.Context) error {
	return await(ctx, func() error {
		return p.page.Keyboard().Press("Enter")
	})
}

func (p *Page) Pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitNetworkIdle relies on Playwright's own networkidle heuristic, which uses
// a fixed quiet window; quiet is only logged.
func (p *Page) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	err := await(ctx, func() error {
		return p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
			State:   playwright.LoadStateNetworkidle,
			Timeout: timeoutFrom(ctx),
		})
	})
	if err == nil {
		p.logger.Debug("Network is idle.", zap.Duration("quiet_period", quiet))
	}
	return err
}

func (p *Page) Content(ctx context.Context) (string, error) {
	var html string
	err := await(ctx, func() error {
		var err error
		html, err = p.page.Content()
		return err
	})
	if err != nil {
		return "", err
	}
	return html, nil
}

func (p *Page) FullScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := await(ctx, func() error {
		var err error
		buf, err = p.page.Screenshot(playwright.PageScreenshotOptions{
			FullPage: playwright.Bool(true),
			Type:     playwright.ScreenshotTypePng,
			Timeout:  timeoutFrom(ctx),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *Page) NavigationDuration(ctx context.Context) (*float64, error) {
	var result interface{}
	err := await(ctx, func() error {
		var err error
		result, err = p.page.Evaluate(navigationDurationJS)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read navigation timing: %w", err)
	}
	return durationValue(result)
}

// durationValue normalizes the number Playwright decoded from the page.
func durationValue(result interface{}) (*float64, error) {
	var d float64
	switch v := result.(type) {
	case float64:
		d = v
	case int:
		d = float64(v)
	case int64:
		d = float64(v)
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected navigation timing type %T", result)
	}
	if d < 0 {
		return nil, nil
	}
	return &d, nil
}
