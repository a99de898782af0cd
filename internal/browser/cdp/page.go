// internal/browser/cdp/page.go
package cdp

import (
	"context"
	"fmt"
	"sync"
	"time"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/internal/worker"
)

// navigationDurationJS returns -1 when the page has no navigation entry.
const navigationDurationJS = `(() => {
	const [nav] = performance.getEntriesByType("navigation");
	return nav ? nav.duration : -1;
})()`

// dialogTimeout bounds the call answering a JavaScript dialog.
const dialogTimeout = 5 * time.Second

// screenshotQuality 100 makes chromedp capture PNG instead of JPEG.
const screenshotQuality = 100

// Page implements worker.Page on a chromedp tab.
type Page struct {
	tabCtx     context.Context
	logger     *zap.Logger
	translator *eventTranslator

	subMu  sync.RWMutex
	nextID uint64
	subs   map[uint64]worker.EventHandler
}

var _ worker.Page = (*Page)(nil)

// newPage wires a listener for the lifetime of tabCtx. It must be called
// before the first chromedp.Run on tabCtx so no early event is missed.
func newPage(tabCtx context.Context, logger *zap.Logger) *Page {
	p := &Page{
		tabCtx:     tabCtx,
		logger:     logger.Named("page"),
		translator: newEventTranslator(),
		subs:       make(map[uint64]worker.EventHandler),
	}
	chromedp.ListenTarget(tabCtx, p.dispatch)
	return p
}

// dispatch runs on the chromedp event goroutine; it must not block.
func (p *Page) dispatch(ev interface{}) {
	if dialog, ok := ev.(*cdppage.EventJavascriptDialogOpening); ok {
		p.answerDialog(dialog)
		return
	}

	events := p.translator.translate(ev)
	if len(events) == 0 {
		return
	}

	p.subMu.RLock()
	handlers := make([]worker.EventHandler, 0, len(p.subs))
	for _, h := range p.subs {
		handlers = append(handlers, h)
	}
	p.subMu.RUnlock()

	for _, pe := range events {
		for _, h := range handlers {
			h(pe)
		}
	}
}

// answerDialog closes a JavaScript dialog, which would otherwise stall every
// later call on the tab. The answer is sent from its own goroutine because
// chromedp.Run cannot be called from the listener.
func (p *Page) answerDialog(ev *cdppage.EventJavascriptDialogOpening) {
	accept := acceptDialog(ev.Type)
	p.logger.Debug("Answering JavaScript dialog.",
		zap.String("type", string(ev.Type)),
		zap.String("message", ev.Message),
		zap.Bool("accept", accept))

	go func() {
		ctx, cancel := context.WithTimeout(p.tabCtx, dialogTimeout)
		defer cancel()
		if err := chromedp.Run(ctx, cdppage.HandleJavaScriptDialog(accept)); err != nil {
			p.logger.Debug("Failed to answer JavaScript dialog.", zap.Error(err))
		}
	}()
}

// acceptDialog dismisses alert, confirm and prompt dialogs. A beforeunload
// prompt is accepted so the navigation that raised it goes ahead.
func acceptDialog(t cdppage.DialogType) bool {
	return t == cdppage.DialogTypeBeforeunload
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

// run executes actions on the tab, bounded by ctx.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(p.tabCtx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (p *Page) WaitAttached(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitReady(selector, chromedp.ByQuery))
}

func (p *Page) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	return p.run(ctx,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (p *Page) PressEnter(ctx context.Context) error {
	return p.run(ctx, chromedp.KeyEvent(kb.Enter))
}

func (p *Page) Pause(ctx context.Context, d time.Duration) error {
	return p.run(ctx, chromedp.Sleep(d))
}

// WaitNetworkIdle returns once no request has been in flight for quiet.
func (p *Page) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	// The timer only runs while the network is idle.
	timer := time.NewTimer(quiet)
	stopTimer(timer)
	defer timer.Stop()
	idle := false

	for {
		active := p.translator.inflightCount()
		switch {
		case active > 0 && idle:
			stopTimer(timer)
			idle = false
		case active == 0 && !idle:
			timer.Reset(quiet)
			idle = true
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.tabCtx.Done():
			return p.tabCtx.Err()
		case <-p.translator.changed:
		case <-timer.C:
			if p.translator.inflightCount() == 0 {
				p.logger.Debug("Network is idle.", zap.Duration("quiet_period", quiet))
				return nil
			}
			idle = false
		}
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func (p *Page) Content(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (p *Page) FullScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, screenshotQuality)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *Page) NavigationDuration(ctx context.Context) (*float64, error) {
	var duration float64
	if err := p.run(ctx, chromedp.Evaluate(navigationDurationJS, &duration)); err != nil {
		return nil, fmt.Errorf("failed to read navigation timing: %w", err)
	}
	if duration < 0 {
		return nil, nil
	}
	return &duration, nil
}
