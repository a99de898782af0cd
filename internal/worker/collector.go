// File: internal/worker/collector.go
package worker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/api/schemas"
)

// PageCrashedMessage is recorded as a console error when the page crashes.
const PageCrashedMessage = "Page crashed"

// SignalBundle accumulates diagnostic signals for one action cycle.
type SignalBundle struct {
	StatusCode      *int
	ConsoleErrors   []string
	ConsoleWarnings []string
	FailedRequests  int
	RequestErrors   []string
	Redirects       []string
	LoadTimeMs      *int64
}

func newSignalBundle() SignalBundle {
	return SignalBundle{
		ConsoleErrors:   []string{},
		ConsoleWarnings: []string{},
		RequestErrors:   []string{},
		Redirects:       []string{},
	}
}

// clone returns a deep copy of the bundle.
func (b SignalBundle) clone() SignalBundle {
	out := SignalBundle{
		FailedRequests:  b.FailedRequests,
		ConsoleErrors:   append([]string{}, b.ConsoleErrors...),
		ConsoleWarnings: append([]string{}, b.ConsoleWarnings...),
		RequestErrors:   append([]string{}, b.RequestErrors...),
		Redirects:       append([]string{}, b.Redirects...),
	}
	if b.StatusCode != nil {
		v := *b.StatusCode
		out.StatusCode = &v
	}
	if b.LoadTimeMs != nil {
		v := *b.LoadTimeMs
		out.LoadTimeMs = &v
	}
	return out
}

// Signals converts the bundle to its wire form.
func (b SignalBundle) Signals() schemas.Signals {
	c := b.clone()
	return schemas.Signals{
		StatusCode: c.StatusCode,
		Console: schemas.ConsoleSignals{
			Errors:   c.ConsoleErrors,
			Warnings: c.ConsoleWarnings,
		},
		Network: schemas.NetworkSignals{
			FailedRequests: c.FailedRequests,
			RequestErrors:  c.RequestErrors,
		},
		Performance: schemas.PerformanceSignals{LoadTimeMs: c.LoadTimeMs},
		Redirects:   c.Redirects,
	}
}

// SignalCollector listens to page events for the duration of one cycle.
//
// Each Attach opens a new subscription generation; events delivered to an
// older generation are dropped, so a released subscription can never write
// into the next cycle's bundle even if the driver delivers it late.
type SignalCollector struct {
	page          Page
	timingTimeout time.Duration
	logger        *zap.Logger

	mu          sync.Mutex
	bundle      SignalBundle
	generation  uint64
	unsubscribe func()
}

// NewSignalCollector creates an idle collector for page. Timing reads are
// bounded by timingTimeout; a non-positive value relies on the caller's context.
func NewSignalCollector(page Page, timingTimeout time.Duration, logger *zap.Logger) *SignalCollector {
	return &SignalCollector{
		page:          page,
		timingTimeout: timingTimeout,
		logger:        logger.Named("collector"),
		bundle:        newSignalBundle(),
	}
}

// Reset releases any live subscription and clears the bundle.
func (c *SignalCollector) Reset() {
	c.Detach()
	c.mu.Lock()
	c.bundle = newSignalBundle()
	c.mu.Unlock()
}

// Attach subscribes to page events. A subscription left over from a previous
// Attach is released first.
func (c *SignalCollector) Attach() {
	c.Detach()

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	// Subscribe outside the lock: drivers may hold their own listener lock
	// while delivering events into handle.
	unsubscribe := c.page.Subscribe(func(ev PageEvent) { c.handle(gen, ev) })

	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.mu.Unlock()
}

// Detach releases the current subscription. It is safe to call repeatedly.
func (c *SignalCollector) Detach() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.generation++
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Collecting reports whether a subscription is live.
func (c *SignalCollector) Collecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribe != nil
}

func (c *SignalCollector) handle(gen uint64, ev PageEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return
	}

	switch e := ev.(type) {
	case ConsoleEvent:
		switch e.Level {
		case ConsoleError:
			c.bundle.ConsoleErrors = append(c.bundle.ConsoleErrors, e.Text)
		case ConsoleWarning:
			c.bundle.ConsoleWarnings = append(c.bundle.ConsoleWarnings, e.Text)
		}
	case RequestFailedEvent:
		c.bundle.FailedRequests++
		c.bundle.RequestErrors = append(c.bundle.RequestErrors, fmt.Sprintf("%s - %s", e.URL, e.ErrorText))
	case ResponseEvent:
		if !e.Document {
			return
		}
		status := e.Status
		c.bundle.StatusCode = &status
		if e.RedirectedFrom != "" {
			c.bundle.Redirects = append(c.bundle.Redirects, e.RedirectedFrom)
		}
	case CrashEvent:
		c.bundle.ConsoleErrors = append(c.bundle.ConsoleErrors, PageCrashedMessage)
	}
}

// CapturePerformanceTiming samples the navigation duration once. Failures and
// pages without a navigation entry leave LoadTimeMs unset.
func (c *SignalCollector) CapturePerformanceTiming(ctx context.Context) {
	if c.timingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timingTimeout)
		defer cancel()
	}

	duration, err := c.page.NavigationDuration(ctx)
	if err = applyPolicy(c.logger, OpTiming, err); err != nil {
		c.logger.Warn("Failed to read navigation timing.", zap.Error(err))
		return
	}
	if duration == nil || *duration <= 0 || math.IsNaN(*duration) || math.IsInf(*duration, 0) {
		return
	}

	ms := int64(math.Round(*duration))
	c.mu.Lock()
	c.bundle.LoadTimeMs = &ms
	c.mu.Unlock()
}

// Snapshot returns a copy of the bundle collected so far.
func (c *SignalCollector) Snapshot() SignalBundle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bundle.clone()
}
