// File: internal/worker/page.go
package worker

import (
	"context"
	"time"
)

// Session is the browser collaborator the engine borrows its page from.
// Launch and teardown of the browser belong to the implementation.
type Session interface {
	// Page returns the live page handle, or ErrSessionNotInitialized.
	Page() (Page, error)
	Navigate(ctx context.Context, url string) error
	Close(ctx context.Context) error
}

// Page is the minimal page surface needed to execute and observe one action.
// Every blocking call honours ctx cancellation.
type Page interface {
	// WaitAttached blocks until selector matches an element in the DOM.
	WaitAttached(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	// Fill replaces the value of the matched input.
	Fill(ctx context.Context, selector, value string) error
	PressEnter(ctx context.Context) error
	Pause(ctx context.Context, d time.Duration) error
	// WaitNetworkIdle returns once no requests were in flight for quiet.
	WaitNetworkIdle(ctx context.Context, quiet time.Duration) error
	Content(ctx context.Context) (string, error)
	// FullScreenshot returns a PNG of the whole scrollable page.
	FullScreenshot(ctx context.Context) ([]byte, error)
	// NavigationDuration returns the navigation-timing duration in milliseconds,
	// or nil when the page has no navigation entry.
	NavigationDuration(ctx context.Context) (*float64, error)
	// Subscribe registers handler for page events until the returned func is called.
	Subscribe(handler EventHandler) (unsubscribe func())
}

// EventHandler receives page events. It may be called from a driver goroutine.
type EventHandler func(PageEvent)

// PageEvent is one of ConsoleEvent, RequestFailedEvent, ResponseEvent or CrashEvent.
type PageEvent interface {
	pageEvent()
}

// ConsoleLevel is the severity of a console message.
type ConsoleLevel string

const (
	ConsoleError   ConsoleLevel = "error"
	ConsoleWarning ConsoleLevel = "warning"
	ConsoleInfo    ConsoleLevel = "info"
)

type ConsoleEvent struct {
	Level ConsoleLevel
	Text  string
}

type RequestFailedEvent struct {
	URL       string
	ErrorText string
}

// ResponseEvent describes a response received by the page. RedirectedFrom is
// the URL of the request that redirected to this one, if any.
type ResponseEvent struct {
	URL            string
	Status         int
	Document       bool
	RedirectedFrom string
}

type CrashEvent struct{}

func (ConsoleEvent) pageEvent()       {}
func (RequestFailedEvent) pageEvent() {}
func (ResponseEvent) pageEvent()      {}
func (CrashEvent) pageEvent()         {}
