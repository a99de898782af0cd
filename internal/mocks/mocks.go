// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/pageprobe/internal/config"
	"github.com/xkilldash9x/pageprobe/internal/worker"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Guard() config.GuardConfig {
	args := m.Called()
	return args.Get(0).(config.GuardConfig)
}

func (m *MockConfig) Runner() config.RunnerConfig {
	args := m.Called()
	return args.Get(0).(config.RunnerConfig)
}

func (m *MockConfig) SetBrowserBackend(b config.Backend) {
	m.Called(b)
}

func (m *MockConfig) SetRunnerScreenshotDir(dir string) {
	m.Called(dir)
}

// -- Page Mock --

// OpFunc may be passed to Return in place of an error. It is invoked with the
// context the mocked method received, so a test can block until cancellation.
type OpFunc func(ctx context.Context) error

// BlockUntilDone returns an OpFunc that waits for ctx and reports its error.
func BlockUntilDone() OpFunc {
	return func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
}

// MockPage mocks worker.Page. Page events are not mocked: Subscribe registers
// real handlers and Emit delivers to every live one.
type MockPage struct {
	mock.Mock

	subMu    sync.Mutex
	nextID   int
	handlers map[int]worker.EventHandler
}

var _ worker.Page = (*MockPage)(nil)

// NewMockPage creates a MockPage with no subscribers.
func NewMockPage() *MockPage {
	return &MockPage{handlers: make(map[int]worker.EventHandler)}
}

func errResult(ctx context.Context, v interface{}) error {
	switch r := v.(type) {
	case nil:
		return nil
	case OpFunc:
		return r(ctx)
	case func(context.Context) error:
		return r(ctx)
	case error:
		return r
	default:
		return nil
	}
}

func (m *MockPage) WaitAttached(ctx context.Context, selector string) error {
	args := m.Called(ctx, selector)
	return errResult(ctx, args.Get(0))
}

func (m *MockPage) Click(ctx context.Context, selector string) error {
	args := m.Called(ctx, selector)
	return errResult(ctx, args.Get(0))
}

func (m *MockPage) Fill(ctx context.Context, selector, value string) error {
	args := m.Called(ctx, selector, value)
	return errResult(ctx, args.Get(0))
}

func (m *MockPage) PressEnter(ctx context.Context) error {
	args := m.Called(ctx)
	return errResult(ctx, args.Get(0))
}

func (m *MockPage) Pause(ctx context.Context, d time.Duration) error {
	args := m.Called(ctx, d)
	return errResult(ctx, args.Get(0))
}

func (m *MockPage) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	args := m.Called(ctx, quiet)
	return errResult(ctx, args.Get(0))
}

func (m *MockPage) Content(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), errResult(ctx, args.Get(1))
}

func (m *MockPage) FullScreenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	var buf []byte
	if b, ok := args.Get(0).([]byte); ok {
		buf = b
	}
	return buf, errResult(ctx, args.Get(1))
}

func (m *MockPage) NavigationDuration(ctx context.Context) (*float64, error) {
	args := m.Called(ctx)
	var d *float64
	switch v := args.Get(0).(type) {
	case *float64:
		d = v
	case float64:
		d = &v
	}
	return d, errResult(ctx, args.Get(1))
}

// Subscribe implements worker.Page.
func (m *MockPage) Subscribe(handler worker.EventHandler) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.handlers == nil {
		m.handlers = make(map[int]worker.EventHandler)
	}
	id := m.nextID
	m.nextID++
	m.handlers[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.handlers, id)
			m.subMu.Unlock()
		})
	}
}

// Emit delivers ev to every live subscriber.
func (m *MockPage) Emit(ev worker.PageEvent) {
	m.subMu.Lock()
	handlers := make([]worker.EventHandler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.subMu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Subscribers returns the number of live subscriptions.
func (m *MockPage) Subscribers() int {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	return len(m.handlers)
}

// -- Session Mock --

// MockSession mocks worker.Session. ID is not mocked and returns SessionID.
type MockSession struct {
	mock.Mock
	SessionID string
}

func (m *MockSession) ID() string { return m.SessionID }

var _ worker.Session = (*MockSession)(nil)

func (m *MockSession) Page() (worker.Page, error) {
	args := m.Called()
	var page worker.Page
	if p, ok := args.Get(0).(worker.Page); ok {
		page = p
	}
	return page, args.Error(1)
}

func (m *MockSession) Navigate(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return errResult(ctx, args.Get(0))
}

func (m *MockSession) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
