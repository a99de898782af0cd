// internal/worker/helpers_test.go
package worker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/pageprobe/internal/config"
	"github.com/xkilldash9x/pageprobe/internal/mocks"
)

const testDOM = "<html><head><title>Fixture</title></head><body><a href=\"/next\">next</a></body></html>"

// fastGuardConfig keeps guard timeouts short so failure paths finish quickly.
func fastGuardConfig() config.GuardConfig {
	return config.GuardConfig{
		SelectorTimeout:    50 * time.Millisecond,
		ActionTimeout:      50 * time.Millisecond,
		SettleTimeout:      50 * time.Millisecond,
		NetworkQuietPeriod: 5 * time.Millisecond,
		WaitDuration:       5 * time.Millisecond,
		CaptureTimeout:     50 * time.Millisecond,
	}
}

// newObservablePage returns a page whose observation calls succeed.
func newObservablePage(t *testing.T) *mocks.MockPage {
	t.Helper()
	page := mocks.NewMockPage()
	page.On("Content", mock.Anything).Return(testDOM, nil).Maybe()
	page.On("FullScreenshot", mock.Anything).Return([]byte("\x89PNG"), nil).Maybe()
	page.On("NavigationDuration", mock.Anything).Return(nil, nil).Maybe()
	page.On("WaitNetworkIdle", mock.Anything, mock.Anything).Return(nil).Maybe()
	return page
}
