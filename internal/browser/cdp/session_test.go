// internal/browser/cdp/session_test.go
package cdp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/internal/config"
	"github.com/xkilldash9x/pageprobe/internal/worker"
)

// flagValue returns the value of the named switch and whether it is present.
func flagValue(t *testing.T, flags []chromeFlag, name string) (interface{}, bool) {
	t.Helper()
	for _, f := range flags {
		if f.name == name {
			return f.value, true
		}
	}
	return nil, false
}

func TestChromeFlags(t *testing.T) {
	t.Run("BaselineSwitches", func(t *testing.T) {
		flags := chromeFlags(config.BrowserConfig{})
		for _, name := range []string{"no-sandbox", "disable-gpu", "enable-automation", "no-first-run", "no-default-browser-check"} {
			v, ok := flagValue(t, flags, name)
			assert.True(t, ok, "expected switch %q", name)
			assert.Equal(t, true, v)
		}
		_, ok := flagValue(t, flags, "headless")
		assert.False(t, ok, "headless must be opt-in")
	})

	t.Run("Headless", func(t *testing.T) {
		flags := chromeFlags(config.BrowserConfig{Headless: true})
		v, ok := flagValue(t, flags, "headless")
		assert.True(t, ok)
		assert.Equal(t, true, v)
	})

	t.Run("TLSAndProfile", func(t *testing.T) {
		flags := chromeFlags(config.BrowserConfig{IgnoreTLSErrors: true, UserDataDir: "/tmp/profile"})
		_, ok := flagValue(t, flags, "ignore-certificate-errors")
		assert.True(t, ok)
		dir, ok := flagValue(t, flags, "user-data-dir")
		assert.True(t, ok)
		assert.Equal(t, "/tmp/profile", dir)
	})

	t.Run("WindowSizeFromViewport", func(t *testing.T) {
		flags := chromeFlags(config.BrowserConfig{Viewport: map[string]int{"width": 1280, "height": 720}})
		size, ok := flagValue(t, flags, "window-size")
		assert.True(t, ok)
		assert.Equal(t, "1280,720", size)
	})

	t.Run("IncompleteViewportIgnored", func(t *testing.T) {
		flags := chromeFlags(config.BrowserConfig{Viewport: map[string]int{"width": 1280}})
		_, ok := flagValue(t, flags, "window-size")
		assert.False(t, ok)
	})

	t.Run("ExtraArgs", func(t *testing.T) {
		flags := chromeFlags(config.BrowserConfig{Args: []string{"--lang=en-US", "--disable-extensions", "--", ""}})
		lang, ok := flagValue(t, flags, "lang")
		assert.True(t, ok)
		assert.Equal(t, "en-US", lang)
		ext, ok := flagValue(t, flags, "disable-extensions")
		assert.True(t, ok)
		assert.Equal(t, true, ext)
		_, ok = flagValue(t, flags, "")
		assert.False(t, ok, "empty switches are dropped")
	})
}

func TestExecAllocatorOptions(t *testing.T) {
	cfg := config.BrowserConfig{Headless: true, Args: []string{"--lang=de"}}
	assert.Len(t, execAllocatorOptions(cfg), len(chromeFlags(cfg)))
}

func TestSessionLifecycleWithoutBrowser(t *testing.T) {
	s := &Session{
		logger:      zap.NewNop(),
		tabCtx:      context.Background(),
		tabCancel:   func() {},
		allocCancel: func() {},
		closed:      true,
	}

	_, err := s.Page()
	assert.ErrorIs(t, err, worker.ErrSessionNotInitialized)
	assert.ErrorIs(t, s.Navigate(context.Background(), "http://example.com"), worker.ErrSessionNotInitialized)
	assert.NoError(t, s.Close(context.Background()), "closing twice is a no-op")
}
