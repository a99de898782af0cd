// internal/worker/worker_test.go
package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/pageprobe/api/schemas"
	"github.com/xkilldash9x/pageprobe/internal/config"
	"github.com/xkilldash9x/pageprobe/internal/mocks"
	"github.com/xkilldash9x/pageprobe/internal/worker"
)

// setupEngine wires an engine to a session that always hands out page.
func setupEngine(t *testing.T, page worker.Page) (*worker.Engine, *mocks.MockSession) {
	t.Helper()
	session := new(mocks.MockSession)
	session.On("Page").Return(page, nil).Maybe()

	engine := worker.NewEngine(session, config.NewDefaultConfig(), zaptest.NewLogger(t),
		worker.WithGuardConfig(fastGuardConfig()),
		worker.WithCycleIDs(func() string { return "cycle-test" }),
	)
	return engine, session
}

func TestEngine_WaitObservesCurrentPage(t *testing.T) {
	page := newObservablePage(t)
	page.On("Pause", mock.Anything, fastGuardConfig().WaitDuration).Return(nil).Once()
	engine, _ := setupEngine(t, page)

	obs := engine.Execute(context.Background(), schemas.ActionDecision{Kind: schemas.ActionWait})

	want := schemas.NewObservation()
	want.DOM = testDOM
	shot := "iVBORw==" // base64 of the fixture PNG header
	want.Screenshot = &shot
	if diff := cmp.Diff(want, obs); diff != "" {
		t.Errorf("unexpected observation (-want +got):\n%s", diff)
	}
	assert.False(t, obs.Failed())
	assert.Nil(t, obs.Signals.StatusCode)
	assert.Equal(t, []string{}, obs.Signals.Console.Errors)
	page.AssertExpectations(t)
}

func TestEngine_MissingSelectorDegrades(t *testing.T) {
	for _, kind := range []schemas.ActionKind{schemas.ActionClick, schemas.ActionType, schemas.ActionPaginate} {
		t.Run(string(kind), func(t *testing.T) {
			page := newObservablePage(t)
			page.On("WaitAttached", mock.Anything, "#missing").Return(mocks.BlockUntilDone()).Once()
			engine, _ := setupEngine(t, page)

			obs := engine.Execute(context.Background(), schemas.ActionDecision{Kind: kind, Target: "#missing", Value: "text"})

			assert.Empty(t, obs.DOM)
			assert.Equal(t, []string{"Selector not found: #missing"}, obs.Signals.Console.Errors)
			assert.NotNil(t, obs.Screenshot, "a screenshot is still attempted on failure")
			assert.True(t, obs.Failed())
			page.AssertNotCalled(t, "Content", mock.Anything)
			page.AssertNotCalled(t, "Click", mock.Anything, mock.Anything)
			page.AssertNotCalled(t, "Fill", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestEngine_MissingTargetIsNoOp(t *testing.T) {
	actions := []schemas.ActionDecision{
		{Kind: schemas.ActionClick},
		{Kind: schemas.ActionPaginate},
		{Kind: schemas.ActionType, Target: "#q"},
	}
	for _, action := range actions {
		a := action
		t.Run(a.String(), func(t *testing.T) {
			page := newObservablePage(t)
			engine, _ := setupEngine(t, page)

			obs := engine.Execute(context.Background(), a)
			assert.Equal(t, testDOM, obs.DOM)
			assert.Empty(t, obs.Signals.Console.Errors)
			page.AssertNotCalled(t, "WaitAttached", mock.Anything, mock.Anything)
			page.AssertNotCalled(t, "Click", mock.Anything, mock.Anything)
			page.AssertNotCalled(t, "Fill", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestEngine_ClickTimeout(t *testing.T) {
	page := newObservablePage(t)
	page.On("WaitAttached", mock.Anything, "#slow").Return(nil).Once()
	page.On("Click", mock.Anything, "#slow").Return(mocks.BlockUntilDone()).Once()
	engine, _ := setupEngine(t, page)

	obs := engine.Execute(context.Background(), schemas.ActionDecision{Kind: schemas.ActionClick, Target: "#slow"})
	assert.Empty(t, obs.DOM)
	assert.Equal(t, []string{"Action timed out: CLICK"}, obs.Signals.Console.Errors)
}

func TestEngine_SignalsFromTheCycleOnly(t *testing.T) {
	page := newObservablePage(t)
	page.On("WaitAttached", mock.Anything, "#buggy").Return(nil).Once()
	page.On("Click", mock.Anything, "#buggy").Run(func(mock.Arguments) {
		page.Emit(worker.ConsoleEvent{Level: worker.ConsoleError, Text: "handler threw"})
	}).Return(nil).Once()
	page.On("Pause", mock.Anything, mock.Anything).Return(nil).Once()
	engine, _ := setupEngine(t, page)

	first := engine.Execute(context.Background(), schemas.ActionDecision{Kind: schemas.ActionClick, Target: "#buggy"})
	assert.Equal(t, []string{"handler threw"}, first.Signals.Console.Errors)
	assert.Equal(t, testDOM, first.DOM)

	// Emitted between cycles: no subscription is live.
	page.Emit(worker.ConsoleEvent{Level: worker.ConsoleError, Text: "between cycles"})
	assert.Equal(t, 0, page.Subscribers())

	second := engine.Execute(context.Background(), schemas.ActionDecision{Kind: schemas.ActionWait})
	assert.Empty(t, second.Signals.Console.Errors)
	assert.Equal(t, 0, page.Subscribers(), "subscriptions are released at the end of every cycle")
}

func TestEngine_StopReflectsCurrentState(t *testing.T) {
	page := newObservablePage(t)
	engine, _ := setupEngine(t, page)

	obs := engine.Execute(context.Background(), schemas.ActionDecision{Kind: schemas.ActionStop})

	assert.Equal(t, testDOM, obs.DOM)
	if diff := cmp.Diff(schemas.EmptySignals(), obs.Signals); diff != "" {
		t.Errorf("STOP should not produce signals (-want +got):\n%s", diff)
	}
	page.AssertNotCalled(t, "Click", mock.Anything, mock.Anything)
	page.AssertNotCalled(t, "Pause", mock.Anything, mock.Anything)
	page.AssertNotCalled(t, "PressEnter", mock.Anything)
}

func TestEngine_RedirectsAndStatusDuringClick(t *testing.T) {
	page := newObservablePage(t)
	page.On("WaitAttached", mock.Anything, "a.login").Return(nil).Once()
	page.On("Click", mock.Anything, "a.login").Run(func(mock.Arguments) {
		page.Emit(worker.ResponseEvent{URL: "https://a.test/", Status: 301, Document: true})
		page.Emit(worker.ResponseEvent{URL: "https://b.test/", Status: 302, Document: true, RedirectedFrom: "https://a.test/"})
		page.Emit(worker.ResponseEvent{URL: "https://c.test/", Status: 200, Document: true, RedirectedFrom: "https://b.test/"})
		page.Emit(worker.RequestFailedEvent{URL: "https://c.test/track", ErrorText: "net::ERR_BLOCKED_BY_CLIENT"})
	}).Return(nil).Once()
	engine, _ := setupEngine(t, page)

	obs := engine.Execute(context.Background(), schemas.ActionDecision{Kind: schemas.ActionClick, Target: "a.login"})

	require.NotNil(t, obs.Signals.StatusCode)
	assert.Equal(t, 200, *obs.Signals.StatusCode)
	assert.Equal(t, []string{"https://a.test/", "https://b.test/"}, obs.Signals.Redirects)
	assert.Equal(t, 1, obs.Signals.Network.FailedRequests)
	assert.Equal(t, []string{"https://c.test/track - net::ERR_BLOCKED_BY_CLIENT"}, obs.Signals.Network.RequestErrors)
}

func TestEngine_FailureKeepsCollectedSignals(t *testing.T) {
	page := newObservablePage(t)
	page.On("WaitAttached", mock.Anything, "#q").Return(nil).Once()
	page.On("Fill", mock.Anything, "#q", "x").Run(func(mock.Arguments) {
		page.Emit(worker.ConsoleEvent{Level: worker.ConsoleWarning, Text: "input is readonly"})
		page.Emit(worker.CrashEvent{})
	}).Return(errors.New("Target crashed")).Once()
	engine, _ := setupEngine(t, page)

	obs := engine.Execute(context.Background(), schemas.ActionDecision{Kind: schemas.ActionType, Target: "#q", Value: "x"})

	assert.Empty(t, obs.DOM)
	assert.Equal(t, []string{"input is readonly"}, obs.Signals.Console.Warnings)
	require.Len(t, obs.Signals.Console.Errors, 2)
	assert.Equal(t, worker.PageCrashedMessage, obs.Signals.Console.Errors[0])
	assert.Contains(t, obs.Signals.Console.Errors[1], "Target crashed")
}

func TestEngine_PerformanceTiming(t *testing.T) {
	page := mocks.NewMockPage()
	page.On("Pause", mock.Anything, mock.Anything).Return(nil).Once()
	page.On("NavigationDuration", mock.Anything).Return(812.49, nil).Once()
	page.On("Content", mock.Anything).Return(testDOM, nil).Once()
	page.On("FullScreenshot", mock.Anything).Return(nil, errors.New("capture failed")).Once()
	engine, _ := setupEngine(t, page)

	obs := engine.Execute(context.Background(), schemas.ActionDecision{Kind: schemas.ActionWait})

	require.NotNil(t, obs.Signals.Performance.LoadTimeMs)
	assert.EqualValues(t, 812, *obs.Signals.Performance.LoadTimeMs)
	assert.Nil(t, obs.Screenshot, "screenshot failures are absorbed")
	assert.Equal(t, testDOM, obs.DOM)
	page.AssertExpectations(t)
}

func TestEngine_NeverRaises(t *testing.T) {
	testCases := []struct {
		name    string
		setup   func(page *mocks.MockPage, session *mocks.MockSession)
		action  schemas.ActionDecision
		wantErr string
	}{
		{
			name: "session not initialized",
			setup: func(page *mocks.MockPage, session *mocks.MockSession) {
				session.On("Page").Return(nil, worker.ErrSessionNotInitialized)
			},
			action:  schemas.ActionDecision{Kind: schemas.ActionWait},
			wantErr: "browser session not initialized",
		},
		{
			name: "dom capture fails",
			setup: func(page *mocks.MockPage, session *mocks.MockSession) {
				session.On("Page").Return(page, nil)
				page.On("Pause", mock.Anything, mock.Anything).Return(nil)
				page.On("NavigationDuration", mock.Anything).Return(nil, nil)
				page.On("Content", mock.Anything).Return("", errors.New("execution context was destroyed"))
				page.On("FullScreenshot", mock.Anything).Return(nil, errors.New("page closed"))
			},
			action:  schemas.ActionDecision{Kind: schemas.ActionWait},
			wantErr: "execution context was destroyed",
		},
		{
			name: "driver panics",
			setup: func(page *mocks.MockPage, session *mocks.MockSession) {
				session.On("Page").Return(page, nil)
				page.On("PressEnter", mock.Anything).Run(func(mock.Arguments) { panic("nil frame") }).Return(nil)
				page.On("FullScreenshot", mock.Anything).Return(nil, errors.New("page closed"))
			},
			action:  schemas.ActionDecision{Kind: schemas.ActionSubmit},
			wantErr: "nil frame",
		},
		{
			name: "unsupported action",
			setup: func(page *mocks.MockPage, session *mocks.MockSession) {
				session.On("Page").Return(page, nil)
				page.On("FullScreenshot", mock.Anything).Return([]byte("img"), nil)
			},
			action:  schemas.ActionDecision{Kind: "SCROLL"},
			wantErr: `unsupported action kind "SCROLL"`,
		},
		{
			name: "malformed selector",
			setup: func(page *mocks.MockPage, session *mocks.MockSession) {
				session.On("Page").Return(page, nil)
				page.On("WaitAttached", mock.Anything, "div[[").Return(errors.New("SyntaxError: not a valid selector"))
				page.On("FullScreenshot", mock.Anything).Return(nil, errors.New("page closed"))
			},
			action:  schemas.ActionDecision{Kind: schemas.ActionClick, Target: "div[["},
			wantErr: "Selector not found: div[[",
		},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			page := mocks.NewMockPage()
			session := new(mocks.MockSession)
			tt.setup(page, session)
			engine := worker.NewEngine(session, config.NewDefaultConfig(), zaptest.NewLogger(t), worker.WithGuardConfig(fastGuardConfig()))

			var obs schemas.Observation
			require.NotPanics(t, func() {
				obs = engine.Execute(context.Background(), tt.action)
			})
			assert.Empty(t, obs.DOM)
			require.NotEmpty(t, obs.Signals.Console.Errors)
			assert.Contains(t, obs.Signals.Console.Errors[len(obs.Signals.Console.Errors)-1], tt.wantErr)
			assert.NotNil(t, obs.Signals.Redirects)
			assert.NotNil(t, obs.Signals.Network.RequestErrors)
		})
	}
}

func TestEngine_CancelledContextStillCapturesScreenshot(t *testing.T) {
	page := newObservablePage(t)
	page.On("Pause", mock.Anything, mock.Anything).Return(mocks.BlockUntilDone()).Once()
	engine, _ := setupEngine(t, page)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	obs := engine.Execute(ctx, schemas.ActionDecision{Kind: schemas.ActionWait})

	assert.Empty(t, obs.DOM)
	require.Len(t, obs.Signals.Console.Errors, 1)
	assert.Contains(t, obs.Signals.Console.Errors[0], context.DeadlineExceeded.Error())
	assert.NotNil(t, obs.Screenshot)
}

func TestEngine_SerializesCycles(t *testing.T) {
	page := newObservablePage(t)
	var active, maxActive int32
	page.On("Pause", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&active, -1)
	}).Return(nil)
	engine, _ := setupEngine(t, page)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			obs := engine.Execute(context.Background(), schemas.ActionDecision{Kind: schemas.ActionWait})
			assert.Equal(t, testDOM, obs.DOM)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&maxActive))
}

func TestEngine_RebindsOnNewPage(t *testing.T) {
	first := newObservablePage(t)
	second := newObservablePage(t)
	session := new(mocks.MockSession)
	session.On("Page").Return(first, nil).Once()
	session.On("Page").Return(second, nil).Once()
	engine := worker.NewEngine(session, config.NewDefaultConfig(), zaptest.NewLogger(t), worker.WithGuardConfig(fastGuardConfig()))

	engine.Execute(context.Background(), schemas.ActionDecision{Kind: schemas.ActionStop})
	engine.Execute(context.Background(), schemas.ActionDecision{Kind: schemas.ActionStop})

	first.AssertNumberOfCalls(t, "Content", 1)
	second.AssertNumberOfCalls(t, "Content", 1)
	assert.Equal(t, 0, first.Subscribers())
	assert.Equal(t, 0, second.Subscribers())
}

func TestEngine_Navigate(t *testing.T) {
	page := newObservablePage(t)
	engine, session := setupEngine(t, page)

	session.On("Navigate", mock.Anything, "https://example.com").Return(nil).Once()
	require.NoError(t, engine.Navigate(context.Background(), "https://example.com"))

	session.On("Navigate", mock.Anything, "https://down.test").Return(errors.New("net::ERR_CONNECTION_REFUSED")).Once()
	err := engine.Navigate(context.Background(), "https://down.test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to navigate to https://down.test")
	assert.Contains(t, err.Error(), "ERR_CONNECTION_REFUSED")
	session.AssertExpectations(t)
}

func TestEngine_HungPageCallsAreBounded(t *testing.T) {
	testCases := []struct {
		name   string
		action schemas.ActionDecision
		setup  func(page *mocks.MockPage)
		check  func(t *testing.T, obs schemas.Observation)
	}{
		{
			name:   "navigation timing never answers",
			action: schemas.ActionDecision{Kind: schemas.ActionWait},
			setup: func(page *mocks.MockPage) {
				page.On("Pause", mock.Anything, mock.Anything).Return(nil)
				page.On("NavigationDuration", mock.Anything).Return(nil, mocks.BlockUntilDone())
				page.On("Content", mock.Anything).Return(testDOM, nil)
			},
			check: func(t *testing.T, obs schemas.Observation) {
				assert.False(t, obs.Failed())
				assert.Equal(t, testDOM, obs.DOM)
				assert.Nil(t, obs.Signals.Performance.LoadTimeMs)
			},
		},
		{
			name:   "document serialization never answers",
			action: schemas.ActionDecision{Kind: schemas.ActionWait},
			setup: func(page *mocks.MockPage) {
				page.On("Pause", mock.Anything, mock.Anything).Return(nil)
				page.On("NavigationDuration", mock.Anything).Return(nil, nil)
				page.On("Content", mock.Anything).Return("", mocks.BlockUntilDone())
			},
			check: func(t *testing.T, obs schemas.Observation) {
				assert.True(t, obs.Failed())
				require.Len(t, obs.Signals.Console.Errors, 1)
				assert.Contains(t, obs.Signals.Console.Errors[0], context.DeadlineExceeded.Error())
			},
		},
		{
			name:   "enter key never answers",
			action: schemas.ActionDecision{Kind: schemas.ActionSubmit},
			setup: func(page *mocks.MockPage) {
				page.On("PressEnter", mock.Anything).Return(mocks.BlockUntilDone())
			},
			check: func(t *testing.T, obs schemas.Observation) {
				assert.True(t, obs.Failed())
				require.Len(t, obs.Signals.Console.Errors, 1)
				assert.Equal(t, "Action timed out: SUBMIT", obs.Signals.Console.Errors[0])
			},
		},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			page := mocks.NewMockPage()
			tt.setup(page)
			page.On("FullScreenshot", mock.Anything).Return([]byte("\x89PNG"), nil).Maybe()
			session := new(mocks.MockSession)
			session.On("Page").Return(page, nil)
			cfg := new(mocks.MockConfig)
			cfg.On("Guard").Return(fastGuardConfig()).Once()

			engine := worker.NewEngine(session, cfg, zaptest.NewLogger(t))

			result := make(chan schemas.Observation, 1)
			go func() { result <- engine.Execute(context.Background(), tt.action) }()

			select {
			case obs := <-result:
				tt.check(t, obs)
				assert.True(t, obs.HasScreenshot())
			case <-time.After(2 * time.Second):
				t.Fatal("action cycle did not return while a page call hung")
			}
			cfg.AssertExpectations(t)
		})
	}
}
