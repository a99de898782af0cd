// internal/browser/cdp/events.go
package cdp

import (
	"strings"
	"sync"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/pageprobe/internal/worker"
)

// requestState tracks one network request across its redirect hops.
type requestState struct {
	url          string
	resourceType network.ResourceType
	// redirectedFrom is the URL whose response redirected to url.
	redirectedFrom string
}

// eventTranslator turns raw CDP events into page events and tracks in-flight
// requests for network idle detection. It is fed from a single listener.
type eventTranslator struct {
	mu       sync.Mutex
	requests map[network.RequestID]*requestState
	inflight map[network.RequestID]struct{}
	// changed is signalled whenever the in-flight set shrinks or grows.
	changed chan struct{}
}

func newEventTranslator() *eventTranslator {
	return &eventTranslator{
		requests: make(map[network.RequestID]*requestState),
		inflight: make(map[network.RequestID]struct{}),
		changed:  make(chan struct{}, 1),
	}
}

// translate converts one CDP event. It returns nil for events that carry no
// page signal.
func (t *eventTranslator) translate(ev interface{}) []worker.PageEvent {
	switch ev := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		return t.onConsole(ev)
	case *network.EventRequestWillBeSent:
		return t.onRequestWillBeSent(ev)
	case *network.EventResponseReceived:
		return t.onResponseReceived(ev)
	case *network.EventLoadingFinished:
		t.finish(ev.RequestID)
	case *network.EventLoadingFailed:
		return t.onLoadingFailed(ev)
	case *inspector.EventTargetCrashed:
		return []worker.PageEvent{worker.CrashEvent{}}
	}
	return nil
}

func (t *eventTranslator) onConsole(ev *runtime.EventConsoleAPICalled) []worker.PageEvent {
	var level worker.ConsoleLevel
	switch ev.Type {
	case runtime.APITypeError:
		level = worker.ConsoleError
	case runtime.APITypeWarning:
		level = worker.ConsoleWarning
	default:
		level = worker.ConsoleInfo
	}
	return []worker.PageEvent{worker.ConsoleEvent{Level: level, Text: consoleText(ev.Args)}}
}

func (t *eventTranslator) onRequestWillBeSent(ev *network.EventRequestWillBeSent) []worker.PageEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []worker.PageEvent
	state, known := t.requests[ev.RequestID]

	// A redirect reuses the request id and reports the previous hop's response.
	if ev.RedirectResponse != nil && known {
		out = append(out, worker.ResponseEvent{
			URL:            ev.RedirectResponse.URL,
			Status:         int(ev.RedirectResponse.Status),
			Document:       state.resourceType == network.ResourceTypeDocument,
			RedirectedFrom: state.redirectedFrom,
		})
		t.requests[ev.RequestID] = &requestState{
			url:            requestURL(ev),
			resourceType:   ev.Type,
			redirectedFrom: state.url,
		}
	} else {
		from := ""
		if ev.RedirectResponse != nil {
			from = ev.RedirectResponse.URL
		}
		t.requests[ev.RequestID] = &requestState{url: requestURL(ev), resourceType: ev.Type, redirectedFrom: from}
	}

	t.inflight[ev.RequestID] = struct{}{}
	t.notify()
	return out
}

func (t *eventTranslator) onResponseReceived(ev *network.EventResponseReceived) []worker.PageEvent {
	if ev.Response == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	from := ""
	if state, ok := t.requests[ev.RequestID]; ok {
		from = state.redirectedFrom
	}
	return []worker.PageEvent{worker.ResponseEvent{
		URL:            ev.Response.URL,
		Status:         int(ev.Response.Status),
		Document:       ev.Type == network.ResourceTypeDocument,
		RedirectedFrom: from,
	}}
}

func (t *eventTranslator) onLoadingFailed(ev *network.EventLoadingFailed) []worker.PageEvent {
	t.mu.Lock()
	url := ""
	if state, ok := t.requests[ev.RequestID]; ok {
		url = state.url
	}
	t.mu.Unlock()

	t.finish(ev.RequestID)
	return []worker.PageEvent{worker.RequestFailedEvent{URL: url, ErrorText: ev.ErrorText}}
}

func (t *eventTranslator) finish(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.requests, id)
	if _, ok := t.inflight[id]; ok {
		delete(t.inflight, id)
		t.notify()
	}
}

// notify must be called with mu held.
func (t *eventTranslator) notify() {
	select {
	case t.changed <- struct{}{}:
	default:
	}
}

// inflightCount returns the number of requests without a terminal event.
func (t *eventTranslator) inflightCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// reset forgets every tracked request, e.g. after a new document was committed.
func (t *eventTranslator) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = make(map[network.RequestID]*requestState)
	t.inflight = make(map[network.RequestID]struct{})
	t.notify()
}

func requestURL(ev *network.EventRequestWillBeSent) string {
	if ev.Request == nil {
		return ev.DocumentURL
	}
	return ev.Request.URL
}

// consoleText joins console arguments the way DevTools prints them.
func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		parts = append(parts, remoteObjectText(arg))
	}
	return strings.Join(parts, " ")
}

func remoteObjectText(arg *runtime.RemoteObject) string {
	raw := []byte(arg.Value)
	if arg.Type == runtime.TypeString && len(raw) > 0 {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	if arg.Description != "" {
		return arg.Description
	}
	if arg.UnserializableValue != "" {
		return string(arg.UnserializableValue)
	}
	if len(raw) > 0 {
		return string(raw)
	}
	return string(arg.Type)
}
