// internal/browser/pw/events.go
package pw

import (
	"github.com/playwright-community/playwright-go"

	"github.com/xkilldash9x/pageprobe/internal/worker"
)

// consoleLevel maps a Playwright console message type.
func consoleLevel(typ string) worker.ConsoleLevel {
	switch typ {
	case "error":
		return worker.ConsoleError
	case "warning":
		return worker.ConsoleWarning
	default:
		return worker.ConsoleInfo
	}
}

func consoleEvent(msg playwright.ConsoleMessage) worker.PageEvent {
	return worker.ConsoleEvent{Level: consoleLevel(msg.Type()), Text: msg.Text()}
}

func requestFailedEvent(req playwright.Request) worker.PageEvent {
	return failedEvent(req.URL(), req.Failure())
}

func failedEvent(url string, failure error) worker.PageEvent {
	ev := worker.RequestFailedEvent{URL: url}
	if failure != nil {
		ev.ErrorText = failure.Error()
	}
	return ev
}

func responseEvent(resp playwright.Response) worker.PageEvent {
	req := resp.Request()
	from := ""
	if prev := req.RedirectedFrom(); prev != nil {
		from = prev.URL()
	}
	return documentResponse(resp.URL(), resp.Status(), req.ResourceType(), from)
}

func documentResponse(url string, status int, resourceType, redirectedFrom string) worker.PageEvent {
	return worker.ResponseEvent{
		URL:            url,
		Status:         status,
		Document:       resourceType == "document",
		RedirectedFrom: redirectedFrom,
	}
}
