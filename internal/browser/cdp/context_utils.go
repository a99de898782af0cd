// internal/browser/cdp/context_utils.go
package cdp

import (
	"context"
	"errors"
)

// CombineContext derives a context from primary (which carries the chromedp
// target) that is also cancelled when secondary is done. The secondary
// deadline, when earlier, becomes the combined deadline so an expired
// operation reports context.DeadlineExceeded.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	deadlineCopied := false
	if deadline, ok := secondary.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		combined, cancelDeadline = context.WithDeadline(combined, deadline)
		deadlineCopied = true
		parentCancel := cancel
		cancel = func() {
			cancelDeadline()
			parentCancel()
		}
	}

	stop := context.AfterFunc(secondary, func() {
		// An expired secondary deadline is reported by the copied deadline's
		// own timer; cancelling here would race it and surface Canceled.
		if deadlineCopied && errors.Is(secondary.Err(), context.DeadlineExceeded) {
			return
		}
		cancel()
	})
	return combined, func() {
		stop()
		cancel()
	}
}
