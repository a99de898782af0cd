// File: internal/worker/snapshot.go
package worker

import (
	"context"
	"encoding/base64"
	"time"

	"go.uber.org/zap"
)

// Snapshotter captures full page screenshots. It never fails: any capture
// problem yields a nil result.
type Snapshotter struct {
	page    Page
	timeout time.Duration
	logger  *zap.Logger
}

// NewSnapshotter creates a Snapshotter bounding each capture by timeout.
// A non-positive timeout only relies on ctx.
func NewSnapshotter(page Page, timeout time.Duration, logger *zap.Logger) *Snapshotter {
	return &Snapshotter{
		page:    page,
		timeout: timeout,
		logger:  logger.Named("snapshot"),
	}
}

// CaptureFullPage returns the page as a base64 encoded PNG, or nil.
func (s *Snapshotter) CaptureFullPage(ctx context.Context) (shot *string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("Recovered from panic during screenshot capture.", zap.Any("panic", r))
			shot = nil
		}
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	buf, err := s.page.FullScreenshot(ctx)
	if err != nil {
		if err = applyPolicy(s.logger, OpScreenshot, err); err != nil {
			s.logger.Warn("Screenshot capture failed.", zap.Error(err))
		}
		return nil
	}
	if len(buf) == 0 {
		return nil
	}

	encoded := base64.StdEncoding.EncodeToString(buf)
	return &encoded
}
