// internal/browser/factory.go
package browser

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/internal/browser/cdp"
	"github.com/xkilldash9x/pageprobe/internal/browser/pw"
	"github.com/xkilldash9x/pageprobe/internal/config"
	"github.com/xkilldash9x/pageprobe/internal/worker"
)

// Session is a worker.Session that can report its id.
type Session interface {
	worker.Session
	ID() string
}

// NewSession launches a browser on the configured backend.
func NewSession(ctx context.Context, cfg config.Interface, logger *zap.Logger) (Session, error) {
	bcfg := cfg.Browser()
	backend := config.Backend(strings.ToLower(string(bcfg.Backend)))
	logger.Debug("Starting browser session.", zap.String("backend", string(backend)))

	var (
		session Session
		err     error
	)
	switch backend {
	case config.BackendChromedp, "":
		session, err = cdp.NewSession(ctx, bcfg, logger)
	case config.BackendPlaywright:
		session, err = pw.NewSession(ctx, bcfg, logger)
	default:
		return nil, fmt.Errorf("unsupported browser backend %q", bcfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start %s session: %w", backend, err)
	}
	return session, nil
}
