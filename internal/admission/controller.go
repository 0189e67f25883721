package admission

import (
	"context"

	"github.com/mediagrab/mediagrab/internal/logctx"
	"github.com/mediagrab/mediagrab/internal/store"
	"github.com/mediagrab/mediagrab/internal/telemetry"
)

// Controller runs both admission gates in order: the per-client rate gate,
// then the store quota gate. Both must pass before any job executes.
type Controller struct {
	limiter   *RateLimiter
	registry  *store.Registry
	telemetry *telemetry.Telemetry
}

// NewController creates an admission controller over the given gates.
func NewController(limiter *RateLimiter, registry *store.Registry, tel *telemetry.Telemetry) *Controller {
	return &Controller{
		limiter:   limiter,
		registry:  registry,
		telemetry: tel,
	}
}

// Admit grants a store reservation for clientKey or reports why not:
// *RateLimitedError from the rate gate, *store.QuotaExceededError from the
// quota gate. The reservation counts toward the file quota until the caller
// commits or releases it.
func (c *Controller) Admit(ctx context.Context, clientKey string) (*store.Reservation, error) {
	logger := logctx.LoggerFromContext(ctx)

	if err := c.limiter.Allow(clientKey); err != nil {
		logger.Warn("request rate limited", "client", clientKey)
		c.telemetry.RecordAdmissionRejection("rate_limited")

		return nil, err
	}

	reservation, err := c.registry.Reserve()
	if err != nil {
		logger.Warn("admission rejected by quota", "err", err)
		c.telemetry.RecordAdmissionRejection("quota_exceeded")

		return nil, err
	}

	return reservation, nil
}
