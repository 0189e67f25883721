package store

import (
	"context"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mediagrab/mediagrab/internal/logctx"
	"github.com/mediagrab/mediagrab/internal/telemetry"
)

// Reaper periodically evicts expired registry entries and deletes their
// backing files, independently of any request.
type Reaper struct {
	registry  *Registry
	interval  time.Duration
	telemetry *telemetry.Telemetry
}

// NewReaper creates a reaper sweeping registry every interval.
func NewReaper(registry *Registry, interval time.Duration, tel *telemetry.Telemetry) *Reaper {
	return &Reaper{
		registry:  registry,
		interval:  interval,
		telemetry: tel,
	}
}

// Run sweeps on a fixed interval until ctx is done. It blocks; run it in its
// own goroutine.
func (rp *Reaper) Run(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("reaper started", "interval", rp.interval.String())

	ticker := time.NewTicker(rp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("reaper shutting down")

			return
		case <-ticker.C:
			rp.sweep(ctx)
		}
	}
}

// sweep evicts everything past its expiry and removes the backing files.
// A file already gone is benign: the serve path may have deleted it first.
func (rp *Reaper) sweep(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	swept := rp.registry.SweepExpired(time.Now())

	for _, entry := range swept {
		if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
			logger.Error("failed to delete expired file", "filename", entry.Name, "err", err)

			continue
		}

		logger.Info("expired file deleted", "filename", entry.Name, "size", humanize.IBytes(uint64(entry.Size)))
	}

	rp.telemetry.RecordReaperSweep(len(swept))
}
