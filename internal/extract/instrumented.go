package extract

import (
	"context"
	"errors"
	"time"

	"github.com/mediagrab/mediagrab/internal/telemetry"
)

// InstrumentedRunner wraps a Runner with telemetry.
type InstrumentedRunner struct {
	next      Runner
	telemetry *telemetry.Telemetry
}

// NewInstrumentedRunner creates a new instrumented runner.
func NewInstrumentedRunner(next Runner, tel *telemetry.Telemetry) *InstrumentedRunner {
	return &InstrumentedRunner{
		next:      next,
		telemetry: tel,
	}
}

// Run executes the job with an in-flight gauge, a span, and per-service
// outcome metrics.
func (e *InstrumentedRunner) Run(ctx context.Context, job Job) (*Result, error) {
	e.telemetry.IncrementActiveJobs()
	defer e.telemetry.DecrementActiveJobs()

	start := time.Now()

	var result *Result

	var err error

	instrumentedErr := e.telemetry.InstrumentOperation(ctx, "download_job", "executor", func(ctx context.Context) error {
		result, err = e.next.Run(ctx, job)

		return err
	})

	e.telemetry.RecordDownload(string(job.Service), outcomeOf(instrumentedErr), time.Since(start))

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// outcomeOf maps an executor error to a bounded outcome label.
func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}

	var (
		toolErr    *ToolUnavailableError
		timeoutErr *TimeoutError
		largeErr   *TooLargeError
		extractErr *ExtractionError
	)

	switch {
	case errors.As(err, &toolErr):
		return "tool_unavailable"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &largeErr):
		return "too_large"
	case errors.As(err, &extractErr):
		return "extraction_failed"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal_error"
	}
}
