package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mediagrab/mediagrab/internal/logctx"
	"github.com/mediagrab/mediagrab/internal/store"
)

const (
	dirPerm = 0o755

	// outputTemplate keeps tool output names predictable inside the per-job
	// staging directory; the final opaque name is assigned at registration.
	outputTemplate = "media.%(ext)s"

	// maxFilesizeSkipPhrase is what the tool prints when it refuses a file
	// over the --max-filesize ceiling. It exits zero in that case, so the
	// phrase is the only signal.
	maxFilesizeSkipPhrase = "File is larger than max-filesize"

	eventBuffer = 16
)

// FinishedEvent reports a download that staged an artifact.
type FinishedEvent struct {
	URL     string
	Service Service
	Size    int64
}

// FailedEvent reports a download attempt that ended in a terminal error.
type FailedEvent struct {
	URL     string
	Service Service
	Reason  string
}

// Job is one admitted download request, alive for a single
// admission+execution cycle.
type Job struct {
	URL     string
	Service Service
}

// Result is a successfully staged artifact. The file stays inside the
// per-job staging directory until the caller moves it out; Cleanup removes
// whatever remains of that directory.
type Result struct {
	Path string // Absolute path of the staged file
	Ext  string // Lowercased extension including the dot
	Size int64  // Bytes on disk

	stageDir string
}

// Cleanup removes the per-job staging directory. After the staged file has
// been moved out this only drops an empty directory; on any abandoned result
// it removes the artifact too.
func (r *Result) Cleanup() error {
	return os.RemoveAll(r.stageDir)
}

// Runner executes one download job. The REST layer depends on this rather
// than the concrete executor so tests can stub job behavior.
type Runner interface {
	Run(ctx context.Context, job Job) (*Result, error)
}

// Executor invokes the external download tool as a bounded subprocess: a
// wall-clock timeout, a file-size ceiling, a parallelism cap, and output
// confined to a per-job staging directory.
type Executor struct {
	toolPath    string
	stagingRoot string
	maxBytes    int64
	timeout     time.Duration
	sem         chan struct{}

	OnDownloadFinished chan FinishedEvent
	OnDownloadFailed   chan FailedEvent
}

// NewExecutor creates an executor. toolPath may be a bare command name
// (resolved via PATH on every run) or an explicit path.
func NewExecutor(toolPath, stagingRoot string, maxBytes int64, timeout time.Duration, maxParallel int) *Executor {
	if maxParallel < 1 {
		maxParallel = 1
	}

	return &Executor{
		toolPath:           toolPath,
		stagingRoot:        stagingRoot,
		maxBytes:           maxBytes,
		timeout:            timeout,
		sem:                make(chan struct{}, maxParallel),
		OnDownloadFinished: make(chan FinishedEvent, eventBuffer),
		OnDownloadFailed:   make(chan FailedEvent, eventBuffer),
	}
}

// Run executes one job and returns the staged artifact. Every failure path
// removes the staging directory before returning; on success the caller owns
// Result.Cleanup.
func (e *Executor) Run(ctx context.Context, job Job) (*Result, error) {
	res, err := e.run(ctx, job)

	// Event channels are an optional tap; when nobody subscribed the
	// buffer fills and further events are dropped rather than blocking
	// the job. Canceled jobs are not worth a notification.
	switch {
	case err == nil:
		select {
		case e.OnDownloadFinished <- FinishedEvent{URL: job.URL, Service: job.Service, Size: res.Size}:
		default:
		}
	case ctx.Err() == nil:
		select {
		case e.OnDownloadFailed <- FailedEvent{URL: job.URL, Service: job.Service, Reason: err.Error()}:
		default:
		}
	}

	return res, err
}

func (e *Executor) run(ctx context.Context, job Job) (*Result, error) {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }() // release the slot
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for download slot: %w", ctx.Err())
	}

	logger := logctx.LoggerFromContext(ctx).With("service", string(job.Service))

	tool, err := exec.LookPath(e.toolPath)
	if err != nil {
		return nil, &ToolUnavailableError{Tool: e.toolPath, Err: err}
	}

	stageDir := filepath.Join(e.stagingRoot, uuid.NewString())
	if err := os.MkdirAll(stageDir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := []string{
		"--no-playlist",
		"--no-warnings",
		"--no-progress",
		"--max-filesize", strconv.FormatInt(e.maxBytes, 10),
		"-o", filepath.Join(stageDir, outputTemplate),
		job.URL,
	}

	cmd := exec.CommandContext(runCtx, tool, args...)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// The tool spawns helpers (ffmpeg); run the job in its own process group
	// so cancellation kills the whole tree, not just the parent.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}

		return err
	}

	logger.Info("starting download", "url", job.URL)

	runErr := cmd.Run()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		logger.Warn("download timed out", "url", job.URL, "timeout", e.timeout.String())
		e.removeStaging(ctx, stageDir)

		return nil, &TimeoutError{URL: job.URL, Timeout: e.timeout, Err: runCtx.Err()}
	}

	combined := stdout.String() + "\n" + stderr.String()

	if runErr != nil {
		if ctx.Err() != nil {
			e.removeStaging(ctx, stageDir)

			return nil, fmt.Errorf("download canceled: %w", ctx.Err())
		}

		// An error with no exit status means the tool never started
		// (exec format error, permission denied).
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			logger.Error("tool failed to start", "err", runErr)
			e.removeStaging(ctx, stageDir)

			return nil, &ToolUnavailableError{Tool: e.toolPath, Err: runErr}
		}

		raw := stderr.String()
		if strings.TrimSpace(raw) == "" {
			raw = stdout.String()
		}

		logger.Warn("tool exited with error", "url", job.URL, "err", runErr, "stderr", raw)
		e.removeStaging(ctx, stageDir)

		if strings.Contains(combined, maxFilesizeSkipPhrase) {
			return nil, &TooLargeError{URL: job.URL, Limit: e.maxBytes}
		}

		return nil, &ExtractionError{URL: job.URL, Service: job.Service, Diagnostic: SanitizeDiagnostic(raw), Stderr: raw, Err: runErr}
	}

	dirEntries, err := os.ReadDir(stageDir)
	if err != nil {
		e.removeStaging(ctx, stageDir)

		return nil, fmt.Errorf("failed to read staging directory: %w", err)
	}

	var outputs []os.DirEntry

	for _, ent := range dirEntries {
		if ent.Type().IsRegular() {
			outputs = append(outputs, ent)
		}
	}

	switch {
	case len(outputs) == 0:
		e.removeStaging(ctx, stageDir)

		if strings.Contains(combined, maxFilesizeSkipPhrase) {
			return nil, &TooLargeError{URL: job.URL, Limit: e.maxBytes}
		}

		return nil, &ExtractionError{URL: job.URL, Service: job.Service, Diagnostic: "The download produced no output file.", Stderr: stderr.String()}
	case len(outputs) > 1:
		e.removeStaging(ctx, stageDir)

		return nil, &ExtractionError{URL: job.URL, Service: job.Service, Diagnostic: "The download produced multiple output files.", Stderr: stderr.String()}
	}

	name := outputs[0].Name()
	ext := strings.ToLower(filepath.Ext(name))

	if !store.AllowedExtension(ext) {
		e.removeStaging(ctx, stageDir)

		return nil, &ExtractionError{URL: job.URL, Service: job.Service, Diagnostic: fmt.Sprintf("The download produced an unsupported file type (%s).", ext)}
	}

	stagedPath := filepath.Join(stageDir, name)

	info, err := os.Stat(stagedPath)
	if err != nil {
		e.removeStaging(ctx, stageDir)

		return nil, fmt.Errorf("failed to stat staged file: %w", err)
	}

	// The ceiling argument should already have stopped oversized output;
	// re-check the bytes that actually landed on disk.
	if info.Size() > e.maxBytes {
		e.removeStaging(ctx, stageDir)

		return nil, &TooLargeError{URL: job.URL, Size: info.Size(), Limit: e.maxBytes}
	}

	logger.Info("download staged", "url", job.URL, "ext", ext, "size", humanize.IBytes(uint64(info.Size())))

	return &Result{
		Path:     stagedPath,
		Ext:      ext,
		Size:     info.Size(),
		stageDir: stageDir,
	}, nil
}

func (e *Executor) removeStaging(ctx context.Context, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to remove staging directory", "err", err)
	}
}
