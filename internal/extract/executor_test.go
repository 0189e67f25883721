package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// toolPreamble parses the executor's command line the way the real tool
// would, leaving $dir pointing at the per-job staging directory.
const toolPreamble = `#!/bin/sh
tpl=""
while [ "$#" -gt 0 ]; do
	case "$1" in
	-o) tpl="$2"; shift 2 ;;
	*) shift ;;
	esac
done
dir=$(dirname "$tpl")
`

func writeTool(t *testing.T, script string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fake-ytdlp")
	require.NoError(t, os.WriteFile(path, []byte(toolPreamble+script), 0o755))

	return path
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "staging root should hold no leftovers")
}

func TestExecutorRun_Success(t *testing.T) {
	tool := writeTool(t, `printf 'fake video data' > "$dir/media.mp4"
exit 0
`)
	stagingRoot := filepath.Join(t.TempDir(), "staging")
	ex := NewExecutor(tool, stagingRoot, 1<<30, 30*time.Second, 2)

	res, err := ex.Run(context.Background(), Job{URL: "https://www.youtube.com/watch?v=abc", Service: ServiceYouTube})
	require.NoError(t, err)

	require.Equal(t, ".mp4", res.Ext)
	require.Equal(t, int64(len("fake video data")), res.Size)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	require.Equal(t, "fake video data", string(data))

	select {
	case ev := <-ex.OnDownloadFinished:
		require.Equal(t, ServiceYouTube, ev.Service)
		require.Equal(t, res.Size, ev.Size)
	default:
		t.Fatal("expected a finished event")
	}

	require.NoError(t, res.Cleanup())
	requireEmptyDir(t, stagingRoot)
}

func TestExecutorRun_ToolMissing(t *testing.T) {
	ex := NewExecutor("definitely-not-a-real-tool-xyz", t.TempDir(), 1<<30, time.Second, 1)

	_, err := ex.Run(context.Background(), Job{URL: "https://example.com/v", Service: ServiceGeneric})

	var toolErr *ToolUnavailableError
	require.True(t, errors.As(err, &toolErr), "expected ToolUnavailableError, got %T", err)
	require.Equal(t, "definitely-not-a-real-tool-xyz", toolErr.Tool)
}

func TestExecutorRun_ToolNotExecutable(t *testing.T) {
	// Resolvable and mode 0755, but nothing the kernel can run: no shebang
	// and no valid executable image. A broken install looks like this.
	tool := filepath.Join(t.TempDir(), "broken-ytdlp")
	require.NoError(t, os.WriteFile(tool, []byte{0x7f, 0x00, 0x01, 0x02}, 0o755))

	stagingRoot := filepath.Join(t.TempDir(), "staging")
	ex := NewExecutor(tool, stagingRoot, 1<<30, 30*time.Second, 1)

	_, err := ex.Run(context.Background(), Job{URL: "https://example.com/v", Service: ServiceGeneric})

	var toolErr *ToolUnavailableError
	require.True(t, errors.As(err, &toolErr), "expected ToolUnavailableError, got %T", err)
	require.Equal(t, tool, toolErr.Tool)

	requireEmptyDir(t, stagingRoot)
}

func TestExecutorRun_ContentFailure(t *testing.T) {
	tests := []struct {
		name           string
		script         string
		wantDiagnostic string
	}{
		{
			name: "private video",
			script: `echo "ERROR: Private video. Sign in if you have been granted access" >&2
exit 1
`,
			wantDiagnostic: "The requested content is unavailable or private.",
		},
		{
			name: "unsupported URL",
			script: `echo "ERROR: Unsupported URL: https://example.com/x" >&2
exit 1
`,
			wantDiagnostic: "The provided URL is not supported.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stagingRoot := filepath.Join(t.TempDir(), "staging")
			ex := NewExecutor(writeTool(t, tt.script), stagingRoot, 1<<30, 30*time.Second, 1)

			_, err := ex.Run(context.Background(), Job{URL: "https://example.com/x", Service: ServiceGeneric})

			var exErr *ExtractionError
			require.True(t, errors.As(err, &exErr), "expected ExtractionError, got %T", err)
			require.Equal(t, tt.wantDiagnostic, exErr.Diagnostic)
			require.Equal(t, ServiceGeneric, exErr.Service)
			require.NotEmpty(t, exErr.Stderr)

			requireEmptyDir(t, stagingRoot)

			select {
			case ev := <-ex.OnDownloadFailed:
				require.Equal(t, "https://example.com/x", ev.URL)
			default:
				t.Fatal("expected a failed event")
			}
		})
	}
}

func TestExecutorRun_SkippedOversizeFile(t *testing.T) {
	// The tool skips files over --max-filesize and still exits zero; the
	// phrase on stdout is the only evidence.
	tool := writeTool(t, `echo "WARNING: File is larger than max-filesize"
exit 0
`)
	stagingRoot := filepath.Join(t.TempDir(), "staging")
	ex := NewExecutor(tool, stagingRoot, 1024, 30*time.Second, 1)

	_, err := ex.Run(context.Background(), Job{URL: "https://example.com/big", Service: ServiceGeneric})

	var largeErr *TooLargeError
	require.True(t, errors.As(err, &largeErr), "expected TooLargeError, got %T", err)
	require.Zero(t, largeErr.Size)
	require.Equal(t, int64(1024), largeErr.Limit)

	requireEmptyDir(t, stagingRoot)
}

func TestExecutorRun_OversizeOnDisk(t *testing.T) {
	tool := writeTool(t, `printf 'xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx' > "$dir/media.mp4"
exit 0
`)
	stagingRoot := filepath.Join(t.TempDir(), "staging")
	ex := NewExecutor(tool, stagingRoot, 16, 30*time.Second, 1)

	_, err := ex.Run(context.Background(), Job{URL: "https://example.com/big", Service: ServiceGeneric})

	var largeErr *TooLargeError
	require.True(t, errors.As(err, &largeErr), "expected TooLargeError, got %T", err)
	require.Equal(t, int64(32), largeErr.Size)

	requireEmptyDir(t, stagingRoot)
}

func TestExecutorRun_UnexpectedOutputs(t *testing.T) {
	tests := []struct {
		name           string
		script         string
		wantDiagnostic string
	}{
		{
			name:           "no output file",
			script:         "exit 0\n",
			wantDiagnostic: "The download produced no output file.",
		},
		{
			name: "multiple output files",
			script: `printf 'a' > "$dir/media.mp4"
printf 'b' > "$dir/media.mp3"
exit 0
`,
			wantDiagnostic: "The download produced multiple output files.",
		},
		{
			name: "disallowed extension",
			script: `printf 'x' > "$dir/media.txt"
exit 0
`,
			wantDiagnostic: "The download produced an unsupported file type (.txt).",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stagingRoot := filepath.Join(t.TempDir(), "staging")
			ex := NewExecutor(writeTool(t, tt.script), stagingRoot, 1<<30, 30*time.Second, 1)

			_, err := ex.Run(context.Background(), Job{URL: "https://example.com/x", Service: ServiceGeneric})

			var exErr *ExtractionError
			require.True(t, errors.As(err, &exErr), "expected ExtractionError, got %T", err)
			require.Equal(t, tt.wantDiagnostic, exErr.Diagnostic)

			requireEmptyDir(t, stagingRoot)
		})
	}
}

func TestExecutorRun_Timeout(t *testing.T) {
	tool := writeTool(t, "sleep 5\n")
	stagingRoot := filepath.Join(t.TempDir(), "staging")
	ex := NewExecutor(tool, stagingRoot, 1<<30, 100*time.Millisecond, 1)

	start := time.Now()
	_, err := ex.Run(context.Background(), Job{URL: "https://example.com/slow", Service: ServiceGeneric})

	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr), "expected TimeoutError, got %T", err)
	require.Equal(t, 100*time.Millisecond, timeoutErr.Timeout)
	require.Less(t, time.Since(start), 3*time.Second, "the subprocess should be killed at the deadline")

	requireEmptyDir(t, stagingRoot)
}

func TestExecutorRun_SlotWaitAndCancel(t *testing.T) {
	sentinel := filepath.Join(t.TempDir(), "started")
	t.Setenv("SENTINEL", sentinel)

	tool := writeTool(t, `touch "$SENTINEL"
sleep 5
`)
	stagingRoot := filepath.Join(t.TempDir(), "staging")
	ex := NewExecutor(tool, stagingRoot, 1<<30, 30*time.Second, 1)

	holderCtx, cancelHolder := context.WithCancel(context.Background())
	defer cancelHolder()

	done := make(chan error, 1)

	go func() {
		_, err := ex.Run(holderCtx, Job{URL: "https://example.com/hold", Service: ServiceGeneric})
		done <- err
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(sentinel)

		return err == nil
	}, 5*time.Second, 10*time.Millisecond, "the holder job should start")

	waitCtx, cancelWait := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelWait()

	_, err := ex.Run(waitCtx, Job{URL: "https://example.com/queued", Service: ServiceGeneric})
	require.ErrorContains(t, err, "waiting for download slot")

	cancelHolder()

	err = <-done
	require.ErrorIs(t, err, context.Canceled)

	requireEmptyDir(t, stagingRoot)
}
