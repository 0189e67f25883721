package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeDiagnostic(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "keeps last two non-empty lines",
			raw:  "line one\nline two\nline three",
			want: "line two | line three",
		},
		{
			name: "skips blank lines",
			raw:  "first\n\n\nsecond\n\n",
			want: "first | second",
		},
		{
			name: "single line passes through",
			raw:  "ERROR: something odd happened",
			want: "ERROR: something odd happened",
		},
		{
			name: "unsupported URL maps to canned message",
			raw:  "WARNING: falling back\nERROR: Unsupported URL: https://example.com/page",
			want: "The provided URL is not supported.",
		},
		{
			name: "invalid URL maps to canned message",
			raw:  "ERROR: 'example' is not a valid URL",
			want: "The provided URL is not supported.",
		},
		{
			name: "private video maps to canned message",
			raw:  "ERROR: Private video. Sign in if you've been granted access",
			want: "The requested content is unavailable or private.",
		},
		{
			name: "video unavailable maps to canned message",
			raw:  "ERROR: Video unavailable",
			want: "The requested content is unavailable or private.",
		},
		{
			name: "removed content maps to canned message",
			raw:  "ERROR: This video has been removed by the uploader",
			want: "The requested content is unavailable or private.",
		},
		{
			name: "phrases outside the last two lines do not map",
			raw:  "ERROR: Unsupported URL: x\nretrying with generic extractor\ngiving up after 3 attempts",
			want: "retrying with generic extractor | giving up after 3 attempts",
		},
		{
			name: "unix path is redacted",
			raw:  "ERROR: unable to write /srv/media/staging/ab12/media.mp4",
			want: "ERROR: unable to write <redacted>",
		},
		{
			name: "windows path is redacted",
			raw:  `ERROR: unable to open C:\media\cache\tmp.part`,
			want: "ERROR: unable to open <redacted>",
		},
		{
			name: "empty output",
			raw:  "",
			want: "Unknown error.",
		},
		{
			name: "whitespace only output",
			raw:  "  \n\t\n",
			want: "Unknown error.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, SanitizeDiagnostic(tt.raw))
		})
	}
}
