package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slade66/media-fetcher/internal/fault"
	"github.com/Slade66/media-fetcher/internal/media"
)

const probeJSON = `{
  "title": "Demo clip",
  "uploader": "someone",
  "duration": 61.4,
  "thumbnail": "https://i.example.com/t.jpg",
  "formats": [
    {"format_id": "sb0", "ext": "mhtml", "vcodec": "none", "acodec": "none"},
    {"format_id": "140", "ext": "m4a", "vcodec": "none", "acodec": "mp4a.40.2", "abr": 129.5, "filesize": 1000},
    {"format_id": "137", "ext": "mp4", "height": 1080, "vcodec": "avc1", "acodec": "none", "tbr": 4000, "filesize_approx": 50000}
  ]
}`

type fakeRunner struct {
	args   []string
	stdout string
	stderr string
	err    error
	files  map[string]string
}

func (f *fakeRunner) run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error {
	f.args = args
	io.WriteString(stdout, f.stdout)
	io.WriteString(stderr, f.stderr)
	for path, content := range f.files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return f.err
}

func TestProbeParsesFormats(t *testing.T) {
	fr := &fakeRunner{stdout: probeJSON}
	b := New(Options{Runner: fr.run})

	md, err := b.Probe(context.Background(), "https://example.com/watch?v=1", media.ClientConfig{
		UserAgent: "ua-1",
		ProxyURL:  "http://proxy:8080",
	})
	require.NoError(t, err)

	assert.Equal(t, "Demo clip", md.Title)
	assert.Equal(t, 61, md.DurationSeconds)
	require.Len(t, md.Formats, 2)
	assert.Equal(t, media.FormatDescriptor{ID: "140", Ext: "m4a", HasAudio: true, AudioBitrate: 129.5, Filesize: 1000}, md.Formats[0])
	assert.True(t, md.Formats[1].HasVideo)
	assert.False(t, md.Formats[1].HasAudio)
	assert.Equal(t, int64(50000), md.Formats[1].Filesize)

	assert.Contains(t, fr.args, "-J")
	assert.Contains(t, fr.args, "ua-1")
	assert.Contains(t, fr.args, "http://proxy:8080")
	assert.Equal(t, "https://example.com/watch?v=1", fr.args[len(fr.args)-1])
}

func TestProbeClassifiesErrors(t *testing.T) {
	cases := map[string]fault.Kind{
		"ERROR: [youtube] abc: HTTP Error 429: Too Many Requests":           fault.KindBlocked,
		"ERROR: Sign in to confirm you're not a bot":                        fault.KindBlocked,
		"ERROR: [generic] Unsupported URL: https://example.com":             fault.KindUnsupported,
		"ERROR: [youtube] abc: Video unavailable":                           fault.KindSourceNotFound,
		"ERROR: unable to download webpage: HTTP Error 404: Not Found":      fault.KindSourceNotFound,
		"ERROR: Unable to download webpage: The read operation timed out":   fault.KindTimeout,
		"ERROR: unable to download video data: HTTP Error 503: Unavailable": fault.KindBlocked,
	}
	for stderr, kind := range cases {
		fr := &fakeRunner{stderr: stderr, err: errors.New("exit status 1")}
		_, err := New(Options{Runner: fr.run}).Probe(context.Background(), "https://example.com", media.ClientConfig{})
		assert.Equal(t, kind, fault.KindOf(err), stderr)
	}
}

func TestProbeMissingBinary(t *testing.T) {
	fr := &fakeRunner{err: fmt.Errorf("exec: %w", exec.ErrNotFound)}
	_, err := New(Options{Runner: fr.run}).Probe(context.Background(), "https://example.com", media.ClientConfig{})
	assert.Equal(t, fault.KindInternal, fault.KindOf(err))
}

func TestFetchFindsOutputAndReportsProgress(t *testing.T) {
	dir := t.TempDir()
	fr := &fakeRunner{
		stdout: "[download]   12.5% of 10.00MiB at 1.00MiB/s ETA 00:08\n[download] 100.0% of 10.00MiB\n",
		files: map[string]string{
			filepath.Join(dir, "source.mp4"):      "video-bytes",
			filepath.Join(dir, "source.mp4.part"): "",
			filepath.Join(dir, "source.webp"):     "thumb",
		},
	}
	b := New(Options{Runner: fr.run, MaxFileSize: 2048})

	var progress []float64
	res, err := b.Fetch(context.Background(), media.FetchRequest{
		URL:       "https://example.com/watch?v=1",
		Directive: media.Directive{Selector: "bestvideo[height<=720]+bestaudio/best", Container: "mp4"},
		WorkDir:   dir,
		Progress:  func(p float64) { progress = append(progress, p) },
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "source.mp4"), res.Path)
	assert.Equal(t, int64(len("video-bytes")), res.Bytes)
	assert.Equal(t, []float64{12.5, 100}, progress)
	assert.Contains(t, fr.args, "--merge-output-format")
	assert.Contains(t, fr.args, "bestvideo[height<=720]+bestaudio/best")
	assert.Contains(t, fr.args, "2048")
}

func TestFetchMaxFileSizeExceeded(t *testing.T) {
	fr := &fakeRunner{stdout: "[download] File is larger than max-filesize (5000 bytes > 2048 bytes). Aborting.\n"}
	_, err := New(Options{Runner: fr.run, MaxFileSize: 2048}).Fetch(context.Background(), media.FetchRequest{
		URL:     "https://example.com/watch?v=1",
		WorkDir: t.TempDir(),
	})
	assert.Equal(t, fault.KindStorage, fault.KindOf(err))
}

func TestCookiesPassedWhenPresent(t *testing.T) {
	cookies := filepath.Join(t.TempDir(), "cookies.txt")
	require.NoError(t, os.WriteFile(cookies, []byte("# Netscape HTTP Cookie File"), 0o600))

	b := New(Options{CookiesFile: cookies})
	assert.Contains(t, b.commonArgs(media.ClientConfig{}), cookies)

	missing := New(Options{CookiesFile: filepath.Join(t.TempDir(), "nope.txt")})
	assert.NotContains(t, missing.commonArgs(media.ClientConfig{}), "--cookies")
}

func TestLineWriterSplitsChunks(t *testing.T) {
	var lines []string
	w := &lineWriter{fn: func(l string) { lines = append(lines, l) }}
	w.Write([]byte("a\r\nb"))
	w.Write([]byte("c\nd"))
	w.Flush()
	assert.Equal(t, []string{"a", "bc", "d"}, lines)
}
