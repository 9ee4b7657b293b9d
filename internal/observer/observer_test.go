package observer

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressReaderReportsPercent(t *testing.T) {
	var got []float64
	pr := NewProgressReader(strings.NewReader("0123456789"), 10, func(p float64) {
		got = append(got, p)
	})

	buf := make([]byte, 5)
	_, err := io.ReadFull(pr, buf)
	require.NoError(t, err)
	_, err = io.ReadFull(pr, buf)
	require.NoError(t, err)

	assert.Equal(t, []float64{50, 100}, got)
	assert.Equal(t, int64(10), pr.BytesRead())
}

func TestProgressReaderUnknownTotal(t *testing.T) {
	called := false
	pr := NewProgressReader(strings.NewReader("abc"), -1, func(float64) { called = true })
	_, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, int64(3), pr.BytesRead())
}

func TestProgressBarIgnoresOtherJobsAndRegressions(t *testing.T) {
	var out bytes.Buffer
	bar := NewProgressBarObserver("job-1")
	bar.SetOutput(&out)

	bar.Update("job-2", 40)
	assert.Empty(t, out.String())

	bar.Update("job-1", 60)
	bar.Update("job-1", 30)
	assert.Equal(t, 1, strings.Count(out.String(), "\r"))
	assert.Contains(t, out.String(), "60.00%")

	bar.Update("job-1", 100)
	assert.True(t, strings.HasSuffix(out.String(), "\n"))
}
