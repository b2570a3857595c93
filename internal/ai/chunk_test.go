package ai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChunkConfig() ChunkConfig {
	return ChunkConfig{
		Threshold:  200,
		TargetSize: 100,
		MaxSize:    150,
		Overlap:    20,
	}
}

func TestSplitReportShortPassthrough(t *testing.T) {
	report := "A short report about 10.0.0.1."

	windows := SplitReport(report, testChunkConfig())

	require.Len(t, windows, 1)
	assert.Equal(t, report, windows[0])
}

func TestSplitReportParagraphBoundaries(t *testing.T) {
	paraA := strings.Repeat("alpha ", 20) // ~120 chars
	paraB := strings.Repeat("bravo ", 20)
	paraC := strings.Repeat("charlie ", 15)
	report := paraA + "\n\n" + paraB + "\n\n" + paraC

	windows := SplitReport(report, testChunkConfig())

	require.Greater(t, len(windows), 1)
	assert.Contains(t, windows[0], "alpha")
	for _, window := range windows {
		assert.LessOrEqual(t, len(window), 200, "window exceeds max plus overlap")
	}
}

func TestSplitReportOverlapCarriesTail(t *testing.T) {
	paraA := strings.Repeat("alpha ", 20) + "endmarker."
	paraB := strings.Repeat("bravo ", 20)
	report := paraA + "\n\n" + paraB

	windows := SplitReport(report, testChunkConfig())

	require.Len(t, windows, 2)
	// The indicator at the boundary shows up in both windows.
	assert.Contains(t, windows[0], "endmarker.")
	assert.Contains(t, windows[1], "endmarker.")
}

func TestSplitReportOversizedParagraphSplitsAtSentences(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteString("This sentence pads out one very long paragraph with filler. ")
	}
	report := strings.TrimSpace(b.String())
	require.Greater(t, len(report), testChunkConfig().MaxSize)

	windows := SplitReport(report, testChunkConfig())

	require.Greater(t, len(windows), 1)
	for _, window := range windows {
		assert.True(t, strings.HasSuffix(strings.TrimSpace(window), "."),
			"windows should end on sentence boundaries: %q", window)
	}
}
