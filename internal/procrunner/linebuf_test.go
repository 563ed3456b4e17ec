package procrunner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLineBufferSplitsOnNewlines(t *testing.T) {
	buf := newLineBuffer(100, 200, nil)
	_, err := buf.Write([]byte("alpha\nbeta\ngam"))
	require.NoError(t, err)
	_, err = buf.Write([]byte("ma\n"))
	require.NoError(t, err)

	require.Equal(t, []string{"alpha", "beta", "gamma"}, buf.Lines())
}

func TestLineBufferKeepsTrailingPartialLine(t *testing.T) {
	buf := newLineBuffer(100, 200, nil)
	_, _ = buf.Write([]byte("complete\nincomplete"))

	require.Equal(t, []string{"complete", "incomplete"}, buf.Lines())
}

func TestLineBufferTruncatesToTailWithMarker(t *testing.T) {
	buf := newLineBuffer(2, 200, nil)
	for i := 0; i < 5; i++ {
		_, _ = buf.Write([]byte("line\n"))
	}

	lines := buf.Lines()
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], "3 earlier lines truncated")
	require.Equal(t, []string{"line", "line"}, lines[1:])
}

func TestLineBufferTruncatesLongLines(t *testing.T) {
	buf := newLineBuffer(10, 5, nil)
	_, _ = buf.Write([]byte("abcdefghij\n"))

	lines := buf.Lines()
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "abcde")
	require.Contains(t, lines[0], "truncated")
}

func TestLineBufferTracksLastActivity(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	buf := newLineBuffer(10, 100, func() time.Time { return now })

	_, _ = buf.Write([]byte("x\n"))
	require.Equal(t, now, buf.LastActivity())

	now = now.Add(5 * time.Second)
	_, _ = buf.Write([]byte("y\n"))
	require.Equal(t, now, buf.LastActivity())
}

func TestLineBufferByteLenCountsRetainedTailOnly(t *testing.T) {
	buf := newLineBuffer(1, 100, nil)
	_, _ = buf.Write([]byte("aaa\nbb\n"))

	require.Equal(t, 2, buf.ByteLen(), "only the retained tail line contributes once earlier lines are evicted")
}
