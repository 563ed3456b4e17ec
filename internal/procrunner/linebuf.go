package procrunner

import (
	"bytes"
	"fmt"
	"sync"
	"time"
)

// lineBuffer accumulates combined stdout/stderr into line-oriented
// records, enforcing the truncation policy from §4.1(d): output beyond
// TRUNCATED_OUTPUT_MAX_LINES is truncated with an explicit marker, but
// the truncation always keeps the tail — the last lines are where
// diagnostic signals (a stall, an error) actually show up.
type lineBuffer struct {
	mu sync.Mutex

	maxLines     int
	maxLineLen   int
	partial      bytes.Buffer
	tail         []string // ring buffer of at most maxLines entries
	totalLines   int
	lastActivity time.Time
	now          func() time.Time
}

func newLineBuffer(maxLines, maxLineLen int, now func() time.Time) *lineBuffer {
	if now == nil {
		now = time.Now
	}
	return &lineBuffer{maxLines: maxLines, maxLineLen: maxLineLen, now: now, lastActivity: now()}
}

// Write implements io.Writer. It is safe for concurrent use, though in
// practice only the runner's copy goroutine calls it.
func (b *lineBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastActivity = b.now()
	b.partial.Write(p)

	for {
		data := b.partial.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := string(data[:idx])
		b.partial.Next(idx + 1)
		b.appendLine(line)
	}
	return len(p), nil
}

func (b *lineBuffer) appendLine(line string) {
	if len(line) > b.maxLineLen {
		line = line[:b.maxLineLen] + "...[line truncated]"
	}
	b.totalLines++
	b.tail = append(b.tail, line)
	if len(b.tail) > b.maxLines {
		b.tail = b.tail[1:]
	}
}

// LastActivity reports when the last byte of output was observed.
func (b *lineBuffer) LastActivity() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastActivity
}

// Lines returns the captured output: the tail, prefixed with a marker if
// anything was dropped. Any trailing partial (unterminated) line is
// included as the final entry.
func (b *lineBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	lines := append([]string(nil), b.tail...)
	if b.partial.Len() > 0 {
		lines = append(lines, b.partial.String())
	}
	if b.totalLines > len(b.tail) {
		omitted := b.totalLines - len(b.tail)
		marker := fmt.Sprintf("...[%d earlier lines truncated]...", omitted)
		lines = append([]string{marker}, lines...)
	}
	return lines
}

// ByteLen returns the number of bytes currently retained (the kept tail
// lines plus any trailing partial line, newlines excluded), used to
// populate Record.OutputLen. Lines already evicted from the tail are not
// counted.
func (b *lineBuffer) ByteLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.partial.Len()
	for _, l := range b.tail {
		n += len(l)
	}
	return n
}
