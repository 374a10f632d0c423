package llm

import (
	"bytes"
	"strings"
)

// lineBuffer reassembles newline-terminated lines from arbitrary chunks.
// A trailing partial line is held until the next chunk completes it.
type lineBuffer struct {
	pending strings.Builder
}

func (b *lineBuffer) Feed(chunk []byte) []string {
	var lines []string
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			b.pending.Write(chunk)
			break
		}
		b.pending.Write(chunk[:i])
		lines = append(lines, b.pending.String())
		b.pending.Reset()
		chunk = chunk[i+1:]
	}
	return lines
}

func chooseModel(requested, fallback string) string {
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	return fallback
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
