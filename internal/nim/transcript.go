package nim

// transcript is a bounded line ring. Appending beyond capacity evicts the
// oldest lines.
type transcript struct {
	lines []string
	cap   int
}

func newTranscript(capacity int) *transcript {
	if capacity <= 0 {
		capacity = 1
	}
	return &transcript{cap: capacity}
}

func (t *transcript) append(line string) {
	t.lines = append(t.lines, line)
	if overflow := len(t.lines) - t.cap; overflow > 0 {
		t.lines = t.lines[:copy(t.lines, t.lines[overflow:])]
	}
}

func (t *transcript) snapshot() []string {
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}

func (t *transcript) clear() {
	t.lines = t.lines[:0]
}
