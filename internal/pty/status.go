package pty

import (
	"strings"

	"github.com/jmoyers/harness-sub014/internal/record"
)

// Status heuristics over recent PTY output. The phase is recomputed on every
// output chunk from the visible text of that chunk; the idle transition is
// driven by a quiet timer in the session. Heuristics are best-effort hints
// for the UI, never load-bearing state.

var needsInputMarkers = []string{
	"[y/n]",
	"(y/n)",
	"[y/n/a]",
	"press enter",
	"password:",
	"passphrase",
	"continue?",
	"proceed?",
	"do you want",
	"would you like",
}

var thinkingMarkers = []string{
	"thinking",
	"esc to interrupt",
	"pondering",
	"reasoning",
}

// deriveStatus classifies one output chunk. prev is returned unchanged when
// the chunk has no visible text, so ANSI-only repaints do not flap the phase.
func deriveStatus(chunk []byte, prev record.StatusModel) record.StatusModel {
	text := strings.TrimSpace(stripANSI(chunk))
	if text == "" {
		return prev
	}
	lower := strings.ToLower(text)

	for _, marker := range needsInputMarkers {
		if strings.Contains(lower, marker) {
			reason := lastLine(text)
			return record.StatusModel{Phase: record.PhaseNeedsInput, AttentionReason: &reason}
		}
	}
	for _, marker := range thinkingMarkers {
		if strings.Contains(lower, marker) {
			hint := lastLine(text)
			return record.StatusModel{Phase: record.PhaseThinking, ActivityHint: &hint}
		}
	}

	hint := lastLine(text)
	return record.StatusModel{Phase: record.PhaseWorking, ActivityHint: &hint}
}

// lastLine returns the final non-empty line of text, truncated for display.
func lastLine(text string) string {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		const maxHint = 80
		if len(line) > maxHint {
			line = line[:maxHint]
		}
		return line
	}
	return ""
}

// StripANSI removes CSI/OSC escape sequences and control bytes, keeping the
// printable text a human would see.
func StripANSI(data []byte) string {
	return stripANSI(data)
}

func stripANSI(data []byte) string {
	var out strings.Builder
	for i := 0; i < len(data); i++ {
		c := data[i]
		if c == 0x1b {
			if i+1 >= len(data) {
				break
			}
			switch data[i+1] {
			case '[': // CSI: parameters then a final byte in 0x40-0x7e
				i += 2
				for i < len(data) && (data[i] < 0x40 || data[i] > 0x7e) {
					i++
				}
			case ']': // OSC: terminated by BEL or ST
				i += 2
				for i < len(data) {
					if data[i] == 0x07 {
						break
					}
					if data[i] == 0x1b && i+1 < len(data) && data[i+1] == '\\' {
						i++
						break
					}
					i++
				}
			default:
				i++ // two-byte escape
			}
			continue
		}
		if c == '\n' || c == '\t' || (c >= 0x20 && c < 0x7f) {
			out.WriteByte(c)
		}
	}
	return out.String()
}

func statusEqual(a, b record.StatusModel) bool {
	if a.Phase != b.Phase {
		return false
	}
	return strPtrEqual(a.ActivityHint, b.ActivityHint) &&
		strPtrEqual(a.AttentionReason, b.AttentionReason)
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
