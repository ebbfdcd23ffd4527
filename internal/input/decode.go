// Package input implements the modal input contract: a byte-stream decoder
// for encoded key, paste and pointer sequences, and a family of pure
// reducers, one per overlay kind.
package input

import (
	"bytes"
	"strconv"
	"strings"
)

// TokenKind discriminates decoded input tokens.
type TokenKind int

const (
	TokenByte TokenKind = iota
	TokenPaste
	TokenPointer
)

// Token is one decoded unit of input. Encoded key sequences (kitty,
// modifyOtherKeys) are decoded back to a single byte; bracketed paste
// arrives as literal text; SGR pointer reports arrive parsed.
type Token struct {
	Kind    TokenKind
	Byte    byte
	Paste   string
	Pointer Pointer
}

// Pointer is one parsed SGR pointer report.
type Pointer struct {
	Col    int
	Row    int
	Press  bool
	Button int
	Shift  bool
	Alt    bool
	Ctrl   bool
}

var pasteEnd = []byte{0x1b, '[', '2', '0', '1', '~'}

// Decoder turns raw terminal bytes into tokens. It carries partial escape
// sequences and open pastes across Feed calls; unknown escape sequences are
// dropped.
type Decoder struct {
	buf     []byte
	inPaste bool
	paste   []byte
}

// Feed consumes data and returns the tokens completed by it.
func (d *Decoder) Feed(data []byte) []Token {
	d.buf = append(d.buf, data...)
	var toks []Token

	for len(d.buf) > 0 {
		if d.inPaste {
			idx := bytes.Index(d.buf, pasteEnd)
			if idx < 0 {
				keep := partialSuffix(d.buf, pasteEnd)
				d.paste = append(d.paste, d.buf[:len(d.buf)-keep]...)
				d.buf = append(d.buf[:0], d.buf[len(d.buf)-keep:]...)
				return toks
			}
			d.paste = append(d.paste, d.buf[:idx]...)
			d.buf = d.buf[idx+len(pasteEnd):]
			toks = append(toks, Token{Kind: TokenPaste, Paste: string(d.paste)})
			d.paste = nil
			d.inPaste = false
			continue
		}

		if d.buf[0] != 0x1b {
			toks = append(toks, Token{Kind: TokenByte, Byte: d.buf[0]})
			d.buf = d.buf[1:]
			continue
		}

		seq, n, complete := scanEscape(d.buf)
		if !complete {
			return toks
		}
		d.buf = d.buf[n:]
		if tok, ok := d.decodeCSI(seq); ok {
			toks = append(toks, tok)
		}
	}
	return toks
}

// scanEscape inspects an ESC-led prefix. For CSI sequences it returns the
// body (parameters plus final byte) once the final byte has arrived; other
// escapes are consumed and reported as empty.
func scanEscape(buf []byte) (seq string, n int, complete bool) {
	if len(buf) < 2 {
		return "", 0, false
	}
	if buf[1] != '[' {
		// Alt-prefixed byte or a bare escape; not part of this contract.
		return "", 2, true
	}
	for i := 2; i < len(buf); i++ {
		if buf[i] >= 0x40 && buf[i] <= 0x7e {
			return string(buf[2 : i+1]), i + 1, true
		}
	}
	return "", 0, false
}

// decodeCSI maps one CSI body to a token. Bracketed-paste start flips the
// decoder into paste mode instead of producing a token.
func (d *Decoder) decodeCSI(seq string) (Token, bool) {
	if seq == "" {
		return Token{}, false
	}
	final := seq[len(seq)-1]
	params := seq[:len(seq)-1]

	switch final {
	case 'u':
		// kitty: CSI <code>[;mods] u
		fields := strings.Split(params, ";")
		if code, err := strconv.Atoi(fields[0]); err == nil && code >= 0 && code <= 255 {
			return Token{Kind: TokenByte, Byte: byte(code)}, true
		}
	case '~':
		fields := strings.Split(params, ";")
		switch {
		case fields[0] == "200":
			d.inPaste = true
		case fields[0] == "201":
			// Stray terminator with no open paste.
		case fields[0] == "27" && len(fields) >= 3:
			// modifyOtherKeys: CSI 27;<mods>;<code> ~
			if code, err := strconv.Atoi(fields[2]); err == nil && code >= 0 && code <= 255 {
				return Token{Kind: TokenByte, Byte: byte(code)}, true
			}
		}
	case 'M', 'm':
		if strings.HasPrefix(params, "<") {
			if p, ok := parseSGRPointer(params[1:], final == 'M'); ok {
				return Token{Kind: TokenPointer, Pointer: p}, true
			}
		}
	}
	return Token{}, false
}

// parseSGRPointer parses "<b;col;row" already stripped of its leading '<'.
func parseSGRPointer(params string, press bool) (Pointer, bool) {
	fields := strings.Split(params, ";")
	if len(fields) != 3 {
		return Pointer{}, false
	}
	b, err1 := strconv.Atoi(fields[0])
	col, err2 := strconv.Atoi(fields[1])
	row, err3 := strconv.Atoi(fields[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return Pointer{}, false
	}
	return Pointer{
		Col:    col,
		Row:    row,
		Press:  press,
		Button: b & 3,
		Shift:  b&4 != 0,
		Alt:    b&8 != 0,
		Ctrl:   b&16 != 0,
	}, true
}

// partialSuffix reports how many trailing bytes of buf are a proper prefix
// of pattern, so a paste terminator split across reads is not swallowed.
func partialSuffix(buf, pattern []byte) int {
	max := len(pattern) - 1
	if max > len(buf) {
		max = len(buf)
	}
	for n := max; n > 0; n-- {
		if bytes.Equal(buf[len(buf)-n:], pattern[:n]) {
			return n
		}
	}
	return 0
}
