package input

// Field is the shared editable-text state with an optional round-robin
// choice. Reducers embed it by value; reduction returns the next value, so
// callers keep prior states intact.
type Field struct {
	Text    string
	Choice  int
	Choices int
	// SpaceAdvances makes 0x20 advance the choice instead of typing a
	// space. Choosers set it; free-text fields leave it off.
	SpaceAdvances bool
}

// Reduce applies one byte: 0x0D/0x0A submit, 0x09 (and 0x20 for choosers)
// advances the choice, 0x7F/0x08 delete, printable bytes append. Everything
// else is ignored.
func (f Field) Reduce(b byte) (Field, bool) {
	switch {
	case b == 0x0d || b == 0x0a:
		return f, true
	case b == 0x09 || (b == 0x20 && f.SpaceAdvances):
		if f.Choices > 0 {
			f.Choice = (f.Choice + 1) % f.Choices
		}
		return f, false
	case b == 0x7f || b == 0x08:
		if f.Text != "" {
			r := []rune(f.Text)
			f.Text = string(r[:len(r)-1])
		}
		return f, false
	case b >= 0x20 && b < 0x7f:
		f.Text += string(rune(b))
		return f, false
	default:
		return f, false
	}
}

// Append adds literal text, used for bracketed paste.
func (f Field) Append(text string) Field {
	f.Text += text
	return f
}
