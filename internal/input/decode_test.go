package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func feedAll(d *Decoder, data string) []Token {
	return d.Feed([]byte(data))
}

func bytesOf(toks []Token) []byte {
	var out []byte
	for _, tok := range toks {
		if tok.Kind == TokenByte {
			out = append(out, tok.Byte)
		}
	}
	return out
}

func TestPlainBytesPassThrough(t *testing.T) {
	var d Decoder
	toks := feedAll(&d, "ab\r")
	require.Len(t, toks, 3)
	assert.Equal(t, []byte("ab\r"), bytesOf(toks))
}

func TestKittySequenceDecodesToByte(t *testing.T) {
	var d Decoder
	toks := feedAll(&d, "\x1b[97u")
	require.Len(t, toks, 1)
	assert.Equal(t, byte('a'), toks[0].Byte)

	toks = feedAll(&d, "\x1b[13;2u")
	require.Len(t, toks, 1)
	assert.Equal(t, byte(0x0d), toks[0].Byte, "modifiers are tolerated")
}

func TestKittyCodeOutOfRangeIgnored(t *testing.T) {
	var d Decoder
	assert.Empty(t, feedAll(&d, "\x1b[300u"))
}

func TestModifyOtherKeysDecodesToByte(t *testing.T) {
	var d Decoder
	toks := feedAll(&d, "\x1b[27;2;65~")
	require.Len(t, toks, 1)
	assert.Equal(t, byte('A'), toks[0].Byte)

	assert.Empty(t, feedAll(&d, "\x1b[27;2;999~"), "out-of-range code ignored")
}

func TestUnknownEscapesIgnored(t *testing.T) {
	var d Decoder
	assert.Empty(t, feedAll(&d, "\x1b[5A"), "cursor movement is not input")
	assert.Empty(t, feedAll(&d, "\x1bx"), "alt-prefixed byte dropped")

	toks := feedAll(&d, "\x1b[5Aq")
	require.Len(t, toks, 1)
	assert.Equal(t, byte('q'), toks[0].Byte, "decoding resumes after unknown escape")
}

func TestBracketedPasteIsLiteralText(t *testing.T) {
	var d Decoder
	toks := feedAll(&d, "\x1b[200~hello\tworld\x1b[201~x")
	require.Len(t, toks, 2)
	assert.Equal(t, TokenPaste, toks[0].Kind)
	assert.Equal(t, "hello\tworld", toks[0].Paste, "control bytes inside paste stay literal")
	assert.Equal(t, byte('x'), toks[1].Byte)
}

func TestPasteSplitAcrossFeeds(t *testing.T) {
	var d Decoder
	assert.Empty(t, d.Feed([]byte("\x1b[200~par")))
	assert.Empty(t, d.Feed([]byte("tial\x1b[2")))
	toks := d.Feed([]byte("01~"))
	require.Len(t, toks, 1)
	assert.Equal(t, "partial", toks[0].Paste)
}

func TestEscapeSplitAcrossFeeds(t *testing.T) {
	var d Decoder
	assert.Empty(t, d.Feed([]byte{0x1b}))
	assert.Empty(t, d.Feed([]byte("[9")))
	toks := d.Feed([]byte("7u"))
	require.Len(t, toks, 1)
	assert.Equal(t, byte('a'), toks[0].Byte)
}

func TestSGRPointerParsed(t *testing.T) {
	var d Decoder
	toks := feedAll(&d, "\x1b[<0;5;3M")
	require.Len(t, toks, 1)
	p := toks[0].Pointer
	assert.True(t, p.Press)
	assert.Equal(t, 5, p.Col)
	assert.Equal(t, 3, p.Row)
	assert.Equal(t, 0, p.Button)

	toks = feedAll(&d, "\x1b[<22;1;1m")
	require.Len(t, toks, 1)
	p = toks[0].Pointer
	assert.False(t, p.Press, "lowercase final is release")
	assert.Equal(t, 2, p.Button)
	assert.True(t, p.Shift)
	assert.True(t, p.Ctrl)
	assert.False(t, p.Alt)
}

func TestMalformedPointerIgnored(t *testing.T) {
	var d Decoder
	assert.Empty(t, feedAll(&d, "\x1b[<0;5M"))
	assert.Empty(t, feedAll(&d, "\x1b[<x;5;3M"))
}

// Property: chunking never changes the decoded token stream.
func TestDecoderChunkingInvariance(t *testing.T) {
	inputs := []string{
		"hello\r",
		"\x1b[97u\x1b[27;2;65~ab",
		"\x1b[200~pasted text\x1b[201~\x1b[<0;3;4Mq",
		"\x1b[5A\x1bx tail",
	}

	rapid.Check(t, func(t *rapid.T) {
		data := []byte(rapid.SampledFrom(inputs).Draw(t, "input"))

		var whole Decoder
		want := whole.Feed(data)

		var split Decoder
		var got []Token
		for len(data) > 0 {
			n := rapid.IntRange(1, len(data)).Draw(t, "chunk")
			got = append(got, split.Feed(data[:n])...)
			data = data[n:]
		}
		if len(want) != len(got) {
			t.Fatalf("token count differs: %d vs %d", len(want), len(got))
		}
		for i := range want {
			if want[i] != got[i] {
				t.Fatalf("token %d differs: %+v vs %+v", i, want[i], got[i])
			}
		}
	})
}
