package linebuf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(b *Buffer, s string) []string {
	var lines []string
	for i := 0; i < len(s); i++ {
		if line, ok := b.Feed(s[i]); ok {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestBuffer_NoTerminatorRetainsEverything(t *testing.T) {
	inputs := []string{
		"",
		"a",
		"TANK: {",
		"\tmix temp: fuel 398.105682K",
		"unicode ☢ survives",
		strings.Repeat("x", 4096),
	}

	for _, in := range inputs {
		var b Buffer
		lines := feedAll(&b, in)

		assert.Empty(t, lines, "no line expected for %q", in)
		assert.Equal(t, in, b.Pending())
		assert.Equal(t, len(in), b.Len())
	}
}

func TestBuffer_EmitsLinesInOrder(t *testing.T) {
	var b Buffer
	lines := feedAll(&b, "TANK: {\n\tticks: 54t\n}\ntail")

	require.Equal(t, []string{"TANK: {", "\tticks: 54t", "}"}, lines)
	assert.Equal(t, "tail", b.Pending())
}

func TestBuffer_EmptyLines(t *testing.T) {
	var b Buffer
	lines := feedAll(&b, "\n\nx\n")

	assert.Equal(t, []string{"", "", "x"}, lines)
	assert.Zero(t, b.Len())
}

func TestBuffer_CarriageReturnKept(t *testing.T) {
	var b Buffer
	lines := feedAll(&b, "}\r\n")

	assert.Equal(t, []string{"}\r"}, lines)
}

func TestBuffer_Reset(t *testing.T) {
	var b Buffer
	feedAll(&b, "partial")
	b.Reset()

	line, ok := b.Feed('\n')
	assert.True(t, ok)
	assert.Equal(t, "", line)
}
