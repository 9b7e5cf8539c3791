package session

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_FeedParsesCompletedLines(t *testing.T) {
	s := New("t1")
	var lines []string
	for _, c := range []byte("TANK: {\n\tticks: 54t\n}\n") {
		if line, ok := s.Feed(c); ok {
			lines = append(lines, line)
		}
	}

	assert.Equal(t, []string{"TANK: {", "\tticks: 54t", "}"}, lines)
	assert.Equal(t, 3, s.Lines())

	f := s.Finish()
	rec, ok := f.ResultSet().Block("TANK")
	require.True(t, ok)
	v, _ := rec.Get("ticks")
	assert.Equal(t, "54t", v.Text())
}

func TestSession_UnterminatedTailDropped(t *testing.T) {
	s := New("t2")
	for _, c := range []byte("A: {\nx: 1\n}\nB: {") {
		s.Feed(c)
	}
	f := s.Finish()

	assert.Equal(t, []string{"A"}, f.ResultSet().Names())
	assert.Equal(t, 3, f.Lines())
}

func TestSession_FeedAfterFinishPanics(t *testing.T) {
	s := New("t3")
	s.Finish()

	assert.Panics(t, func() { s.Feed('x') })
	assert.Panics(t, func() { s.Finish() })
}

func TestDecode_Fixture(t *testing.T) {
	data, err := os.ReadFile("../../testdata/atmosim_report.txt")
	require.NoError(t, err)

	var got []string
	f, err := Decode(context.Background(), "fixture", strings.NewReader(string(data)), func(l string) {
		got = append(got, l)
	})
	require.NoError(t, err)

	assert.Len(t, got, strings.Count(string(data), "\n"))
	assert.Equal(t, []string{"TANK", "REQUIREMENTS"}, f.ResultSet().Names())
	assert.Equal(t, 2, f.Ignored())
}

func TestDecode_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Decode(ctx, "canceled", strings.NewReader("A: {\n}\n"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}
