// Package session holds the per-request decoding state.
//
// A decoding session has two phases. While the external computation is
// running, bytes are pushed into a Session one at a time; each completed line
// goes straight into the block parser. When the completion signal arrives the
// caller calls Finish, which freezes the result set and returns a Final. Only
// a Final can be handed to the field extractor, so extraction against a
// half-built result set cannot be expressed.
package session

import (
	"atmoscope/internal/blockfmt"
	"atmoscope/internal/linebuf"
	"atmoscope/internal/logging"
)

// Session is the streaming phase of one decode. It is not safe for
// concurrent use; the orchestrator feeds it from a single goroutine.
type Session struct {
	id       string
	lines    linebuf.Buffer
	parser   *blockfmt.Parser
	count    int
	bytes    int64
	finished bool
}

// New starts a session. The id only labels log output.
func New(id string) *Session {
	logging.DecodeDebug("session %s started", id)
	return &Session{
		id:     id,
		parser: blockfmt.NewParser(),
	}
}

// ID returns the session label.
func (s *Session) ID() string { return s.id }

// Feed pushes one output character. When the character completes a line the
// line is parsed and returned verbatim (tabs included) so callers can relay it.
// Feed panics once the session has been finished.
func (s *Session) Feed(c byte) (line string, ok bool) {
	if s.finished {
		panic("session: Feed called after Finish")
	}
	s.bytes++
	line, ok = s.lines.Feed(c)
	if !ok {
		return "", false
	}
	s.count++
	s.parser.Feed(line)
	return line, true
}

// Lines returns how many complete lines have been decoded.
func (s *Session) Lines() int { return s.count }

// Bytes returns how many characters have been fed.
func (s *Session) Bytes() int64 { return s.bytes }

// Finish ends the streaming phase. Characters after the last terminator are
// not a complete line and are dropped. Finish may be called once.
func (s *Session) Finish() *Final {
	if s.finished {
		panic("session: Finish called twice")
	}
	s.finished = true

	if tail := s.lines.Len(); tail > 0 {
		logging.DecodeDebug("session %s: dropping %d unterminated trailing characters", s.id, tail)
	}
	s.lines.Reset()

	set := s.parser.ResultSet()
	if name, open := s.parser.OpenBlock(); open {
		logging.DecodeDebug("session %s: stream ended inside block %s", s.id, name)
	}
	logging.Decode("session %s finished: %d lines, %d blocks, %d ignored",
		s.id, s.count, set.Len(), s.parser.Ignored())

	return &Final{
		id:      s.id,
		set:     set,
		lines:   s.count,
		ignored: s.parser.Ignored(),
	}
}

// Final is a finished, read-only decode.
type Final struct {
	id      string
	set     *blockfmt.ResultSet
	lines   int
	ignored int
}

// ID returns the session label.
func (f *Final) ID() string { return f.id }

// ResultSet returns the frozen block mapping.
func (f *Final) ResultSet() *blockfmt.ResultSet { return f.set }

// Lines returns the number of decoded lines.
func (f *Final) Lines() int { return f.lines }

// Ignored returns how many lines matched no known shape.
func (f *Final) Ignored() int { return f.ignored }
