// Package linebuf reassembles a byte-at-a-time output stream into lines.
//
// The external simulator's output reaches us one character at a time with no
// batching guarantee. Buffer collects those characters until it sees the line
// terminator and hands back the completed line. It never drives a consumer
// itself; callers decide what to do with each line.
package linebuf

import "bytes"

// Terminator ends a line. It is never part of a returned line.
const Terminator byte = '\n'

// Buffer accumulates characters until a terminator arrives.
// The zero value is ready to use. A Buffer is not safe for concurrent use.
type Buffer struct {
	buf bytes.Buffer
}

// Feed pushes one character. When c is the terminator, Feed returns the
// buffered content as a completed line and resets the buffer. Any other
// character is appended and ok is false.
func (b *Buffer) Feed(c byte) (line string, ok bool) {
	if c != Terminator {
		b.buf.WriteByte(c)
		return "", false
	}
	line = b.buf.String()
	b.buf.Reset()
	return line, true
}

// Pending returns the characters received since the last terminator.
func (b *Buffer) Pending() string {
	return b.buf.String()
}

// Len returns the number of buffered characters.
func (b *Buffer) Len() int {
	return b.buf.Len()
}

// Reset drops any buffered characters.
func (b *Buffer) Reset() {
	b.buf.Reset()
}
