package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
)

// Decode runs a complete stream through a fresh session. onLine, when non-nil,
// receives every completed line in order. End of input counts as the
// completion signal, so Decode suits captured transcripts, not live processes
// whose exit status still matters.
func Decode(ctx context.Context, id string, r io.Reader, onLine func(string)) (*Final, error) {
	s := New(id)
	br := bufio.NewReader(r)
	for {
		if s.bytes%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		c, err := br.ReadByte()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read stream: %w", err)
		}
		if line, ok := s.Feed(c); ok && onLine != nil {
			onLine(line)
		}
	}
	return s.Finish(), nil
}
