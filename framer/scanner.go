package framer

import (
	"fmt"
	"io"

	"github.com/karpov-sv/etp/errors"
)

// Scanner yields frames from a stream in the style of bufio.Scanner.
//
//	sc := f.Scanner(conn)
//	for sc.Scan() {
//	    handle(sc.Text())
//	}
//	if err := sc.Err(); err != nil { ... }
type Scanner struct {
	framer  *Framer
	r       io.Reader
	chunk   []byte
	buf     []byte
	pending []string
	text    string
	err     error
	eof     bool
	done    bool
}

// Scan advances to the next frame. It returns false at end of stream or on
// error; frames completed before an error are still returned first.
func (s *Scanner) Scan() bool {
	for {
		if len(s.pending) > 0 {
			s.text = s.pending[0]
			s.pending = s.pending[1:]
			return true
		}
		s.text = ""
		if s.done {
			return false
		}
		if s.eof {
			s.done = true
			text := clean(s.buf)
			s.buf = nil
			if text == "" {
				return false
			}
			s.text = text
			return true
		}
		s.fill()
	}
}

func (s *Scanner) fill() {
	n, err := s.r.Read(s.chunk)
	if n > 0 {
		var rest []byte
		s.pending, rest = s.framer.cut(append(s.buf, s.chunk[:n]...), s.pending)
		// move the remainder to the front so the buffer does not creep
		s.buf = append(s.buf[:0], rest...)

		if limit := s.framer.maxBuffer; limit > 0 && len(s.buf) > limit {
			s.err = errors.WrapInvalid(
				fmt.Errorf("%w: %d bytes without delimiter (max %d)", errors.ErrBufferOverflow, len(s.buf), limit),
				"Scanner", "Scan", "frame stream")
			s.buf = nil
			s.done = true
			return
		}
	}

	switch {
	case err == io.EOF:
		s.eof = true
	case err != nil:
		s.err = errors.WrapTransient(err, "Scanner", "Scan", "read stream")
		s.done = true
	case n == 0:
		// a reader returning 0, nil is allowed; try again
	}
}

// Text returns the most recent frame.
func (s *Scanner) Text() string {
	return s.text
}

// Err returns the first non-EOF error encountered.
func (s *Scanner) Err() error {
	return s.err
}
