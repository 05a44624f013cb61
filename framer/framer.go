package framer

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/karpov-sv/etp/errors"
)

// Defaults applied by New
const (
	DefaultMaxBuffer = 64 * 1024
	DefaultChunkSize = 1024
)

// DefaultDelimiters are newline and NUL.
func DefaultDelimiters() [][]byte {
	return [][]byte{{'\n'}, {0}}
}

// Framer holds the framing parameters shared by every Scanner it creates.
type Framer struct {
	delimiters [][]byte
	maxBuffer  int
	chunkSize  int
}

// Option configures a Framer.
type Option func(*Framer)

// WithDelimiters replaces the default delimiters.
func WithDelimiters(delims ...[]byte) Option {
	return func(f *Framer) {
		f.delimiters = make([][]byte, 0, len(delims))
		for _, d := range delims {
			f.delimiters = append(f.delimiters, bytes.Clone(d))
		}
	}
}

// WithMaxBuffer limits how many undelimited bytes may accumulate. Zero
// disables the limit.
func WithMaxBuffer(n int) Option {
	return func(f *Framer) {
		f.maxBuffer = n
	}
}

// WithChunkSize sets the size of each read from the stream.
func WithChunkSize(n int) Option {
	return func(f *Framer) {
		f.chunkSize = n
	}
}

// New creates a Framer.
func New(opts ...Option) (*Framer, error) {
	f := &Framer{
		delimiters: DefaultDelimiters(),
		maxBuffer:  DefaultMaxBuffer,
		chunkSize:  DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(f)
	}

	if len(f.delimiters) == 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: no delimiters", errors.ErrInvalidConfig),
			"Framer", "New", "validate options")
	}
	for _, d := range f.delimiters {
		if len(d) == 0 {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: empty delimiter", errors.ErrInvalidConfig),
				"Framer", "New", "validate options")
		}
	}
	if f.chunkSize <= 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: chunk size %d", errors.ErrInvalidConfig, f.chunkSize),
			"Framer", "New", "validate options")
	}
	if f.maxBuffer < 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: max buffer %d", errors.ErrInvalidConfig, f.maxBuffer),
			"Framer", "New", "validate options")
	}

	return f, nil
}

// MustNew is New for static option sets known to be valid.
func MustNew(opts ...Option) *Framer {
	f, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return f
}

// Scanner returns a Scanner reading frames from r.
func (f *Framer) Scanner(r io.Reader) *Scanner {
	return &Scanner{
		framer: f,
		r:      r,
		chunk:  make([]byte, f.chunkSize),
	}
}

// Split frames an in-memory buffer, including an undelimited remainder.
// No size limit applies.
func Split(data []byte, delims ...[]byte) []string {
	if len(delims) == 0 {
		delims = DefaultDelimiters()
	}
	f := &Framer{delimiters: delims}

	frames, rest := f.cut(data, nil)
	if text := clean(rest); text != "" {
		frames = append(frames, text)
	}
	return frames
}

// cut appends every complete frame in buf to frames and returns the
// undelimited remainder.
func (f *Framer) cut(buf []byte, frames []string) ([]string, []byte) {
	for {
		at, size := f.earliest(buf)
		if at < 0 {
			return frames, buf
		}
		if text := clean(buf[:at]); text != "" {
			frames = append(frames, text)
		}
		buf = buf[at+size:]
	}
}

func (f *Framer) earliest(buf []byte) (int, int) {
	at, size := -1, 0
	for _, d := range f.delimiters {
		search := buf
		if at >= 0 {
			// only an earlier match can win
			search = buf[:min(len(buf), at+len(d)-1)]
		}
		if i := bytes.Index(search, d); i >= 0 && (at < 0 || i < at) {
			at, size = i, len(d)
		}
	}
	return at, size
}

func clean(frame []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(frame), "\uFFFD"))
}
