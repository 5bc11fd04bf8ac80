// Package chunker splits byte streams into variable-length, content-defined
// chunks using a rolling checksum over a small sliding window. Boundaries
// depend only on the bytes inside the window, never on the absolute offset,
// so inserting or deleting bytes near the start of a file does not shift
// every later boundary. That locality is what makes cross-version and
// cross-file deduplication effective.
package chunker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

const (
	windowBits = 6
	windowSize = 1 << windowBits
	charOffset = 31
)

// Config sets the chunk size bounds. AvgSize must be a power of two: the
// splitter declares a boundary when the low log2(AvgSize) bits of the
// rolling digest are all ones, which happens on average once per AvgSize
// bytes of random input.
type Config struct {
	MinSize int
	AvgSize int
	MaxSize int
}

// Validate checks the size bounds for consistency.
func (c Config) Validate() error {
	if c.AvgSize <= 0 || c.AvgSize&(c.AvgSize-1) != 0 {
		return fmt.Errorf("average chunk size %d is not a power of two", c.AvgSize)
	}
	if c.MinSize < windowSize {
		return fmt.Errorf("minimum chunk size %d is below the rolling window size %d", c.MinSize, windowSize)
	}
	if c.MinSize > c.AvgSize || c.AvgSize > c.MaxSize {
		return fmt.Errorf("chunk sizes must satisfy min <= avg <= max, got %d/%d/%d", c.MinSize, c.AvgSize, c.MaxSize)
	}
	return nil
}

// Splitter produces the chunks of one byte stream, lazily, in order.
type Splitter struct {
	cfg  Config
	r    io.ByteReader
	mask uint32

	s1, s2 uint32
	window [windowSize]byte
	wofs   int

	err error
}

// New returns a Splitter over r with the given bounds. The reader is
// wrapped in a bufio.Reader unless it already implements io.ByteReader,
// since the splitter consumes input a byte at a time.
func New(r io.Reader, cfg Config) (*Splitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	s := &Splitter{
		cfg:  cfg,
		r:    br,
		mask: uint32(cfg.AvgSize - 1),
	}
	s.reset()
	return s, nil
}

func (s *Splitter) reset() {
	s.s1 = windowSize * charOffset
	s.s2 = windowSize * (windowSize - 1) * charOffset
	s.wofs = 0
	for i := range s.window {
		s.window[i] = 0
	}
}

func (s *Splitter) roll(b byte) {
	drop := s.window[s.wofs]
	s.s1 += uint32(b) - uint32(drop)
	s.s2 += s.s1 - windowSize*(uint32(drop)+charOffset)
	s.window[s.wofs] = b
	s.wofs = (s.wofs + 1) % windowSize
}

func (s *Splitter) boundary() bool {
	digest := (s.s1 << 16) | (s.s2 & 0xffff)
	return digest&s.mask == s.mask
}

// Next returns the next chunk of the stream. It returns io.EOF once the
// stream is exhausted. A stream shorter than MinSize yields exactly one
// chunk; the final chunk of any stream may be shorter than MinSize; no
// chunk ever exceeds MaxSize.
func (s *Splitter) Next() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}

	chunk := make([]byte, 0, s.cfg.MinSize)
	s.reset()
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.err = io.EOF
				if len(chunk) == 0 {
					return nil, io.EOF
				}
				return chunk, nil
			}
			s.err = err
			return nil, err
		}

		s.roll(b)
		chunk = append(chunk, b)

		if len(chunk) >= s.cfg.MaxSize {
			return chunk, nil
		}
		if len(chunk) >= s.cfg.MinSize && s.boundary() {
			return chunk, nil
		}
	}
}

// Split consumes the whole stream and returns all chunks. Mostly a
// convenience for tests and small inputs; large files should iterate
// Next directly.
func Split(r io.Reader, cfg Config) ([][]byte, error) {
	s, err := New(r, cfg)
	if err != nil {
		return nil, err
	}
	var chunks [][]byte
	for {
		chunk, err := s.Next()
		if errors.Is(err, io.EOF) {
			return chunks, nil
		}
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
}
