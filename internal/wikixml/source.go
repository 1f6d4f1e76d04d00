package wikixml

import (
	"bufio"
	"errors"
	"io"
)

// byteSource feeds the xml.Decoder one byte at a time so that, after the
// decoder gives up, the remaining input is still available for a raw resync.
// n counts bytes taken from the underlying reader; replayed prefix bytes are
// not counted twice. A decompressor reporting io.ErrUnexpectedEOF is
// treated as end of input with cutShort set.
type byteSource struct {
	r        *bufio.Reader
	prefix   []byte
	n        int64
	limit    int64
	tripped  bool
	eof      bool
	cutShort bool
	err      error
}

func newByteSource(r io.Reader) *byteSource {
	return &byteSource{r: bufio.NewReaderSize(r, 256<<10)}
}

func (s *byteSource) ReadByte() (byte, error) {
	if len(s.prefix) > 0 {
		b := s.prefix[0]
		s.prefix = s.prefix[1:]
		return b, nil
	}
	if s.limit > 0 && s.n >= s.limit {
		s.tripped = true
		return 0, errPageTooLarge
	}
	b, err := s.r.ReadByte()
	if err != nil {
		switch {
		case err == io.EOF:
			s.eof = true
		case errors.Is(err, io.ErrUnexpectedEOF):
			s.eof = true
			s.cutShort = true
			err = io.EOF
		default:
			s.err = err
		}
		return 0, err
	}
	s.n++
	return b, nil
}

func (s *byteSource) Read(p []byte) (int, error) {
	for i := range p {
		b, err := s.ReadByte()
		if err != nil {
			if i > 0 {
				return i, nil
			}
			return 0, err
		}
		p[i] = b
	}
	return len(p), nil
}
