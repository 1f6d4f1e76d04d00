// Package source opens a dump for sequential reading, picking the
// decompressor from the file extension.
package source

import (
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Codec names the compression of a dump file.
type Codec string

const (
	CodecPlain Codec = "plain"
	CodecBzip2 Codec = "bzip2"
	CodecGzip  Codec = "gzip"
	CodecZstd  Codec = "zstd"
)

// DetectCodec maps a path to its codec by extension.
func DetectCodec(path string) Codec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bz2":
		return CodecBzip2
	case ".gz", ".gzip":
		return CodecGzip
	case ".zst", ".zstd":
		return CodecZstd
	default:
		return CodecPlain
	}
}

// Stream is an open dump. Read yields decompressed bytes; Compressed reports
// how many raw bytes have been consumed so far.
type Stream struct {
	io.Reader
	Codec Codec
	Size  int64

	counter *CountingReader
	closers []io.Closer
}

func (s *Stream) Compressed() int64 {
	return s.counter.Count()
}

func (s *Stream) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open opens path, or stdin when path is "-".
func Open(path string) (*Stream, error) {
	if path == "-" {
		return Wrap(io.NopCloser(os.Stdin), CodecPlain, -1)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dump %s: %w", path, err)
	}
	var size int64 = -1
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	s, err := Wrap(f, DetectCodec(path), size)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening dump %s: %w", path, err)
	}
	return s, nil
}

// Wrap layers the decompressor for codec over rc. bzip2 and gzip readers
// accept concatenated streams, as found in multistream dumps.
func Wrap(rc io.ReadCloser, codec Codec, size int64) (*Stream, error) {
	counter := NewCountingReader(rc)
	s := &Stream{Codec: codec, Size: size, counter: counter, closers: []io.Closer{rc}}
	switch codec {
	case CodecPlain:
		s.Reader = counter
	case CodecBzip2:
		s.Reader = bzip2.NewReader(counter)
	case CodecGzip:
		zr, err := gzip.NewReader(counter)
		if err != nil {
			return nil, fmt.Errorf("reading gzip header: %w", err)
		}
		s.Reader = zr
		s.closers = append(s.closers, zr)
	case CodecZstd:
		zr, err := zstd.NewReader(counter)
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		rc := zr.IOReadCloser()
		s.Reader = rc
		s.closers = append(s.closers, rc)
	default:
		return nil, fmt.Errorf("unknown codec %q", codec)
	}
	return s, nil
}

// CountingReader counts bytes read through it. Count is safe to call from
// another goroutine.
type CountingReader struct {
	r io.Reader
	n atomic.Int64
}

func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{r: r}
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

func (c *CountingReader) Count() int64 {
	return c.n.Load()
}
