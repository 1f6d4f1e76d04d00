package docstore

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer/index"
)

// fileStore appends one zstd frame per document to a single file. A
// TextRef is the frame's offset and length.
type fileStore struct {
	mu  sync.Mutex
	f   *os.File
	w   *bufio.Writer
	off int64
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func createFile(path string) (*fileStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	return &fileStore{f: f, w: bufio.NewWriterSize(f, 1<<20), enc: enc}, nil
}

func openFile(path string) (*fileStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &fileStore{f: f, dec: dec}, nil
}

func (s *fileStore) Put(ctx context.Context, docID uint32, text string) (index.TextRef, error) {
	if err := ctx.Err(); err != nil {
		return index.TextRef{}, err
	}
	frame := s.enc.EncodeAll([]byte(text), nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(frame); err != nil {
		return index.TextRef{}, fmt.Errorf("writing text of document %d: %w", docID, err)
	}
	ref := index.TextRef{Offset: s.off, Length: uint32(len(frame))}
	s.off += int64(len(frame))
	return ref, nil
}

func (s *fileStore) Get(ctx context.Context, docID uint32, ref index.TextRef) (string, error) {
	if ref.Length == 0 {
		return "", fmt.Errorf("document %d: %w", docID, ErrNotFound)
	}
	buf := make([]byte, ref.Length)
	if n, err := s.f.ReadAt(buf, ref.Offset); n < len(buf) {
		return "", fmt.Errorf("reading text of document %d: %w", docID, err)
	}
	text, err := s.dec.DecodeAll(buf, nil)
	if err != nil {
		return "", fmt.Errorf("decompressing text of document %d: %w", docID, err)
	}
	return string(text), nil
}

func (s *fileStore) Close() error {
	if s.dec != nil {
		s.dec.Close()
		return s.f.Close()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.w.Flush()
	if err == nil {
		err = s.f.Sync()
	}
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	if eerr := s.enc.Close(); err == nil {
		err = eerr
	}
	return err
}
