package segment

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/errors"
)

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{apperrors.ErrIndexCorrupt}, args...)...)
}

// segmentFile is an opened index.seg with its header and footer checked.
type segmentFile struct {
	f      *os.File
	header Header
	footer Footer
}

func openSegment(path string) (*segmentFile, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrIndexNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	s, err := checkSegment(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func checkSegment(f *os.File) (*segmentFile, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat segment file: %w", err)
	}
	size := info.Size()
	if size < int64(HeaderSize+FooterSize) {
		return nil, corruptf("segment file is %d bytes", size)
	}
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	footerBytes := make([]byte, FooterSize)
	if _, err := f.ReadAt(footerBytes, size-int64(FooterSize)); err != nil {
		return nil, fmt.Errorf("reading footer: %w", err)
	}
	h := decodeHeader(headerBytes)
	ft := decodeFooter(footerBytes)

	if h.Magic != MagicBytes {
		return nil, corruptf("bad magic bytes %x", h.Magic)
	}
	if h.Version != FormatVersion {
		return nil, corruptf("unsupported format version %d", h.Version)
	}
	if crc32.ChecksumIEEE(headerBytes) != ft.HeaderCRC {
		return nil, corruptf("header checksum mismatch")
	}
	switch {
	case h.DocOffset != int64(HeaderSize),
		h.DocSize < 0 || h.LexSize < 0 || h.PostSize < 0,
		h.LexOffset != h.DocOffset+h.DocSize,
		h.PostOffset != h.LexOffset+h.LexSize,
		h.PostOffset+h.PostSize+int64(FooterSize) != size:
		return nil, corruptf("region layout does not match file size %d", size)
	}
	return &segmentFile{f: f, header: h, footer: ft}, nil
}

func (s *segmentFile) region(off, size int64, crc uint32, name string) ([]byte, error) {
	b := make([]byte, size)
	if n, err := s.f.ReadAt(b, off); n < len(b) {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if crc32.ChecksumIEEE(b) != crc {
		return nil, corruptf("%s checksum mismatch", name)
	}
	return b, nil
}

// open decodes the document table and lexicon. Postings stay on disk and
// are read on demand through the returned index, which owns the file.
func (s *segmentFile) open() (*index.Index, error) {
	h := s.header
	docBytes, err := s.region(h.DocOffset, h.DocSize, s.footer.DocCRC, "document table")
	if err != nil {
		return nil, err
	}
	docs, err := index.DecodeDocuments(docBytes, h.DocCount)
	if err != nil {
		return nil, err
	}
	lexBytes, err := s.region(h.LexOffset, h.LexSize, s.footer.LexCRC, "lexicon")
	if err != nil {
		return nil, err
	}
	lex, err := index.DecodeLexicon(lexBytes, h.TermCount, h.PostSize)
	if err != nil {
		return nil, err
	}
	postings := io.NewSectionReader(s.f, h.PostOffset, h.PostSize)
	idx := index.New(docs, lex, postings, h.PostSize, s.f)
	if got := idx.Stats().TotalTokens; got != s.footer.TotalTokens {
		return nil, corruptf("document lengths sum to %d tokens, footer says %d", got, s.footer.TotalTokens)
	}
	return idx, nil
}

// LoadSegment opens dir/index.seg without consulting the manifest.
func LoadSegment(dir string) (*index.Index, error) {
	s, err := openSegment(filepath.Join(dir, SegmentFile))
	if err != nil {
		return nil, err
	}
	idx, err := s.open()
	if err != nil {
		s.f.Close()
		return nil, err
	}
	return idx, nil
}

// Load opens a committed index directory. A missing directory or manifest
// is ErrIndexNotFound; any inconsistency is ErrIndexCorrupt.
func Load(dir string) (*index.Index, *Manifest, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, nil, err
	}
	idx, err := LoadSegment(dir)
	if err != nil {
		return nil, nil, err
	}
	if err := m.matches(idx); err != nil {
		idx.Close()
		return nil, nil, err
	}
	return idx, m, nil
}

// VerifyReport summarises a full verification pass.
type VerifyReport struct {
	Documents uint32
	Terms     int
	Postings  uint64
	Tokens    uint64
}

// Verify loads dir and additionally checks the postings checksum and
// decodes every postings list, checking doc ids and document frequencies.
func Verify(dir string) (*VerifyReport, error) {
	idx, m, err := Load(dir)
	if err != nil {
		return nil, err
	}
	defer idx.Close()

	sum, err := checksum(io.NewSectionReader(idx.PostingsReader(), 0, idx.PostingsSize()))
	if err != nil {
		return nil, fmt.Errorf("reading postings: %w", err)
	}
	s, err := openSegment(filepath.Join(dir, SegmentFile))
	if err != nil {
		return nil, err
	}
	s.f.Close()
	if sum != s.footer.PostCRC {
		return nil, corruptf("postings checksum mismatch")
	}

	n := idx.Stats().TotalDocuments
	report := &VerifyReport{Documents: n, Terms: idx.NumTerms()}
	for _, e := range idx.Lexicon() {
		pl, err := idx.Postings(e)
		if err != nil {
			return nil, err
		}
		for _, p := range pl {
			if p.DocID >= n {
				return nil, corruptf("term %q posts document %d of %d", e.Term, p.DocID, n)
			}
			report.Tokens += uint64(p.Frequency)
		}
		report.Postings += uint64(len(pl))
	}
	if report.Tokens != idx.Stats().TotalTokens {
		return nil, corruptf("postings hold %d tokens, documents %d", report.Tokens, idx.Stats().TotalTokens)
	}
	if m.Stats.Terms != report.Terms {
		return nil, corruptf("manifest lists %d terms, segment has %d", m.Stats.Terms, report.Terms)
	}
	return report, nil
}
