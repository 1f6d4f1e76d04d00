// Package segment persists a frozen index. A committed index directory
// holds index.seg (document table, lexicon and postings regions), the
// document store, and manifest.yaml, which is written last.
package segment

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer/index"
)

const (
	MagicBytes    uint32 = 0x57534547 // "WSEG"
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 32

	SegmentFile = "index.seg"
)

// Header is the fixed 64-byte header at the start of index.seg. Regions
// follow it in the order documents, lexicon, postings.
type Header struct {
	Magic      uint32
	Version    uint32
	TermCount  uint32
	DocCount   uint32
	DocOffset  int64
	DocSize    int64
	LexOffset  int64
	LexSize    int64
	PostOffset int64
	PostSize   int64
}

// Footer is the trailing 32 bytes: a CRC32 per region and of the header,
// the corpus token total and the creation time.
type Footer struct {
	DocCRC      uint32
	LexCRC      uint32
	PostCRC     uint32
	HeaderCRC   uint32
	TotalTokens uint64
	CreatedAt   int64
}

func (h Header) encode() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.TermCount)
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.DocOffset))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.DocSize))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.LexOffset))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.LexSize))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(b[56:64], uint64(h.PostSize))
	return b
}

func decodeHeader(b []byte) Header {
	return Header{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint32(b[4:8]),
		TermCount:  binary.LittleEndian.Uint32(b[8:12]),
		DocCount:   binary.LittleEndian.Uint32(b[12:16]),
		DocOffset:  int64(binary.LittleEndian.Uint64(b[16:24])),
		DocSize:    int64(binary.LittleEndian.Uint64(b[24:32])),
		LexOffset:  int64(binary.LittleEndian.Uint64(b[32:40])),
		LexSize:    int64(binary.LittleEndian.Uint64(b[40:48])),
		PostOffset: int64(binary.LittleEndian.Uint64(b[48:56])),
		PostSize:   int64(binary.LittleEndian.Uint64(b[56:64])),
	}
}

func (f Footer) encode() []byte {
	b := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(b[0:4], f.DocCRC)
	binary.LittleEndian.PutUint32(b[4:8], f.LexCRC)
	binary.LittleEndian.PutUint32(b[8:12], f.PostCRC)
	binary.LittleEndian.PutUint32(b[12:16], f.HeaderCRC)
	binary.LittleEndian.PutUint64(b[16:24], f.TotalTokens)
	binary.LittleEndian.PutUint64(b[24:32], uint64(f.CreatedAt))
	return b
}

func decodeFooter(b []byte) Footer {
	return Footer{
		DocCRC:      binary.LittleEndian.Uint32(b[0:4]),
		LexCRC:      binary.LittleEndian.Uint32(b[4:8]),
		PostCRC:     binary.LittleEndian.Uint32(b[8:12]),
		HeaderCRC:   binary.LittleEndian.Uint32(b[12:16]),
		TotalTokens: binary.LittleEndian.Uint64(b[16:24]),
		CreatedAt:   int64(binary.LittleEndian.Uint64(b[24:32])),
	}
}

// Write stores idx as dir/index.seg. It writes to a .tmp file first, syncs
// it and renames on success, so a crash never leaves a partial segment
// under the final name.
func Write(dir string, idx *index.Index) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating segment directory: %w", err)
	}
	finalPath := filepath.Join(dir, SegmentFile)
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp segment file: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	var docBuf []byte
	for _, d := range idx.Documents() {
		docBuf = index.AppendDocument(docBuf, d)
	}
	var lexBuf []byte
	for _, e := range idx.Lexicon() {
		lexBuf = index.AppendLexEntry(lexBuf, e)
	}

	header := Header{
		Magic:     MagicBytes,
		Version:   FormatVersion,
		TermCount: uint32(idx.NumTerms()),
		DocCount:  idx.Stats().TotalDocuments,
		DocOffset: int64(HeaderSize),
		DocSize:   int64(len(docBuf)),
		PostSize:  idx.PostingsSize(),
	}
	header.LexOffset = header.DocOffset + header.DocSize
	header.LexSize = int64(len(lexBuf))
	header.PostOffset = header.LexOffset + header.LexSize
	headerBytes := header.encode()

	w := bufio.NewWriterSize(f, 1<<20)
	if _, err := w.Write(headerBytes); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := w.Write(docBuf); err != nil {
		return fmt.Errorf("writing document table: %w", err)
	}
	if _, err := w.Write(lexBuf); err != nil {
		return fmt.Errorf("writing lexicon: %w", err)
	}
	postCRC := crc32.NewIEEE()
	src := io.NewSectionReader(idx.PostingsReader(), 0, idx.PostingsSize())
	if n, err := io.Copy(io.MultiWriter(w, postCRC), src); err != nil {
		return fmt.Errorf("writing postings: %w", err)
	} else if n != idx.PostingsSize() {
		return fmt.Errorf("writing postings: copied %d of %d bytes", n, idx.PostingsSize())
	}

	footer := Footer{
		DocCRC:      crc32.ChecksumIEEE(docBuf),
		LexCRC:      crc32.ChecksumIEEE(lexBuf),
		PostCRC:     postCRC.Sum32(),
		HeaderCRC:   crc32.ChecksumIEEE(headerBytes),
		TotalTokens: idx.Stats().TotalTokens,
		CreatedAt:   time.Now().UnixNano(),
	}
	if _, err := w.Write(footer.encode()); err != nil {
		return fmt.Errorf("writing footer: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing segment file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing segment file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing segment file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming segment file: %w", err)
	}
	ok = true
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening directory for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing directory: %w", err)
	}
	return nil
}

// checksum streams r through a CRC32.
func checksum(r io.Reader) (uint32, error) {
	var h hash.Hash32 = crc32.NewIEEE()
	if _, err := io.Copy(h, r); err != nil {
		return 0, err
	}
	return h.Sum32(), nil
}
