package index

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"strings"
)

// Index is the frozen, read-only inverted index. All methods are safe for
// concurrent use; nothing is mutated after construction.
type Index struct {
	docs         []Document
	lexicon      []LexEntry
	postings     io.ReaderAt
	postingsSize int64
	stats        Stats
	closer       io.Closer
}

// New wraps already-decoded regions. closer, if non-nil, is released by
// Close and usually owns postings.
func New(docs []Document, lexicon []LexEntry, postings io.ReaderAt, postingsSize int64, closer io.Closer) *Index {
	return &Index{
		docs:         docs,
		lexicon:      lexicon,
		postings:     postings,
		postingsSize: postingsSize,
		stats:        ComputeStats(docs),
		closer:       closer,
	}
}

// Assemble lays out finalised shard terms into a single postings region
// ordered by term and builds the lexicon over it.
func Assemble(docs []Document, terms []FrozenTerm) (*Index, error) {
	slices.SortFunc(terms, func(x, y FrozenTerm) int { return strings.Compare(x.Term, y.Term) })
	size := 0
	for i := range terms {
		if i > 0 && terms[i].Term == terms[i-1].Term {
			return nil, fmt.Errorf("term %q finalised by two shards", terms[i].Term)
		}
		size += len(terms[i].Postings)
	}
	region := make([]byte, 0, size)
	lexicon := make([]LexEntry, len(terms))
	n := uint32(len(docs))
	for i, t := range terms {
		if t.DocFreq == 0 || t.DocFreq > n {
			return nil, fmt.Errorf("term %q: document frequency %d with %d documents", t.Term, t.DocFreq, n)
		}
		lexicon[i] = LexEntry{
			Term:    t.Term,
			TermID:  t.TermID,
			DocFreq: t.DocFreq,
			Offset:  int64(len(region)),
			Length:  uint32(len(t.Postings)),
		}
		region = append(region, t.Postings...)
		terms[i].Postings = nil
	}
	return New(docs, lexicon, bytes.NewReader(region), int64(len(region)), nil), nil
}

func (x *Index) Lookup(term string) (LexEntry, bool) {
	i, ok := slices.BinarySearchFunc(x.lexicon, term, func(e LexEntry, t string) int {
		return strings.Compare(e.Term, t)
	})
	if !ok {
		return LexEntry{}, false
	}
	return x.lexicon[i], true
}

// PostingsFor returns the postings of term, or an empty list when the term
// is not in the lexicon.
func (x *Index) PostingsFor(term string) (PostingList, error) {
	e, ok := x.Lookup(term)
	if !ok {
		return PostingList{}, nil
	}
	return x.Postings(e)
}

func (x *Index) Postings(e LexEntry) (PostingList, error) {
	raw, err := x.RawPostings(e)
	if err != nil {
		return nil, err
	}
	pl, err := DecodePostings(raw)
	if err != nil {
		return nil, fmt.Errorf("term %q: %w", e.Term, err)
	}
	if uint32(len(pl)) != e.DocFreq {
		return nil, corrupt("postings", fmt.Errorf("term %q has %d postings, lexicon says %d", e.Term, len(pl), e.DocFreq))
	}
	return pl, nil
}

// RawPostings returns the encoded postings bytes of e.
func (x *Index) RawPostings(e LexEntry) ([]byte, error) {
	if e.Offset < 0 || e.Offset+int64(e.Length) > x.postingsSize {
		return nil, corrupt("postings", fmt.Errorf("term %q points outside postings", e.Term))
	}
	buf := make([]byte, e.Length)
	if n, err := x.postings.ReadAt(buf, e.Offset); n < len(buf) {
		return nil, fmt.Errorf("reading postings of %q: %w", e.Term, err)
	}
	return buf, nil
}

func (x *Index) Document(id uint32) (Document, bool) {
	if int(id) >= len(x.docs) {
		return Document{}, false
	}
	return x.docs[id], true
}

// Documents exposes the document table; callers must not modify it.
func (x *Index) Documents() []Document { return x.docs }

// Lexicon exposes the sorted lexicon; callers must not modify it.
func (x *Index) Lexicon() []LexEntry { return x.lexicon }

func (x *Index) NumTerms() int { return len(x.lexicon) }

func (x *Index) Stats() Stats { return x.stats }

// PostingsSize is the byte size of the postings region.
func (x *Index) PostingsSize() int64 { return x.postingsSize }

// PostingsReader exposes the postings region for persistence.
func (x *Index) PostingsReader() io.ReaderAt { return x.postings }

func (x *Index) Close() error {
	if x.closer == nil {
		return nil
	}
	return x.closer.Close()
}
