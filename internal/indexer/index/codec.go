package index

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	apperrors "github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/errors"
)

// Postings are a varint count followed by (doc id delta, frequency) pairs.
// The first delta is the doc id itself.

func AppendPostings(b []byte, pl PostingList) []byte {
	b = protowire.AppendVarint(b, uint64(len(pl)))
	var prev uint32
	for i, p := range pl {
		delta := p.DocID
		if i > 0 {
			delta = p.DocID - prev
		}
		b = protowire.AppendVarint(b, uint64(delta))
		b = protowire.AppendVarint(b, uint64(p.Frequency))
		prev = p.DocID
	}
	return b
}

func DecodePostings(b []byte) (PostingList, error) {
	count, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return nil, corrupt("postings count", protowire.ParseError(n))
	}
	b = b[n:]
	if count > uint64(len(b))/2 {
		return nil, corrupt("postings count", fmt.Errorf("%d entries in %d bytes", count, len(b)))
	}
	pl := make(PostingList, 0, count)
	var prev uint64
	for i := uint64(0); i < count; i++ {
		delta, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, corrupt("posting doc id", protowire.ParseError(n))
		}
		b = b[n:]
		tf, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, corrupt("posting frequency", protowire.ParseError(n))
		}
		b = b[n:]
		if i > 0 && delta == 0 {
			return nil, corrupt("posting doc id", fmt.Errorf("duplicate doc id %d", prev))
		}
		id := prev + delta
		if id > uint64(^uint32(0)) || tf == 0 || tf > uint64(^uint32(0)) {
			return nil, corrupt("posting", fmt.Errorf("doc %d tf %d out of range", id, tf))
		}
		pl = append(pl, Posting{DocID: uint32(id), Frequency: uint32(tf)})
		prev = id
	}
	if len(b) != 0 {
		return nil, corrupt("postings", fmt.Errorf("%d trailing bytes", len(b)))
	}
	return pl, nil
}

func AppendDocument(b []byte, d Document) []byte {
	b = protowire.AppendString(b, d.SourceID)
	b = protowire.AppendString(b, d.Title)
	b = protowire.AppendVarint(b, uint64(d.Length))
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(d.Namespace)))
	b = protowire.AppendVarint(b, uint64(d.Ref.Offset))
	b = protowire.AppendVarint(b, uint64(d.Ref.Length))
	return b
}

// DecodeDocuments decodes count documents; ids are their positions.
func DecodeDocuments(b []byte, count uint32) ([]Document, error) {
	docs := make([]Document, 0, count)
	for i := uint32(0); i < count; i++ {
		var d Document
		var n int
		d.ID = i
		if d.SourceID, n = protowire.ConsumeString(b); n < 0 {
			return nil, corrupt("document source id", protowire.ParseError(n))
		}
		b = b[n:]
		if d.Title, n = protowire.ConsumeString(b); n < 0 {
			return nil, corrupt("document title", protowire.ParseError(n))
		}
		b = b[n:]
		vals := [4]uint64{}
		for j := range vals {
			if vals[j], n = protowire.ConsumeVarint(b); n < 0 {
				return nil, corrupt("document fields", protowire.ParseError(n))
			}
			b = b[n:]
		}
		d.Length = uint32(vals[0])
		d.Namespace = int32(protowire.DecodeZigZag(vals[1]))
		d.Ref = TextRef{Offset: int64(vals[2]), Length: uint32(vals[3])}
		docs = append(docs, d)
	}
	if len(b) != 0 {
		return nil, corrupt("document table", fmt.Errorf("%d trailing bytes", len(b)))
	}
	return docs, nil
}

func AppendLexEntry(b []byte, e LexEntry) []byte {
	b = protowire.AppendString(b, e.Term)
	b = protowire.AppendVarint(b, uint64(e.TermID))
	b = protowire.AppendVarint(b, uint64(e.DocFreq))
	b = protowire.AppendVarint(b, uint64(e.Offset))
	b = protowire.AppendVarint(b, uint64(e.Length))
	return b
}

// DecodeLexicon decodes count entries and checks they are sorted by term
// and lie inside a postings region of postSize bytes.
func DecodeLexicon(b []byte, count uint32, postSize int64) ([]LexEntry, error) {
	lex := make([]LexEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		var e LexEntry
		var n int
		if e.Term, n = protowire.ConsumeString(b); n < 0 {
			return nil, corrupt("lexicon term", protowire.ParseError(n))
		}
		b = b[n:]
		vals := [4]uint64{}
		for j := range vals {
			if vals[j], n = protowire.ConsumeVarint(b); n < 0 {
				return nil, corrupt("lexicon fields", protowire.ParseError(n))
			}
			b = b[n:]
		}
		e.TermID = uint32(vals[0])
		e.DocFreq = uint32(vals[1])
		e.Offset = int64(vals[2])
		e.Length = uint32(vals[3])
		if i > 0 && lex[i-1].Term >= e.Term {
			return nil, corrupt("lexicon order", fmt.Errorf("%q after %q", e.Term, lex[i-1].Term))
		}
		if e.DocFreq == 0 || e.Offset < 0 || e.Offset+int64(e.Length) > postSize {
			return nil, corrupt("lexicon entry", fmt.Errorf("term %q points outside postings", e.Term))
		}
		lex = append(lex, e)
	}
	if len(b) != 0 {
		return nil, corrupt("lexicon", fmt.Errorf("%d trailing bytes", len(b)))
	}
	return lex, nil
}

func corrupt(what string, err error) error {
	return fmt.Errorf("%w: decoding %s: %v", apperrors.ErrIndexCorrupt, what, err)
}
