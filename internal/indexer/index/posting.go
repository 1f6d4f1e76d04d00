// Package index holds the in-memory structures of the inverted index: the
// per-shard accumulators filled during a build, the document table, and the
// immutable Index that queries run against.
package index

// Posting records that a document contains a term Frequency times.
type Posting struct {
	DocID     uint32
	Frequency uint32
}

// PostingList is ordered by DocID ascending with no duplicates.
type PostingList []Posting

// TextRef locates a document's stored text in the document store.
type TextRef struct {
	Offset int64
	Length uint32
}

// Document is one indexed article. ID is dense in [0, N). Length is the
// number of tokens indexed for it.
type Document struct {
	ID        uint32
	SourceID  string
	Title     string
	Length    uint32
	Namespace int32
	Ref       TextRef
}

// LexEntry describes a term and where its postings live.
type LexEntry struct {
	Term    string
	TermID  uint32
	DocFreq uint32
	Offset  int64
	Length  uint32
}

type Stats struct {
	TotalDocuments        uint32
	TotalTokens           uint64
	AverageDocumentLength float64
}

// TermFreq is one term of a document with its occurrence count.
type TermFreq struct {
	Term string
	Freq uint32
}

// FrozenTerm is a finalised term ready to be laid out in the postings region.
type FrozenTerm struct {
	Term     string
	TermID   uint32
	DocFreq  uint32
	Postings []byte
}

func ComputeStats(docs []Document) Stats {
	s := Stats{TotalDocuments: uint32(len(docs))}
	for i := range docs {
		s.TotalTokens += uint64(docs[i].Length)
	}
	if s.TotalDocuments > 0 {
		s.AverageDocumentLength = float64(s.TotalTokens) / float64(s.TotalDocuments)
	}
	return s
}
