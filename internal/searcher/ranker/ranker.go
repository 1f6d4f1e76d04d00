// Package ranker scores documents with Okapi BM25.
package ranker

import (
	"math"

	"github.com/huandu/skiplist"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
)

const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

type ScoredDoc struct {
	DocID uint32  `json:"doc_id"`
	Score float64 `json:"score"`
}

// Params are the collection statistics and tuning constants for one index.
type Params struct {
	K1           float64
	B            float64
	TotalDocs    uint32
	AvgDocLength float64
}

func NewParams(cfg config.SearchConfig, stats index.Stats) Params {
	p := Params{
		K1:           cfg.K1,
		B:            cfg.B,
		TotalDocs:    stats.TotalDocuments,
		AvgDocLength: stats.AverageDocumentLength,
	}
	if p.K1 <= 0 {
		p.K1 = DefaultK1
	}
	if p.B < 0 || p.B > 1 {
		p.B = DefaultB
	}
	return p
}

// IDF is ln((N - df + 0.5) / (df + 0.5) + 1). It is positive for every
// df in [1, N].
func IDF(totalDocs, docFreq uint32) float64 {
	n, df := float64(totalDocs), float64(docFreq)
	return math.Log((n-df+0.5)/(df+0.5) + 1)
}

// TermScore is the contribution of one term occurring tf times in a
// document of docLen tokens.
func (p Params) TermScore(idf float64, tf, docLen uint32) float64 {
	if p.AvgDocLength == 0 || tf == 0 {
		return 0
	}
	f := float64(tf)
	norm := p.K1 * (1 - p.B + p.B*float64(docLen)/p.AvgDocLength)
	return idf * f * (p.K1 + 1) / (f + norm)
}

// Scores accumulates per-document scores ordered by doc id.
type Scores struct {
	list *skiplist.SkipList
}

func NewScores() *Scores {
	return &Scores{list: skiplist.New(skiplist.Uint32)}
}

func (s *Scores) Add(docID uint32, score float64) {
	if elem := s.list.Get(docID); elem != nil {
		elem.Value = elem.Value.(float64) + score
		return
	}
	s.list.Set(docID, score)
}

func (s *Scores) Len() int {
	return s.list.Len()
}

// Each visits the accumulated scores in ascending doc id order.
func (s *Scores) Each(fn func(ScoredDoc)) {
	for elem := s.list.Front(); elem != nil; elem = elem.Next() {
		fn(ScoredDoc{DocID: elem.Key().(uint32), Score: elem.Value.(float64)})
	}
}

// Accumulate adds the BM25 contribution of one term, given its postings,
// to scores. docLength returns the token count of a document.
func (p Params) Accumulate(scores *Scores, postings index.PostingList, docLength func(uint32) uint32) {
	if len(postings) == 0 {
		return
	}
	idf := IDF(p.TotalDocs, uint32(len(postings)))
	for _, posting := range postings {
		scores.Add(posting.DocID, p.TermScore(idf, posting.Frequency, docLength(posting.DocID)))
	}
}
