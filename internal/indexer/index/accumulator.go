package index

import (
	"fmt"
	"slices"
	"sync"
)

type termPostings struct {
	id       uint32
	postings PostingList
}

// Accumulator collects postings for one shard of the term space during a
// build. Add may be called from many workers.
type Accumulator struct {
	mu    sync.Mutex
	terms map[string]*termPostings
}

func NewAccumulator() *Accumulator {
	return &Accumulator{terms: make(map[string]*termPostings)}
}

// Add appends one posting per term for docID. newTermID is called, under
// the shard lock, the first time a term is seen.
func (a *Accumulator) Add(docID uint32, tfs []TermFreq, newTermID func() uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, tf := range tfs {
		tp, ok := a.terms[tf.Term]
		if !ok {
			tp = &termPostings{id: newTermID(), postings: make(PostingList, 0, 1)}
			a.terms[tf.Term] = tp
		}
		tp.postings = append(tp.postings, Posting{DocID: docID, Frequency: tf.Freq})
	}
}

func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.terms)
}

// Finalize sorts and encodes every posting list and releases the
// accumulated postings. The result is ordered by term.
func (a *Accumulator) Finalize() ([]FrozenTerm, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]FrozenTerm, 0, len(a.terms))
	for term, tp := range a.terms {
		pl := tp.postings
		slices.SortFunc(pl, func(x, y Posting) int {
			switch {
			case x.DocID < y.DocID:
				return -1
			case x.DocID > y.DocID:
				return 1
			}
			return 0
		})
		for i := 1; i < len(pl); i++ {
			if pl[i].DocID == pl[i-1].DocID {
				return nil, fmt.Errorf("term %q: document %d posted twice", term, pl[i].DocID)
			}
		}
		out = append(out, FrozenTerm{
			Term:     term,
			TermID:   tp.id,
			DocFreq:  uint32(len(pl)),
			Postings: AppendPostings(make([]byte, 0, 2+len(pl)*3), pl),
		})
	}
	a.terms = make(map[string]*termPostings)
	slices.SortFunc(out, func(x, y FrozenTerm) int {
		switch {
		case x.Term < y.Term:
			return -1
		case x.Term > y.Term:
			return 1
		}
		return 0
	})
	return out, nil
}
