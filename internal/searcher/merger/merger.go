// Package merger selects the best K scored documents.
package merger

import (
	"container/heap"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/searcher/ranker"
)

// better orders by score descending, then doc id ascending.
func better(a, b ranker.ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}

// TopK keeps the K best documents offered to it in a bounded min-heap.
type TopK struct {
	k int
	h scoredDocHeap
}

func NewTopK(k int) *TopK {
	if k < 0 {
		k = 0
	}
	return &TopK{k: k, h: make(scoredDocHeap, 0, min(k, 1024))}
}

// Offer considers d. Once the heap is full, d is kept only if it beats the
// current worst document, which is then evicted.
func (t *TopK) Offer(d ranker.ScoredDoc) bool {
	if t.k == 0 {
		return false
	}
	if len(t.h) < t.k {
		heap.Push(&t.h, d)
		return true
	}
	if !better(d, t.h[0]) {
		return false
	}
	t.h[0] = d
	heap.Fix(&t.h, 0)
	return true
}

func (t *TopK) Len() int { return len(t.h) }

// Results returns the kept documents, best first.
func (t *TopK) Results() []ranker.ScoredDoc {
	out := slices.Clone(t.h)
	slices.SortFunc(out, func(a, b ranker.ScoredDoc) int {
		switch {
		case better(a, b):
			return -1
		case better(b, a):
			return 1
		}
		return 0
	})
	return out
}

// Merge returns the best limit documents across several result lists.
func Merge(lists [][]ranker.ScoredDoc, limit int) []ranker.ScoredDoc {
	top := NewTopK(limit)
	for _, results := range lists {
		for _, d := range results {
			top.Offer(d)
		}
	}
	return top.Results()
}

// scoredDocHeap has the worst document at the root.
type scoredDocHeap []ranker.ScoredDoc

func (h scoredDocHeap) Len() int { return len(h) }

func (h scoredDocHeap) Less(i, j int) bool { return better(h[j], h[i]) }

func (h scoredDocHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredDocHeap) Push(x any) {
	*h = append(*h, x.(ranker.ScoredDoc))
}

func (h *scoredDocHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
