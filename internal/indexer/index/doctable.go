package index

import (
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// DocTable collects Documents by id while workers run. The backing slice
// grows by doubling.
type DocTable struct {
	mu   sync.Mutex
	docs []Document
	seen *roaring.Bitmap
	dups []uint32
}

func NewDocTable(capacity int) *DocTable {
	return &DocTable{docs: make([]Document, 0, capacity), seen: roaring.New()}
}

func (t *DocTable) Set(d Document) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.seen.CheckedAdd(d.ID) {
		t.dups = append(t.dups, d.ID)
		return
	}
	need := int(d.ID) + 1
	if need > len(t.docs) {
		if need > cap(t.docs) {
			grown := make([]Document, len(t.docs), max(2*cap(t.docs), need))
			copy(grown, t.docs)
			t.docs = grown
		}
		t.docs = t.docs[:need]
	}
	t.docs[d.ID] = d
}

func (t *DocTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int(t.seen.GetCardinality())
}

// Freeze returns the documents once every id in [0, n) has been set exactly
// once.
func (t *DocTable) Freeze(n uint32) ([]Document, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.dups) > 0 {
		return nil, fmt.Errorf("doc table: %d duplicate ids, first %d", len(t.dups), t.dups[0])
	}
	if got := t.seen.GetCardinality(); got != uint64(n) {
		return nil, fmt.Errorf("doc table: %d documents recorded, expected %d", got, n)
	}
	if n > 0 && t.seen.Maximum() != n-1 {
		return nil, fmt.Errorf("doc table: ids not contiguous, max %d for %d documents", t.seen.Maximum(), n)
	}
	return t.docs[:n:n], nil
}
