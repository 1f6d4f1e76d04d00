package index

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/errors"
)

func counter() func() uint32 {
	var mu sync.Mutex
	var next uint32
	return func() uint32 {
		mu.Lock()
		defer mu.Unlock()
		next++
		return next - 1
	}
}

func buildSmall(t *testing.T) *Index {
	t.Helper()
	acc := NewAccumulator()
	ids := counter()
	acc.Add(2, []TermFreq{{"cat", 1}, {"dog", 2}}, ids)
	acc.Add(0, []TermFreq{{"cat", 3}}, ids)
	acc.Add(1, []TermFreq{{"bird", 1}, {"cat", 1}}, ids)

	terms, err := acc.Finalize()
	require.NoError(t, err)

	docs := []Document{
		{ID: 0, SourceID: "10", Title: "A", Length: 3},
		{ID: 1, SourceID: "11", Title: "B", Length: 2},
		{ID: 2, SourceID: "12", Title: "C", Length: 3},
	}
	idx, err := Assemble(docs, terms)
	require.NoError(t, err)
	return idx
}

func TestPostingCodecRoundTrip(t *testing.T) {
	pl := PostingList{{0, 1}, {5, 3}, {300, 1}, {70000, 12}}
	got, err := DecodePostings(AppendPostings(nil, pl))
	require.NoError(t, err)
	assert.Equal(t, pl, got)
}

func TestDecodePostingsRejectsDamage(t *testing.T) {
	enc := AppendPostings(nil, PostingList{{1, 1}, {2, 2}})

	_, err := DecodePostings(enc[:len(enc)-1])
	assert.ErrorIs(t, err, apperrors.ErrIndexCorrupt)

	_, err = DecodePostings(append(enc, 0))
	assert.ErrorIs(t, err, apperrors.ErrIndexCorrupt)

	// second delta of zero means a repeated doc id
	_, err = DecodePostings([]byte{2, 1, 1, 0, 1})
	assert.ErrorIs(t, err, apperrors.ErrIndexCorrupt)
}

func TestDocumentCodecRoundTrip(t *testing.T) {
	docs := []Document{
		{ID: 0, SourceID: "12", Title: "Anarchism", Length: 4021, Namespace: 0, Ref: TextRef{Offset: 0, Length: 900}},
		{ID: 1, SourceID: "39", Title: "Talk:Albedo", Length: 7, Namespace: -1, Ref: TextRef{Offset: 900, Length: 12}},
	}
	var b []byte
	for _, d := range docs {
		b = AppendDocument(b, d)
	}
	got, err := DecodeDocuments(b, 2)
	require.NoError(t, err)
	assert.Equal(t, docs, got)

	_, err = DecodeDocuments(b, 3)
	assert.ErrorIs(t, err, apperrors.ErrIndexCorrupt)
}

func TestDecodeLexiconChecksOrderAndBounds(t *testing.T) {
	a := LexEntry{Term: "a", TermID: 1, DocFreq: 1, Offset: 0, Length: 3}
	b := LexEntry{Term: "b", TermID: 0, DocFreq: 1, Offset: 3, Length: 3}

	lex, err := DecodeLexicon(AppendLexEntry(AppendLexEntry(nil, a), b), 2, 6)
	require.NoError(t, err)
	assert.Equal(t, []LexEntry{a, b}, lex)

	_, err = DecodeLexicon(AppendLexEntry(AppendLexEntry(nil, b), a), 2, 6)
	assert.ErrorIs(t, err, apperrors.ErrIndexCorrupt)

	_, err = DecodeLexicon(AppendLexEntry(AppendLexEntry(nil, a), b), 2, 5)
	assert.ErrorIs(t, err, apperrors.ErrIndexCorrupt)
}

func TestAssembledIndexAnswersQueries(t *testing.T) {
	idx := buildSmall(t)

	pl, err := idx.PostingsFor("cat")
	require.NoError(t, err)
	assert.Equal(t, PostingList{{0, 3}, {1, 1}, {2, 1}}, pl)

	e, ok := idx.Lookup("dog")
	require.True(t, ok)
	assert.EqualValues(t, 1, e.DocFreq)

	pl, err = idx.PostingsFor("xyzzy")
	require.NoError(t, err)
	assert.Empty(t, pl)

	d, ok := idx.Document(1)
	require.True(t, ok)
	assert.Equal(t, "B", d.Title)
	_, ok = idx.Document(3)
	assert.False(t, ok)

	assert.Equal(t, 3, idx.NumTerms())
	assert.Equal(t, Stats{TotalDocuments: 3, TotalTokens: 8, AverageDocumentLength: 8.0 / 3}, idx.Stats())

	lex := idx.Lexicon()
	assert.Equal(t, []string{"bird", "cat", "dog"}, []string{lex[0].Term, lex[1].Term, lex[2].Term})
	assert.NoError(t, idx.Close())
}

func TestTermIDsAssignedOnFirstSight(t *testing.T) {
	idx := buildSmall(t)
	ids := map[string]uint32{}
	for _, e := range idx.Lexicon() {
		ids[e.Term] = e.TermID
	}
	assert.Equal(t, map[string]uint32{"cat": 0, "dog": 1, "bird": 2}, ids)
}

func TestFinalizeRejectsDuplicatePostings(t *testing.T) {
	acc := NewAccumulator()
	ids := counter()
	acc.Add(4, []TermFreq{{"cat", 1}}, ids)
	acc.Add(4, []TermFreq{{"cat", 1}}, ids)
	_, err := acc.Finalize()
	assert.Error(t, err)
}

func TestAccumulatorConcurrentAdds(t *testing.T) {
	acc := NewAccumulator()
	ids := counter()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				acc.Add(uint32(w*100+i), []TermFreq{{"shared", 1}, {fmt.Sprintf("own%d", w), 2}}, ids)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 9, acc.Len())

	terms, err := acc.Finalize()
	require.NoError(t, err)
	require.Len(t, terms, 9)
	assert.Equal(t, "own0", terms[0].Term)
	assert.Equal(t, "shared", terms[8].Term)
	assert.EqualValues(t, 800, terms[8].DocFreq)

	pl, err := DecodePostings(terms[8].Postings)
	require.NoError(t, err)
	for i, p := range pl {
		assert.EqualValues(t, i, p.DocID)
	}
	assert.Zero(t, acc.Len())
}

func TestDocTableFreeze(t *testing.T) {
	tbl := NewDocTable(1)
	for _, id := range []uint32{3, 0, 2, 1} {
		tbl.Set(Document{ID: id, Title: fmt.Sprint(id)})
	}
	assert.Equal(t, 4, tbl.Len())

	docs, err := tbl.Freeze(4)
	require.NoError(t, err)
	for i, d := range docs {
		assert.EqualValues(t, i, d.ID)
		assert.Equal(t, fmt.Sprint(i), d.Title)
	}
}

func TestDocTableDetectsGapsAndDuplicates(t *testing.T) {
	gap := NewDocTable(4)
	gap.Set(Document{ID: 0})
	gap.Set(Document{ID: 2})
	_, err := gap.Freeze(2)
	assert.Error(t, err)

	dup := NewDocTable(4)
	dup.Set(Document{ID: 0})
	dup.Set(Document{ID: 0})
	_, err = dup.Freeze(1)
	assert.Error(t, err)
}

func TestAssembleRejectsImpossibleDocFreq(t *testing.T) {
	terms := []FrozenTerm{{Term: "a", DocFreq: 2, Postings: AppendPostings(nil, PostingList{{0, 1}, {1, 1}})}}
	_, err := Assemble([]Document{{ID: 0}}, terms)
	assert.Error(t, err)
}

type shortReader struct{}

func (shortReader) ReadAt(p []byte, off int64) (int, error) { return 0, errors.New("disk gone") }

func TestPostingsReadFailure(t *testing.T) {
	lex := []LexEntry{{Term: "a", DocFreq: 1, Offset: 0, Length: 3}}
	idx := New([]Document{{ID: 0}}, lex, shortReader{}, 3, nil)
	_, err := idx.PostingsFor("a")
	assert.ErrorContains(t, err, "disk gone")
}

func BenchmarkAccumulatorAdd(b *testing.B) {
	acc := NewAccumulator()
	ids := counter()
	tfs := []TermFreq{{"search", 2}, {"engine", 1}, {"distributed", 1}, {"index", 3}}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		acc.Add(uint32(i), tfs, ids)
	}
}

func BenchmarkPostingsFor(b *testing.B) {
	acc := NewAccumulator()
	ids := counter()
	docs := make([]Document, 10000)
	for i := range docs {
		docs[i] = Document{ID: uint32(i), Length: 8}
		acc.Add(uint32(i), []TermFreq{{"search", 1}, {"query", 2}}, ids)
	}
	terms, err := acc.Finalize()
	if err != nil {
		b.Fatal(err)
	}
	idx, err := Assemble(docs, terms)
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := idx.PostingsFor("search"); err != nil {
				b.Fatal(err)
			}
		}
	})
}
