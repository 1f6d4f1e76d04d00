package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/source"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/wikixml"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/metrics"
)

const dumpHeader = `<mediawiki xmlns="http://www.mediawiki.org/xml/export-0.10/">
  <siteinfo><sitename>Wikipedia</sitename></siteinfo>
`

type testPage struct {
	id, title, body string
	ns              int
}

func dump(pages ...testPage) string {
	var sb strings.Builder
	sb.WriteString(dumpHeader)
	for _, p := range pages {
		fmt.Fprintf(&sb, "  <page><title>%s</title><ns>%d</ns><id>%s</id><revision><id>1</id><text>%s</text></revision></page>\n",
			p.title, p.ns, p.id, p.body)
	}
	sb.WriteString("</mediawiki>\n")
	return sb.String()
}

func catCorpus() []testPage {
	return []testPage{
		{id: "10", title: "D0", body: "the cat sat"},
		{id: "11", title: "D1", body: "the cat ran fast"},
		{id: "12", title: "D2", body: "dogs run"},
	}
}

func testConfig(workers int) config.IndexerConfig {
	cfg := config.Default().Indexer
	cfg.Workers = workers
	cfg.QueueSize = 4
	cfg.NumShards = 8
	cfg.IndexTitle = false
	return cfg
}

func plainTokenizer() *tokenizer.Tokenizer {
	return tokenizer.New(config.TokenizerConfig{Lowercase: true, MinTokenLength: 2, MaxTokenLength: 64})
}

func build(t *testing.T, cfg config.IndexerConfig, input string) (*index.Index, *BuildStats) {
	t.Helper()
	idx, stats, err := NewBuilder(cfg, plainTokenizer(), nil, nil).Build(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	return idx, stats
}

func TestBuildSmallCorpus(t *testing.T) {
	idx, stats := build(t, testConfig(2), dump(catCorpus()...))

	assert.EqualValues(t, 3, stats.Articles)
	assert.EqualValues(t, 3, stats.Indexed)
	assert.False(t, stats.Truncated)
	assert.Equal(t, 7, stats.Terms)

	st := idx.Stats()
	assert.EqualValues(t, 3, st.TotalDocuments)
	assert.EqualValues(t, 9, st.TotalTokens)
	assert.InDelta(t, 3.0, st.AverageDocumentLength, 1e-12)

	e, ok := idx.Lookup("cat")
	require.True(t, ok)
	assert.EqualValues(t, 2, e.DocFreq)
	pl, err := idx.PostingsFor("cat")
	require.NoError(t, err)
	var titles []string
	for _, p := range pl {
		d, ok := idx.Document(p.DocID)
		require.True(t, ok)
		titles = append(titles, d.Title)
		assert.EqualValues(t, 1, p.Frequency)
	}
	sort.Strings(titles)
	assert.Equal(t, []string{"D0", "D1"}, titles)
}

func TestDocIDsAreDenseAndUnique(t *testing.T) {
	var pages []testPage
	for i := 0; i < 300; i++ {
		body := fmt.Sprintf("article number %d about topic%d", i, i%17)
		if i%10 == 0 {
			body = "" // no terms, skipped
		}
		pages = append(pages, testPage{id: fmt.Sprint(1000 + i), title: fmt.Sprint("T", i), body: body})
	}
	idx, stats := build(t, testConfig(8), dump(pages...))

	assert.EqualValues(t, 30, stats.Empty)
	assert.EqualValues(t, 270, stats.Indexed)
	docs := idx.Documents()
	require.Len(t, docs, 270)
	seen := map[string]bool{}
	for i, d := range docs {
		assert.EqualValues(t, i, d.ID)
		assert.False(t, seen[d.SourceID])
		seen[d.SourceID] = true
	}
	assert.EqualValues(t, len(docs), idx.Stats().TotalDocuments)
}

// canonical describes an index independently of doc id assignment.
func canonical(t *testing.T, idx *index.Index) map[string][]string {
	t.Helper()
	out := map[string][]string{}
	for _, e := range idx.Lexicon() {
		pl, err := idx.Postings(e)
		require.NoError(t, err)
		require.EqualValues(t, len(pl), e.DocFreq)
		var entries []string
		for _, p := range pl {
			d, ok := idx.Document(p.DocID)
			require.True(t, ok)
			entries = append(entries, fmt.Sprintf("%s:%d:%d", d.SourceID, p.Frequency, d.Length))
		}
		sort.Strings(entries)
		out[e.Term] = entries
	}
	return out
}

func TestWorkerCountDoesNotChangeIndex(t *testing.T) {
	var pages []testPage
	words := []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta", "eta", "theta"}
	for i := 0; i < 200; i++ {
		var body []string
		for j := 0; j <= i%9; j++ {
			body = append(body, words[(i*j+j)%len(words)])
		}
		pages = append(pages, testPage{id: fmt.Sprint(i), title: fmt.Sprint("Page ", i), body: strings.Join(body, " ")})
	}
	input := dump(pages...)

	one, _ := build(t, testConfig(1), input)
	many, _ := build(t, testConfig(8), input)

	assert.Equal(t, one.Stats(), many.Stats())
	assert.Equal(t, one.NumTerms(), many.NumTerms())
	assert.Equal(t, canonical(t, one), canonical(t, many))
}

func TestTermFrequenciesMatchRetokenisation(t *testing.T) {
	pages := []testPage{
		{id: "1", title: "A", body: "apple banana apple cherry apple"},
		{id: "2", title: "B", body: "banana banana cherry"},
		{id: "3", title: "C", body: "cherry"},
	}
	cfg := testConfig(3)
	cfg.IndexTitle = true
	idx, _ := build(t, cfg, dump(pages...))

	want := map[string]uint32{}
	tok := plainTokenizer()
	for _, p := range pages {
		for _, term := range tok.Terms(p.title + " " + p.body) {
			want[term]++
		}
	}
	for term, n := range want {
		pl, err := idx.PostingsFor(term)
		require.NoError(t, err)
		var sum uint32
		for _, p := range pl {
			sum += p.Frequency
		}
		assert.Equal(t, n, sum, term)
	}
}

func TestNamespaceFilter(t *testing.T) {
	cfg := testConfig(2)
	cfg.Namespaces = []int{0}
	idx, stats := build(t, cfg, dump(
		testPage{id: "1", title: "Main", body: "article text"},
		testPage{id: "2", title: "Talk:Main", body: "discussion text", ns: 1},
	))
	assert.EqualValues(t, 1, stats.Filtered)
	assert.EqualValues(t, 1, idx.Stats().TotalDocuments)
	_, ok := idx.Lookup("discussion")
	assert.False(t, ok)
}

func TestMarkupIsStripped(t *testing.T) {
	idx, _ := build(t, testConfig(1), dump(testPage{
		id: "1", title: "Paris",
		body: "'''Paris''' is the [[capital city|capital]] of [[France]]{{citation needed}}",
	}))
	for _, term := range []string{"paris", "capital", "france"} {
		_, ok := idx.Lookup(term)
		assert.True(t, ok, term)
	}
	for _, term := range []string{"citation", "city"} {
		_, ok := idx.Lookup(term)
		assert.False(t, ok, term)
	}
}

func TestTruncatedDumpStillBuilds(t *testing.T) {
	input := strings.TrimSuffix(dump(catCorpus()...), "</mediawiki>\n") +
		"  <page><title>Cut</title><ns>0</ns><id>99</id><revision><text>never fini"
	idx, stats := build(t, testConfig(2), input)
	assert.True(t, stats.Truncated)
	assert.EqualValues(t, 3, idx.Stats().TotalDocuments)
}

func TestCutGzipDumpStillBuilds(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(dump(catCorpus()...)))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	cut := buf.Bytes()[:buf.Len()-8]

	stream, err := source.Wrap(io.NopCloser(bytes.NewReader(cut)), source.CodecGzip, int64(len(cut)))
	require.NoError(t, err)
	defer stream.Close()

	idx, stats, err := NewBuilder(testConfig(2), plainTokenizer(), nil, nil).Build(context.Background(), stream)
	require.NoError(t, err)
	assert.True(t, stats.Truncated)
	assert.EqualValues(t, 3, stats.Indexed)
	assert.EqualValues(t, 3, idx.Stats().TotalDocuments)
}

func TestFullQueueStallsParser(t *testing.T) {
	pages := make([]testPage, 50)
	for i := range pages {
		pages[i] = testPage{id: fmt.Sprint(i + 1), title: fmt.Sprintf("P%d", i), body: "cat dog"}
	}
	cfg := testConfig(2)
	cfg.QueueSize = 3
	m := metrics.New(prometheus.NewRegistry())

	release := make(chan struct{})
	b := NewBuilder(cfg, plainTokenizer(), nil, m)
	b.beforeTokenize = func(*wikixml.RawArticle) { <-release }

	type outcome struct {
		idx   *index.Index
		stats *BuildStats
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		idx, stats, err := b.Build(context.Background(), strings.NewReader(dump(pages...)))
		done <- outcome{idx, stats, err}
	}()

	// each stalled worker holds one article, the queue is full and the
	// producer is blocked sending one more
	ceiling := float64(cfg.Workers + cfg.QueueSize + 1)
	parsed := func() float64 { return testutil.ToFloat64(m.ArticlesParsedTotal) }
	require.Eventually(t, func() bool { return parsed() == ceiling }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, ceiling, parsed())

	close(release)
	res := <-done
	require.NoError(t, res.err)
	assert.EqualValues(t, len(pages), res.stats.Indexed)
	assert.Equal(t, float64(len(pages)), parsed())
}

func TestCorruptDumpIsFatal(t *testing.T) {
	cfg := testConfig(2)
	cfg.RecoveryWindow = 64
	input := dumpHeader + "  <page><title>x</title></oops>" + strings.Repeat("garbage ", 100)
	idx, _, err := NewBuilder(cfg, plainTokenizer(), nil, nil).Build(context.Background(), strings.NewReader(input))
	require.Error(t, err)
	assert.Nil(t, idx)
	var corrupt *wikixml.CorruptionError
	assert.ErrorAs(t, err, &corrupt)
}

func TestWorkerPanicSkipsArticle(t *testing.T) {
	b := NewBuilder(testConfig(2), plainTokenizer(), nil, nil)
	b.beforeTokenize = func(a *wikixml.RawArticle) {
		if a.ID == "11" {
			panic("boom")
		}
	}
	idx, stats, err := b.Build(context.Background(), strings.NewReader(dump(catCorpus()...)))
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Failed)
	assert.EqualValues(t, 2, idx.Stats().TotalDocuments)
	_, ok := idx.Lookup("fast")
	assert.False(t, ok)
}

type failingStore struct {
	mu    sync.Mutex
	calls int
}

func (s *failingStore) Put(ctx context.Context, docID uint32, text string) (index.TextRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls == 2 {
		return index.TextRef{}, errors.New("disk full")
	}
	return index.TextRef{Length: uint32(len(text))}, nil
}

func (s *failingStore) Close() error { return nil }

func TestStoreFailureIsFatal(t *testing.T) {
	idx, _, err := NewBuilder(testConfig(1), plainTokenizer(), &failingStore{}, nil).
		Build(context.Background(), strings.NewReader(dump(catCorpus()...)))
	assert.ErrorContains(t, err, "disk full")
	assert.Nil(t, idx)
}

func TestCancelledBuild(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewBuilder(testConfig(2), plainTokenizer(), nil, nil).
		Build(ctx, strings.NewReader(dump(catCorpus()...)))
	assert.ErrorIs(t, err, context.Canceled)
}

func BenchmarkBuild(b *testing.B) {
	var pages []testPage
	for i := 0; i < 2000; i++ {
		pages = append(pages, testPage{
			id:    fmt.Sprint(i),
			title: fmt.Sprint("Article ", i),
			body:  "search engine with distributed indexing and query processing over the encyclopedia " + fmt.Sprint("term", i%50),
		})
	}
	input := dump(pages...)
	cfg := config.Default().Indexer
	tok := tokenizer.New(config.DefaultTokenizer())
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := NewBuilder(cfg, tok, nil, nil).Build(context.Background(), strings.NewReader(input)); err != nil {
			b.Fatal(err)
		}
	}
}
