// Package snippet picks a short passage of an article that best shows why
// it matched a query.
package snippet

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer/tokenizer"
)

const (
	DefaultWidth = 160
	Ellipsis     = "…"

	// maxWiden bounds how far a cut word is extended to its boundary.
	maxWiden = 32
)

// Highlight is a byte range [Start, End) of Snippet.Text.
type Highlight struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type Snippet struct {
	Text       string      `json:"text"`
	Highlights []Highlight `json:"highlights,omitempty"`
}

// Extract returns the window of about width bytes of text holding the most
// occurrences of terms. Ties go to the earliest window; with no occurrence
// the leading window is used. text is re-tokenised with tok so highlights
// match exactly the words that produced the query terms.
func Extract(tok *tokenizer.Tokenizer, text string, terms []string, width int) Snippet {
	if width <= 0 {
		width = DefaultWidth
	}
	if text == "" {
		return Snippet{}
	}
	want := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		want[t] = struct{}{}
	}
	var matches []tokenizer.Token
	for _, t := range tok.Tokenize(text) {
		if _, ok := want[t.Term]; ok {
			matches = append(matches, t)
		}
	}

	start := bestWindow(matches, width)
	if start+width > len(text) {
		start = max(0, len(text)-width)
	}
	end := min(len(text), start+width)
	start = wordStart(text, start)
	end = wordEnd(text, end)

	var inside []tokenizer.Token
	for _, m := range matches {
		if m.Start >= start && m.End <= end {
			inside = append(inside, m)
		}
	}
	return render(text, start, end, inside)
}

// bestWindow returns the start offset of the earliest window of the given
// width containing the most matches. matches are ordered by offset.
func bestWindow(matches []tokenizer.Token, width int) int {
	best, bestCount := 0, 0
	j := 0
	for i := range matches {
		if j < i {
			j = i
		}
		for j < len(matches) && matches[j].End <= matches[i].Start+width {
			j++
		}
		if n := j - i; n > bestCount {
			best, bestCount = matches[i].Start, n
		}
	}
	return best
}

// wordStart moves off back to the start of the word it cuts, if that is
// close enough, and otherwise to a rune boundary.
func wordStart(text string, off int) int {
	for off > 0 && !utf8.RuneStart(text[off]) {
		off--
	}
	if off == 0 || !cuts(text, off) {
		return off
	}
	limit := max(0, off-maxWiden)
	i := off
	for i > limit {
		r, size := utf8.DecodeLastRuneInString(text[:i])
		if !isWordRune(r) {
			return i
		}
		i -= size
	}
	if i == 0 {
		return 0
	}
	return off
}

func wordEnd(text string, off int) int {
	for off < len(text) && !utf8.RuneStart(text[off]) {
		off++
	}
	if off == len(text) || !cuts(text, off) {
		return off
	}
	limit := min(len(text), off+maxWiden)
	i := off
	for i < limit {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !isWordRune(r) {
			return i
		}
		i += size
	}
	if i == len(text) {
		return i
	}
	return off
}

// cuts reports whether off splits a word. off must be a rune boundary
// strictly inside text.
func cuts(text string, off int) bool {
	before, _ := utf8.DecodeLastRuneInString(text[:off])
	after, _ := utf8.DecodeRuneInString(text[off:])
	return isWordRune(before) && isWordRune(after)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

// render copies text[start:end] collapsing runs of whitespace to a single
// space, adds ellipses on cut edges and translates match offsets.
func render(text string, start, end int, matches []tokenizer.Token) Snippet {
	var b strings.Builder
	b.Grow(end - start + 2*len(Ellipsis) + 2)
	if start > 0 {
		b.WriteString(Ellipsis)
		b.WriteByte(' ')
	}
	// out[i] is the output offset of source byte start+i.
	out := make([]int, end-start+1)
	pendingSpace := false
	for i := start; i < end; {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			for k := 0; k < size; k++ {
				out[i-start+k] = b.Len()
			}
			pendingSpace = true
			i += size
			continue
		}
		if pendingSpace && b.Len() > 0 && !endsWithEllipsis(b.String(), start) {
			b.WriteByte(' ')
		}
		pendingSpace = false
		for k := 0; k < size; k++ {
			out[i-start+k] = b.Len()
		}
		b.WriteString(text[i : i+size])
		i += size
	}
	out[end-start] = b.Len()
	if end < len(text) {
		b.WriteByte(' ')
		b.WriteString(Ellipsis)
	}

	s := Snippet{Text: b.String()}
	for _, m := range matches {
		s.Highlights = append(s.Highlights, Highlight{Start: out[m.Start-start], End: out[m.End-start]})
	}
	return s
}

// endsWithEllipsis reports whether nothing but the leading marker has been
// written yet.
func endsWithEllipsis(written string, start int) bool {
	return start > 0 && written == Ellipsis+" "
}

// Mark renders the snippet with every highlight wrapped in open and close.
func (s Snippet) Mark(open, close string) string {
	if len(s.Highlights) == 0 {
		return s.Text
	}
	var b strings.Builder
	b.Grow(len(s.Text) + len(s.Highlights)*(len(open)+len(close)))
	prev := 0
	for _, h := range s.Highlights {
		if h.Start < prev || h.End > len(s.Text) || h.Start > h.End {
			continue
		}
		b.WriteString(s.Text[prev:h.Start])
		b.WriteString(open)
		b.WriteString(s.Text[h.Start:h.End])
		b.WriteString(close)
		prev = h.End
	}
	b.WriteString(s.Text[prev:])
	return b.String()
}
