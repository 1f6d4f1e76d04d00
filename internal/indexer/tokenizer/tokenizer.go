// Package tokenizer turns text into normalised search terms. It splits on
// non-alphanumeric boundaries, case-folds, strips accents, removes
// stop-words and applies the Porter2 stemmer, each stage switchable through
// config.TokenizerConfig. The same configuration must be used for the
// corpus and for queries.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/surgebase/porter2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// Token is a normalised term with its ordinal position among kept tokens
// and the byte range of the source word it came from.
type Token struct {
	Term     string
	Position int
	Start    int
	End      int
}

// Tokenizer is immutable and safe for concurrent use.
type Tokenizer struct {
	cfg config.TokenizerConfig
}

func New(cfg config.TokenizerConfig) *Tokenizer {
	if cfg.MinTokenLength < 1 {
		cfg.MinTokenLength = 1
	}
	if cfg.MaxTokenLength < cfg.MinTokenLength {
		cfg.MaxTokenLength = cfg.MinTokenLength
	}
	return &Tokenizer{cfg: cfg}
}

// Config returns the pipeline settings, for persisting alongside an index.
func (t *Tokenizer) Config() config.TokenizerConfig {
	return t.cfg
}

// Tokenize breaks text into normalised Tokens. Words that normalise to
// nothing, fall outside the length bounds or are stop-words are dropped and
// do not consume a position.
func (t *Tokenizer) Tokenize(text string) []Token {
	tokens := make([]Token, 0, len(text)/8)
	pos := 0
	start := -1
	emit := func(end int) {
		term, ok := t.normalize(text[start:end])
		if ok {
			tokens = append(tokens, Token{Term: term, Position: pos, Start: start, End: end})
			pos++
		}
		start = -1
	}
	for i, r := range text {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			emit(i)
		}
	}
	if start >= 0 {
		emit(len(text))
	}
	return tokens
}

// Terms returns just the terms of Tokenize, in order.
func (t *Tokenizer) Terms(text string) []string {
	tokens := t.Tokenize(text)
	terms := make([]string, len(tokens))
	for i, tok := range tokens {
		terms[i] = tok.Term
	}
	return terms
}

func (t *Tokenizer) normalize(word string) (string, bool) {
	if t.cfg.Lowercase {
		word = strings.ToLower(word)
	}
	if t.cfg.FoldAccents && !isASCII(word) {
		word = foldAccents(word)
	}
	n := utf8.RuneCountInString(word)
	if n < t.cfg.MinTokenLength || n > t.cfg.MaxTokenLength {
		return "", false
	}
	if t.cfg.StopWords {
		if _, isStop := stopWords[word]; isStop {
			return "", false
		}
	}
	if t.cfg.Stem && isASCII(word) {
		word = porter2.Stem(word)
	}
	if word == "" {
		return "", false
	}
	return word, true
}

// foldAccents decomposes, drops combining marks and recomposes. The chain
// keeps internal buffers so a fresh one is built per call.
func foldAccents(s string) string {
	chain := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(chain, s)
	if err != nil {
		return s
	}
	return out
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
