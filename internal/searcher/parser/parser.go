// Package parser turns free text into the list of distinct query terms.
// Queries have implicit OR semantics: a document matches if it contains any
// term.
package parser

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer/tokenizer"
)

type QueryPlan struct {
	Terms    []string
	RawQuery string
}

// Parse tokenises query with the index's tokenizer and keeps each term once,
// in order of first appearance.
func Parse(tok *tokenizer.Tokenizer, query string) *QueryPlan {
	plan := &QueryPlan{Terms: make([]string, 0), RawQuery: query}
	if strings.TrimSpace(query) == "" {
		return plan
	}
	seen := make(map[string]struct{})
	for _, term := range tok.Terms(query) {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		plan.Terms = append(plan.Terms, term)
	}
	return plan
}

// Normalized is a canonical form of the plan used for cache keys.
func (p *QueryPlan) Normalized() string {
	return strings.Join(p.Terms, " ")
}
