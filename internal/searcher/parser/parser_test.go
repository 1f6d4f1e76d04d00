package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
)

func TestParseKeepsDistinctTermsInOrder(t *testing.T) {
	tok := tokenizer.New(config.TokenizerConfig{Lowercase: true, MinTokenLength: 2, MaxTokenLength: 64})
	plan := Parse(tok, "Cat dog CAT bird dog")
	assert.Equal(t, []string{"cat", "dog", "bird"}, plan.Terms)
	assert.Equal(t, "cat dog bird", plan.Normalized())
	assert.Equal(t, "Cat dog CAT bird dog", plan.RawQuery)
}

func TestParseUsesTokenizerPipeline(t *testing.T) {
	tok := tokenizer.New(config.DefaultTokenizer())
	plan := Parse(tok, "The running cats AND dogs")
	assert.Equal(t, []string{"run", "cat", "dog"}, plan.Terms)
}

func TestParseEmpty(t *testing.T) {
	tok := tokenizer.New(config.DefaultTokenizer())
	assert.Empty(t, Parse(tok, "   ").Terms)
	assert.Empty(t, Parse(tok, "the of a").Terms)
	assert.NotNil(t, Parse(tok, "").Terms)
}
