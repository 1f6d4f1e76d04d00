// Package wikitext reduces MediaWiki markup to the readable text of an
// article. Unbalanced constructs are dropped, never reported.
package wikitext

import (
	"html"
	"strings"
)

// elements whose content is never prose
var droppedElements = []string{"ref", "math", "gallery", "timeline", "score", "syntaxhighlight"}

var droppedNamespaces = []string{"file", "image", "category", "media"}

// Plain returns the readable text of markup.
func Plain(markup string) string {
	if markup == "" {
		return ""
	}
	s := stripComments(markup)
	for _, name := range droppedElements {
		s = stripElement(s, name)
	}
	s = stripBlocks(s)
	s = rewriteLinks(s)
	s = stripTags(s)
	s = stripLineMarkup(s)
	return html.UnescapeString(s)
}

func stripComments(s string) string {
	if !strings.Contains(s, "<!--") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for {
		i := strings.Index(s, "<!--")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		j := strings.Index(s[i+4:], "-->")
		if j < 0 {
			return b.String()
		}
		s = s[i+4+j+3:]
	}
}

// stripElement removes <name ...>...</name> and <name .../> case-insensitively.
func stripElement(s, name string) string {
	open := "<" + name
	closing := "</" + name + ">"
	if indexFold(s, open, 0) < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	pos := 0
	unclosed := false
	for {
		i := indexFold(s, open, pos)
		if i < 0 {
			break
		}
		after := i + len(open)
		if after < len(s) && !isTagBoundary(s[after]) {
			b.WriteString(s[pos:after])
			pos = after
			continue
		}
		end := strings.IndexByte(s[after:], '>')
		if end < 0 {
			b.WriteString(s[pos:i])
			pos = len(s)
			break
		}
		tagEnd := after + end + 1
		b.WriteString(s[pos:i])
		b.WriteByte(' ')
		if s[tagEnd-2] == '/' {
			pos = tagEnd
			continue
		}
		c := -1
		if !unclosed {
			c = indexFold(s, closing, tagEnd)
		}
		if c < 0 {
			// no closing tag anywhere past this point
			unclosed = true
			pos = tagEnd
			continue
		}
		pos = c + len(closing)
	}
	b.WriteString(s[pos:])
	return b.String()
}

type blockKind uint8

const (
	blockTemplate blockKind = iota
	blockParam
	blockTable
)

// stripBlocks removes templates, template parameters and tables, which may
// nest inside each other.
func stripBlocks(s string) string {
	if !strings.Contains(s, "{{") && !strings.Contains(s, "{|") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	var stack []blockKind
	top := func() (blockKind, bool) {
		if len(stack) == 0 {
			return 0, false
		}
		return stack[len(stack)-1], true
	}
	for i := 0; i < len(s); {
		rest := s[i:]
		switch {
		case strings.HasPrefix(rest, "{{{"):
			stack = append(stack, blockParam)
			i += 3
			continue
		case strings.HasPrefix(rest, "{{"):
			stack = append(stack, blockTemplate)
			i += 2
			continue
		case strings.HasPrefix(rest, "{|") && atLineStart(s, i):
			stack = append(stack, blockTable)
			i += 2
			continue
		}
		if k, ok := top(); ok {
			switch {
			case k == blockParam && strings.HasPrefix(rest, "}}}"):
				stack = stack[:len(stack)-1]
				i += 3
			case k == blockTemplate && strings.HasPrefix(rest, "}}"):
				stack = stack[:len(stack)-1]
				i += 2
			case k == blockTable && strings.HasPrefix(rest, "|}"):
				stack = stack[:len(stack)-1]
				i += 2
			default:
				i++
			}
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

func rewriteLinks(s string) string {
	if !strings.Contains(s, "[") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	pairs := matchBrackets(s)
	noClose := false
	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], "[[") {
			end, ok := pairs[i]
			if !ok {
				b.WriteString("[[")
				i += 2
				continue
			}
			b.WriteString(linkText(s[i+2 : end]))
			i = end + 2
			continue
		}
		if s[i] == '[' && !noClose && isExternal(s[i+1:]) {
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				noClose = true
				b.WriteByte('[')
				i++
				continue
			}
			inner := s[i+1 : i+end]
			if _, label, ok := strings.Cut(inner, " "); ok {
				b.WriteString(label)
			}
			i += end + 1
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

// matchBrackets pairs every "[[" with the "]]" that closes it, keyed by
// the offset of the opening bracket. Unclosed openings are absent.
func matchBrackets(s string) map[int]int {
	var pairs map[int]int
	var open []int
	for i := 0; i+1 < len(s); {
		switch {
		case s[i] == '[' && s[i+1] == '[':
			open = append(open, i)
			i += 2
		case s[i] == ']' && s[i+1] == ']':
			if len(open) > 0 {
				if pairs == nil {
					pairs = make(map[int]int)
				}
				pairs[open[len(open)-1]] = i
				open = open[:len(open)-1]
			}
			i += 2
		default:
			i++
		}
	}
	return pairs
}

func linkText(inner string) string {
	target, label, hasLabel := strings.Cut(inner, "|")
	target = strings.TrimSpace(target)
	if ns, _, ok := strings.Cut(target, ":"); ok {
		for _, dropped := range droppedNamespaces {
			if strings.EqualFold(strings.TrimSpace(ns), dropped) {
				return ""
			}
		}
	}
	if hasLabel && strings.TrimSpace(label) != "" {
		return rewriteLinks(label)
	}
	return strings.TrimPrefix(target, ":")
}

func isExternal(s string) bool {
	for _, scheme := range []string{"http://", "https://", "ftp://", "//"} {
		if len(s) >= len(scheme) && strings.EqualFold(s[:len(scheme)], scheme) {
			return true
		}
	}
	return false
}

// stripTags replaces every remaining HTML tag with a space, keeping content.
func stripTags(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] == '<' && i+1 < len(s) && isTagStart(s[i+1]) {
			end := strings.IndexByte(s[i:], '>')
			if end > 0 {
				b.WriteByte(' ')
				i += end + 1
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

func stripLineMarkup(s string) string {
	s = strings.ReplaceAll(s, "'''", "")
	s = strings.ReplaceAll(s, "''", "")
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "----"):
			continue
		case strings.HasPrefix(trimmed, "__") && strings.HasSuffix(trimmed, "__"):
			continue
		case strings.HasPrefix(trimmed, "=") && strings.HasSuffix(trimmed, "="):
			trimmed = strings.TrimSpace(strings.Trim(trimmed, "="))
		default:
			trimmed = strings.TrimLeft(trimmed, "*#:; ")
		}
		out = append(out, trimmed)
	}
	return strings.Join(out, "\n")
}

func indexFold(s, sub string, from int) int {
	for i := from; i+len(sub) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}

func atLineStart(s string, i int) bool {
	for j := i - 1; j >= 0; j-- {
		switch s[j] {
		case '\n':
			return true
		case ' ', '\t':
			continue
		default:
			return false
		}
	}
	return true
}

func isTagBoundary(c byte) bool {
	return c == '>' || c == '/' || c == ' ' || c == '\t' || c == '\n'
}

func isTagStart(c byte) bool {
	return c == '/' || c == '!' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
