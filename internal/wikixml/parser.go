// Package wikixml streams <page> records out of a MediaWiki XML export
// without materialising the document. Damaged pages are skipped and the
// parser resynchronises on the next <page>; only damage it cannot get past
// within the recovery window is fatal.
package wikixml

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

const (
	DefaultMaxArticleBytes = 64 << 20
	DefaultRecoveryWindow  = 1 << 20
)

// RawArticle is one page as found in the dump. ID is the page id, kept
// opaque. Offset is the decompressed byte offset of the <page> tag.
type RawArticle struct {
	ID        string
	Title     string
	Body      string
	Namespace int
	Redirect  string
	Offset    int64
}

type Options struct {
	// MaxArticleBytes bounds the decoded body of one article.
	MaxArticleBytes int
	// RecoveryWindow bounds how much input may be discarded while looking
	// for the next <page> after damage.
	RecoveryWindow int
	Logger         *slog.Logger
}

// ParseStats counts what the parser has seen so far.
type ParseStats struct {
	Articles  int64
	Skipped   int64
	Truncated int64
	Resyncs   int64
}

type pageState struct {
	offset   int64
	depth    int
	title    strings.Builder
	id       strings.Builder
	idDone   bool
	ns       strings.Builder
	redirect string
	body     strings.Builder
	oversize bool
}

// Parser is single-owner: Next must not be called concurrently.
type Parser struct {
	src  *byteSource
	dec  *xml.Decoder
	base int64

	opts      Options
	rawLimit  int64
	idleLimit int64
	logger    *slog.Logger

	stack      []string
	root       string
	page       *pageState
	recovering bool
	recoverAt  int64
	done       error
	stats      ParseStats
}

func NewParser(r io.Reader, opts Options) *Parser {
	if opts.MaxArticleBytes <= 0 {
		opts.MaxArticleBytes = DefaultMaxArticleBytes
	}
	if opts.RecoveryWindow <= 0 {
		opts.RecoveryWindow = DefaultRecoveryWindow
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Parser{
		src:       newByteSource(r),
		opts:      opts,
		rawLimit:  4*int64(opts.MaxArticleBytes) + 64<<10,
		idleLimit: max(int64(opts.RecoveryWindow), 64<<10),
		logger:    logger.With("component", "wikixml"),
	}
	p.dec = p.newDecoder()
	return p
}

func (p *Parser) newDecoder() *xml.Decoder {
	dec := xml.NewDecoder(p.src)
	dec.Strict = true
	dec.Entity = xml.HTMLEntity
	return dec
}

// Stats returns the counters accumulated so far.
func (p *Parser) Stats() ParseStats {
	return p.stats
}

// Offset returns the number of decompressed bytes consumed.
func (p *Parser) Offset() int64 {
	return p.src.n
}

// Next returns the next well-formed article. At the end of a clean stream
// it returns io.EOF. A stream that stops inside a page, or between pages,
// yields an error wrapping ErrTruncated after every complete article has
// been returned. Unrecoverable damage yields a *CorruptionError. Once Next
// has returned an error it keeps returning it.
func (p *Parser) Next() (*RawArticle, error) {
	if p.done != nil {
		return nil, p.done
	}
	for {
		if p.recovering {
			if err := p.resync(); err != nil {
				p.done = err
				return nil, err
			}
			continue
		}

		if p.page == nil {
			// bound each token skipped outside a page
			p.src.limit = p.src.n + p.idleLimit
		}
		off := p.base + p.dec.InputOffset()
		tok, err := p.dec.RawToken()
		if err != nil {
			if err := p.handleError(err, off); err != nil {
				p.done = err
				return nil, err
			}
			continue
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if !p.startElement(t, off) {
				p.damaged(off, "nested page")
			}
		case xml.EndElement:
			article, ok := p.endElement(t)
			if !ok {
				p.damaged(off, fmt.Sprintf("unexpected </%s>", t.Name.Local))
				continue
			}
			if article != nil {
				p.stats.Articles++
				return article, nil
			}
		case xml.CharData:
			p.charData(t)
		}
	}
}

func (p *Parser) top(fromEnd int) string {
	i := len(p.stack) - 1 - fromEnd
	if i < 0 {
		return ""
	}
	return p.stack[i]
}

func (p *Parser) startElement(t xml.StartElement, off int64) bool {
	name := t.Name.Local
	parent := p.top(0)
	p.stack = append(p.stack, name)
	if len(p.stack) == 1 && p.root == "" {
		p.root = name
	}

	if name == "page" {
		if p.page != nil {
			return false
		}
		p.page = &pageState{offset: off, depth: len(p.stack) - 1}
		p.src.limit = p.src.n + p.rawLimit
		return true
	}
	if p.page == nil {
		return true
	}
	switch {
	case name == "redirect" && parent == "page":
		for _, a := range t.Attr {
			if a.Name.Local == "title" {
				p.page.redirect = a.Value
			}
		}
	case name == "text" && parent == "revision" && p.top(2) == "page":
		// the last revision in the page wins
		p.page.body.Reset()
		p.page.oversize = false
	}
	return true
}

// endElement pops the stack. ok is false on mismatched nesting.
func (p *Parser) endElement(t xml.EndElement) (article *RawArticle, ok bool) {
	name := t.Name.Local
	if p.top(0) != name {
		return nil, false
	}
	p.stack = p.stack[:len(p.stack)-1]
	if p.page == nil {
		return nil, true
	}
	if name == "id" && p.top(0) == "page" {
		p.page.idDone = true
	}
	if name == "page" && len(p.stack) == p.page.depth {
		return p.finishPage(), true
	}
	return nil, true
}

func (p *Parser) charData(cd xml.CharData) {
	if p.page == nil || len(p.stack) < 2 {
		return
	}
	top, parent := p.top(0), p.top(1)
	switch {
	case parent == "page" && top == "title":
		p.page.title.Write(cd)
	case parent == "page" && top == "ns":
		p.page.ns.Write(cd)
	case parent == "page" && top == "id" && !p.page.idDone:
		p.page.id.Write(cd)
	case parent == "revision" && top == "text" && p.top(2) == "page":
		if p.page.oversize {
			return
		}
		if p.page.body.Len()+len(cd) > p.opts.MaxArticleBytes {
			p.page.oversize = true
			return
		}
		p.page.body.Write(cd)
	}
}

// finishPage validates the completed page. Invalid pages are counted and
// nil is returned.
func (p *Parser) finishPage() *RawArticle {
	pg := p.page
	p.page = nil
	p.src.limit = 0

	id := strings.TrimSpace(pg.id.String())
	title := strings.TrimSpace(pg.title.String())
	var reason string
	switch {
	case id == "":
		reason = "missing id"
	case !isDecimal(id):
		reason = "invalid id"
	case title == "":
		reason = "missing title"
	case pg.oversize:
		reason = "body exceeds size limit"
	}
	if reason != "" {
		p.stats.Skipped++
		p.logger.Debug("skipping malformed page", "reason", reason, "id", id, "title", title, "offset", pg.offset)
		return nil
	}

	ns, err := strconv.Atoi(strings.TrimSpace(pg.ns.String()))
	if err != nil {
		ns = 0
	}
	return &RawArticle{
		ID:        id,
		Title:     title,
		Body:      pg.body.String(),
		Namespace: ns,
		Redirect:  pg.redirect,
		Offset:    pg.offset,
	}
}

func (p *Parser) handleError(err error, off int64) error {
	switch {
	case p.src.err != nil:
		return &CorruptionError{Offset: p.src.n, Err: fmt.Errorf("reading input: %w", p.src.err)}
	case p.src.tripped:
		p.src.tripped = false
		reason := errPageTooLarge.Error()
		if p.page == nil {
			reason = errMarkupTooLarge.Error()
		}
		p.damaged(off, reason)
		return nil
	case err == io.EOF || p.src.eof:
		return p.endOfInput(off)
	}
	var syntaxErr *xml.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return &CorruptionError{Offset: off, Err: err}
	}
	p.damaged(off, syntaxErr.Msg)
	return nil
}

// damaged drops the current page, if any, and switches to recovery.
func (p *Parser) damaged(off int64, reason string) {
	if p.page != nil {
		p.stats.Skipped++
		p.logger.Warn("dropping damaged page", "reason", reason, "page_offset", p.page.offset, "offset", off)
	} else {
		p.logger.Warn("damaged markup between pages", "reason", reason, "offset", off)
	}
	p.page = nil
	p.src.limit = 0
	p.src.tripped = false
	p.recovering = true
	p.recoverAt = off
	p.stats.Resyncs++
}

func (p *Parser) endOfInput(off int64) error {
	if p.src.cutShort {
		p.logger.Warn("compressed input ended early", "offset", p.src.n)
	}
	switch {
	case len(p.stack) == 0 && p.src.cutShort:
		return fmt.Errorf("%w: compressed stream cut short after the document closed", ErrTruncated)
	case len(p.stack) == 0:
		return io.EOF
	case p.page != nil:
		p.stats.Truncated++
		err := fmt.Errorf("%w: partial page at byte %d dropped", ErrTruncated, p.page.offset)
		p.page = nil
		return err
	case len(p.stack) == 1:
		return fmt.Errorf("%w: missing </%s>", ErrTruncated, p.stack[0])
	default:
		return &CorruptionError{Offset: off, Err: fmt.Errorf("%w inside <%s>", ErrTruncated, p.top(0))}
	}
}

const pageTag = "<page"

// resync discards raw input until the next "<page" tag and restarts the
// decoder there.
func (p *Parser) resync() error {
	p.src.prefix = nil
	window := int64(p.opts.RecoveryWindow)
	var scanned int64
	matched := 0
	for {
		b, err := p.src.ReadByte()
		if err != nil {
			if p.src.eof {
				// every complete page before the damage has been returned
				return fmt.Errorf("%w: input ended while recovering from damage at byte %d", ErrTruncated, p.recoverAt)
			}
			return &CorruptionError{Offset: p.src.n, Err: fmt.Errorf("reading input: %w", err)}
		}
		scanned++
		if scanned > window {
			return &CorruptionError{
				Offset: p.recoverAt,
				Err:    fmt.Errorf("no <page> within %d bytes of damaged input", window),
			}
		}
		if matched < len(pageTag) {
			switch {
			case b == pageTag[matched]:
				matched++
			case b == '<':
				matched = 1
			default:
				matched = 0
			}
			continue
		}
		if !isTagBoundary(b) {
			matched = 0
			if b == '<' {
				matched = 1
			}
			continue
		}

		p.src.prefix = append([]byte(pageTag), b)
		p.base = p.src.n - int64(len(p.src.prefix))
		p.dec = p.newDecoder()
		p.stack = p.stack[:0]
		if p.root != "" {
			p.stack = append(p.stack, p.root)
		}
		p.recovering = false
		p.logger.Info("resynchronised on next page", "damage_offset", p.recoverAt, "page_offset", p.base, "discarded", scanned)
		return nil
	}
}

func isTagBoundary(b byte) bool {
	return b == '>' || b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '/'
}

func isDecimal(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
