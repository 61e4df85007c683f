package stream

import "strings"

const (
	OpenTag  = "<think>"
	CloseTag = "</think>"

	// ThinkingOnlyPlaceholder replaces empty visible content once a closed
	// thinking block is all the message has.
	ThinkingOnlyPlaceholder = "(Contains only hidden thought process)"

	blockSeparator = "\n\n---\n\n"
)

type phase int

const (
	phaseOutside phase = iota
	phaseInside
)

// Split is the visible/thinking view of the raw text seen so far.
type Split struct {
	Content  string
	Thinking *string
}

// Parser splits a fragment stream into visible text and thinking blocks.
//
// It keeps at most len(tag)-1 bytes of a possibly partial delimiter between
// feeds, so a tag straddling fragment boundaries is recognised and every byte is
// examined a bounded number of times.
type Parser struct {
	phase   phase
	held    string
	visible strings.Builder
	current strings.Builder
	blocks  []string
	opened  bool
}

// NewParser returns a parser in the outside phase.
func NewParser() *Parser {
	return &Parser{}
}

// Feed consumes the next fragment.
func (p *Parser) Feed(fragment string) {
	if fragment == "" {
		return
	}
	buf := p.held + fragment
	p.held = ""

	for len(buf) > 0 {
		tag := OpenTag
		sink := &p.visible
		if p.phase == phaseInside {
			tag = CloseTag
			sink = &p.current
		}

		if idx := strings.Index(buf, tag); idx >= 0 {
			sink.WriteString(buf[:idx])
			buf = buf[idx+len(tag):]
			p.toggle()
			continue
		}

		keep := partialSuffix(buf, tag)
		sink.WriteString(buf[:len(buf)-keep])
		p.held = buf[len(buf)-keep:]
		return
	}
}

func (p *Parser) toggle() {
	if p.phase == phaseOutside {
		p.phase = phaseInside
		p.opened = true
		p.current.Reset()
		return
	}
	p.blocks = append(p.blocks, p.current.String())
	p.current.Reset()
	p.phase = phaseOutside
}

// Snapshot returns the split of everything fed so far. A held-back partial tag is
// not shown yet.
func (p *Parser) Snapshot() Split {
	return p.split(false)
}

// Finish flushes a held-back partial tag as literal text and returns the final split.
// The parser stays usable; Finish is idempotent.
func (p *Parser) Finish() Split {
	return p.split(true)
}

func (p *Parser) split(flush bool) Split {
	visible := p.visible.String()
	current := p.current.String()
	if flush && p.held != "" {
		if p.phase == phaseInside {
			current += p.held
		} else {
			visible += p.held
		}
	}

	var thinking *string
	if p.opened {
		parts := make([]string, 0, len(p.blocks)+1)
		for _, block := range p.blocks {
			parts = append(parts, strings.TrimSpace(block))
		}
		if p.phase == phaseInside {
			parts = append(parts, strings.TrimSpace(current))
		}
		joined := strings.Join(nonEmpty(parts), blockSeparator)
		thinking = &joined
	}

	content := strings.TrimSpace(visible)
	if content == "" && len(p.blocks) > 0 {
		content = ThinkingOnlyPlaceholder
	}
	return Split{Content: content, Thinking: thinking}
}

// SplitText runs a one-shot parse over complete raw text.
func SplitText(raw string) Split {
	p := NewParser()
	p.Feed(raw)
	return p.Finish()
}

// partialSuffix returns the length of the longest proper prefix of tag that ends buf.
func partialSuffix(buf, tag string) int {
	limit := len(tag) - 1
	if limit > len(buf) {
		limit = len(buf)
	}
	for n := limit; n > 0; n-- {
		if strings.HasSuffix(buf, tag[:n]) {
			return n
		}
	}
	return 0
}

func nonEmpty(parts []string) []string {
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
