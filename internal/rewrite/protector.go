package rewrite

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

const (
	// markerStart (STX) opens a placeholder token.
	markerStart = "\u0002"
	// markerEnd (ETX) closes a placeholder token.
	markerEnd = "\u0003"
)

var (
	// ErrReservedMarker indicates that the input already contains placeholder marker characters.
	ErrReservedMarker = errors.New("rewrite: input contains reserved placeholder markers")
	// ErrTokenLeak indicates that a wrapped rule damaged a placeholder token.
	ErrTokenLeak = errors.New("rewrite: placeholder token damaged by rewrite rules")
)

// ProtectedSpan describes text that rewrite rules must not touch.
// KeepPrefix and KeepSuffix bytes of each match stay visible around the token,
// so rules can still see structural delimiters such as "[[" and "|".
type ProtectedSpan struct {
	Name       string
	Pattern    *regexp.Regexp
	KeepPrefix int
	KeepSuffix int
}

var defaultSpans = []ProtectedSpan{
	{Name: "url", Pattern: regexp.MustCompile(`https?://[^ )\n>]*`)},
	{Name: "www", Pattern: regexp.MustCompile(`www\.[^ )\n>\]]*`)},
	{Name: "wiki_link", Pattern: regexp.MustCompile(`\[\[[a-z]+/\d+/[/a-z\-#]+\|`), KeepPrefix: 2, KeepSuffix: 1},
	{Name: "emoji", Pattern: regexp.MustCompile(`:\w+:`), KeepPrefix: 1, KeepSuffix: 1},
}

// DefaultSpans returns the protected spans applied when none are given:
// absolute URLs, bare www URLs, internal wiki-link targets and emoji codes, in that order.
func DefaultSpans() []ProtectedSpan {
	spans := make([]ProtectedSpan, len(defaultSpans))
	copy(spans, defaultSpans)
	return spans
}

// Protector runs rules over text whose protected spans are swapped for opaque tokens.
type Protector struct {
	rules Rewriter
	spans []ProtectedSpan
}

// NewProtector wraps rules. With no spans, DefaultSpans is used.
func NewProtector(rules Rewriter, spans ...ProtectedSpan) *Protector {
	if len(spans) == 0 {
		spans = DefaultSpans()
	}
	return &Protector{rules: rules, spans: spans}
}

// Rewrite applies the wrapped rules. On any protection failure the input is returned unchanged.
func (p *Protector) Rewrite(text string) string {
	result, err := p.RewriteChecked(text)
	if err != nil {
		return text
	}
	return result
}

// RewriteChecked applies the wrapped rules and reports protection failures.
func (p *Protector) RewriteChecked(text string) (string, error) {
	if strings.Contains(text, markerStart) || strings.Contains(text, markerEnd) {
		return text, ErrReservedMarker
	}

	table := newPlaceholderTable()
	protected := text
	for _, span := range p.spans {
		protected = table.protect(span, protected)
	}

	rewritten := protected
	if p.rules != nil {
		rewritten = p.rules.Rewrite(protected)
	}

	restored := table.restore(rewritten)
	if strings.Contains(restored, markerStart) || strings.Contains(restored, markerEnd) {
		return text, ErrTokenLeak
	}
	return restored, nil
}

type placeholderTable struct {
	tokens    map[string]string
	originals []string
}

func newPlaceholderTable() *placeholderTable {
	return &placeholderTable{tokens: make(map[string]string)}
}

func (t *placeholderTable) protect(span ProtectedSpan, text string) string {
	if span.Pattern == nil {
		return text
	}
	return span.Pattern.ReplaceAllStringFunc(text, func(match string) string {
		end := len(match) - span.KeepSuffix
		if span.KeepPrefix < 0 || span.KeepSuffix < 0 || end <= span.KeepPrefix {
			return match
		}
		return match[:span.KeepPrefix] + t.token(match[span.KeepPrefix:end]) + match[end:]
	})
}

// token returns the placeholder for original, reusing it for repeated substrings.
func (t *placeholderTable) token(original string) string {
	if existing, ok := t.tokens[original]; ok {
		return existing
	}
	token := markerStart + "ph" + strconv.Itoa(len(t.originals)) + "ph" + markerEnd
	t.tokens[original] = token
	t.originals = append(t.originals, original)
	return token
}

func (t *placeholderTable) restore(text string) string {
	if len(t.originals) == 0 {
		return text
	}
	pairs := make([]string, 0, 2*len(t.originals))
	for original, token := range t.tokens {
		pairs = append(pairs, token, original)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
