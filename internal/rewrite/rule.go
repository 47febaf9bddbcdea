package rewrite

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Flags alter how a rule pattern matches.
type Flags uint8

const (
	// IgnoreCase makes the pattern case-insensitive.
	IgnoreCase Flags = 1 << iota
	// Multiline makes ^ and $ match at line boundaries.
	Multiline
	// DotAll lets . match newlines.
	DotAll
)

const maxStablePasses = 8

// ErrInvalidRule indicates that a rule cannot be built from its definition.
var ErrInvalidRule = errors.New("rewrite: invalid rule")

// Rewriter transforms text. Implementations must be free of shared mutable state.
type Rewriter interface {
	Rewrite(text string) string
}

// RewriterFunc adapts a plain function to the Rewriter interface.
type RewriterFunc func(text string) string

// Rewrite calls f(text).
func (f RewriterFunc) Rewrite(text string) string {
	return f(text)
}

// Rule is a single global regular-expression substitution.
type Rule struct {
	pattern     *regexp.Regexp
	replacement string
	replaceFunc func(match string) string
	flags       Flags
}

// NewRule compiles pattern with flags. The replacement uses regexp.Expand syntax (${1}).
func NewRule(pattern, replacement string, flags Flags) (Rule, error) {
	compiled, err := compile(pattern, flags)
	if err != nil {
		return Rule{}, err
	}
	return Rule{pattern: compiled, replacement: replacement, flags: flags}, nil
}

// NewFuncRule compiles pattern with flags; each match is replaced by replace(match).
func NewFuncRule(pattern string, replace func(match string) string, flags Flags) (Rule, error) {
	if replace == nil {
		return Rule{}, fmt.Errorf("%w: nil replace function for %q", ErrInvalidRule, pattern)
	}
	compiled, err := compile(pattern, flags)
	if err != nil {
		return Rule{}, err
	}
	return Rule{pattern: compiled, replaceFunc: replace, flags: flags}, nil
}

// MustRule is like NewRule but panics on an ill-formed pattern.
// Rule tables are fixed at build time, so a bad pattern is a programming error.
func MustRule(pattern, replacement string, flags Flags) Rule {
	rule, err := NewRule(pattern, replacement, flags)
	if err != nil {
		panic(err)
	}
	return rule
}

// MustFuncRule is like NewFuncRule but panics on an ill-formed pattern.
func MustFuncRule(pattern string, replace func(match string) string, flags Flags) Rule {
	rule, err := NewFuncRule(pattern, replace, flags)
	if err != nil {
		panic(err)
	}
	return rule
}

// Pattern returns the source pattern without flag prefix.
func (r Rule) Pattern() string {
	if r.pattern == nil {
		return ""
	}
	return strings.TrimPrefix(r.pattern.String(), flagPrefix(r.flags))
}

// Flags returns the match flags.
func (r Rule) Flags() Flags {
	return r.flags
}

// Rewrite replaces every match of the rule in text.
func (r Rule) Rewrite(text string) string {
	if r.pattern == nil {
		return text
	}
	if r.replaceFunc != nil {
		return r.pattern.ReplaceAllStringFunc(text, r.replaceFunc)
	}
	return r.pattern.ReplaceAllString(text, r.replacement)
}

// Rules applies rewriters in order; later entries see the output of earlier ones.
type Rules []Rewriter

// Rewrite runs every rule in order.
func (rules Rules) Rewrite(text string) string {
	result := text
	for _, rule := range rules {
		result = rule.Rewrite(result)
	}
	return result
}

// UntilStable reapplies inner until its output stops changing.
// Needed for rules whose trailing context is consumed, which leaves adjacent matches behind on a single pass.
func UntilStable(inner Rewriter) Rewriter {
	return RewriterFunc(func(text string) string {
		current := text
		for pass := 0; pass < maxStablePasses; pass++ {
			next := inner.Rewrite(current)
			if next == current {
				return next
			}
			current = next
		}
		return current
	})
}

func compile(pattern string, flags Flags) (*regexp.Regexp, error) {
	compiled, err := regexp.Compile(flagPrefix(flags) + pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return compiled, nil
}

func flagPrefix(flags Flags) string {
	var builder strings.Builder
	if flags&IgnoreCase != 0 {
		builder.WriteByte('i')
	}
	if flags&Multiline != 0 {
		builder.WriteByte('m')
	}
	if flags&DotAll != 0 {
		builder.WriteByte('s')
	}
	if builder.Len() == 0 {
		return ""
	}
	return "(?" + builder.String() + ")"
}
