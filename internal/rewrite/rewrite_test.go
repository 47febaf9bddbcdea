package rewrite

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRuleRewritesEveryMatch(t *testing.T) {
	rule := MustRule(`\[b\]\[/b\]`, "", IgnoreCase)

	require.Equal(t, "", rule.Rewrite("[b][/b]"))
	require.Equal(t, "a  b", rule.Rewrite("a [B][/b] b"))
	require.Equal(t, `\[b\]\[/b\]`, rule.Pattern())
	require.Equal(t, IgnoreCase, rule.Flags())
}

func TestNewRuleRejectsIllFormedPattern(t *testing.T) {
	_, err := NewRule(`([a-z`, "", 0)
	require.ErrorIs(t, err, ErrInvalidRule)

	_, err = NewFuncRule(`a`, nil, 0)
	require.ErrorIs(t, err, ErrInvalidRule)
}

func TestFuncRuleReceivesWholeMatch(t *testing.T) {
	rule := MustFuncRule(`(^|\n\n)[a-z]`, strings.ToUpper, 0)
	require.Equal(t, "Un\n\nDeux", rule.Rewrite("un\n\ndeux"))
}

func TestRulesOrderMatters(t *testing.T) {
	collapse := MustRule(`\[b\]\[/b\]`, "", 0)
	convert := MustRule(`\[b\]([^\n]*?)\[/b\]`, "**${1}**", 0)

	require.Equal(t, "", Rules{collapse, convert}.Rewrite("[b][/b]"))
	require.Equal(t, "****", Rules{convert, collapse}.Rewrite("[b][/b]"))
}

func TestUntilStableReachesFixedPoint(t *testing.T) {
	spacing := MustRule(`(^| )(\d+)(m)($| )`, "${1}${2} ${3}${4}", 0)

	require.Equal(t, "1 m 2m", spacing.Rewrite("1m 2m"))
	require.Equal(t, "1 m 2 m", UntilStable(spacing).Rewrite("1m 2m"))
}

func TestProtectorShieldsURLs(t *testing.T) {
	protector := NewProtector(MustRule(`o`, "0", 0))

	result, err := protector.RewriteChecked("foo https://foo.org/o www.foo.org bar")
	require.NoError(t, err)
	require.Equal(t, "f00 https://foo.org/o www.foo.org bar", result)
}

func TestProtectorReusesTokenForRepeatedSubstring(t *testing.T) {
	var seen string
	protector := NewProtector(RewriterFunc(func(text string) string {
		seen = text
		return text
	}))

	input := "see https://a.org and https://a.org then :smile:"
	result, err := protector.RewriteChecked(input)
	require.NoError(t, err)
	require.Equal(t, input, result)
	require.Equal(t, "see \u0002ph0ph\u0003 and \u0002ph0ph\u0003 then :\u0002ph1ph\u0003:", seen)
}

func TestProtectorKeepsWikiLinkDelimitersVisible(t *testing.T) {
	var seen string
	protector := NewProtector(RewriterFunc(func(text string) string {
		seen = text
		return strings.ReplaceAll(text, "la voie", "La voie")
	}))

	result, err := protector.RewriteChecked("[[routes/123/fr/la-voie|la voie]]")
	require.NoError(t, err)
	require.Equal(t, "[[\u0002ph0ph\u0003|la voie]]", seen)
	require.Equal(t, "[[routes/123/fr/la-voie|La voie]]", result)
}

func TestProtectorRejectsReservedMarkers(t *testing.T) {
	protector := NewProtector(MustRule(`a`, "b", 0))

	input := "a\u0002a"
	_, err := protector.RewriteChecked(input)
	require.ErrorIs(t, err, ErrReservedMarker)
	require.Equal(t, input, protector.Rewrite(input))
}

func TestProtectorDetectsDamagedTokens(t *testing.T) {
	protector := NewProtector(MustRule("\u0003", "", 0))

	input := "go to https://example.org now"
	_, err := protector.RewriteChecked(input)
	require.True(t, errors.Is(err, ErrTokenLeak))
	require.Equal(t, input, protector.Rewrite(input))
}

func TestProtectorIsIdempotent(t *testing.T) {
	protector := NewProtector(Rules{
		MustRule(`(\d)[xX](\d)`, "${1}×${2}", 0),
		MustRule(`  +`, " ", 0),
	})

	input := "voir  https://x.org/2x3  pour 2x3"
	first := protector.Rewrite(input)
	second := protector.Rewrite(first)

	require.Equal(t, "voir https://x.org/2x3 pour 2×3", first)
	require.Equal(t, first, second)
	require.Contains(t, second, "https://x.org/2x3")
}

func TestPipelineRunReportsDiff(t *testing.T) {
	pipeline := NewPipeline(
		Stage{Name: "bold", Rewriter: MustRule(`\[b\]([^\n]*?)\[/b\]`, "**${1}**", IgnoreCase)},
		Stage{Name: "nil", Rewriter: nil},
		Stage{Name: "italic", Rewriter: MustRule(`\[i\]([^\n]*?)\[/i\]`, "*${1}*", IgnoreCase)},
	)
	require.Equal(t, []string{"bold", "italic"}, pipeline.Stages())

	result := pipeline.Run("title\n[b]hello[/b]\n[i]there[/i]")
	require.True(t, result.Changed())
	require.Equal(t, "title\n**hello**\n*there*", result.Output)
	require.Equal(t, []DiffLine{
		{Op: DiffRemoved, Line: 2, Text: "[b]hello[/b]"},
		{Op: DiffRemoved, Line: 3, Text: "[i]there[/i]"},
		{Op: DiffAdded, Line: 2, Text: "**hello**"},
		{Op: DiffAdded, Line: 3, Text: "*there*"},
	}, result.Diff)

	again := pipeline.Run(result.Output)
	require.False(t, again.Changed())
	require.Empty(t, again.Diff)
}

func TestLineDiffAndWriteDiff(t *testing.T) {
	diff := LineDiff("a\nb\nc", "a\nB\nc\nd")
	require.Equal(t, []DiffLine{
		{Op: DiffRemoved, Line: 2, Text: "b"},
		{Op: DiffAdded, Line: 2, Text: "B"},
		{Op: DiffAdded, Line: 4, Text: "d"},
	}, diff)

	var plain bytes.Buffer
	require.NoError(t, WriteDiff(&plain, diff, false))
	require.Equal(t, "- b\n+ B\n+ d\n", plain.String())

	var coloured bytes.Buffer
	require.NoError(t, WriteDiff(&coloured, diff[:1], true))
	require.Equal(t, "\x1b[31m- b\x1b[0m\n", coloured.String())
}
