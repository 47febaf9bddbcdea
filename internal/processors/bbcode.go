package processors

import (
	"regexp"
	"strings"

	"github.com/MarcoPoloResearchLab/campbot/internal/rewrite"
)

// NewBBCodeRemover converts legacy [b], [i] and [c] tags to markdown emphasis and code.
func NewBBCodeRemover() Processor {
	return Processor{
		Name:    "bbcode",
		Comment: "Replace BBCode by Markdown",
		pipeline: rewrite.NewPipeline(
			rewrite.Stage{Name: "bold", Rewriter: typoCleaner("b", "**")},
			rewrite.Stage{Name: "italic", Rewriter: typoCleaner("i", "*")},
			rewrite.Stage{Name: "code", Rewriter: typoCleaner("c", "`")},
			rewrite.Stage{Name: "bold_italic", Rewriter: rewrite.MustRule(
				`\[i\]\*\*([^\n\r\*`+"`"+`]*?)\*\*\[/i\]`, "***${1}***", rewrite.IgnoreCase)},
		),
	}
}

// typoCleaner normalises spacing around one tag pair, then converts it.
// Text already wrapped in [center][tag] is left alone.
func typoCleaner(tag, markdownTag string) rewrite.Rewriter {
	quoted := regexp.QuoteMeta(tag)
	open := `\[` + quoted + `\]`
	closing := `\[/` + quoted + `\]`

	rules := rewrite.Rules{
		rewrite.MustRule(open+closing, "", rewrite.IgnoreCase),
		rewrite.MustRule(`\n *`+open+` *`, "\n["+tag+"]", rewrite.IgnoreCase),
		rewrite.MustRule(open+` +`, " ["+tag+"]", rewrite.IgnoreCase),
		rewrite.MustRule(` +`+closing, "[/"+tag+"] ", rewrite.IgnoreCase),
		rewrite.MustRule(`\r\n`+closing, "[/"+tag+"]\r\n", rewrite.IgnoreCase),
		rewrite.MustRule(open+"([^\\n\\r\\*`]*?)"+closing, markdownTag+"${1}"+markdownTag, rewrite.IgnoreCase),
	}

	guard := "[center][" + tag + "]"
	return rewrite.RewriterFunc(func(markdown string) string {
		if strings.Contains(markdown, guard) {
			return markdown
		}
		return rules.Rewrite(markdown)
	})
}
