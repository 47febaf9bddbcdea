package processors

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/MarcoPoloResearchLab/campbot/internal/rewrite"
)

const (
	ltagLeft  = "L#"
	ltagRight = "R#"
)

// ltagCellPattern matches a table cell starting with a lower-case letter.
var ltagCellPattern = regexp.MustCompile(`\| *[a-zéèà]`)

// NewMarkdownCleaner collapses blank lines, trims the field and spaces heading markers.
func NewMarkdownCleaner() Processor {
	return Processor{
		Name:     "markdown",
		Comment:  "Clean markdown",
		pipeline: rewrite.NewPipeline(markdownStage()),
	}
}

// NewUpperFix capitalises the first letter of headings, paragraphs and L# table cells.
func NewUpperFix() Processor {
	return Processor{
		Name:     "upper",
		Comment:  "Upper case first letter",
		pipeline: rewrite.NewPipeline(upperStage()),
	}
}

// NewMultiplicationSign writes dimensions such as 2x3m as 2×3 m.
func NewMultiplicationSign() Processor {
	return Processor{
		Name:     "multiplication",
		Comment:  "Multiplication sign",
		pipeline: rewrite.NewPipeline(multiplicationStage()),
	}
}

// NewSpaceBetweenNumberAndUnit inserts a space between a number and its unit in French text.
func NewSpaceBetweenNumberAndUnit() Processor {
	return Processor{
		Name:    "units",
		Comment: "Espace entre chiffre et unité",
		Lang:    "fr",
		pipeline: rewrite.NewPipeline(rewrite.Stage{
			Name: "units",
			Rewriter: rewrite.NewProtector(rewrite.Rules{
				rewrite.UntilStable(rewrite.MustRule(
					`(^|[| \n\(])(\d+)(m|km|h|mn|min|s)($|[ |,.?!:;\)\n])`,
					"${1}${2} ${3}${4}", 0)),
				rewrite.UntilStable(rewrite.MustRule(
					`(^|[| \n\(])(\d+)([\-xX])(\d+)(m|km|h|mn|min|s)($|[ |,.?!:;\)\n])`,
					"${1}${2}${3}${4} ${5}${6}", 0)),
			}),
		}),
	}
}

// NewOrthographic chains markdown clean-up, capitalisation and multiplication signs.
// Clean-up runs first because the later stages rely on normalised headings and paragraphs.
func NewOrthographic() Processor {
	return Processor{
		Name:     "ortho",
		Comment:  "Clean markdown and orthographic fixes",
		pipeline: rewrite.NewPipeline(markdownStage(), upperStage(), multiplicationStage()),
	}
}

func markdownStage() rewrite.Stage {
	return rewrite.Stage{
		Name: "markdown",
		Rewriter: rewrite.Rules{
			rewrite.MustRule(`\n{3,}`, "\n\n", 0),
			rewrite.MustRule(`^\n*`, "", 0),
			rewrite.MustRule(`\n*$`, "", 0),
			rewrite.MustRule(`(^|\n)(#+) *`, "${1}${2} ", 0),
		},
	}
}

func upperStage() rewrite.Stage {
	return rewrite.Stage{
		Name: "upper",
		Rewriter: rewrite.NewProtector(rewrite.Rules{
			rewrite.MustFuncRule(`(^|\n)#+ *[a-zéèà]`, upper, 0),
			rewrite.MustFuncRule(`(^|\n\n)[a-zéèà]`, upper, 0),
			rewrite.RewriterFunc(upperLtagCells),
		}),
	}
}

func multiplicationStage() rewrite.Stage {
	return rewrite.Stage{
		Name: "multiplication",
		Rewriter: rewrite.NewProtector(
			rewrite.MustRule(`(\b\d)([*xX])(\d+) ?(m\b)`, "${1}×${3} ${4}", 0),
		),
	}
}

func upper(match string) string {
	return cases.Upper(language.French).String(match)
}

// upperLtagCells capitalises cells of L#/R# tables. A table runs from its first
// L#/R# line to the next empty line. A pipe that separates a wiki-link target
// from its label ("[[routes/1|label]]") is not a cell boundary.
func upperLtagCells(markdown string) string {
	lines := strings.Split(markdown, "\n")
	inTable := false
	for index, line := range lines {
		if line == "" {
			inTable = false
		}
		if strings.HasPrefix(line, ltagLeft) || strings.HasPrefix(line, ltagRight) {
			inTable = true
		}
		if inTable {
			lines[index] = upperCells(line)
		}
	}
	return strings.Join(lines, "\n")
}

func upperCells(line string) string {
	matches := ltagCellPattern.FindAllStringIndex(line, -1)
	if len(matches) == 0 {
		return line
	}

	var builder strings.Builder
	last := 0
	for _, match := range matches {
		start, end := match[0], match[1]
		rest := line[end:]
		if pipe := strings.IndexByte(rest, '|'); pipe >= 0 {
			rest = rest[:pipe]
		}
		if strings.Contains(rest, "]]") {
			continue
		}
		builder.WriteString(line[last:start])
		builder.WriteString(upper(line[start:end]))
		last = end
	}
	builder.WriteString(line[last:])
	return builder.String()
}
