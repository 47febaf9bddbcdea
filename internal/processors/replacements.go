package processors

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/MarcoPoloResearchLab/campbot/internal/rewrite"
)

// ErrInvalidReplacements indicates an unusable replacement rule file.
var ErrInvalidReplacements = errors.New("processors: invalid replacements")

// wordBoundary stands in for \b with Unicode letters, which RE2 only supports for ASCII.
const wordBoundary = `[^\p{L}\p{N}_]`

// Replacement maps a word pattern to its corrected spelling.
type Replacement struct {
	Old string `yaml:"old"`
	New string `yaml:"new"`
}

// ReplacementSet is the YAML document describing an automatic replacement processor.
type ReplacementSet struct {
	Lang         string        `yaml:"lang"`
	Comment      string        `yaml:"comment"`
	Replacements []Replacement `yaml:"replacements"`
}

// LoadReplacements decodes a replacement set from YAML. Words are NFC-normalised
// so that precomposed and decomposed accents match the same text.
func LoadReplacements(reader io.Reader) (ReplacementSet, error) {
	var set ReplacementSet
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)
	if err := decoder.Decode(&set); err != nil {
		return ReplacementSet{}, fmt.Errorf("%w: %v", ErrInvalidReplacements, err)
	}
	for index, replacement := range set.Replacements {
		set.Replacements[index] = Replacement{
			Old: norm.NFC.String(strings.TrimSpace(replacement.Old)),
			New: norm.NFC.String(strings.TrimSpace(replacement.New)),
		}
	}
	return set, nil
}

// LoadReplacementsFile reads a replacement set from path.
func LoadReplacementsFile(path string) (ReplacementSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return ReplacementSet{}, err
	}
	defer file.Close()
	return LoadReplacements(file)
}

// NewAutomaticReplacements builds a protected processor replacing whole words.
// A replacement whose new text would itself be rewritten is rejected, so the
// processor stays idempotent.
func NewAutomaticReplacements(set ReplacementSet) (Processor, error) {
	if len(set.Replacements) == 0 {
		return Processor{}, fmt.Errorf("%w: no replacements", ErrInvalidReplacements)
	}

	rules := make(rewrite.Rules, 0, len(set.Replacements))
	for index, replacement := range set.Replacements {
		if replacement.Old == "" {
			return Processor{}, fmt.Errorf("%w: entry %d has an empty old value", ErrInvalidReplacements, index)
		}
		rule, err := rewrite.NewRule(
			`(^|`+wordBoundary+`)(?:`+replacement.Old+`)(`+wordBoundary+`|$)`,
			"${1}"+strings.ReplaceAll(replacement.New, "$", "$$")+"${2}",
			0,
		)
		if err != nil {
			return Processor{}, fmt.Errorf("%w: entry %d: %v", ErrInvalidReplacements, index, err)
		}
		if rule.Rewrite(replacement.New) != replacement.New {
			return Processor{}, fmt.Errorf("%w: entry %d: %q still matches %q", ErrInvalidReplacements, index, replacement.New, replacement.Old)
		}
		rules = append(rules, rewrite.UntilStable(rule))
	}

	comment := strings.TrimSpace(set.Comment)
	if comment == "" {
		comment = "Automatic replacements"
	}
	return Processor{
		Name:    "replacements",
		Comment: comment,
		Lang:    strings.TrimSpace(set.Lang),
		pipeline: rewrite.NewPipeline(rewrite.Stage{
			Name:     "replacements",
			Rewriter: rewrite.NewProtector(rules),
		}),
	}, nil
}
