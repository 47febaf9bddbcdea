package processors

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MarcoPoloResearchLab/campbot/internal/rewrite"
)

// ErrUnknownProcessor indicates that no processor is registered under the requested name.
var ErrUnknownProcessor = errors.New("processors: unknown processor")

// Processor is a named, fixed pipeline applied to one markdown field at a time.
type Processor struct {
	Name     string
	Comment  string
	Lang     string
	pipeline rewrite.Pipeline
}

// AppliesTo reports whether the processor should run on a locale in lang.
// Processors without a language run everywhere.
func (p Processor) AppliesTo(lang string) bool {
	return p.Lang == "" || strings.EqualFold(p.Lang, lang)
}

// Process runs the pipeline over markdown.
func (p Processor) Process(markdown string) rewrite.Result {
	return p.pipeline.Run(markdown)
}

// Stages lists the pipeline stage names in application order.
func (p Processor) Stages() []string {
	return p.pipeline.Stages()
}

// Options carries inputs some processors need at construction time.
type Options struct {
	ReplacementsPath string
}

type factory func(Options) (Processor, error)

var registry = map[string]factory{
	"bbcode":         func(Options) (Processor, error) { return NewBBCodeRemover(), nil },
	"markdown":       func(Options) (Processor, error) { return NewMarkdownCleaner(), nil },
	"upper":          func(Options) (Processor, error) { return NewUpperFix(), nil },
	"multiplication": func(Options) (Processor, error) { return NewMultiplicationSign(), nil },
	"units":          func(Options) (Processor, error) { return NewSpaceBetweenNumberAndUnit(), nil },
	"ortho":          func(Options) (Processor, error) { return NewOrthographic(), nil },
	"replacements": func(opts Options) (Processor, error) {
		if strings.TrimSpace(opts.ReplacementsPath) == "" {
			return Processor{}, fmt.Errorf("processors: replacements requires a rule file")
		}
		set, err := LoadReplacementsFile(opts.ReplacementsPath)
		if err != nil {
			return Processor{}, err
		}
		return NewAutomaticReplacements(set)
	},
}

// Names returns the registered processor names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup builds the processor registered under name.
func Lookup(name string, opts Options) (Processor, error) {
	build, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Processor{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownProcessor, name, strings.Join(Names(), ", "))
	}
	return build(opts)
}
