package rewrite

// Stage is one named step of a pipeline.
type Stage struct {
	Name     string
	Rewriter Rewriter
}

// Pipeline applies stages in a fixed order to one text field.
type Pipeline struct {
	stages []Stage
}

// NewPipeline builds a pipeline; the stage order is the application order.
func NewPipeline(stages ...Stage) Pipeline {
	copied := make([]Stage, 0, len(stages))
	for _, stage := range stages {
		if stage.Rewriter == nil {
			continue
		}
		copied = append(copied, stage)
	}
	return Pipeline{stages: copied}
}

// Stages returns the stage names in application order.
func (p Pipeline) Stages() []string {
	names := make([]string, 0, len(p.stages))
	for _, stage := range p.stages {
		names = append(names, stage.Name)
	}
	return names
}

// Rewrite runs every stage and returns only the transformed text.
func (p Pipeline) Rewrite(text string) string {
	result := text
	for _, stage := range p.stages {
		result = stage.Rewriter.Rewrite(result)
	}
	return result
}

// Result carries the transformed text and an advisory line diff against the input.
type Result struct {
	Original string
	Output   string
	Diff     []DiffLine
}

// Changed reports whether the pipeline altered the text.
func (r Result) Changed() bool {
	return r.Original != r.Output
}

// Run transforms text and computes the line diff.
func (p Pipeline) Run(text string) Result {
	output := p.Rewrite(text)
	result := Result{Original: text, Output: output}
	if output != text {
		result.Diff = LineDiff(text, output)
	}
	return result
}
