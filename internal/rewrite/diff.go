package rewrite

import (
	"fmt"
	"io"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DiffOp marks a line as removed or added.
type DiffOp byte

const (
	DiffRemoved DiffOp = '-'
	DiffAdded   DiffOp = '+'
)

const (
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
	ansiReset = "\x1b[0m"
)

// DiffLine is one differing line. Unchanged lines are never reported.
type DiffLine struct {
	Op   DiffOp
	Line int
	Text string
}

// String renders the line the way a line-oriented differ prints it.
func (d DiffLine) String() string {
	return string(d.Op) + " " + d.Text
}

// LineDiff compares before and after line by line, split on "\n".
// Line numbers are 1-based and refer to before for removals and to after for additions.
func LineDiff(before, after string) []DiffLine {
	beforeLines := strings.Split(before, "\n")
	afterLines := strings.Split(after, "\n")

	matcher := difflib.NewMatcher(beforeLines, afterLines)
	var lines []DiffLine
	for _, op := range matcher.GetOpCodes() {
		switch op.Tag {
		case 'e':
			continue
		case 'd':
			lines = appendLines(lines, DiffRemoved, beforeLines, op.I1, op.I2)
		case 'i':
			lines = appendLines(lines, DiffAdded, afterLines, op.J1, op.J2)
		case 'r':
			lines = appendLines(lines, DiffRemoved, beforeLines, op.I1, op.I2)
			lines = appendLines(lines, DiffAdded, afterLines, op.J1, op.J2)
		}
	}
	return lines
}

func appendLines(lines []DiffLine, op DiffOp, source []string, from, to int) []DiffLine {
	for index := from; index < to; index++ {
		lines = append(lines, DiffLine{Op: op, Line: index + 1, Text: source[index]})
	}
	return lines
}

// WriteDiff prints diff lines to w, optionally with ANSI colours.
func WriteDiff(w io.Writer, lines []DiffLine, colour bool) error {
	for _, line := range lines {
		rendered := line.String()
		if colour {
			switch line.Op {
			case DiffRemoved:
				rendered = ansiRed + rendered + ansiReset
			case DiffAdded:
				rendered = ansiGreen + rendered + ansiReset
			}
		}
		if _, err := fmt.Fprintln(w, rendered); err != nil {
			return err
		}
	}
	return nil
}
