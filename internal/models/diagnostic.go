package models

import "fmt"

// Position is a zero-based line/character offset into a document.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open span between two positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// LineRange returns a range covering columns [from, to) of one line.
func LineRange(line, from, to int) Range {
	return Range{Start: Position{Line: line, Character: from}, End: Position{Line: line, Character: to}}
}

// ContainsLine reports whether line falls inside r.
func (r Range) ContainsLine(line int) bool {
	return line >= r.Start.Line && line <= r.End.Line
}

func (r Range) String() string {
	return fmt.Sprintf("%d:%d-%d:%d", r.Start.Line, r.Start.Character, r.End.Line, r.End.Character)
}

// Severity classifies a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic is a message attached to a precise range of a document.
type Diagnostic struct {
	Range    Range    `json:"range"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Source   string   `json:"source,omitempty"` // producing stage
}

// HasErrors reports whether any diagnostic is an error.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}
