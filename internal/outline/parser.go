package outline

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/starford/inkbuild/internal/models"
)

// ErrInvalidEncoding is returned for text that is not valid UTF-8.
var ErrInvalidEncoding = errors.New("outline: text is not valid UTF-8")

// Outline is the parsed structure of one document version.
type Outline struct {
	Entities  []*Entity `json:"entities"`
	LineCount int       `json:"line_count"`
}

// Parse recognises the structural entities of text. Lines that match no
// recognizer are ignored.
func Parse(text string) (*Outline, error) {
	if !utf8.ValidString(text) {
		return nil, ErrInvalidEncoding
	}
	lines := splitLines(StripComments(text))

	var roots, stack []*Entity
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		for _, r := range recognizers {
			e := r.match(i, line)
			if e == nil {
				continue
			}
			if r.reset {
				stack = stack[:0]
			}
			for r.popWhile != nil && len(stack) > 0 && r.popWhile(stack[len(stack)-1]) {
				stack = stack[:len(stack)-1]
			}
			if r.root || len(stack) == 0 {
				roots = append(roots, e)
			} else {
				stack[len(stack)-1].AddChild(e)
			}
			if r.open {
				stack = append(stack, e)
			}
			break
		}
	}

	assignScopes(roots, len(lines)-1, lines)
	return &Outline{Entities: roots, LineCount: len(lines)}, nil
}

// assignScopes gives every scoped entity in siblings a range from its
// declaration to the line before the next scoped sibling, or to end.
func assignScopes(siblings []*Entity, end int, lines []string) {
	var blocks []*Entity
	for _, e := range siblings {
		if e.Kind.Scoped() {
			blocks = append(blocks, e)
		}
	}
	for i, b := range blocks {
		last := end
		if i+1 < len(blocks) {
			last = blocks[i+1].Range.Start.Line - 1
		}
		if last < b.Range.Start.Line {
			last = b.Range.Start.Line
		}
		b.Scope = models.Range{
			Start: models.Position{Line: b.Range.Start.Line},
			End:   models.Position{Line: last, Character: lineLen(lines, last)},
		}
		assignScopes(b.Children, last, lines)
	}
}

func lineLen(lines []string, i int) int {
	if i < 0 || i >= len(lines) {
		return 0
	}
	return len(strings.TrimRight(lines[i], "\r"))
}

// splitLines splits on '\n'; a trailing newline does not start a new line.
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Walk visits every entity depth-first in document order.
func (o *Outline) Walk(fn func(e *Entity)) {
	var visit func(es []*Entity)
	visit = func(es []*Entity) {
		for _, e := range es {
			fn(e)
			visit(e.Children)
		}
	}
	visit(o.Entities)
}

// OfKind returns every entity of the given kind in document order.
func (o *Outline) OfKind(kind Kind) []*Entity {
	var out []*Entity
	o.Walk(func(e *Entity) {
		if e.Kind == kind {
			out = append(out, e)
		}
	})
	return out
}

// Includes returns the INCLUDE directives.
func (o *Outline) Includes() []*Entity { return o.OfKind(KindInclude) }

// Externals returns the EXTERNAL declarations.
func (o *Outline) Externals() []*Entity { return o.OfKind(KindExternal) }

// Find returns the first entity with the given kind and name, or nil.
func (o *Outline) Find(kind Kind, name string) *Entity {
	var found *Entity
	o.Walk(func(e *Entity) {
		if found == nil && e.Kind == kind && e.Name == name {
			found = e
		}
	})
	return found
}

// EnclosingBlock returns the innermost scoped entity whose scope covers line.
func (o *Outline) EnclosingBlock(line int) *Entity {
	var found *Entity
	var visit func(es []*Entity)
	visit = func(es []*Entity) {
		for _, e := range es {
			if e.Kind.Scoped() && e.Scope.ContainsLine(line) {
				found = e
				visit(e.Children)
				return
			}
		}
	}
	visit(o.Entities)
	return found
}
