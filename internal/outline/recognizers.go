package outline

import (
	"regexp"
	"strings"

	"github.com/starford/inkbuild/internal/models"
)

var (
	namedBlockRe  = regexp.MustCompile(`^\s*={2,}\s*(function\s+)?(\w+)`)
	nestedBlockRe = regexp.MustCompile(`^\s*=\s*(\w+)`)
	includeRe     = regexp.MustCompile(`^\s*INCLUDE\s+(\S.*?)\s*$`)
	externalRe    = regexp.MustCompile(`^\s*EXTERNAL\s+(\w+)\s*\(`)
	constantRe    = regexp.MustCompile(`^\s*CONST\s+(\w+)\s*=`)
	variableRe    = regexp.MustCompile(`^\s*VAR\s+(\w+)\s*=`)
	listRe        = regexp.MustCompile(`^\s*LIST\s+(\w+)\s*=\s*(.*?)\s*$`)
	labelRe       = regexp.MustCompile(`^\s*(?:(?:[*+]\s*)+|(?:-\s*)+)\(\s*(\w+)\s*\)`)
	listItemRe    = regexp.MustCompile(`^\s*\(?\s*(\w+)`)
)

// recognizer turns one matching line into an entity and says where the
// entity goes in the scope tree.
type recognizer struct {
	kind Kind
	re   *regexp.Regexp
	// name is the submatch index holding the entity name.
	name int
	// root entities are never attached to an open block.
	root bool
	// reset clears the open-block stack before attaching.
	reset bool
	// popWhile pops the open-block stack while it returns true for the top.
	popWhile func(top *Entity) bool
	// open pushes the entity onto the open-block stack.
	open bool
	// decorate fills kind-specific fields from the submatch indices.
	decorate func(e *Entity, line int, text string, m []int)
}

var recognizers = []recognizer{
	{
		kind: KindNamedBlock, re: namedBlockRe, name: 2, root: true, reset: true, open: true,
		decorate: func(e *Entity, _ int, text string, m []int) {
			if m[2] >= 0 {
				e.Detail = "function"
			}
		},
	},
	{
		kind: KindNestedBlock, re: nestedBlockRe, name: 1, open: true,
		popWhile: func(top *Entity) bool { return top.Kind != KindNamedBlock },
	},
	{
		kind: KindInclude, re: includeRe, name: 1, root: true,
		decorate: func(e *Entity, _ int, text string, m []int) {
			e.Detail = text[m[2]:m[3]]
		},
	},
	{kind: KindExternal, re: externalRe, name: 1, root: true},
	{kind: KindConstant, re: constantRe, name: 1},
	{kind: KindVariable, re: variableRe, name: 1},
	{
		kind: KindList, re: listRe, name: 1,
		decorate: func(e *Entity, line int, text string, m []int) {
			e.Detail = text[m[4]:m[5]]
			for _, item := range listItems(line, text, m[4], m[5]) {
				e.AddChild(item)
			}
		},
	},
	{kind: KindLabel, re: labelRe, name: 1},
}

// match tries the recognizer against one line of comment-free text.
func (r recognizer) match(line int, text string) *Entity {
	m := r.re.FindStringSubmatchIndex(text)
	if m == nil {
		return nil
	}
	start := len(text) - len(strings.TrimLeft(text, " \t"))
	end := len(strings.TrimRight(text, " \t\r"))
	e := &Entity{
		Kind:  r.kind,
		Name:  text[m[2*r.name]:m[2*r.name+1]],
		Range: models.LineRange(line, start, end),
	}
	e.Scope = e.Range
	if r.decorate != nil {
		r.decorate(e, line, text, m)
	}
	return e
}

// listItems splits the inline definition of a LIST into item entities,
// dropping parentheses and explicit values.
func listItems(line int, text string, from, to int) []*Entity {
	var out []*Entity
	offset := from
	for _, part := range strings.Split(text[from:to], ",") {
		if m := listItemRe.FindStringSubmatchIndex(part); m != nil {
			item := &Entity{
				Kind:  KindListItem,
				Name:  part[m[2]:m[3]],
				Range: models.LineRange(line, offset+m[2], offset+m[3]),
			}
			item.Scope = item.Range
			out = append(out, item)
		}
		offset += len(part) + 1
	}
	return out
}
