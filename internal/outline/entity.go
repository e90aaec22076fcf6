// Package outline recognises the structural elements of an ink script
// (knots, stitches, includes, externals, variables, lists and labels) and
// arranges them into a scope tree with source ranges.
package outline

import (
	"fmt"

	"github.com/starford/inkbuild/internal/models"
)

// Kind identifies what an Entity represents.
type Kind string

const (
	KindNamedBlock  Kind = "named-block"
	KindNestedBlock Kind = "nested-block"
	KindInclude     Kind = "include"
	KindExternal    Kind = "external-declaration"
	KindVariable    Kind = "variable"
	KindConstant    Kind = "constant"
	KindList        Kind = "list"
	KindListItem    Kind = "list-item"
	KindLabel       Kind = "label"
)

// Kinds lists every entity kind in recognition order.
var Kinds = []Kind{
	KindNamedBlock, KindNestedBlock, KindInclude, KindExternal,
	KindConstant, KindVariable, KindList, KindListItem, KindLabel,
}

// OwnsChildren reports whether entities of this kind may have children.
func (k Kind) OwnsChildren() bool {
	return k == KindNamedBlock || k == KindNestedBlock || k == KindList
}

// Scoped reports whether entities of this kind span the lines that follow
// their declaration.
func (k Kind) Scoped() bool {
	return k == KindNamedBlock || k == KindNestedBlock
}

// Entity is one recognised structural element.
type Entity struct {
	Kind  Kind         `json:"kind"`
	Name  string       `json:"name"`
	Range models.Range `json:"range"`
	Scope models.Range `json:"scope"`
	// Detail carries kind-specific text: the written path of an include,
	// "function" for function knots, the raw item list of a LIST.
	Detail   string    `json:"detail,omitempty"`
	Parent   *Entity   `json:"-"`
	Children []*Entity `json:"children,omitempty"`
}

// AddChild attaches child under e. Attaching to a kind that cannot own
// children is a programming error and panics.
func (e *Entity) AddChild(child *Entity) {
	if !e.Kind.OwnsChildren() {
		panic(fmt.Sprintf("outline: %s %q cannot own child %s %q", e.Kind, e.Name, child.Kind, child.Name))
	}
	child.Parent = e
	e.Children = append(e.Children, child)
}

// Path returns the names from the root entity down to e, e.g. ["knot", "stitch"].
func (e *Entity) Path() []string {
	var out []string
	for cur := e; cur != nil; cur = cur.Parent {
		out = append([]string{cur.Name}, out...)
	}
	return out
}
