package engine

import "strings"

// Node is the smallest unit of a compiled template. Nodes are immutable
// after compilation; anything a node needs to mutate at render time
// lives in the Context side table.
type Node interface {
	Render(ctx *Context) (string, error)
}

// childNodeLister is implemented by nodes that own nested node lists,
// enabling the structural search used by the inheritance resolver. An
// extends node deliberately does not expose its children: collecting a
// template's blocks must not recurse into a further inheritance level.
type childNodeLister interface {
	ChildNodeLists() []NodeList
}

// positioned is implemented by nodes that carry a source position,
// recorded when compiling in debug mode.
type positioned interface {
	SourcePosition() Position
}

// NodeList is an ordered sequence of nodes. Rendering a list is the
// ordered concatenation of its children's render results.
type NodeList []Node

// Render renders every node in order and concatenates the results
func (nl NodeList) Render(ctx *Context) (string, error) {
	if err := ctx.enterRender(); err != nil {
		return "", err
	}
	defer ctx.exitRender()

	var sb strings.Builder
	for _, node := range nl {
		out, err := node.Render(ctx)
		if err != nil {
			if ctx.settings.Debug {
				if p, ok := node.(positioned); ok {
					err = wrapRenderError(err, p.SourcePosition())
				}
			}
			return "", err
		}
		sb.WriteString(out)
	}
	return sb.String(), nil
}

// visit walks the list depth-first, descending through child node lists
func (nl NodeList) visit(fn func(Node)) {
	for _, node := range nl {
		fn(node)
		if parent, ok := node.(childNodeLister); ok {
			for _, child := range parent.ChildNodeLists() {
				child.visit(fn)
			}
		}
	}
}

// NodesByType returns every node in the list (recursively) whose
// concrete type is T. Used by the inheritance resolver to collect a
// template's blocks without rendering anything.
func NodesByType[T Node](nl NodeList) []T {
	var found []T
	nl.visit(func(n Node) {
		if match, ok := n.(T); ok {
			found = append(found, match)
		}
	})
	return found
}

// TextNode renders a literal run of template text unchanged
type TextNode struct {
	Text string
	pos  Position
}

// Render returns the text verbatim
func (n *TextNode) Render(ctx *Context) (string, error) {
	return n.Text, nil
}

// SourcePosition returns the node's source position
func (n *TextNode) SourcePosition() Position {
	return n.pos
}

// VariableNode renders a compiled filter expression
type VariableNode struct {
	expr *FilterExpression
	pos  Position
}

// Render resolves the expression and stringifies the result. A failed
// variable lookup has already been converted to the configured fallback
// by FilterExpression.Resolve; it never surfaces here.
func (n *VariableNode) Render(ctx *Context) (string, error) {
	value, err := n.expr.Resolve(ctx)
	if err != nil {
		return "", err
	}
	return stringify(value), nil
}

// SourcePosition returns the node's source position
func (n *VariableNode) SourcePosition() Position {
	return n.pos
}
