package engine

import (
	"github.com/deicod/godtl/lexer"
)

// blockContext tracks, per render, every block implementation seen
// along the inheritance chain. Implementations are keyed by name; for
// each name the most-derived (deepest child) implementation is stored
// last and wins. Keeping this state on the render rather than splicing
// compiled trees means parent templates are never mutated and can be
// shared freely.
type blockContext struct {
	blocks map[string][]*BlockNode
}

func newBlockContext() *blockContext {
	return &blockContext{blocks: make(map[string][]*BlockNode)}
}

// addBlocks records one template level's blocks. Levels are added
// child-first, so earlier additions stay at the end of each list and
// take precedence.
func (bc *blockContext) addBlocks(blocks map[string]*BlockNode) {
	for name, block := range blocks {
		bc.blocks[name] = append([]*BlockNode{block}, bc.blocks[name]...)
	}
}

// pop removes and returns the most-derived implementation of a block
func (bc *blockContext) pop(name string) *BlockNode {
	stack := bc.blocks[name]
	if len(stack) == 0 {
		return nil
	}
	block := stack[len(stack)-1]
	bc.blocks[name] = stack[:len(stack)-1]
	return block
}

// push restores an implementation after its block finished rendering
func (bc *blockContext) push(name string, block *BlockNode) {
	bc.blocks[name] = append(bc.blocks[name], block)
}

// peek returns the most-derived implementation without removing it
func (bc *blockContext) peek(name string) *BlockNode {
	stack := bc.blocks[name]
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}

// BlockNode represents a named, overridable region of a template
type BlockNode struct {
	Name     string
	nodelist NodeList
	pos      Position
}

func compileBlock(p *Parser, token lexer.Token) (Node, error) {
	args := tagArgs(token.Contents)
	if len(args) != 1 {
		return nil, NewSyntaxError("block tag takes one argument: the block name", Position{})
	}
	if err := p.registerBlock(args[0]); err != nil {
		return nil, err
	}
	body, err := p.ParseUntil("endblock")
	if err != nil {
		return nil, err
	}
	p.DeleteFirstToken()
	return &BlockNode{Name: args[0], nodelist: body, pos: tokenPosition(token)}, nil
}

// ChildNodeLists exposes the block body for structural search
func (n *BlockNode) ChildNodeLists() []NodeList {
	return []NodeList{n.nodelist}
}

// SourcePosition returns the node's source position
func (n *BlockNode) SourcePosition() Position {
	return n.pos
}

// Render renders the most-derived implementation of this block. The
// implementation is popped from the block context while it renders so
// the same block is never rendered twice, and `block.super` sees the
// next implementation up the chain.
func (n *BlockNode) Render(ctx *Context) (string, error) {
	bc := ctx.blocks
	if bc == nil {
		// Standalone template, no inheritance in play.
		ctx.PushFrame(map[string]interface{}{"block": &blockRef{name: n.Name, nodelist: n.nodelist, ctx: ctx}})
		defer ctx.Pop()
		return n.nodelist.Render(ctx)
	}

	popped := bc.pop(n.Name)
	active := n
	if popped != nil {
		active = popped
	}
	ctx.PushFrame(map[string]interface{}{"block": &blockRef{name: n.Name, nodelist: active.nodelist, ctx: ctx}})
	out, err := active.nodelist.Render(ctx)
	ctx.Pop()
	if popped != nil {
		bc.push(n.Name, popped)
	}
	return out, err
}

// blockRef is the value bound to "block" while a block renders. Its
// Super method is picked up by the attribute resolution chain, so
// {{ block.super }} renders the overridden parent content in the
// current context.
type blockRef struct {
	name     string
	nodelist NodeList
	ctx      *Context
}

// Name returns the block's name, available as {{ block.name }}
func (b *blockRef) Name() string {
	return b.name
}

// Super renders the parent template's implementation of this block, or
// nothing when no ancestor defines it.
func (b *blockRef) Super() (string, error) {
	bc := b.ctx.blocks
	if bc == nil {
		return "", nil
	}
	parent := bc.peek(b.name)
	if parent == nil {
		return "", nil
	}
	return parent.Render(b.ctx)
}

// ExtendsNode resolves template inheritance at render time. It holds
// the child template's full body (for block collection) and the parent
// reference, which may be a literal name or a variable.
type ExtendsNode struct {
	nodelist NodeList
	parent   *FilterExpression
	blocks   map[string]*BlockNode
	pos      Position
}

// compileExtends consumes the remainder of the template as the child
// body and collects its blocks. At most one extends is allowed and no
// other tag may precede it; the parser enforces both.
func compileExtends(p *Parser, token lexer.Token) (Node, error) {
	if err := p.registerExtends(); err != nil {
		return nil, err
	}
	args := tagArgs(token.Contents)
	if len(args) != 1 {
		return nil, NewSyntaxError("extends takes one argument: the name of the parent template", Position{})
	}
	parent, err := p.CompileFilterExpression(args[0])
	if err != nil {
		return nil, err
	}

	nodelist, err := p.Parse()
	if err != nil {
		return nil, err
	}

	node := &ExtendsNode{
		nodelist: nodelist,
		parent:   parent,
		blocks:   make(map[string]*BlockNode),
		pos:      tokenPosition(token),
	}
	for _, block := range NodesByType[*BlockNode](nodelist) {
		node.blocks[block.Name] = block
	}
	return node, nil
}

// SourcePosition returns the node's source position
func (n *ExtendsNode) SourcePosition() Position {
	return n.pos
}

// Render resolves the inheritance chain for this render call. The
// child's blocks (plus any overrides deferred from deeper templates,
// already present in the block context) are recorded, the parent is
// loaded and parsed fresh, and then the parent tree is rendered: its
// BlockNodes pull the most-derived implementation from the block
// context. A child block matched nowhere up the chain simply never
// renders. When the parent itself extends another template, its own
// extends node repeats this step one level up, which is how orphan
// overrides travel to grandparents.
func (n *ExtendsNode) Render(ctx *Context) (string, error) {
	bc := ctx.blockContext()
	bc.addBlocks(n.blocks)

	parent, err := n.loadParent(ctx)
	if err != nil {
		return "", err
	}

	if parentExtends := firstExtendsNode(parent.nodelist); parentExtends == nil {
		// Topmost level: record the parent's own blocks as the base
		// implementations before rendering its tree.
		base := make(map[string]*BlockNode)
		for _, block := range NodesByType[*BlockNode](parent.nodelist) {
			base[block.Name] = block
		}
		bc.addBlocks(base)
	}
	return parent.nodelist.Render(ctx)
}

// loadParent resolves the parent template name and loads it through
// the engine's loader.
func (n *ExtendsNode) loadParent(ctx *Context) (*Template, error) {
	value, err := n.parent.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	name := stringify(value)
	if name == "" {
		return nil, NewError(ErrorTypeTemplate, "invalid template name in extends tag", n.pos)
	}
	if ctx.engine == nil {
		return nil, NewError(ErrorTypeTemplate, "extends requires an engine with a loader", n.pos)
	}
	return ctx.engine.GetTemplate(name)
}

// firstExtendsNode returns the extends node heading a node list, if any
func firstExtendsNode(nl NodeList) *ExtendsNode {
	for _, node := range nl {
		switch typed := node.(type) {
		case *TextNode:
			continue
		case *ExtendsNode:
			return typed
		default:
			return nil
		}
	}
	return nil
}
