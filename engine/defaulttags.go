package engine

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deicod/godtl/lexer"
)

// defaultLibrary builds the built-in tag set installed on every engine
func defaultLibrary() *Library {
	lib := NewLibrary()
	lib.Tag("for", compileFor)
	lib.Tag("if", compileIf)
	lib.Tag("ifchanged", compileIfChanged)
	lib.Tag("cycle", compileCycle)
	lib.Tag("regroup", compileRegroup)
	lib.Tag("filter", compileFilterTag)
	lib.Tag("firstof", compileFirstOf)
	lib.Tag("widthratio", compileWidthRatio)
	lib.Tag("now", compileNow)
	lib.Tag("templatetag", compileTemplateTag)
	lib.Tag("ssi", compileSsi)
	lib.Tag("comment", compileComment)
	lib.Tag("include", compileInclude)
	lib.Tag("with", compileWith)
	lib.Tag("load", compileLoad)
	lib.Tag("block", compileBlock)
	lib.Tag("extends", compileExtends)
	return lib
}

// --- for ---

type forNode struct {
	loopVar  string
	sequence *FilterExpression
	reversed bool
	body     NodeList
}

func compileFor(p *Parser, token lexer.Token) (Node, error) {
	args := tagArgs(token.Contents)
	if len(args) < 3 || args[1] != "in" {
		return nil, NewSyntaxError("for tag should use the format 'for x in y'", Position{})
	}
	reversed := false
	seqArgs := args[2:]
	if seqArgs[len(seqArgs)-1] == "reversed" {
		reversed = true
		seqArgs = seqArgs[:len(seqArgs)-1]
	}
	if len(seqArgs) != 1 {
		return nil, NewSyntaxError("for tag should use the format 'for x in y'", Position{})
	}
	sequence, err := p.CompileFilterExpression(seqArgs[0])
	if err != nil {
		return nil, err
	}

	body, err := p.ParseUntil("endfor")
	if err != nil {
		return nil, err
	}
	p.DeleteFirstToken()

	return &forNode{loopVar: args[0], sequence: sequence, reversed: reversed, body: body}, nil
}

// ChildNodeLists exposes the loop body for structural search
func (n *forNode) ChildNodeLists() []NodeList {
	return []NodeList{n.body}
}

// Render iterates the resolved sequence, pushing one frame per
// iteration with the loop variable and forloop metadata. A missing or
// non-iterable sequence renders as empty, never as an error.
func (n *forNode) Render(ctx *Context) (string, error) {
	value, err := n.sequence.Resolve(ctx)
	if err != nil {
		return "", err
	}
	items, ok := toSequence(value)
	if !ok || len(items) == 0 {
		return "", nil
	}
	if max := ctx.settings.MaxLoopIterations; max > 0 && len(items) > max {
		return "", NewError(ErrorTypeRender,
			fmt.Sprintf("for loop over %d items exceeds the iteration bound (%d)", len(items), max), Position{})
	}
	if n.reversed {
		reversed := make([]interface{}, len(items))
		for i, item := range items {
			reversed[len(items)-1-i] = item
		}
		items = reversed
	}

	parentloop, _ := ctx.Get("forloop")

	var sb strings.Builder
	ctx.Push()
	defer ctx.Pop()
	total := len(items)
	for i, item := range items {
		forloop := map[string]interface{}{
			"counter":    i + 1,
			"counter0":   i,
			"revcounter": total - i,
			// revcounter0 is zero on the final iteration.
			"revcounter0": total - i - 1,
			"first":       i == 0,
			"last":        i == total-1,
		}
		if parentloop != nil {
			forloop["parentloop"] = parentloop
		}
		ctx.Set("forloop", forloop)
		ctx.Set(n.loopVar, item)

		out, err := n.body.Render(ctx)
		if err != nil {
			return "", err
		}
		sb.WriteString(out)
	}
	return sb.String(), nil
}

// --- if ---

type ifClause struct {
	negated bool
	expr    *FilterExpression
}

type ifNode struct {
	clauses  []ifClause
	body     NodeList
	elseBody NodeList
}

// compileIf parses an ordered list of clauses joined only by "or" at
// the top level. "and" is deliberately unsupported: conjunction is
// expressed by nesting if tags.
func compileIf(p *Parser, token lexer.Token) (Node, error) {
	args := tagArgs(token.Contents)
	if len(args) == 0 {
		return nil, NewSyntaxError("if tag requires at least one argument", Position{})
	}

	var clauses []ifClause
	var current []string
	flush := func() error {
		negated := false
		if len(current) > 0 && current[0] == "not" {
			negated = true
			current = current[1:]
		}
		if len(current) != 1 {
			return NewSyntaxErrorf(Position{}, "if tag could not parse clause near %q", strings.Join(current, " "))
		}
		expr, err := p.CompileFilterExpression(current[0])
		if err != nil {
			return err
		}
		clauses = append(clauses, ifClause{negated: negated, expr: expr})
		current = nil
		return nil
	}
	for _, arg := range args {
		switch arg {
		case "or":
			if err := flush(); err != nil {
				return nil, err
			}
		case "and":
			return nil, NewSyntaxError("'and' is not supported in if tags; use nested if tags instead", Position{})
		default:
			current = append(current, arg)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	body, err := p.ParseUntil("else", "endif")
	if err != nil {
		return nil, err
	}
	node := &ifNode{clauses: clauses, body: body}

	terminator, _ := p.NextToken()
	if tagName(terminator.Contents) == "else" {
		node.elseBody, err = p.ParseUntil("endif")
		if err != nil {
			return nil, err
		}
		p.DeleteFirstToken()
	}
	return node, nil
}

// ChildNodeLists exposes both branches for structural search
func (n *ifNode) ChildNodeLists() []NodeList {
	return []NodeList{n.body, n.elseBody}
}

// Render short-circuits at the first true clause
func (n *ifNode) Render(ctx *Context) (string, error) {
	for _, clause := range n.clauses {
		truth, err := clause.expr.ResolveBool(ctx)
		if err != nil {
			return "", err
		}
		if truth != clause.negated {
			return n.body.Render(ctx)
		}
	}
	return n.elseBody.Render(ctx)
}

// --- ifchanged ---

type ifChangedNode struct {
	body NodeList
}

func compileIfChanged(p *Parser, token lexer.Token) (Node, error) {
	if args := tagArgs(token.Contents); len(args) != 0 {
		return nil, NewSyntaxError("ifchanged takes no arguments", Position{})
	}
	body, err := p.ParseUntil("endifchanged")
	if err != nil {
		return nil, err
	}
	p.DeleteFirstToken()
	return &ifChangedNode{body: body}, nil
}

// ChildNodeLists exposes the body for structural search
func (n *ifChangedNode) ChildNodeLists() []NodeList {
	return []NodeList{n.body}
}

// Render compares the rendered body against the value stored in the
// per-render side table. When it differs the body is re-rendered with a
// firstloop flag in scope and the memo is updated; when identical the
// node contributes nothing.
func (n *ifChangedNode) Render(ctx *Context) (string, error) {
	state := ctx.State(n, func() interface{} { return &ifChangedState{} }).(*ifChangedState)

	rendered, err := n.body.Render(ctx)
	if err != nil {
		return "", err
	}
	if state.seen && state.last == rendered {
		return "", nil
	}

	ctx.PushFrame(map[string]interface{}{"firstloop": !state.seen})
	out, err := n.body.Render(ctx)
	ctx.Pop()
	if err != nil {
		return "", err
	}
	state.seen = true
	state.last = rendered
	return out, nil
}

type ifChangedState struct {
	seen bool
	last string
}

// --- cycle ---

type cycleNode struct {
	values []*FilterExpression
}

// compileCycle handles the legacy comma form {% cycle a,b %}, the
// multi-argument form with an optional `as name` registration, and a
// bare {% cycle name %} reference. Named cycles are scoped to the
// parser, so the same compiled node (and therefore the same per-render
// counter) is shared by every reference within one template.
func compileCycle(p *Parser, token lexer.Token) (Node, error) {
	args := tagArgs(token.Contents)
	if len(args) == 0 {
		return nil, NewSyntaxError("cycle tag requires at least one argument", Position{})
	}

	if len(args) == 1 && !isQuoted(args[0]) && len(splitCycleValues(args[0])) == 1 {
		node, ok := p.namedCycles[args[0]]
		if !ok {
			return nil, NewSyntaxErrorf(Position{}, "named cycle %q does not exist in this template", args[0])
		}
		return node, nil
	}

	name := ""
	if len(args) >= 3 && args[len(args)-2] == "as" {
		name = args[len(args)-1]
		args = args[:len(args)-2]
	}

	var rawValues []string
	if len(args) == 1 {
		// Legacy comma form: a,b or 'a','b'. Commas inside quotes do
		// not split, and unquoted pieces are literal strings.
		for _, piece := range splitCycleValues(args[0]) {
			if !isQuoted(piece) {
				piece = "'" + strings.ReplaceAll(piece, "'", `\'`) + "'"
			}
			rawValues = append(rawValues, piece)
		}
	} else {
		rawValues = args
	}

	node := &cycleNode{}
	for _, raw := range rawValues {
		expr, err := p.CompileFilterExpression(raw)
		if err != nil {
			return nil, err
		}
		node.values = append(node.values, expr)
	}
	if name != "" {
		p.namedCycles[name] = node
	}
	return node, nil
}

// Render emits the current value and advances the rotating counter in
// the per-render side table.
func (n *cycleNode) Render(ctx *Context) (string, error) {
	state := ctx.State(n, func() interface{} { return &cycleState{} }).(*cycleState)
	expr := n.values[state.index%len(n.values)]
	state.index++
	value, err := expr.Resolve(ctx)
	if err != nil {
		return "", err
	}
	return stringify(value), nil
}

type cycleState struct {
	index int
}

func isQuoted(s string) bool {
	return len(s) >= 2 && (s[0] == '"' || s[0] == '\'')
}

// splitCycleValues splits one cycle argument on commas outside quotes
func splitCycleValues(s string) []string {
	var parts []string
	var sb strings.Builder
	var quote byte
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			sb.WriteByte(c)
			escaped = false
		case quote != 0 && c == '\\':
			sb.WriteByte(c)
			escaped = true
		case quote != 0:
			sb.WriteByte(c)
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			sb.WriteByte(c)
			quote = c
		case c == ',':
			parts = append(parts, sb.String())
			sb.Reset()
		default:
			sb.WriteByte(c)
		}
	}
	parts = append(parts, sb.String())
	return parts
}

// --- regroup ---

type regroupNode struct {
	source  *FilterExpression
	keyExpr *Variable
	varName string
}

// GroupedItem is one regroup record: the shared key and the adjacent
// run of items that produced it.
type GroupedItem struct {
	Grouper interface{}
	List    []interface{}
}

func compileRegroup(p *Parser, token lexer.Token) (Node, error) {
	args := tagArgs(token.Contents)
	if len(args) != 5 || args[1] != "by" || args[3] != "as" {
		return nil, NewSyntaxError("regroup tag should use the format 'regroup list by key as name'", Position{})
	}
	source, err := p.CompileFilterExpression(args[0])
	if err != nil {
		return nil, err
	}
	// The key expression resolves against each item, so prefix a
	// placeholder root component.
	keyExpr, err := p.CompileVariable("item." + args[2])
	if err != nil {
		return nil, err
	}
	return &regroupNode{source: source, keyExpr: keyExpr, varName: args[4]}, nil
}

// Render groups by a single linear scan: a new group starts whenever
// the computed key differs from the immediately preceding item's key.
// Grouping is adjacency-only; the caller is responsible for pre-sorting
// the input. Equal keys separated by a different key are deliberately
// not merged.
func (n *regroupNode) Render(ctx *Context) (string, error) {
	value, err := n.source.Resolve(ctx)
	if err != nil {
		return "", err
	}
	items, ok := toSequence(value)
	if !ok {
		ctx.Set(n.varName, []*GroupedItem{})
		return "", nil
	}

	var groups []*GroupedItem
	for _, item := range items {
		key, err := n.keyExpr.ResolveAgainst(item)
		if err != nil {
			var missing *VariableDoesNotExist
			if !errors.As(err, &missing) {
				return "", err
			}
			key = nil
		}
		if len(groups) == 0 || stringify(groups[len(groups)-1].Grouper) != stringify(key) {
			groups = append(groups, &GroupedItem{Grouper: key})
		}
		last := groups[len(groups)-1]
		last.List = append(last.List, item)
	}
	ctx.Set(n.varName, groups)
	return "", nil
}

// --- filter ---

type filterTagNode struct {
	chain *FilterExpression
	body  NodeList
}

func compileFilterTag(p *Parser, token lexer.Token) (Node, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(token.Contents, "filter"))
	if rest == "" {
		return nil, NewSyntaxError("filter tag requires at least one filter", Position{})
	}
	// The body is bound to a placeholder variable the chain is applied to.
	chain, err := p.CompileFilterExpression("contents|" + rest)
	if err != nil {
		return nil, err
	}
	body, err := p.ParseUntil("endfilter")
	if err != nil {
		return nil, err
	}
	p.DeleteFirstToken()
	return &filterTagNode{chain: chain, body: body}, nil
}

// ChildNodeLists exposes the body for structural search
func (n *filterTagNode) ChildNodeLists() []NodeList {
	return []NodeList{n.body}
}

// Render renders the body, then pushes it through the filter chain
func (n *filterTagNode) Render(ctx *Context) (string, error) {
	rendered, err := n.body.Render(ctx)
	if err != nil {
		return "", err
	}
	ctx.PushFrame(map[string]interface{}{"contents": rendered})
	defer ctx.Pop()
	value, err := n.chain.Resolve(ctx)
	if err != nil {
		return "", err
	}
	return stringify(value), nil
}

// --- firstof ---

type firstOfNode struct {
	exprs []*FilterExpression
}

func compileFirstOf(p *Parser, token lexer.Token) (Node, error) {
	args := tagArgs(token.Contents)
	if len(args) == 0 {
		return nil, NewSyntaxError("firstof tag requires at least one argument", Position{})
	}
	node := &firstOfNode{}
	for _, arg := range args {
		expr, err := p.CompileFilterExpression(arg)
		if err != nil {
			return nil, err
		}
		node.exprs = append(node.exprs, expr)
	}
	return node, nil
}

// Render emits the first truthy argument, or nothing. Each argument is
// resolved at most once, so filter chains run a single time.
func (n *firstOfNode) Render(ctx *Context) (string, error) {
	for _, expr := range n.exprs {
		value, err := expr.resolve(ctx, nil)
		if err != nil {
			return "", err
		}
		if isTruthy(value) {
			return stringify(value), nil
		}
	}
	return "", nil
}

// --- widthratio ---

type widthRatioNode struct {
	value, maxValue, maxWidth *FilterExpression
}

func compileWidthRatio(p *Parser, token lexer.Token) (Node, error) {
	args := tagArgs(token.Contents)
	if len(args) != 3 {
		return nil, NewSyntaxError("widthratio takes three arguments: value, max value, max width", Position{})
	}
	node := &widthRatioNode{}
	var err error
	if node.value, err = p.CompileFilterExpression(args[0]); err != nil {
		return nil, err
	}
	if node.maxValue, err = p.CompileFilterExpression(args[1]); err != nil {
		return nil, err
	}
	if node.maxWidth, err = p.CompileFilterExpression(args[2]); err != nil {
		return nil, err
	}
	return node, nil
}

// Render scales value/maxValue to maxWidth, rounded to the nearest
// integer. A zero or non-numeric denominator renders as empty.
func (n *widthRatioNode) Render(ctx *Context) (string, error) {
	value, err := n.value.Resolve(ctx)
	if err != nil {
		return "", err
	}
	maxValue, err := n.maxValue.Resolve(ctx)
	if err != nil {
		return "", err
	}
	maxWidth, err := n.maxWidth.Resolve(ctx)
	if err != nil {
		return "", err
	}

	v, ok1 := toFloat(value)
	m, ok2 := toFloat(maxValue)
	w, ok3 := toFloat(maxWidth)
	if !ok1 || !ok2 || !ok3 || m == 0 {
		return "", nil
	}
	ratio := v / m * w
	return fmt.Sprintf("%d", int64(math.Round(ratio))), nil
}

// --- now ---

type nowNode struct {
	format string
}

func compileNow(p *Parser, token lexer.Token) (Node, error) {
	args := tagArgs(token.Contents)
	if len(args) != 1 {
		return nil, NewSyntaxError("now tag takes one string argument", Position{})
	}
	v, err := p.CompileVariable(args[0])
	if err != nil {
		return nil, err
	}
	format, ok := v.literal.(string)
	if !v.isLiteral || !ok {
		return nil, NewSyntaxError("now tag argument must be a quoted format string", Position{})
	}
	return &nowNode{format: format}, nil
}

// Render formats the current time with the engine's date formatter
func (n *nowNode) Render(ctx *Context) (string, error) {
	return formatDate(time.Now(), n.format), nil
}

// --- templatetag ---

var templateTagMapping = map[string]string{
	"openblock":     lexer.BlockStart,
	"closeblock":    lexer.BlockEnd,
	"openvariable":  lexer.VariableStart,
	"closevariable": lexer.VariableEnd,
	"openbrace":     "{",
	"closebrace":    "}",
}

type templateTagNode struct {
	literal string
}

func compileTemplateTag(p *Parser, token lexer.Token) (Node, error) {
	args := tagArgs(token.Contents)
	if len(args) != 1 {
		return nil, NewSyntaxError("templatetag takes one argument", Position{})
	}
	literal, ok := templateTagMapping[args[0]]
	if !ok {
		keys := make([]string, 0, len(templateTagMapping))
		for key := range templateTagMapping {
			keys = append(keys, key)
		}
		return nil, NewSyntaxErrorf(Position{}, "invalid templatetag argument %q; must be one of: %s",
			args[0], strings.Join(keys, ", "))
	}
	return &templateTagNode{literal: literal}, nil
}

// Render emits the delimiter literal
func (n *templateTagNode) Render(ctx *Context) (string, error) {
	return n.literal, nil
}

// --- ssi ---

type ssiNode struct {
	path   string
	parsed bool
}

func compileSsi(p *Parser, token lexer.Token) (Node, error) {
	args := tagArgs(token.Contents)
	if len(args) == 0 || len(args) > 2 {
		return nil, NewSyntaxError("ssi tag takes one argument: the path to the file to include, plus an optional 'parsed'", Position{})
	}
	parsed := false
	if len(args) == 2 {
		if args[1] != "parsed" {
			return nil, NewSyntaxErrorf(Position{}, "second (optional) argument to ssi tag must be 'parsed', not %q", args[1])
		}
		parsed = true
	}
	path := args[0]
	if isQuoted(path) {
		path = path[1 : len(path)-1]
	}
	return &ssiNode{path: path, parsed: parsed}, nil
}

// Render includes the file contents, optionally compiled and rendered
// in the current context. Paths outside the allowed include roots and
// read or compile failures render as empty (a message in debug mode)
// rather than aborting the surrounding template.
func (n *ssiNode) Render(ctx *Context) (string, error) {
	if !ssiAllowed(n.path, ctx.settings.AllowedIncludeRoots) {
		if ctx.settings.Debug {
			return fmt.Sprintf("[ssi not allowed: %s]", n.path), nil
		}
		return "", nil
	}
	contents, err := os.ReadFile(n.path)
	if err != nil {
		if ctx.settings.Debug {
			return fmt.Sprintf("[ssi failed: %s]", n.path), nil
		}
		return "", nil
	}
	if !n.parsed {
		return string(contents), nil
	}
	if ctx.engine == nil {
		return "", nil
	}
	tmpl, err := ctx.engine.FromString(string(contents))
	if err != nil {
		if ctx.settings.Debug {
			return fmt.Sprintf("[ssi parse failed: %s]", n.path), nil
		}
		return "", nil
	}
	ctx.Push()
	defer ctx.Pop()
	return tmpl.nodelist.Render(ctx)
}

func ssiAllowed(path string, roots []string) bool {
	if !filepath.IsAbs(path) {
		return false
	}
	clean := filepath.Clean(path)
	for _, root := range roots {
		root = filepath.Clean(root)
		if clean == root || strings.HasPrefix(clean, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// --- comment ---

type commentNode struct{}

func compileComment(p *Parser, token lexer.Token) (Node, error) {
	if err := p.SkipPast("endcomment"); err != nil {
		return nil, err
	}
	return &commentNode{}, nil
}

// Render emits nothing
func (n *commentNode) Render(ctx *Context) (string, error) {
	return "", nil
}

// --- include ---

type includeNode struct {
	name *FilterExpression
}

func compileInclude(p *Parser, token lexer.Token) (Node, error) {
	args := tagArgs(token.Contents)
	if len(args) != 1 {
		return nil, NewSyntaxError("include tag takes one argument: the name of the template to include", Position{})
	}
	name, err := p.CompileFilterExpression(args[0])
	if err != nil {
		return nil, err
	}
	return &includeNode{name: name}, nil
}

// Render loads the named template through the engine's loader and
// renders it in the current context, inside its own frame.
func (n *includeNode) Render(ctx *Context) (string, error) {
	value, err := n.name.Resolve(ctx)
	if err != nil {
		return "", err
	}
	name := stringify(value)
	if name == "" || ctx.engine == nil {
		return "", nil
	}
	tmpl, err := ctx.engine.GetTemplate(name)
	if err != nil {
		return "", err
	}
	ctx.Push()
	defer ctx.Pop()
	return tmpl.nodelist.Render(ctx)
}

// --- with ---

type withNode struct {
	expr *FilterExpression
	name string
	body NodeList
}

func compileWith(p *Parser, token lexer.Token) (Node, error) {
	args := tagArgs(token.Contents)
	if len(args) != 3 || args[1] != "as" {
		return nil, NewSyntaxError("with tag should use the format 'with value as name'", Position{})
	}
	expr, err := p.CompileFilterExpression(args[0])
	if err != nil {
		return nil, err
	}
	body, err := p.ParseUntil("endwith")
	if err != nil {
		return nil, err
	}
	p.DeleteFirstToken()
	return &withNode{expr: expr, name: args[2], body: body}, nil
}

// ChildNodeLists exposes the body for structural search
func (n *withNode) ChildNodeLists() []NodeList {
	return []NodeList{n.body}
}

// Render binds the resolved value under the given name for the body
func (n *withNode) Render(ctx *Context) (string, error) {
	value, err := n.expr.Resolve(ctx)
	if err != nil {
		return "", err
	}
	ctx.PushFrame(map[string]interface{}{n.name: value})
	defer ctx.Pop()
	return n.body.Render(ctx)
}

// --- load ---

type loadNode struct{}

// compileLoad splices statically registered libraries into the
// parser-local registry view. The shared engine registry is never
// mutated by parsing.
func compileLoad(p *Parser, token lexer.Token) (Node, error) {
	args := tagArgs(token.Contents)
	if len(args) == 0 {
		return nil, NewSyntaxError("load tag takes at least one library name", Position{})
	}
	for _, name := range args {
		if err := p.LoadLibrary(name); err != nil {
			return nil, err
		}
	}
	return &loadNode{}, nil
}

// Render emits nothing; load acts entirely at compile time
func (n *loadNode) Render(ctx *Context) (string, error) {
	return "", nil
}
