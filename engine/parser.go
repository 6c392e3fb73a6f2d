package engine

import (
	"strings"

	"github.com/deicod/godtl/lexer"
)

// Parser compiles a token stream into a node tree by recursive descent.
// Tag compile callbacks drive the recursion: each callback may call
// ParseUntil with its own terminator set to consume a nested body.
//
// The tag and filter tables are a parser-local view: {% load %} splices
// additional libraries into this parser only, and named cycle counters
// registered with `as` live here, scoped to the template being
// compiled.
type Parser struct {
	stream   *lexer.TokenStream
	engine   *Engine
	settings Settings

	tags    map[string]TagFunc
	filters map[string]Filter

	namedCycles map[string]*cycleNode
	seenBlocks  map[string]bool
	sawExtends  bool

	// constructCount counts compiled tags and variables, for the
	// extends-must-come-first check. Plain text does not count.
	constructCount int
}

// newParser creates a parser over tokens with the engine's registry as
// the initial tag/filter view.
func newParser(tokens []lexer.Token, engine *Engine) *Parser {
	tags := make(map[string]TagFunc, len(engine.tags))
	for name, fn := range engine.tags {
		tags[name] = fn
	}
	filters := make(map[string]Filter, len(engine.filters))
	for name, filter := range engine.filters {
		filters[name] = filter
	}
	return &Parser{
		stream:      lexer.NewTokenStream(tokens),
		engine:      engine,
		settings:    engine.settings,
		tags:        tags,
		filters:     filters,
		namedCycles: make(map[string]*cycleNode),
		seenBlocks:  make(map[string]bool),
	}
}

// Parse compiles the remaining token stream to the end of input
func (p *Parser) Parse() (NodeList, error) {
	return p.ParseUntil()
}

// ParseUntil compiles nodes until a block token whose tag name is in
// stop. The matched terminator is pushed back onto the stream so the
// caller can inspect it; callers consume it with DeleteFirstToken.
// Reaching end of input with a non-empty stop set is a syntax error
// naming the expected terminators.
func (p *Parser) ParseUntil(stop ...string) (NodeList, error) {
	stopSet := make(map[string]bool, len(stop))
	for _, name := range stop {
		stopSet[name] = true
	}

	var nodes NodeList
	for {
		token, ok := p.stream.Next()
		if !ok {
			if len(stop) > 0 {
				return nil, NewSyntaxErrorf(Position{},
					"unexpected end of template: expected one of %s", strings.Join(stop, ", "))
			}
			return nodes, nil
		}

		switch token.Type {
		case lexer.TokenText:
			nodes = append(nodes, &TextNode{Text: token.Contents, pos: tokenPosition(token)})

		case lexer.TokenVariable:
			if token.Contents == "" {
				return nil, NewSyntaxError("empty variable tag", tokenPosition(token))
			}
			p.constructCount++
			expr, err := p.CompileFilterExpression(token.Contents)
			if err != nil {
				return nil, positionSyntaxError(err, token)
			}
			nodes = append(nodes, &VariableNode{expr: expr, pos: tokenPosition(token)})

		case lexer.TokenBlock:
			name := tagName(token.Contents)
			if name == "" {
				return nil, NewSyntaxError("empty block tag", tokenPosition(token))
			}
			if stopSet[name] {
				p.stream.Prepend(token)
				return nodes, nil
			}
			tag, ok := p.tags[name]
			if !ok {
				return nil, NewSyntaxErrorf(tokenPosition(token), "invalid block tag: %q", name)
			}
			p.constructCount++
			node, err := p.callTag(tag, token)
			if err != nil {
				return nil, positionSyntaxError(err, token)
			}
			nodes = append(nodes, node)
		}
	}
}

func (p *Parser) callTag(tag TagFunc, token lexer.Token) (Node, error) {
	return tag(p, token)
}

// NextToken consumes and returns the next token from the stream
func (p *Parser) NextToken() (lexer.Token, bool) {
	return p.stream.Next()
}

// DeleteFirstToken discards the pushed-back terminator token after a
// ParseUntil call returned.
func (p *Parser) DeleteFirstToken() {
	p.stream.Next()
}

// SkipPast discards tokens until the named end tag is consumed, without
// compiling anything in between.
func (p *Parser) SkipPast(end string) error {
	for {
		token, ok := p.stream.Next()
		if !ok {
			return NewSyntaxErrorf(Position{}, "unexpected end of template: expected %s", end)
		}
		if token.Type == lexer.TokenBlock && tagName(token.Contents) == end {
			return nil
		}
	}
}

// CompileFilterExpression compiles a raw expression against this
// parser's filter view, applying the compile-time translation hook.
func (p *Parser) CompileFilterExpression(token string) (*FilterExpression, error) {
	return compileFilterExpression(token, p.filters, p.settings.Translate)
}

// CompileVariable compiles a bare variable or literal without filters
func (p *Parser) CompileVariable(raw string) (*Variable, error) {
	return newVariable(raw, p.settings.Translate)
}

// LoadLibrary splices a statically registered library into this
// parser's tag and filter view. The engine registry is not touched.
func (p *Parser) LoadLibrary(name string) error {
	library, ok := p.engine.libraries[name]
	if !ok {
		return NewSyntaxErrorf(Position{}, "%q is not a registered tag library", name)
	}
	for tag, fn := range library.Tags {
		p.tags[tag] = fn
	}
	for filter, f := range library.Filters {
		p.filters[filter] = f
	}
	return nil
}

// Engine returns the engine this parser compiles for
func (p *Parser) Engine() *Engine {
	return p.engine
}

// registerBlock records a block name, enforcing per-template uniqueness
func (p *Parser) registerBlock(name string) error {
	if p.seenBlocks[name] {
		return NewSyntaxErrorf(Position{}, "block tag with name %q appears more than once", name)
	}
	p.seenBlocks[name] = true
	return nil
}

// registerExtends enforces the extends invariants: at most one per
// template, and no tag or variable may precede it.
func (p *Parser) registerExtends() error {
	if p.sawExtends {
		return NewSyntaxError("extends appears more than once in this template", Position{})
	}
	if p.constructCount > 1 {
		return NewSyntaxError("extends must be the first tag in the template", Position{})
	}
	p.sawExtends = true
	return nil
}

// tagName returns the first whitespace-delimited word of block contents
func tagName(contents string) string {
	if i := strings.IndexFunc(contents, isSpace); i >= 0 {
		return contents[:i]
	}
	return contents
}

// tagArgs returns the block contents after the tag name, split on
// whitespace outside of quotes.
func tagArgs(contents string) []string {
	fields := smartSplit(contents)
	if len(fields) <= 1 {
		return nil
	}
	return fields[1:]
}

// smartSplit splits on whitespace but keeps quoted sections (and the
// _("...") translated form) intact.
func smartSplit(s string) []string {
	var fields []string
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
		case isSpace(rune(c)):
			if sb.Len() > 0 {
				fields = append(fields, sb.String())
				sb.Reset()
			}
		default:
			sb.WriteByte(c)
		}
	}
	if sb.Len() > 0 {
		fields = append(fields, sb.String())
	}
	return fields
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

func tokenPosition(token lexer.Token) Position {
	return Position{Line: token.Line, Offset: token.Position}
}

// positionSyntaxError stamps the originating token's position onto a
// syntax error that was created without one (debug builds only carry
// positions; elsewhere the token position is zero anyway).
func positionSyntaxError(err error, token lexer.Token) error {
	if syntaxErr, ok := err.(*SyntaxError); ok && syntaxErr.Err.Position.Line == 0 {
		syntaxErr.Err.Position = tokenPosition(token)
	}
	return err
}
