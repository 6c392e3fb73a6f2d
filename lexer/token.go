package lexer

import "fmt"

// TokenType represents the type of a token
type TokenType int

const (
	TokenText TokenType = iota
	TokenVariable
	TokenBlock
)

var tokenNames = map[TokenType]string{
	TokenText:     "TEXT",
	TokenVariable: "VAR",
	TokenBlock:    "BLOCK",
}

func (tt TokenType) String() string {
	if name, ok := tokenNames[tt]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", tt)
}

// Token represents a single lexical unit of a template. Text tokens carry
// raw template data; variable and block tokens carry their contents with
// the delimiters and surrounding whitespace stripped.
type Token struct {
	Type     TokenType
	Contents string

	// Line and Position are only populated by the debug lexer; the
	// standard lexer leaves them zero.
	Line     int
	Position int
}

func (t Token) String() string {
	contents := t.Contents
	if len(contents) > 20 {
		contents = contents[:20] + "..."
	}
	return fmt.Sprintf("<%s token: %q>", t.Type, contents)
}

// TokenStream is the shared cursor the parser and tag callbacks consume
// tokens from. Prepend pushes a token back so a caller can observe which
// terminator ended a nested parse.
type TokenStream struct {
	tokens []Token
	pos    int
}

// NewTokenStream creates a token stream over the given tokens
func NewTokenStream(tokens []Token) *TokenStream {
	return &TokenStream{tokens: tokens}
}

// Next consumes and returns the next token. ok is false at end of input.
func (ts *TokenStream) Next() (Token, bool) {
	if ts.pos >= len(ts.tokens) {
		return Token{}, false
	}
	token := ts.tokens[ts.pos]
	ts.pos++
	return token, true
}

// Peek returns the next token without consuming it
func (ts *TokenStream) Peek() (Token, bool) {
	if ts.pos >= len(ts.tokens) {
		return Token{}, false
	}
	return ts.tokens[ts.pos], true
}

// Prepend pushes a token back onto the front of the stream
func (ts *TokenStream) Prepend(token Token) {
	if ts.pos > 0 && ts.tokens[ts.pos-1] == token {
		ts.pos--
		return
	}
	rest := ts.tokens[ts.pos:]
	tokens := make([]Token, 0, len(rest)+1)
	tokens = append(tokens, token)
	tokens = append(tokens, rest...)
	ts.tokens = tokens
	ts.pos = 0
}

// Eof reports whether the stream is exhausted
func (ts *TokenStream) Eof() bool {
	return ts.pos >= len(ts.tokens)
}

// Remaining returns the number of unconsumed tokens
func (ts *TokenStream) Remaining() int {
	return len(ts.tokens) - ts.pos
}
