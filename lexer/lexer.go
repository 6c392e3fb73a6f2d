package lexer

import (
	"regexp"
	"strings"
)

// Template delimiters. These are fixed; the mini-language does not
// support reconfiguring them.
const (
	VariableStart = "{{"
	VariableEnd   = "}}"
	BlockStart    = "{%"
	BlockEnd      = "%}"
)

// tagRe matches one variable or block construct. Everything between
// matches is plain text.
var tagRe = regexp.MustCompile(`\{%.*?%\}|\{\{.*?\}\}`)

// Tokenize splits template source into an ordered token sequence.
// Variable and block contents are trimmed of their delimiters and
// surrounding whitespace; empty text runs produce no token.
func Tokenize(source string) []Token {
	var tokens []Token
	last := 0
	for _, loc := range tagRe.FindAllStringIndex(source, -1) {
		if loc[0] > last {
			tokens = append(tokens, Token{Type: TokenText, Contents: source[last:loc[0]]})
		}
		tokens = append(tokens, createToken(source[loc[0]:loc[1]], 0, 0))
		last = loc[1]
	}
	if last < len(source) {
		tokens = append(tokens, Token{Type: TokenText, Contents: source[last:]})
	}
	return tokens
}

// TokenizeDebug behaves like Tokenize but additionally records the line
// number and byte offset of every token, including text tokens, so
// compile and render errors can be attributed to a source span.
func TokenizeDebug(source string) []Token {
	var tokens []Token
	last := 0
	for _, loc := range tagRe.FindAllStringIndex(source, -1) {
		if loc[0] > last {
			token := Token{Type: TokenText, Contents: source[last:loc[0]]}
			token.Position = last
			token.Line = lineAt(source, last)
			tokens = append(tokens, token)
		}
		tokens = append(tokens, createToken(source[loc[0]:loc[1]], loc[0], lineAt(source, loc[0])))
		last = loc[1]
	}
	if last < len(source) {
		token := Token{Type: TokenText, Contents: source[last:]}
		token.Position = last
		token.Line = lineAt(source, last)
		tokens = append(tokens, token)
	}
	return tokens
}

// createToken builds a variable or block token from one delimited match
func createToken(match string, pos, line int) Token {
	token := Token{Line: line, Position: pos}
	if strings.HasPrefix(match, VariableStart) {
		token.Type = TokenVariable
		token.Contents = strings.TrimSpace(match[len(VariableStart) : len(match)-len(VariableEnd)])
	} else {
		token.Type = TokenBlock
		token.Contents = strings.TrimSpace(match[len(BlockStart) : len(match)-len(BlockEnd)])
	}
	return token
}

func lineAt(source string, pos int) int {
	return strings.Count(source[:pos], "\n") + 1
}
