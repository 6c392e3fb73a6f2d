package engine

import "github.com/deicod/godtl/lexer"

// TagFunc is the compile callback for a block tag. It receives the
// parser and the tag's own token, may recursively call
// parser.ParseUntil to consume a nested body, and must consume the
// matched terminator (DeleteFirstToken) before returning.
type TagFunc func(p *Parser, token lexer.Token) (Node, error)

// FilterFunc transforms a resolved value. arg is nil when the filter
// was used without an argument.
type FilterFunc func(value interface{}, arg interface{}) (interface{}, error)

// Filter bundles a filter callback with its compile-time arity
// contract: RequiresArgument filters must be written name:arg, all
// others must not carry one.
type Filter struct {
	Fn               FilterFunc
	RequiresArgument bool
}

// Library is a named bundle of tags and filters. Engines install the
// built-in library at construction; additional libraries are registered
// statically on the engine and spliced in per template by {% load %}.
type Library struct {
	Tags    map[string]TagFunc
	Filters map[string]Filter
}

// NewLibrary creates an empty library
func NewLibrary() *Library {
	return &Library{
		Tags:    make(map[string]TagFunc),
		Filters: make(map[string]Filter),
	}
}

// Tag registers a tag compile callback under name
func (l *Library) Tag(name string, fn TagFunc) *Library {
	l.Tags[name] = fn
	return l
}

// Filter registers an argument-less filter under name
func (l *Library) Filter(name string, fn FilterFunc) *Library {
	l.Filters[name] = Filter{Fn: fn}
	return l
}

// FilterWithArgument registers a filter that requires an argument
func (l *Library) FilterWithArgument(name string, fn FilterFunc) *Library {
	l.Filters[name] = Filter{Fn: fn, RequiresArgument: true}
	return l
}
