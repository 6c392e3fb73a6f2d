// Package godtl is a Go implementation of the Django template language:
// {{ variable|filter }} expressions, {% tag %} blocks and block/extends
// template inheritance.
package godtl

import (
	"log/slog"
	"path/filepath"

	"github.com/deicod/godtl/engine"
)

// Version of the godtl library
const Version = "0.1.0"

// Template represents a compiled template
type Template = engine.Template

// Engine represents a configured template engine
type Engine = engine.Engine

// Context represents the template rendering context
type Context = engine.Context

// Settings holds host-supplied engine configuration
type Settings = engine.Settings

// Library is a named bundle of tags and filters for {% load %}
type Library = engine.Library

// Loader maps template names to raw source text
type Loader = engine.Loader

// Node is one unit of a compiled template tree
type Node = engine.Node

// NodeList is an ordered sequence of nodes
type NodeList = engine.NodeList

// FilterFunc transforms a value in a filter chain
type FilterFunc = engine.FilterFunc

// TagFunc is a tag compile callback
type TagFunc = engine.TagFunc

// DefaultSettings returns settings with safe bounds
func DefaultSettings() Settings {
	return engine.DefaultSettings()
}

// NewEngine creates an engine with the built-in tags and filters
func NewEngine(settings Settings, logger *slog.Logger) *Engine {
	return engine.New(settings, logger)
}

// NewFileSystemLoader creates a loader over the given directories
func NewFileSystemLoader(dirs ...string) Loader {
	return engine.NewFileSystemLoader(dirs...)
}

// ParseString compiles a template from a string with default settings
func ParseString(source string) (*Template, error) {
	return engine.New(engine.DefaultSettings(), nil).FromString(source)
}

// ParseFile compiles a template from a file. The file's directory
// becomes the loader root, so relative extends and include references
// resolve beside it.
func ParseFile(filename string) (*Template, error) {
	absPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, err
	}

	e := engine.New(engine.DefaultSettings(), nil)
	e.SetLoader(engine.NewFileSystemLoader(filepath.Dir(absPath)))
	return e.GetTemplate(filepath.Base(absPath))
}
