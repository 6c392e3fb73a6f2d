package engine

import (
	"log/slog"
	"time"

	"github.com/deicod/godtl/lexer"
)

// Settings holds the host-supplied configuration for an engine. The
// zero value is usable; DefaultSettings fills in the safety bounds.
type Settings struct {
	// Debug enables source-position tracking during lexing and wraps
	// render-time failures with the offending node's source span.
	Debug bool `yaml:"debug"`

	// StringIfInvalid is rendered in place of any variable that fails
	// to resolve. Missing variables are never an error.
	StringIfInvalid string `yaml:"string_if_invalid"`

	// AllowedIncludeRoots lists absolute directory prefixes the ssi tag
	// may read from. Empty means ssi is disabled.
	AllowedIncludeRoots []string `yaml:"allowed_include_roots"`

	// MaxRenderDepth bounds render nesting (tag depth plus inheritance
	// levels). Zero disables the bound.
	MaxRenderDepth int `yaml:"max_render_depth"`

	// MaxLoopIterations bounds a single for tag's iteration count.
	// Zero disables the bound.
	MaxLoopIterations int `yaml:"max_loop_iterations"`

	// CacheTTL is how long compiled templates stay cached. Zero means
	// no expiry.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// Translate resolves _("...") literals at compile time. Nil leaves
	// them untranslated.
	Translate func(string) string `yaml:"-"`
}

// DefaultSettings returns settings with safe bounds
func DefaultSettings() Settings {
	return Settings{
		MaxRenderDepth:    64,
		MaxLoopIterations: 1_000_000,
	}
}

const templateCacheSize = 512

// Engine owns the tag/filter registry, the loader, the compiled
// template cache and the settings. Construct and configure an engine
// fully before rendering with it: registry and loader mutation is not
// synchronized against concurrent renders. Multiple independently
// configured engines can coexist in one process.
type Engine struct {
	settings  Settings
	logger    *slog.Logger
	tags      map[string]TagFunc
	filters   map[string]Filter
	libraries map[string]*Library
	loader    Loader
	cache     *templateCache
}

// New creates an engine with the built-in tags and filters installed.
// A nil logger falls back to slog.Default.
func New(settings Settings, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		settings:  settings,
		logger:    logger,
		tags:      make(map[string]TagFunc),
		filters:   defaultFilters(),
		libraries: make(map[string]*Library),
		cache:     newTemplateCache(settings.CacheTTL, templateCacheSize),
	}
	for name, fn := range defaultLibrary().Tags {
		e.tags[name] = fn
	}
	return e
}

// SetLoader installs the loader used by GetTemplate, extends and include
func (e *Engine) SetLoader(loader Loader) {
	e.loader = loader
}

// RegisterLibrary makes a library available to {% load name %}. The
// library is spliced into a template's registry view at compile time
// only; the engine-wide tag table is untouched.
func (e *Engine) RegisterLibrary(name string, library *Library) {
	e.libraries[name] = library
}

// RegisterTag adds a tag to the engine-wide registry
func (e *Engine) RegisterTag(name string, fn TagFunc) {
	e.tags[name] = fn
}

// RegisterFilter adds a filter to the engine-wide registry
func (e *Engine) RegisterFilter(name string, filter Filter) {
	e.filters[name] = filter
}

// Settings returns the engine's settings
func (e *Engine) Settings() Settings {
	return e.settings
}

// FromString compiles a template from source. Compilation is a single
// pass; any syntax error aborts it immediately.
func (e *Engine) FromString(source string) (*Template, error) {
	return e.compile(source, "", Origin{Name: "<string>"})
}

// GetTemplate loads, compiles and caches the named template
func (e *Engine) GetTemplate(name string) (*Template, error) {
	if tmpl, ok := e.cache.get(name); ok {
		return tmpl, nil
	}
	if e.loader == nil {
		return nil, NewTemplateNotFound(name, nil, nil)
	}

	source, origin, err := e.loader.GetSource(name)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("loaded template source", "name", name, "origin", origin.String())

	tmpl, err := e.compile(source, name, origin)
	if err != nil {
		return nil, err
	}
	e.cache.set(name, tmpl)
	return tmpl, nil
}

// InvalidateTemplate drops a name from the compiled-template cache
func (e *Engine) InvalidateTemplate(name string) {
	e.cache.delete(name)
}

func (e *Engine) compile(source, name string, origin Origin) (*Template, error) {
	var tokens []lexer.Token
	if e.settings.Debug {
		tokens = lexer.TokenizeDebug(source)
	} else {
		tokens = lexer.Tokenize(source)
	}

	nodelist, err := newParser(tokens, e).Parse()
	if err != nil {
		return nil, err
	}
	e.logger.Debug("compiled template", "name", name, "nodes", len(nodelist))
	return &Template{engine: e, name: name, origin: origin, nodelist: nodelist}, nil
}

// Template is a compiled template. It is immutable and safe for
// concurrent renders; all render-time state lives in the per-call
// Context.
type Template struct {
	engine   *Engine
	name     string
	origin   Origin
	nodelist NodeList
}

// Name returns the template's name ("" for string templates)
func (t *Template) Name() string {
	return t.name
}

// Origin returns where the template's source came from
func (t *Template) Origin() Origin {
	return t.origin
}

// NodeList returns the compiled node tree
func (t *Template) NodeList() NodeList {
	return t.nodelist
}

// Render renders the template with a fresh context seeded from vars
func (t *Template) Render(vars map[string]interface{}) (string, error) {
	ctx := newContext(vars, t.engine.settings, t.engine)
	return t.nodelist.Render(ctx)
}

// RenderWithContext renders the template using an existing context.
// The context is bound to this template's engine for the duration.
func (t *Template) RenderWithContext(ctx *Context) (string, error) {
	if ctx.engine == nil {
		ctx.engine = t.engine
		ctx.settings = t.engine.settings
	}
	return t.nodelist.Render(ctx)
}
