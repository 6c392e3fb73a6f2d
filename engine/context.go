package engine

// Context represents the variable state for a single render call. It is
// a LIFO stack of mapping frames: lookups scan innermost to outermost,
// and key set operations always target the innermost frame.
//
// A Context also owns the per-render side table for stateful nodes
// (cycle counters, ifchanged memos), keyed by node identity. Keeping
// that state here instead of on the compiled nodes makes one compiled
// Template safe to render from multiple goroutines, each with its own
// Context.
type Context struct {
	frames   []map[string]interface{}
	engine   *Engine
	settings Settings

	// nodeState holds render-scoped mutable state per node instance.
	nodeState map[Node]interface{}

	// blocks is the inheritance block context for this render, created
	// lazily by the first extends node encountered.
	blocks *blockContext

	// depth tracks render nesting for the MaxRenderDepth bound.
	depth int
}

// NewContext creates a context seeded with one frame holding vars
func NewContext(vars map[string]interface{}) *Context {
	return newContext(vars, DefaultSettings(), nil)
}

func newContext(vars map[string]interface{}, settings Settings, engine *Engine) *Context {
	frame := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		frame[k] = v
	}
	return &Context{
		frames:    []map[string]interface{}{frame},
		settings:  settings,
		engine:    engine,
		nodeState: make(map[Node]interface{}),
	}
}

// Push adds a new innermost frame
func (c *Context) Push() {
	c.frames = append(c.frames, make(map[string]interface{}))
}

// PushFrame adds the given mapping as the new innermost frame
func (c *Context) PushFrame(frame map[string]interface{}) {
	if frame == nil {
		frame = make(map[string]interface{})
	}
	c.frames = append(c.frames, frame)
}

// Pop removes the innermost frame. Popping the last remaining frame is
// an unbalanced pop and panics with ErrContextPopped.
func (c *Context) Pop() {
	if len(c.frames) <= 1 {
		panic(ErrContextPopped)
	}
	c.frames = c.frames[:len(c.frames)-1]
}

// Set assigns a key in the innermost frame
func (c *Context) Set(key string, value interface{}) {
	c.frames[len(c.frames)-1][key] = value
}

// Get looks a key up, scanning frames innermost to outermost
func (c *Context) Get(key string) (interface{}, bool) {
	for i := len(c.frames) - 1; i >= 0; i-- {
		if value, ok := c.frames[i][key]; ok {
			return value, true
		}
	}
	return nil, false
}

// Has reports whether any frame contains the key
func (c *Context) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Settings returns the settings in effect for this render
func (c *Context) Settings() Settings {
	return c.settings
}

// State returns the render-scoped state for a node, creating it with
// init on first access. Stateful tags (cycle, ifchanged) keep their
// counters here so compiled templates stay immutable.
func (c *Context) State(node Node, init func() interface{}) interface{} {
	if state, ok := c.nodeState[node]; ok {
		return state
	}
	state := init()
	c.nodeState[node] = state
	return state
}

// SetState replaces the render-scoped state for a node
func (c *Context) SetState(node Node, state interface{}) {
	c.nodeState[node] = state
}

// enterRender tracks nesting depth and enforces the render-depth bound
func (c *Context) enterRender() error {
	c.depth++
	if max := c.settings.MaxRenderDepth; max > 0 && c.depth > max {
		return NewError(ErrorTypeRender, "maximum render depth exceeded", Position{})
	}
	return nil
}

func (c *Context) exitRender() {
	c.depth--
}

// blockContext returns the per-render inheritance state, creating it on
// first use.
func (c *Context) blockContext() *blockContext {
	if c.blocks == nil {
		c.blocks = newBlockContext()
	}
	return c.blocks
}
