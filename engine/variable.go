package engine

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// DataAlterer marks values whose named zero-argument methods have side
// effects. The resolver asks before auto-invoking a method during
// dotted-path resolution and treats a true answer as a failed lookup
// instead of calling the method.
type DataAlterer interface {
	AltersData(method string) bool
}

// Variable represents one compiled variable reference: either a literal
// (quoted string, translated string, or number) or a dotted lookup path.
type Variable struct {
	raw       string
	literal   interface{}
	isLiteral bool
	lookups   []string
}

// newVariable compiles a raw variable token. translate is the
// compile-time hook for the `_("...")` literal form.
func newVariable(raw string, translate func(string) string) (*Variable, error) {
	v := &Variable{raw: raw}
	if raw == "" {
		return nil, NewSyntaxError("empty variable", Position{})
	}

	translated := false
	if strings.HasPrefix(raw, "_(") && strings.HasSuffix(raw, ")") {
		raw = raw[2 : len(raw)-1]
		translated = true
	}

	switch {
	case len(raw) >= 2 && (raw[0] == '"' || raw[0] == '\''):
		if raw[len(raw)-1] != raw[0] {
			return nil, NewSyntaxErrorf(Position{}, "unterminated string literal: %s", v.raw)
		}
		text, err := unescapeLiteral(raw[1 : len(raw)-1])
		if err != nil {
			return nil, NewSyntaxErrorf(Position{}, "bad string literal %s: %v", v.raw, err)
		}
		if translated && translate != nil {
			text = translate(text)
		}
		v.literal = text
		v.isLiteral = true
	case looksNumeric(raw):
		if strings.ContainsAny(raw, ".eE") {
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, NewSyntaxErrorf(Position{}, "bad number literal: %s", raw)
			}
			v.literal = f
		} else {
			i, err := strconv.Atoi(raw)
			if err != nil {
				return nil, NewSyntaxErrorf(Position{}, "bad number literal: %s", raw)
			}
			v.literal = i
		}
		v.isLiteral = true
	default:
		if translated {
			return nil, NewSyntaxErrorf(Position{}, "_() only accepts string literals: %s", v.raw)
		}
		for _, bit := range strings.Split(raw, ".") {
			if bit == "" {
				return nil, NewSyntaxErrorf(Position{}, "variable %q has an empty path component", v.raw)
			}
			v.lookups = append(v.lookups, bit)
		}
	}
	return v, nil
}

func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	return c == '-' && len(s) > 1 || c >= '0' && c <= '9'
}

func unescapeLiteral(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			sb.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			return "", errors.New("trailing backslash")
		}
		switch s[i] {
		case '"', '\'', '\\':
			sb.WriteByte(s[i])
		default:
			return "", fmt.Errorf("unknown escape \\%c", s[i])
		}
	}
	return sb.String(), nil
}

// Resolve resolves the variable against the context. A miss anywhere
// along the path yields *VariableDoesNotExist.
func (v *Variable) Resolve(ctx *Context) (interface{}, error) {
	if v.isLiteral {
		return v.literal, nil
	}

	current, ok := ctx.Get(v.lookups[0])
	if !ok {
		return nil, &VariableDoesNotExist{Expr: v.raw}
	}
	return v.resolvePath(current, v.lookups[1:])
}

// ResolveAgainst resolves the variable's lookup path starting from an
// arbitrary root value instead of the context. Used by regroup to
// compute grouping keys per item.
func (v *Variable) ResolveAgainst(root interface{}) (interface{}, error) {
	if v.isLiteral {
		return v.literal, nil
	}
	return v.resolvePath(root, v.lookups[1:])
}

func (v *Variable) resolvePath(current interface{}, bits []string) (interface{}, error) {
	for _, bit := range bits {
		next, outcome, err := resolveLookup(current, bit)
		if err != nil {
			return nil, err
		}
		if outcome == lookupMiss {
			return nil, &VariableDoesNotExist{Expr: v.raw}
		}
		current = next
	}
	return current, nil
}

type lookupOutcome int

const (
	lookupHit lookupOutcome = iota
	lookupMiss
)

// resolveLookup tries the three resolution strategies for one path
// component in order: mapping key, attribute (field or zero-argument
// method), integer index. The first hit wins. A non-nil error means a
// genuine failure from inside a resolved call and propagates unchanged.
func resolveLookup(value interface{}, bit string) (interface{}, lookupOutcome, error) {
	if value == nil {
		return nil, lookupMiss, nil
	}

	if result, outcome := tryMapKey(value, bit); outcome == lookupHit {
		return result, lookupHit, nil
	}
	result, outcome, err := tryAttribute(value, bit)
	if err != nil {
		return nil, lookupMiss, err
	}
	if outcome == lookupHit {
		return result, lookupHit, nil
	}
	if result, outcome := tryIndex(value, bit); outcome == lookupHit {
		return result, lookupHit, nil
	}
	return nil, lookupMiss, nil
}

// tryMapKey attempts mapping-style key lookup
func tryMapKey(value interface{}, bit string) (interface{}, lookupOutcome) {
	rv := indirect(reflect.ValueOf(value))
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, lookupMiss
	}
	entry := rv.MapIndex(reflect.ValueOf(bit))
	if !entry.IsValid() {
		return nil, lookupMiss
	}
	return entry.Interface(), lookupHit
}

// tryAttribute attempts named-attribute lookup: an exported struct
// field, or a zero-argument method which is auto-invoked. Lowercase
// path components also match their exported (capitalized) Go
// counterparts so templates can say user.name for User.Name.
func tryAttribute(value interface{}, bit string) (interface{}, lookupOutcome, error) {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() {
		return nil, lookupMiss, nil
	}

	for _, name := range attributeNames(bit) {
		if method := rv.MethodByName(name); method.IsValid() {
			return invokeMethod(value, name, method)
		}
	}

	sv := indirect(rv)
	if sv.Kind() == reflect.Struct {
		for _, name := range attributeNames(bit) {
			field := sv.FieldByName(name)
			if field.IsValid() && field.CanInterface() {
				return field.Interface(), lookupHit, nil
			}
		}
	}
	return nil, lookupMiss, nil
}

func attributeNames(bit string) []string {
	exported := strings.ToUpper(bit[:1]) + bit[1:]
	if exported == bit {
		return []string{bit}
	}
	return []string{bit, exported}
}

// invokeMethod auto-invokes a zero-argument method found during
// attribute lookup. Methods requiring arguments are a miss, methods the
// receiver marks as data-altering are a miss, and only ErrSilentFailure
// is swallowed; every other returned error propagates.
func invokeMethod(receiver interface{}, name string, method reflect.Value) (interface{}, lookupOutcome, error) {
	mt := method.Type()
	if mt.NumIn() != 0 || mt.NumOut() == 0 || mt.NumOut() > 2 {
		return nil, lookupMiss, nil
	}
	if mt.NumOut() == 2 && !mt.Out(1).Implements(reflect.TypeOf((*error)(nil)).Elem()) {
		return nil, lookupMiss, nil
	}
	if alterer, ok := receiver.(DataAlterer); ok && alterer.AltersData(name) {
		return nil, lookupMiss, nil
	}

	results := method.Call(nil)
	if len(results) == 2 && !results[1].IsNil() {
		err := results[1].Interface().(error)
		if errors.Is(err, ErrSilentFailure) {
			return nil, lookupMiss, nil
		}
		return nil, lookupMiss, err
	}
	return results[0].Interface(), lookupHit, nil
}

// tryIndex attempts integer-index lookup into an ordered sequence
func tryIndex(value interface{}, bit string) (interface{}, lookupOutcome) {
	idx, err := strconv.Atoi(bit)
	if err != nil {
		return nil, lookupMiss
	}
	rv := indirect(reflect.ValueOf(value))
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.String:
		if idx < 0 || idx >= rv.Len() {
			return nil, lookupMiss
		}
		if rv.Kind() == reflect.String {
			return string(rv.String()[idx]), lookupHit
		}
		return rv.Index(idx).Interface(), lookupHit
	}
	return nil, lookupMiss
}

func indirect(rv reflect.Value) reflect.Value {
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return rv
		}
		rv = rv.Elem()
	}
	return rv
}

// filterCall is one compiled step of a filter chain. The filter
// function is bound at compile time; argument presence has already been
// validated against the registry's RequiresArgument flag.
type filterCall struct {
	name   string
	fn     FilterFunc
	arg    *Variable
	hasArg bool
}

// FilterExpression represents a compiled variable reference plus its
// ordered filter chain, e.g. name|default:"n/a"|upper. Immutable once
// compiled.
type FilterExpression struct {
	token    string
	variable *Variable
	filters  []filterCall
}

// Resolve resolves the variable and applies the filters strictly left
// to right. A failed top-level lookup is converted to the configured
// missing-value fallback before the filters run; it never escapes.
func (fe *FilterExpression) Resolve(ctx *Context) (interface{}, error) {
	return fe.resolve(ctx, ctx.settings.StringIfInvalid)
}

// ResolveBool resolves the expression as a truth value. A failed lookup
// counts as false regardless of the configured fallback string; genuine
// errors still propagate.
func (fe *FilterExpression) ResolveBool(ctx *Context) (bool, error) {
	value, err := fe.resolve(ctx, nil)
	if err != nil {
		return false, err
	}
	return isTruthy(value), nil
}

// resolve resolves the variable, substituting missing for a failed
// top-level lookup, then runs the filter chain exactly once.
func (fe *FilterExpression) resolve(ctx *Context, missing interface{}) (interface{}, error) {
	value, err := fe.variable.Resolve(ctx)
	if err != nil {
		var notFound *VariableDoesNotExist
		if !errors.As(err, &notFound) {
			return nil, err
		}
		value = missing
	}

	for _, call := range fe.filters {
		var arg interface{}
		if call.hasArg {
			arg, err = call.arg.Resolve(ctx)
			if err != nil {
				var notFound *VariableDoesNotExist
				if !errors.As(err, &notFound) {
					return nil, err
				}
				arg = ctx.settings.StringIfInvalid
			}
		}
		value, err = call.fn(value, arg)
		if err != nil {
			return nil, NewError(ErrorTypeRender, fmt.Sprintf("filter %q: %v", call.name, err), Position{})
		}
	}
	return value, nil
}

// compileFilterExpression scans a raw expression token into a
// FilterExpression. Filter names are resolved and arity-checked against
// the given filter table at compile time.
func compileFilterExpression(token string, filters map[string]Filter, translate func(string) string) (*FilterExpression, error) {
	segments, err := splitFilterChain(token)
	if err != nil {
		return nil, err
	}
	if segments[0] == "" {
		return nil, NewSyntaxErrorf(Position{}, "variable expression %q is empty", token)
	}

	variable, err := newVariable(segments[0], translate)
	if err != nil {
		return nil, err
	}

	fe := &FilterExpression{token: token, variable: variable}
	for _, segment := range segments[1:] {
		name, rawArg, hasArg, err := splitFilterSegment(segment)
		if err != nil {
			return nil, err
		}
		filter, ok := filters[name]
		if !ok {
			return nil, NewSyntaxErrorf(Position{}, "invalid filter: %q", name)
		}
		if filter.RequiresArgument && !hasArg {
			return nil, NewSyntaxErrorf(Position{}, "filter %q requires an argument", name)
		}
		if !filter.RequiresArgument && hasArg {
			return nil, NewSyntaxErrorf(Position{}, "filter %q takes no argument", name)
		}

		call := filterCall{name: name, fn: filter.Fn, hasArg: hasArg}
		if hasArg {
			call.arg, err = newVariable(rawArg, translate)
			if err != nil {
				return nil, err
			}
		}
		fe.filters = append(fe.filters, call)
	}
	return fe, nil
}

// splitFilterChain splits an expression on | separators, honoring
// quoted sections so a literal pipe inside a string argument survives.
func splitFilterChain(token string) ([]string, error) {
	var segments []string
	var sb strings.Builder
	var quote byte
	escaped := false
	for i := 0; i < len(token); i++ {
		c := token[i]
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
		case c == '|':
			segments = append(segments, strings.TrimSpace(sb.String()))
			sb.Reset()
		default:
			sb.WriteByte(c)
		}
	}
	if quote != 0 {
		return nil, NewSyntaxErrorf(Position{}, "unterminated string in expression %q", token)
	}
	segments = append(segments, strings.TrimSpace(sb.String()))
	return segments, nil
}

// splitFilterSegment splits one chain segment into filter name and
// optional raw argument.
func splitFilterSegment(segment string) (name, arg string, hasArg bool, err error) {
	if segment == "" {
		return "", "", false, NewSyntaxError("empty filter segment", Position{})
	}
	colon := strings.IndexByte(segment, ':')
	if colon == -1 {
		name = segment
	} else {
		name = segment[:colon]
		arg = segment[colon+1:]
		hasArg = true
		if arg == "" {
			return "", "", false, NewSyntaxErrorf(Position{}, "filter %q has an empty argument", name)
		}
	}
	for _, r := range name {
		if !isIdentRune(r) {
			return "", "", false, NewSyntaxErrorf(Position{}, "invalid filter name %q", name)
		}
	}
	return name, arg, hasArg, nil
}

func isIdentRune(r rune) bool {
	return r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
}
