package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// defaultFilters builds the built-in filter table installed on every
// engine. Filters registered with FilterWithArgument are arity-checked
// at compile time.
func defaultFilters() map[string]Filter {
	lib := NewLibrary()

	lib.Filter("upper", filterUpper)
	lib.Filter("lower", filterLower)
	lib.Filter("capfirst", filterCapfirst)
	lib.Filter("title", filterTitle)
	lib.Filter("length", filterLength)
	lib.Filter("first", filterFirst)
	lib.Filter("last", filterLast)
	lib.Filter("striptags", filterStriptags)
	lib.Filter("pluralize", filterPluralize)

	lib.FilterWithArgument("default", filterDefault)
	lib.FilterWithArgument("join", filterJoin)
	lib.FilterWithArgument("cut", filterCut)
	lib.FilterWithArgument("add", filterAdd)
	lib.FilterWithArgument("truncatewords", filterTruncatewords)
	lib.FilterWithArgument("yesno", filterYesno)
	lib.FilterWithArgument("date", filterDateFormat)

	// Humanization, backed by go-humanize.
	lib.Filter("filesizeformat", filterFilesizeformat)
	lib.Filter("intcomma", filterIntcomma)
	lib.Filter("ordinal", filterOrdinal)
	lib.Filter("naturaltime", filterNaturaltime)

	return lib.Filters
}

func filterUpper(value, arg interface{}) (interface{}, error) {
	return strings.ToUpper(stringify(value)), nil
}

func filterLower(value, arg interface{}) (interface{}, error) {
	return strings.ToLower(stringify(value)), nil
}

func filterCapfirst(value, arg interface{}) (interface{}, error) {
	s := stringify(value)
	if s == "" {
		return s, nil
	}
	return strings.ToUpper(s[:1]) + s[1:], nil
}

func filterTitle(value, arg interface{}) (interface{}, error) {
	words := strings.Fields(stringify(value))
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
	}
	return strings.Join(words, " "), nil
}

func filterLength(value, arg interface{}) (interface{}, error) {
	if s, ok := value.(string); ok {
		return len([]rune(s)), nil
	}
	if items, ok := toSequence(value); ok {
		return len(items), nil
	}
	return 0, nil
}

func filterFirst(value, arg interface{}) (interface{}, error) {
	items, ok := toSequence(value)
	if !ok || len(items) == 0 {
		return "", nil
	}
	return items[0], nil
}

func filterLast(value, arg interface{}) (interface{}, error) {
	items, ok := toSequence(value)
	if !ok || len(items) == 0 {
		return "", nil
	}
	return items[len(items)-1], nil
}

func filterStriptags(value, arg interface{}) (interface{}, error) {
	s := stringify(value)
	var sb strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return sb.String(), nil
}

func filterPluralize(value, arg interface{}) (interface{}, error) {
	n, ok := toInt(value)
	if !ok {
		if items, seq := toSequence(value); seq {
			n = int64(len(items))
		} else {
			return "", nil
		}
	}
	if n == 1 {
		return "", nil
	}
	return "s", nil
}

func filterDefault(value, arg interface{}) (interface{}, error) {
	if isTruthy(value) {
		return value, nil
	}
	return arg, nil
}

func filterJoin(value, arg interface{}) (interface{}, error) {
	items, ok := toSequence(value)
	if !ok {
		return value, nil
	}
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = stringify(item)
	}
	return strings.Join(parts, stringify(arg)), nil
}

func filterCut(value, arg interface{}) (interface{}, error) {
	return strings.ReplaceAll(stringify(value), stringify(arg), ""), nil
}

func filterAdd(value, arg interface{}) (interface{}, error) {
	a, ok1 := toInt(value)
	b, ok2 := toInt(arg)
	if !ok1 || !ok2 {
		return stringify(value) + stringify(arg), nil
	}
	return a + b, nil
}

func filterTruncatewords(value, arg interface{}) (interface{}, error) {
	limit, ok := toInt(arg)
	if !ok || limit < 0 {
		return nil, fmt.Errorf("truncatewords argument must be a non-negative integer")
	}
	words := strings.Fields(stringify(value))
	if int64(len(words)) <= limit {
		return strings.Join(words, " "), nil
	}
	return strings.Join(words[:limit], " ") + " ...", nil
}

// filterYesno maps truth values onto a comma-separated argument of the
// form "yes,no" or "yes,no,maybe" (the third entry is used for nil).
func filterYesno(value, arg interface{}) (interface{}, error) {
	choices := strings.Split(stringify(arg), ",")
	if len(choices) < 2 || len(choices) > 3 {
		return nil, fmt.Errorf("yesno argument must have two or three comma-separated values")
	}
	if value == nil && len(choices) == 3 {
		return choices[2], nil
	}
	if isTruthy(value) {
		return choices[0], nil
	}
	return choices[1], nil
}

func filterDateFormat(value, arg interface{}) (interface{}, error) {
	t, ok := value.(time.Time)
	if !ok {
		return "", nil
	}
	return formatDate(t, stringify(arg)), nil
}

func filterFilesizeformat(value, arg interface{}) (interface{}, error) {
	n, ok := toInt(value)
	if !ok || n < 0 {
		return "", nil
	}
	return humanize.Bytes(uint64(n)), nil
}

func filterIntcomma(value, arg interface{}) (interface{}, error) {
	n, ok := toInt(value)
	if !ok {
		return stringify(value), nil
	}
	return humanize.Comma(n), nil
}

func filterOrdinal(value, arg interface{}) (interface{}, error) {
	n, ok := toInt(value)
	if !ok {
		return stringify(value), nil
	}
	return humanize.Ordinal(int(n)), nil
}

func filterNaturaltime(value, arg interface{}) (interface{}, error) {
	t, ok := value.(time.Time)
	if !ok {
		return "", nil
	}
	return humanize.Time(t), nil
}
