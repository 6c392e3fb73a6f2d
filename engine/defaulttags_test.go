package engine

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func loaderEngine(templates map[string]string) *Engine {
	e := testEngine()
	e.SetLoader(MapLoader(templates))
	return e
}

func TestForTag(t *testing.T) {
	tests := []struct {
		name   string
		source string
		vars   map[string]interface{}
		want   string
	}{
		{
			"basic iteration",
			"{% for x in xs %}{{ x }},{% endfor %}",
			map[string]interface{}{"xs": []string{"a", "b", "c"}},
			"a,b,c,",
		},
		{
			"reversed",
			"{% for x in xs reversed %}{{ x }}{% endfor %}",
			map[string]interface{}{"xs": []int{1, 2, 3}},
			"321",
		},
		{
			"string iterates per character",
			"{% for c in word %}{{ c }}.{% endfor %}",
			map[string]interface{}{"word": "go"},
			"g.o.",
		},
		{
			"missing sequence renders empty",
			"a{% for x in nosuch %}{{ x }}{% endfor %}b",
			nil,
			"ab",
		},
		{
			"non-iterable renders empty",
			"a{% for x in n %}{{ x }}{% endfor %}b",
			map[string]interface{}{"n": 42},
			"ab",
		},
		{
			"loop variable does not leak",
			"{% for x in xs %}{% endfor %}{{ x }}",
			map[string]interface{}{"xs": []int{1}},
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mustRender(t, tt.source, tt.vars); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestForLoopMetadata(t *testing.T) {
	source := "{% for x in xs %}" +
		"{{ forloop.counter }}/{{ forloop.counter0 }}/{{ forloop.revcounter }}/{{ forloop.revcounter0 }}" +
		"{% if forloop.first %} first{% endif %}{% if forloop.last %} last{% endif %};" +
		"{% endfor %}"
	got := mustRender(t, source, map[string]interface{}{"xs": []int{10, 20, 30}})
	want := "1/0/3/2 first;2/1/2/1;3/2/1/0 last;"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestForLoopParentloop(t *testing.T) {
	source := "{% for row in rows %}{% for cell in row %}" +
		"{{ forloop.parentloop.counter }}.{{ forloop.counter }} " +
		"{% endfor %}{% endfor %}"
	got := mustRender(t, source, map[string]interface{}{
		"rows": [][]string{{"a", "b"}, {"c"}},
	})
	want := "1.1 1.2 2.1 "
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestForLoopIterationBound(t *testing.T) {
	settings := DefaultSettings()
	settings.MaxLoopIterations = 3
	e := New(settings, nil)
	tmpl, err := e.FromString("{% for x in xs %}{{ x }}{% endfor %}")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmpl.Render(map[string]interface{}{"xs": []int{1, 2, 3, 4}}); err == nil {
		t.Error("expected iteration bound error")
	}
	out, err := tmpl.Render(map[string]interface{}{"xs": []int{1, 2, 3}})
	if err != nil {
		t.Fatalf("within bound: %v", err)
	}
	if out != "123" {
		t.Errorf("got %q, want %q", out, "123")
	}
}

func TestIfTag(t *testing.T) {
	tests := []struct {
		name   string
		source string
		vars   map[string]interface{}
		want   string
	}{
		{"true branch", "{% if x %}y{% endif %}", map[string]interface{}{"x": true}, "y"},
		{"false without else", "{% if x %}y{% endif %}", map[string]interface{}{"x": false}, ""},
		{"not negation", "{% if not x %}y{% endif %}", map[string]interface{}{"x": false}, "y"},
		{"or short circuit", "{% if a or b %}y{% endif %}", map[string]interface{}{"a": false, "b": 1}, "y"},
		{"missing is false", "{% if nosuch %}y{% else %}n{% endif %}", nil, "n"},
		{"empty slice is false", "{% if xs %}y{% else %}n{% endif %}", map[string]interface{}{"xs": []int{}}, "n"},
		{"filters apply before truth test", "{% if xs|length %}y{% else %}n{% endif %}", map[string]interface{}{"xs": []int{1}}, "y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mustRender(t, tt.source, tt.vars); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIfChangedTag(t *testing.T) {
	source := "{% for n in ns %}{% ifchanged %}{{ n }}{% endifchanged %}{% endfor %}"
	got := mustRender(t, source, map[string]interface{}{"ns": []int{1, 1, 2, 2, 2, 3}})
	if got != "123" {
		t.Errorf("got %q, want %q", got, "123")
	}

	// The same value reappearing after a different one counts as changed.
	got = mustRender(t, source, map[string]interface{}{"ns": []int{1, 2, 1}})
	if got != "121" {
		t.Errorf("got %q, want %q", got, "121")
	}
}

func TestIfChangedFirstloopFlag(t *testing.T) {
	source := "{% for n in ns %}{% ifchanged %}{{ n }}{% if firstloop %}!{% endif %}{% endifchanged %}{% endfor %}"
	got := mustRender(t, source, map[string]interface{}{"ns": []int{1, 1, 2, 3}})
	if got != "1!23" {
		t.Errorf("got %q, want %q", got, "1!23")
	}
}

func TestCycleTag(t *testing.T) {
	t.Run("legacy comma form", func(t *testing.T) {
		source := "{% for n in ns %}{% cycle a,b %}{% endfor %}"
		got := mustRender(t, source, map[string]interface{}{"ns": make([]int, 10)})
		if got != "ababababab" {
			t.Errorf("got %q, want %q", got, "ababababab")
		}
	})

	t.Run("quoted comma form", func(t *testing.T) {
		source := "{% for n in ns %}{% cycle 'a','b' %}{% endfor %}"
		got := mustRender(t, source, map[string]interface{}{"ns": make([]int, 10)})
		if got != "ababababab" {
			t.Errorf("got %q, want %q", got, "ababababab")
		}
	})

	t.Run("comma inside quotes does not split", func(t *testing.T) {
		got := mustRender(t, "{% cycle 'a,b' %}", nil)
		if got != "a,b" {
			t.Errorf("got %q, want %q", got, "a,b")
		}
	})

	t.Run("comma form pieces are always literals", func(t *testing.T) {
		// Even an unquoted piece next to a quoted one stays a literal,
		// never a variable lookup.
		source := "{% for n in ns %}{% cycle 'x',y %}{% endfor %}"
		got := mustRender(t, source, map[string]interface{}{"ns": make([]int, 4), "y": "z"})
		if got != "xyxy" {
			t.Errorf("got %q, want %q", got, "xyxy")
		}
	})

	t.Run("quoted arguments", func(t *testing.T) {
		source := "{% for n in ns %}{% cycle 'odd' 'even' %}-{% endfor %}"
		got := mustRender(t, source, map[string]interface{}{"ns": make([]int, 3)})
		if got != "odd-even-odd-" {
			t.Errorf("got %q, want %q", got, "odd-even-odd-")
		}
	})

	t.Run("variable values resolve at each step", func(t *testing.T) {
		source := "{% for n in ns %}{% cycle first second %}{% endfor %}"
		got := mustRender(t, source, map[string]interface{}{
			"ns": make([]int, 3), "first": "x", "second": "y",
		})
		if got != "xyx" {
			t.Errorf("got %q, want %q", got, "xyx")
		}
	})

	t.Run("named cycle shares one counter", func(t *testing.T) {
		source := "{% cycle 'a' 'b' as rowcolor %}{% cycle rowcolor %}{% cycle rowcolor %}"
		got := mustRender(t, source, nil)
		if got != "aba" {
			t.Errorf("got %q, want %q", got, "aba")
		}
	})

	t.Run("unknown named cycle is a syntax error", func(t *testing.T) {
		err := mustFailCompile(t, "{% cycle nosuchname %}")
		if !IsSyntaxError(err) {
			t.Errorf("got %v, want syntax error", err)
		}
	})

	t.Run("fresh render starts over", func(t *testing.T) {
		tmpl, err := testEngine().FromString("{% for n in ns %}{% cycle 'a' 'b' %}{% endfor %}")
		if err != nil {
			t.Fatal(err)
		}
		vars := map[string]interface{}{"ns": make([]int, 3)}
		for i := 0; i < 2; i++ {
			out, err := tmpl.Render(vars)
			if err != nil {
				t.Fatal(err)
			}
			if out != "aba" {
				t.Errorf("render %d: got %q, want %q", i, out, "aba")
			}
		}
	})
}

func TestRegroupTag(t *testing.T) {
	source := "{% regroup people by city as grouped %}" +
		"{% for g in grouped %}{{ g.Grouper }}:{% for p in g.List %}{{ p.name }},{% endfor %};{% endfor %}"

	t.Run("pre-sorted input", func(t *testing.T) {
		got := mustRender(t, source, map[string]interface{}{
			"people": []map[string]interface{}{
				{"name": "ann", "city": "Oslo"},
				{"name": "bob", "city": "Oslo"},
				{"name": "cho", "city": "Riga"},
			},
		})
		want := "Oslo:ann,bob,;Riga:cho,;"
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("grouping is adjacency only", func(t *testing.T) {
		// Unsorted input: the repeated key forms a new group.
		got := mustRender(t, source, map[string]interface{}{
			"people": []map[string]interface{}{
				{"name": "ann", "city": "Oslo"},
				{"name": "cho", "city": "Riga"},
				{"name": "bob", "city": "Oslo"},
			},
		})
		want := "Oslo:ann,;Riga:cho,;Oslo:bob,;"
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("non-sequence binds an empty group list", func(t *testing.T) {
		got := mustRender(t,
			"{% regroup n by x as grouped %}{{ grouped|length }}",
			map[string]interface{}{"n": 7})
		if got != "0" {
			t.Errorf("got %q, want %q", got, "0")
		}
	})
}

func TestFilterTag(t *testing.T) {
	got := mustRender(t, "{% filter upper %}hello {{ name }}{% endfilter %}",
		map[string]interface{}{"name": "world"})
	if got != "HELLO WORLD" {
		t.Errorf("got %q, want %q", got, "HELLO WORLD")
	}

	got = mustRender(t, "{% filter lower|cut:\" \" %}A B C{% endfilter %}", nil)
	if got != "abc" {
		t.Errorf("got %q, want %q", got, "abc")
	}
}

func TestFirstOfTag(t *testing.T) {
	tests := []struct {
		name   string
		source string
		vars   map[string]interface{}
		want   string
	}{
		{"first truthy wins", "{% firstof a b c %}", map[string]interface{}{"a": 0, "b": "", "c": "hit"}, "hit"},
		{"all falsy renders empty", "{% firstof a b %}", map[string]interface{}{"a": 0, "b": ""}, ""},
		{"literal fallback", `{% firstof a "fallback" %}`, nil, "fallback"},
		{"missing variables skipped", "{% firstof nosuch b %}", map[string]interface{}{"b": 3}, "3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mustRender(t, tt.source, tt.vars); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFirstOfResolvesWinnerOnce(t *testing.T) {
	calls := 0
	e := testEngine()
	e.RegisterFilter("counted", Filter{Fn: func(value, arg interface{}) (interface{}, error) {
		calls++
		return value, nil
	}})

	tmpl, err := e.FromString("{% firstof a|counted b %}")
	if err != nil {
		t.Fatal(err)
	}
	got, err := tmpl.Render(map[string]interface{}{"a": "hit", "b": "other"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "hit" {
		t.Errorf("got %q, want %q", got, "hit")
	}
	if calls != 1 {
		t.Errorf("filter chain ran %d times, want 1", calls)
	}
}

func TestWidthRatioTag(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]interface{}
		want string
	}{
		{"exact", map[string]interface{}{"v": 50, "m": 100, "w": 100}, "50"},
		{"rounds up", map[string]interface{}{"v": 175, "m": 200, "w": 100}, "88"},
		{"negative rounds away from zero", map[string]interface{}{"v": -175, "m": 200, "w": 100}, "-88"},
		{"zero denominator renders empty", map[string]interface{}{"v": 1, "m": 0, "w": 100}, ""},
		{"non-numeric renders empty", map[string]interface{}{"v": "x", "m": 100, "w": 100}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustRender(t, "{% widthratio v m w %}", tt.vars)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNowTag(t *testing.T) {
	got := mustRender(t, `{% now "Y" %}`, nil)
	want := strconv.Itoa(time.Now().Year())
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if err := mustFailCompile(t, "{% now format %}"); !IsSyntaxError(err) {
		t.Errorf("unquoted format: got %v, want syntax error", err)
	}
}

func TestTemplateTag(t *testing.T) {
	tests := []struct {
		arg  string
		want string
	}{
		{"openblock", "{%"},
		{"closeblock", "%}"},
		{"openvariable", "{{"},
		{"closevariable", "}}"},
		{"openbrace", "{"},
		{"closebrace", "}"},
	}
	for _, tt := range tests {
		got := mustRender(t, "{% templatetag "+tt.arg+" %}", nil)
		if got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.arg, got, tt.want)
		}
	}

	if err := mustFailCompile(t, "{% templatetag bogus %}"); !IsSyntaxError(err) {
		t.Errorf("got %v, want syntax error", err)
	}
}

func TestCommentTag(t *testing.T) {
	// Everything inside the comment is skipped without being parsed, so
	// even invalid tags survive.
	got := mustRender(t, "a{% comment %}{{ oops| }} {% bogus %}{% endcomment %}b", nil)
	if got != "ab" {
		t.Errorf("got %q, want %q", got, "ab")
	}

	if err := mustFailCompile(t, "{% comment %}never closed"); !IsSyntaxError(err) {
		t.Errorf("got %v, want syntax error", err)
	}
}

func TestWithTag(t *testing.T) {
	got := mustRender(t, "{% with user.name as n %}{{ n }}/{{ n }}{% endwith %}",
		map[string]interface{}{"user": map[string]interface{}{"name": "ada"}})
	if got != "ada/ada" {
		t.Errorf("got %q, want %q", got, "ada/ada")
	}

	// The binding is scoped to the body.
	got = mustRender(t, "{% with 1 as n %}{% endwith %}{{ n }}", nil)
	if got != "" {
		t.Errorf("binding leaked: got %q", got)
	}
}

func TestIncludeTag(t *testing.T) {
	e := loaderEngine(map[string]string{
		"partial.html": "hi {{ name }}",
	})
	tmpl, err := e.FromString(`[{% include "partial.html" %}]`)
	if err != nil {
		t.Fatal(err)
	}
	got, err := tmpl.Render(map[string]interface{}{"name": "ada"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "[hi ada]" {
		t.Errorf("got %q, want %q", got, "[hi ada]")
	}

	// Template name may come from a variable.
	tmpl, err = e.FromString("{% include which %}")
	if err != nil {
		t.Fatal(err)
	}
	got, err = tmpl.Render(map[string]interface{}{"which": "partial.html", "name": "bo"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "hi bo" {
		t.Errorf("got %q, want %q", got, "hi bo")
	}

	// A missing included template is a render error.
	tmpl, err = e.FromString(`{% include "nosuch.html" %}`)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmpl.Render(nil); !IsTemplateNotFound(err) {
		t.Errorf("got %v, want template-not-found", err)
	}
}

func TestSsiTag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snippet.txt")
	if err := os.WriteFile(path, []byte("raw {{ name }}"), 0o644); err != nil {
		t.Fatal(err)
	}

	settings := DefaultSettings()
	settings.AllowedIncludeRoots = []string{dir}
	e := New(settings, nil)

	t.Run("raw include", func(t *testing.T) {
		tmpl, err := e.FromString(`{% ssi "` + path + `" %}`)
		if err != nil {
			t.Fatal(err)
		}
		got, err := tmpl.Render(map[string]interface{}{"name": "ada"})
		if err != nil {
			t.Fatal(err)
		}
		if got != "raw {{ name }}" {
			t.Errorf("got %q, want the unrendered file contents", got)
		}
	})

	t.Run("parsed include", func(t *testing.T) {
		tmpl, err := e.FromString(`{% ssi "` + path + `" parsed %}`)
		if err != nil {
			t.Fatal(err)
		}
		got, err := tmpl.Render(map[string]interface{}{"name": "ada"})
		if err != nil {
			t.Fatal(err)
		}
		if got != "raw ada" {
			t.Errorf("got %q, want %q", got, "raw ada")
		}
	})

	t.Run("path outside allowed roots renders empty", func(t *testing.T) {
		other := New(DefaultSettings(), nil) // no allowed roots
		tmpl, err := other.FromString(`{% ssi "` + path + `" %}`)
		if err != nil {
			t.Fatal(err)
		}
		got, err := tmpl.Render(nil)
		if err != nil {
			t.Fatal(err)
		}
		if got != "" {
			t.Errorf("got %q, want empty", got)
		}
	})

	t.Run("relative path never allowed", func(t *testing.T) {
		tmpl, err := e.FromString(`{% ssi "snippet.txt" %}`)
		if err != nil {
			t.Fatal(err)
		}
		got, err := tmpl.Render(nil)
		if err != nil {
			t.Fatal(err)
		}
		if got != "" {
			t.Errorf("got %q, want empty", got)
		}
	})
}
