package engine

import "testing"

func renderTemplate(t *testing.T, e *Engine, name string, vars map[string]interface{}) string {
	t.Helper()
	tmpl, err := e.GetTemplate(name)
	if err != nil {
		t.Fatalf("get %q: %v", name, err)
	}
	out, err := tmpl.Render(vars)
	if err != nil {
		t.Fatalf("render %q: %v", name, err)
	}
	return out
}

func TestBlockWithoutInheritance(t *testing.T) {
	got := mustRender(t, "a{% block middle %}b{% endblock %}c", nil)
	if got != "abc" {
		t.Errorf("got %q, want %q", got, "abc")
	}
}

func TestExtendsOverride(t *testing.T) {
	e := loaderEngine(map[string]string{
		"base.html":  "<{% block title %}Base{% endblock %}>{% block body %}base body{% endblock %}",
		"child.html": `{% extends "base.html" %}{% block title %}Child{% endblock %}`,
	})

	got := renderTemplate(t, e, "child.html", nil)
	want := "<Child>base body"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	// The parent renders unchanged on its own.
	got = renderTemplate(t, e, "base.html", nil)
	if got != "<Base>base body" {
		t.Errorf("parent: got %q, want %q", got, "<Base>base body")
	}
}

func TestExtendsThreeLevels(t *testing.T) {
	e := loaderEngine(map[string]string{
		"base.html":  "[{% block a %}A0{% endblock %}|{% block b %}B0{% endblock %}|{% block c %}C0{% endblock %}]",
		"mid.html":   `{% extends "base.html" %}{% block b %}B1{% endblock %}`,
		"leaf.html":  `{% extends "mid.html" %}{% block c %}C2{% endblock %}`,
		"flat.html":  "[A0|B1|C2]",
	})

	got := renderTemplate(t, e, "leaf.html", nil)
	want := renderTemplate(t, e, "flat.html", nil)
	if got != want {
		t.Errorf("three-level chain: got %q, want %q", got, want)
	}
}

func TestExtendsOverrideSkipsALevel(t *testing.T) {
	// The leaf overrides a block the middle template never mentions; the
	// override must still reach the grandparent.
	e := loaderEngine(map[string]string{
		"base.html": "{% block a %}A0{% endblock %}",
		"mid.html":  `{% extends "base.html" %}`,
		"leaf.html": `{% extends "mid.html" %}{% block a %}A2{% endblock %}`,
	})

	got := renderTemplate(t, e, "leaf.html", nil)
	if got != "A2" {
		t.Errorf("got %q, want %q", got, "A2")
	}
}

func TestExtendsOrphanBlockContributesNothing(t *testing.T) {
	e := loaderEngine(map[string]string{
		"base.html":  "only {% block known %}base{% endblock %}",
		"child.html": `{% extends "base.html" %}{% block known %}child{% endblock %}{% block orphan %}LOST{% endblock %}`,
	})

	got := renderTemplate(t, e, "child.html", nil)
	if got != "only child" {
		t.Errorf("got %q, want %q", got, "only child")
	}
}

func TestExtendsTextOutsideBlocksIsDropped(t *testing.T) {
	e := loaderEngine(map[string]string{
		"base.html":  "A{% block x %}B{% endblock %}C",
		"child.html": "{% extends \"base.html\" %}ignored{% block x %}!{% endblock %}also ignored",
	})

	got := renderTemplate(t, e, "child.html", nil)
	if got != "A!C" {
		t.Errorf("got %q, want %q", got, "A!C")
	}
}

func TestBlockSuper(t *testing.T) {
	e := loaderEngine(map[string]string{
		"base.html":  "{% block x %}P{% endblock %}",
		"child.html": `{% extends "base.html" %}{% block x %}A[{{ block.super }}]C{% endblock %}`,
	})

	got := renderTemplate(t, e, "child.html", nil)
	if got != "A[P]C" {
		t.Errorf("got %q, want %q", got, "A[P]C")
	}
}

func TestBlockSuperTwoLevels(t *testing.T) {
	e := loaderEngine(map[string]string{
		"base.html": "{% block x %}base{% endblock %}",
		"mid.html":  `{% extends "base.html" %}{% block x %}mid({{ block.super }}){% endblock %}`,
		"leaf.html": `{% extends "mid.html" %}{% block x %}leaf({{ block.super }}){% endblock %}`,
	})

	got := renderTemplate(t, e, "leaf.html", nil)
	if got != "leaf(mid(base))" {
		t.Errorf("got %q, want %q", got, "leaf(mid(base))")
	}
}

func TestBlockName(t *testing.T) {
	got := mustRender(t, "{% block header %}{{ block.name }}{% endblock %}", nil)
	if got != "header" {
		t.Errorf("got %q, want %q", got, "header")
	}
}

func TestExtendsVariableParent(t *testing.T) {
	e := loaderEngine(map[string]string{
		"base.html":  "{% block x %}base{% endblock %}",
		"child.html": "{% extends parent %}{% block x %}child{% endblock %}",
	})

	tmpl, err := e.GetTemplate("child.html")
	if err != nil {
		t.Fatal(err)
	}
	got, err := tmpl.Render(map[string]interface{}{"parent": "base.html"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "child" {
		t.Errorf("got %q, want %q", got, "child")
	}
}

func TestExtendsMissingParent(t *testing.T) {
	e := loaderEngine(map[string]string{
		"child.html": `{% extends "nosuch.html" %}`,
	})
	tmpl, err := e.GetTemplate("child.html")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmpl.Render(nil); !IsTemplateNotFound(err) {
		t.Errorf("got %v, want template-not-found", err)
	}
}

func TestExtendsRenderIsRepeatable(t *testing.T) {
	// Inheritance state lives in the per-render context, so rendering the
	// same compiled template twice must give identical output.
	e := loaderEngine(map[string]string{
		"base.html":  "{% block x %}base{% endblock %}",
		"child.html": `{% extends "base.html" %}{% block x %}child+{{ block.super }}{% endblock %}`,
	})
	tmpl, err := e.GetTemplate("child.html")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		out, err := tmpl.Render(nil)
		if err != nil {
			t.Fatal(err)
		}
		if out != "child+base" {
			t.Errorf("render %d: got %q, want %q", i, out, "child+base")
		}
	}
}
