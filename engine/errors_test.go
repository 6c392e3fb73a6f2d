package engine

import (
	"errors"
	"strings"
	"testing"
)

// Every error type must satisfy the error interface.
var (
	_ error = (*Error)(nil)
	_ error = (*SyntaxError)(nil)
	_ error = (*TemplateNotFoundError)(nil)
	_ error = (*VariableDoesNotExist)(nil)
)

func TestSyntaxErrorUnwrapsToEngineError(t *testing.T) {
	err := mustFailCompile(t, "{% bogus %}")

	var syntaxErr *SyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Fatalf("got %T, want *SyntaxError", err)
	}
	var engineErr *Error
	if !errors.As(err, &engineErr) {
		t.Fatal("syntax error should unwrap to *Error")
	}
	if engineErr.Type != ErrorTypeSyntax {
		t.Errorf("type %q, want %q", engineErr.Type, ErrorTypeSyntax)
	}
	if syntaxErr.Error() != engineErr.Error() {
		t.Errorf("messages differ: %q vs %q", syntaxErr.Error(), engineErr.Error())
	}
}

func TestErrorMessageIncludesPosition(t *testing.T) {
	positioned := NewError(ErrorTypeRender, "boom", Position{Line: 7})
	if !strings.Contains(positioned.Error(), "line 7") {
		t.Errorf("message %q should carry the line", positioned.Error())
	}

	bare := NewError(ErrorTypeRender, "boom", Position{})
	if strings.Contains(bare.Error(), "line") {
		t.Errorf("message %q should not mention a line", bare.Error())
	}
}

func TestTemplateNotFoundMessageListsTried(t *testing.T) {
	err := NewTemplateNotFound("x.html", []string{"/a/x.html", "/b/x.html"}, nil)
	msg := err.Error()
	for _, want := range []string{`"x.html"`, "/a/x.html", "/b/x.html"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestErrorUnwrapExposesCause(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{Type: ErrorTypeRender, Message: "wrapped", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
}
