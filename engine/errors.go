package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the category of an engine error
type ErrorType string

const (
	ErrorTypeSyntax   ErrorType = "syntax_error"
	ErrorTypeTemplate ErrorType = "template_error"
	ErrorTypeRender   ErrorType = "render_error"
	ErrorTypeVariable ErrorType = "variable_error"
)

// Position identifies a source location for error attribution. It is
// only populated when templates are compiled in debug mode.
type Position struct {
	Line   int
	Offset int
}

// Error represents an engine error with optional position information
type Error struct {
	Type     ErrorType
	Message  string
	Position Position
	Cause    error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Position.Line > 0 {
		return fmt.Sprintf("%s at line %d: %s", e.Type, e.Position.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new engine error
func NewError(errorType ErrorType, message string, position Position) *Error {
	return &Error{Type: errorType, Message: message, Position: position}
}

// SyntaxError represents a compile-time template error. It aborts the
// compile call that produced it. The underlying *Error carries the
// category, message and source position.
type SyntaxError struct {
	Err *Error
}

// Error implements the error interface
func (e *SyntaxError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the underlying engine error
func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// NewSyntaxError creates a compile-time error at the given position
func NewSyntaxError(message string, position Position) *SyntaxError {
	return &SyntaxError{Err: NewError(ErrorTypeSyntax, message, position)}
}

// NewSyntaxErrorf creates a compile-time error with a formatted message
func NewSyntaxErrorf(position Position, format string, args ...interface{}) *SyntaxError {
	return NewSyntaxError(fmt.Sprintf(format, args...), position)
}

// IsSyntaxError checks if an error is a template syntax error
func IsSyntaxError(err error) bool {
	var syntaxErr *SyntaxError
	return errors.As(err, &syntaxErr)
}

// TemplateNotFoundError represents a loader miss. It propagates to the
// caller unchanged; converting it into fallback behavior is the
// caller's business.
type TemplateNotFoundError struct {
	Name  string
	Tried []string
	Cause error
}

// NewTemplateNotFound creates a TemplateNotFoundError with optional tried locations
func NewTemplateNotFound(name string, tried []string, cause error) *TemplateNotFoundError {
	return &TemplateNotFoundError{
		Name:  name,
		Tried: append([]string(nil), tried...),
		Cause: cause,
	}
}

// Error returns the message for TemplateNotFoundError
func (e *TemplateNotFoundError) Error() string {
	message := fmt.Sprintf("template %q not found", e.Name)
	if len(e.Tried) > 0 {
		message = fmt.Sprintf("%s (tried: %s)", message, strings.Join(e.Tried, ", "))
	}
	return message
}

// Unwrap returns the underlying cause
func (e *TemplateNotFoundError) Unwrap() error {
	return e.Cause
}

// IsTemplateNotFound checks if an error is a template-not-found error
func IsTemplateNotFound(err error) bool {
	var notFound *TemplateNotFoundError
	return errors.As(err, &notFound)
}

// VariableDoesNotExist reports a failed dotted-path resolution. It never
// escapes a render call: the variable renderer always converts it to the
// configured missing-value fallback.
type VariableDoesNotExist struct {
	Expr  string
	Cause error
}

// Error returns the message for VariableDoesNotExist
func (e *VariableDoesNotExist) Error() string {
	return fmt.Sprintf("failed lookup for %q", e.Expr)
}

// Unwrap returns the underlying cause
func (e *VariableDoesNotExist) Unwrap() error {
	return e.Cause
}

// ErrSilentFailure is the sentinel that user-provided methods return (or
// wrap) to mean "treat this value as absent". Any other error from
// inside a resolved call propagates unchanged.
var ErrSilentFailure = errors.New("silent variable failure")

// ErrContextPopped reports an unbalanced Context.Pop. Popping more
// frames than were pushed is a tag implementation bug, so Pop panics
// with this value rather than returning it.
var ErrContextPopped = errors.New("context was popped more times than it was pushed")

// wrapRenderError attaches the offending node's source span to an
// unexpected render-time failure in debug mode. Propagation is not
// altered: the original error stays reachable through Unwrap.
func wrapRenderError(err error, position Position) error {
	if err == nil {
		return nil
	}
	var engineErr *Error
	if errors.As(err, &engineErr) && engineErr.Position.Line > 0 {
		return err
	}
	if IsTemplateNotFound(err) {
		return err
	}
	return &Error{
		Type:     ErrorTypeRender,
		Message:  err.Error(),
		Position: position,
		Cause:    err,
	}
}
