// Package rterror implements the exception machinery of spec §4.5/§7:
// a structured PHPException type carrying a stable error-code taxonomy,
// a captured stack trace, and an ErrorHandler policy for whatever
// escapes every try/catch frame. Modelled directly on the teacher's
// pkg/types.Error / ErrorCode (stable string codes, Unwrap, With*
// fluent builders), generalized from JSONata's S/T/D/U code families to
// this runtime's taxonomy (SPEC_FULL.md §4.6).
package rterror

import (
	"fmt"

	"github.com/corewell/phprt/pkg/value"
)

// Code names one of the error kinds in spec §7's taxonomy. Kept as a
// string (not an int) so log lines and user-facing messages carry a
// stable, greppable identifier the way the teacher's ErrorCode does.
type Code string

const (
	CodeUndefinedVariable  Code = "E_UNDEF_VAR"
	CodeUndefinedFunction  Code = "E_UNDEF_FUNC"
	CodeUndefinedClass     Code = "E_UNDEF_CLASS"
	CodeUndefinedMethod    Code = "E_UNDEF_METHOD"
	CodeUndefinedProperty  Code = "E_UNDEF_PROP"
	CodeTypeError          Code = "E_TYPE"
	CodeDivisionByZero     Code = "E_DIV_ZERO"
	CodeReadonlyViolation  Code = "E_READONLY"
	CodeAbstractInstantiation Code = "E_ABSTRACT_NEW"
	CodeCancelledOperation Code = "E_CANCELLED"
	CodeOutOfMemory        Code = "E_OOM"
	CodeUserThrown         Code = "E_USER" // value thrown directly by PHP-level `throw`
)

// Frame is one entry of a captured stack trace, most-recent first (spec
// §4.5 "a captured stack trace (list of (function, file, line)
// frames)").
type Frame struct {
	Function string
	File     string
	Line     int
}

// PHPException is the runtime's single exception type: every kind in
// spec §7's taxonomy, as well as an exception a PHP script constructs
// itself with `throw`, is represented as one of these (spec §7
// "Propagation policy: all kinds are representable as exception
// objects").
type PHPException struct {
	Code  Code
	Msg   string
	File  string
	Line  int
	// ClassName is the PHP-visible exception class tag (e.g.
	// "DivisionByZeroError", or a user-defined exception class name for
	// CodeUserThrown).
	ClassName string
	// ExitCode is the optional application error code a user exception
	// sets via its constructor; zero when unset.
	ExitCode int
	Trace    []Frame
	Err      error

	// Thrown holds the PtrObject Value a user-level `throw` raised, so a
	// matching `catch` clause can bind it to its variable (spec §4.5/
	// §4.6). Zero (value.Null) for every built-in runtime exception.
	Thrown value.Value
}

// FromThrown wraps a user-thrown exception object as a PHPException,
// tagged CodeUserThrown so ErrorHandler/catch matching treats it like
// any other exception while still carrying the original object for
// `catch (Foo $e)` to bind.
func FromThrown(class string, thrown value.Value, file string, line int) *PHPException {
	e := New(CodeUserThrown, class, "", file, line)
	e.Thrown = thrown
	return e
}

// New constructs a PHPException with no captured trace yet (AddFrame
// appends frames as the exception propagates up the call-frame stack).
func New(code Code, class, msg, file string, line int) *PHPException {
	return &PHPException{Code: code, Msg: msg, File: file, Line: line, ClassName: class}
}

// Error implements the error interface.
func (e *PHPException) Error() string {
	return fmt.Sprintf("%s: %s in %s:%d", e.ClassName, e.Msg, e.File, e.Line)
}

// Unwrap returns the wrapped cause, if any.
func (e *PHPException) Unwrap() error { return e.Err }

// WithCause wraps an underlying Go error (e.g. a native-function I/O
// failure surfaced as a PHP exception).
func (e *PHPException) WithCause(err error) *PHPException {
	e.Err = err
	return e
}

// WithExitCode sets the user-visible numeric code.
func (e *PHPException) WithExitCode(code int) *PHPException {
	e.ExitCode = code
	return e
}

// AddFrame pushes one call-frame onto the trace as the exception
// propagates outward; the first frame pushed ends up first in Trace
// (most-recent-frame-first per spec §7).
func (e *PHPException) AddFrame(f Frame) *PHPException {
	e.Trace = append(e.Trace, f)
	return e
}

// --- builtin factories (spec §7) -----------------------------------------

func UndefinedVariable(name, file string, line int) *PHPException {
	return New(CodeUndefinedVariable, "Error", fmt.Sprintf("Undefined variable $%s", name), file, line)
}

func UndefinedFunction(name, file string, line int) *PHPException {
	return New(CodeUndefinedFunction, "Error", fmt.Sprintf("Call to undefined function %s()", name), file, line)
}

func UndefinedClass(name, file string, line int) *PHPException {
	return New(CodeUndefinedClass, "Error", fmt.Sprintf("Class \"%s\" not found", name), file, line)
}

func UndefinedMethod(class, name, file string, line int) *PHPException {
	return New(CodeUndefinedMethod, "Error", fmt.Sprintf("Call to undefined method %s::%s()", class, name), file, line)
}

func UndefinedProperty(class, name, file string, line int) *PHPException {
	return New(CodeUndefinedProperty, "Warning", fmt.Sprintf("Undefined property: %s::$%s", class, name), file, line)
}

func TypeErrorf(file string, line int, format string, args ...interface{}) *PHPException {
	return New(CodeTypeError, "TypeError", fmt.Sprintf(format, args...), file, line)
}

func ArgumentCountError(fn string, want, got int, file string, line int) *PHPException {
	msg := fmt.Sprintf("Too few arguments to function %s(), %d passed and at least %d expected", fn, got, want)
	if got > want {
		msg = fmt.Sprintf("Too many arguments to function %s(), %d passed and at most %d expected", fn, got, want)
	}
	return New(CodeTypeError, "ArgumentCountError", msg, file, line)
}

func DivisionByZero(file string, line int) *PHPException {
	return New(CodeDivisionByZero, "DivisionByZeroError", "Division by zero", file, line)
}

func ReadonlyViolation(class, prop, file string, line int) *PHPException {
	return New(CodeReadonlyViolation, "Error",
		fmt.Sprintf("Cannot modify readonly property %s::$%s", class, prop), file, line)
}

func AbstractInstantiation(class, file string, line int) *PHPException {
	return New(CodeAbstractInstantiation, "Error",
		fmt.Sprintf("Cannot instantiate abstract class %s", class), file, line)
}

func CancelledOperation(file string, line int) *PHPException {
	return New(CodeCancelledOperation, "CancelledError", "Operation cancelled", file, line)
}

func OutOfMemory(file string, line int) *PHPException {
	return New(CodeOutOfMemory, "Error", "Allowed memory exhausted", file, line)
}
