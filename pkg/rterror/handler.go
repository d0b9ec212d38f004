package rterror

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// HandlerOptions configures an ErrorHandler, in the teacher's
// functional-options register (EvalOptions / EvalOption in
// pkg/evaluator/evaluator.go).
type HandlerOptions struct {
	// Logger receives a structured record for every uncaught exception.
	Logger *slog.Logger
	// Output is where the formatted stack trace is written (stderr by
	// default; an HTTP handler wires this to the response body or
	// discards it in favor of a generic 500, depending on display_errors
	// policy — left to the embedder).
	Output io.Writer
}

// HandlerOption mutates a HandlerOptions during construction.
type HandlerOption func(*HandlerOptions)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(o *HandlerOptions) { o.Logger = logger }
}

// WithOutput overrides where formatted traces are written.
func WithOutput(w io.Writer) HandlerOption {
	return func(o *HandlerOptions) { o.Output = w }
}

// ErrorHandler implements spec §4.5's "process-wide policy for
// uncaught exceptions": formatting a most-recent-frame-first stack
// trace and terminating the current request or script (§7
// "Propagation policy").
type ErrorHandler struct {
	opts HandlerOptions
}

// NewErrorHandler returns an ErrorHandler with slog.Default() and
// os.Stderr unless overridden.
func NewErrorHandler(opts ...HandlerOption) *ErrorHandler {
	o := HandlerOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Output == nil {
		o.Output = os.Stderr
	}
	return &ErrorHandler{opts: o}
}

// HandleUncaught formats exc's trace to the configured output and logs
// a structured record. It does not terminate the process itself —
// that decision belongs to the embedder (pkg/httpserver ends the
// request; a CLI-style embedding may os.Exit) — this method only
// implements the reporting half of the policy.
func (h *ErrorHandler) HandleUncaught(exc *PHPException) {
	fmt.Fprintf(h.opts.Output, "Uncaught %s: %s in %s:%d\nStack trace:\n", exc.ClassName, exc.Msg, exc.File, exc.Line)
	for i, f := range exc.Trace {
		fmt.Fprintf(h.opts.Output, "#%d %s() called at [%s:%d]\n", i, f.Function, f.File, f.Line)
	}
	fmt.Fprintf(h.opts.Output, "  thrown in %s on line %d\n", exc.File, exc.Line)

	h.opts.Logger.Error("uncaught exception",
		slog.String("code", string(exc.Code)),
		slog.String("class", exc.ClassName),
		slog.String("message", exc.Msg),
		slog.String("file", exc.File),
		slog.Int("line", exc.Line),
		slog.Int("trace_depth", len(exc.Trace)),
	)
}

// AsPHPException unwraps err looking for a *PHPException, for callers
// that receive a generic error from a native-function call and need to
// decide whether it is already a structured exception or needs
// wrapping (spec §7 propagation policy treats every kind uniformly).
func AsPHPException(err error) (*PHPException, bool) {
	var exc *PHPException
	if errors.As(err, &exc) {
		return exc, true
	}
	return nil, false
}
