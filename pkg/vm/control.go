package vm

import "github.com/corewell/phprt/pkg/value"

// Return, Break(n) and Continue(n) are the three non-error conditions
// surfaced as specialised failures from evaluation (spec §4.4 "Control-
// flow signalling"). They implement error so they can be returned and
// propagated through the same (value.Value, error) evaluation spine as
// real exceptions, and told apart from a *rterror.PHPException by
// isControlSignal/errors.As at every boundary that must treat them
// differently (loops, function calls, try/finally).
type signalReturn struct{ Value value.Value }

func (signalReturn) Error() string { return "return" }

type signalBreak struct{ N int }

func (signalBreak) Error() string { return "break" }

type signalContinue struct{ N int }

func (signalContinue) Error() string { return "continue" }

// isControlSignal reports whether err is one of the three control-flow
// signals rather than a real error/exception.
func isControlSignal(err error) bool {
	switch err.(type) {
	case signalReturn, signalBreak, signalContinue:
		return true
	default:
		return false
	}
}
