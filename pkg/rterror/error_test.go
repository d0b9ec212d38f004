package rterror

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
)

func TestFluentBuildersChain(t *testing.T) {
	cause := errors.New("connection refused")
	exc := DivisionByZero("main.php", 10).WithCause(cause).WithExitCode(42)

	if exc.Code != CodeDivisionByZero {
		t.Fatalf("expected CodeDivisionByZero, got %s", exc.Code)
	}
	if !errors.Is(exc, exc) {
		t.Fatalf("exception must be comparable to itself via errors.Is")
	}
	if errors.Unwrap(exc) != cause {
		t.Fatalf("expected Unwrap to return the wrapped cause")
	}
	if exc.ExitCode != 42 {
		t.Fatalf("expected ExitCode 42, got %d", exc.ExitCode)
	}
}

func TestAddFrameOrderingMostRecentFirst(t *testing.T) {
	exc := UndefinedFunction("frobnicate", "lib.php", 5)
	exc.AddFrame(Frame{Function: "frobnicate", File: "lib.php", Line: 5})
	exc.AddFrame(Frame{Function: "main", File: "main.php", Line: 1})

	if exc.Trace[0].Function != "frobnicate" || exc.Trace[1].Function != "main" {
		t.Fatalf("expected trace to record frames in push order (most-recent-first), got %+v", exc.Trace)
	}
}

func TestHandleUncaughtWritesTraceAndLogs(t *testing.T) {
	var out bytes.Buffer
	var logBuf bytes.Buffer
	h := NewErrorHandler(WithOutput(&out), WithLogger(slog.New(slog.NewTextHandler(&logBuf, nil))))

	exc := TypeErrorf("app.php", 7, "expected %s, got %s", "int", "string")
	exc.AddFrame(Frame{Function: "add", File: "app.php", Line: 7})
	h.HandleUncaught(exc)

	if out.Len() == 0 {
		t.Fatalf("expected a formatted trace to be written")
	}
	if logBuf.Len() == 0 {
		t.Fatalf("expected a structured log record to be emitted")
	}
}

func TestAsPHPException(t *testing.T) {
	exc := AbstractInstantiation("Shape", "geo.php", 3)
	var wrapped error = exc
	got, ok := AsPHPException(wrapped)
	if !ok || got.Code != CodeAbstractInstantiation {
		t.Fatalf("expected AsPHPException to unwrap the exception, got %v ok=%v", got, ok)
	}

	if _, ok := AsPHPException(errors.New("plain error")); ok {
		t.Fatalf("expected a plain error not to be recognized as a PHPException")
	}
}
