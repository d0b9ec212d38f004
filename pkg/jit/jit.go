// Package jit implements the optional accelerator hook of SPEC_FULL.md
// §4.9: compiled WASM modules that may run a hot UserFunction instead of
// the tree walker. Grounded directly on the teacher's own
// tests/comparison/wasm_comparison_test.go, which runs a wasip1 build of
// the teacher itself in-process via wazero, feeding it a JSON payload on
// stdin and reading a JSON `{"result":...}`/`{"error":...}` envelope back
// off stdout (`runWazeroEval`) — the same module-per-compile,
// config-per-call shape is reused here, repurposed from "evaluate one
// JSONata expression" to "run one precompiled hot function", with the
// payload narrowed to the handful of JSON-representable scalar shapes
// value.Value itself supports (null, bool, number, string).
package jit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/corewell/phprt/pkg/heap"
	"github.com/corewell/phprt/pkg/value"
)

// Hook is a vm.Accelerator-compatible implementation (see
// pkg/vm.Accelerator's doc comment: pkg/jit deliberately does not
// import pkg/vm, to avoid a dependency cycle the other way — wiring
// happens at the embedder via VM.SetAccelerator(hook, threshold)). It
// holds one wazero runtime and a table of precompiled modules keyed by
// the PHP function name they accelerate.
type Hook struct {
	rt wazero.Runtime

	mu      sync.RWMutex
	modules map[string]wazero.CompiledModule
}

// NewHook starts a wazero runtime with WASI preview1 imports (mirroring
// the teacher's own wasip1 module convention) and returns an empty Hook.
func NewHook(ctx context.Context) (*Hook, error) {
	rt := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("jit: instantiate wasi_snapshot_preview1: %w", err)
	}
	return &Hook{rt: rt, modules: make(map[string]wazero.CompiledModule)}, nil
}

// Close releases the wazero runtime and every compiled module.
func (h *Hook) Close(ctx context.Context) error {
	return h.rt.Close(ctx)
}

// Register compiles wasmBytes and binds it to fnName, so a subsequent
// TryCall for a UserFunction of that name runs the WASM module instead
// of declining. The module is expected to read a JSON `{"args":[...]}`
// object from stdin and write a JSON `{"result":...}` or
// `{"error":"..."}` envelope to stdout, exactly as the teacher's own
// wasip1 build does for its expression-evaluation payload.
func (h *Hook) Register(ctx context.Context, fnName string, wasmBytes []byte) error {
	compiled, err := h.rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		return fmt.Errorf("jit: compile module for %q: %w", fnName, err)
	}
	h.mu.Lock()
	h.modules[fnName] = compiled
	h.mu.Unlock()
	return nil
}

type callPayload struct {
	Args []interface{} `json:"args"`
}

type resultEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// TryCall satisfies the Accelerator shape: it declines (ok=false) when
// no module is registered for fn.Name, and otherwise runs the
// registered module once, translating args to JSON and its result back
// to a value.Value.
func (h *Hook) TryCall(ctx context.Context, fn *heap.UserFunction, args []value.Value) (value.Value, bool, error) {
	h.mu.RLock()
	compiled, ok := h.modules[fn.Name]
	h.mu.RUnlock()
	if !ok {
		return value.Null, false, nil
	}

	jsonArgs, err := toJSONArgs(args)
	if err != nil {
		return value.Null, true, err
	}
	payload, err := json.Marshal(callPayload{Args: jsonArgs})
	if err != nil {
		return value.Null, true, err
	}

	var stdout bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithStdin(bytes.NewReader(payload)).
		WithStdout(&stdout).
		WithArgs(fn.Name).
		WithName("") // anonymous: allows concurrent instantiations of the same compiled module

	if _, err := h.rt.InstantiateModule(ctx, compiled, cfg); err != nil {
		return value.Null, true, fmt.Errorf("jit: run %q: %w", fn.Name, err)
	}

	var env resultEnvelope
	if err := json.Unmarshal(stdout.Bytes(), &env); err != nil {
		return value.Null, true, fmt.Errorf("jit: decode result for %q: %w", fn.Name, err)
	}
	if env.Error != "" {
		return value.Null, true, fmt.Errorf("jit: %q: %s", fn.Name, env.Error)
	}

	result, err := fromJSONResult(env.Result)
	return result, true, err
}

// toJSONArgs converts scalar Values (the only shapes a WASM module's
// JSON protocol can carry) to plain interface{} for json.Marshal;
// pointer-tagged Values (arrays, objects, …) are rejected rather than
// silently dropped.
func toJSONArgs(args []value.Value) ([]interface{}, error) {
	out := make([]interface{}, len(args))
	for i, a := range args {
		switch {
		case a.IsNull():
			out[i] = nil
		case a.IsBool():
			out[i] = a.ToBool()
		case a.IsInt():
			out[i] = int64(a.AsInt())
		case a.IsFloat():
			out[i] = a.AsFloat()
		default:
			return nil, fmt.Errorf("jit: argument %d is not JSON-representable (only null/bool/int/float cross the WASM boundary)", i)
		}
	}
	return out, nil
}

func fromJSONResult(raw json.RawMessage) (value.Value, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return value.Null, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return value.Null, err
	}
	switch t := v.(type) {
	case nil:
		return value.Null, nil
	case bool:
		return value.OfBool(t), nil
	case float64:
		if float64(int32(t)) == t {
			return value.OfInt(int32(t)), nil
		}
		return value.OfFloat(t), nil
	default:
		return value.Null, fmt.Errorf("jit: result type %T is not JSON-representable back into a scalar Value", t)
	}
}
