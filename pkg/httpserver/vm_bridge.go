package httpserver

import (
	"context"

	"github.com/corewell/phprt/pkg/heap"
	"github.com/corewell/phprt/pkg/object"
	"github.com/corewell/phprt/pkg/value"
	"github.com/corewell/phprt/pkg/vm"
)

// Bridge exposes request/response state to user-registered PHP handlers
// as Values (spec §4.7 step 4: "Invoke the user-registered handler with
// request/response Values"), backed by two plain builtin classes
// defined once at construction.
type Bridge struct {
	vm       *vm.VM
	reqClass heap.ClassID
	resClass heap.ClassID
}

// NewBridge defines the HttpRequest/HttpResponse classes on reg and
// returns a Bridge bound to m for invoking PHP handlers.
func NewBridge(m *vm.VM, reg *object.Registry) (*Bridge, error) {
	reqID, err := reg.DefineClass(object.ClassSpec{
		Name: "HttpRequest",
		Properties: []object.PropertyDecl{
			{Name: "method", Default: value.Null},
			{Name: "path", Default: value.Null},
			{Name: "version", Default: value.Null},
			{Name: "query", Default: value.Null},
			{Name: "headers", Default: value.Null},
			{Name: "body", Default: value.Null},
			{Name: "params", Default: value.Null},
			{Name: "request_id", Default: value.Null},
		},
	})
	if err != nil {
		return nil, err
	}
	resID, err := reg.DefineClass(object.ClassSpec{
		Name: "HttpResponse",
		Properties: []object.PropertyDecl{
			{Name: "status", Default: value.OfInt(200)},
			{Name: "headers", Default: value.Null},
			{Name: "body", Default: value.Null},
		},
	})
	if err != nil {
		return nil, err
	}
	return &Bridge{vm: m, reqClass: reqID, resClass: resID}, nil
}

func stringMapToArray(m *Bridge, src map[string]string) value.Value {
	arr := m.vm.Mem.NewArrayValue()
	h := arr.Handle()
	for k, v := range src {
		sv := m.vm.Mem.NewString([]byte(v))
		m.vm.Mem.ArraySet(h, heap.StrArrayKey(k), sv)
		sv.Release(m.vm.Mem)
	}
	return arr
}

func arrayToStringMap(m *Bridge, v value.Value) map[string]string {
	out := map[string]string{}
	if !v.IsArray() {
		return out
	}
	a := m.vm.Mem.ArrayAt(v.Handle())
	a.Each(func(k heap.ArrayKey, val value.Value) bool {
		if k.IsString {
			out[k.StrKey] = val.ToString(m.vm.Mem)
		}
		return true
	})
	return out
}

func (b *Bridge) newRequestValue(ctx *RequestContext) (value.Value, error) {
	class := b.vm.Classes.ClassByID(b.reqClass)
	if class == nil {
		return value.Null, nil
	}
	inst, err := object.NewInstance(b.vm.Mem, class)
	if err != nil {
		return value.Null, err
	}
	h := inst.Handle()
	setStr := func(name, s string) {
		sv := b.vm.Mem.NewString([]byte(s))
		object.SetProperty(b.vm.Mem, b.vm.Classes, h, name, sv)
		sv.Release(b.vm.Mem)
	}
	setStr("method", ctx.Method)
	setStr("path", ctx.Path)
	setStr("version", ctx.Version)
	setStr("request_id", ctx.RequestID)

	q := stringMapToArray(b, ctx.Query)
	object.SetProperty(b.vm.Mem, b.vm.Classes, h, "query", q)
	q.Release(b.vm.Mem)

	hd := stringMapToArray(b, ctx.Headers)
	object.SetProperty(b.vm.Mem, b.vm.Classes, h, "headers", hd)
	hd.Release(b.vm.Mem)

	p := stringMapToArray(b, ctx.Params)
	object.SetProperty(b.vm.Mem, b.vm.Classes, h, "params", p)
	p.Release(b.vm.Mem)

	setStr("body", string(ctx.Body))
	return inst, nil
}

func (b *Bridge) newResponseValue() (value.Value, error) {
	class := b.vm.Classes.ClassByID(b.resClass)
	if class == nil {
		return value.Null, nil
	}
	return object.NewInstance(b.vm.Mem, class)
}

// readResponse copies resp's properties back onto ctx after the
// handler returns.
func (b *Bridge) readResponse(resp value.Value, ctx *RequestContext) {
	if !resp.IsObject() {
		ctx.StatusCode = 200
		return
	}
	obj := b.vm.Mem.ObjectAt(resp.Handle())
	reg := b.vm.Classes
	if v, ok := object.GetProperty(b.vm.Mem, reg, obj, "status"); ok {
		ctx.StatusCode = int(toInt(v))
	}
	if v, ok := object.GetProperty(b.vm.Mem, reg, obj, "headers"); ok && v.IsArray() {
		ctx.ResponseHeaders = arrayToStringMap(b, v)
	}
	if v, ok := object.GetProperty(b.vm.Mem, reg, obj, "body"); ok {
		ctx.ResponseBody = []byte(v.ToString(b.vm.Mem))
	}
}

// Handler builds a Handler that invokes callee with (HttpRequest,
// HttpResponse) Values, per spec §4.7 step 4.
func (b *Bridge) Handler(callee value.Value) Handler {
	callee.Retain(b.vm.Mem)
	return func(ctx *RequestContext) error {
		req, err := b.newRequestValue(ctx)
		if err != nil {
			return err
		}
		resp, err := b.newResponseValue()
		if err != nil {
			req.Release(b.vm.Mem)
			return err
		}
		// CallValue's underlying dispatch releases every callArgs element
		// exactly once (bindParams retains its own copy into the callee's
		// frame, released when the frame pops) — an extra retain here
		// keeps our own reference to resp alive so readResponse can read
		// it back after the call returns, mirroring CallValue's own
		// documented contract for borrowed-vs-consumed values.
		resp.Retain(b.vm.Mem)
		callArgs := []value.Value{req, resp}
		_, err = b.vm.CallValue(context.Background(), callee, callArgs)
		b.readResponse(resp, ctx)
		resp.Release(b.vm.Mem)
		return err
	}
}

func toInt(v value.Value) int32 {
	if v.IsInt() {
		return v.AsInt()
	}
	if v.IsFloat() {
		return int32(v.AsFloat())
	}
	return 0
}
