// Package httpserver implements the embedded HTTP server and
// per-request arena of spec §4.7: a single-threaded-by-default accept
// loop, a bounded RequestContext pool, :param routing, and response
// serialization with an auto-computed Content-Length.
//
// No pack repo runs a hand-rolled HTTP/1.1 accept loop (the teacher is
// an expression-language engine; erigon's HTTP surfaces sit on
// net/http), so the wire handling is built directly from spec §4.7/§6's
// prose; the *pooling* story reuses pkg/memory.ObjectPool/Arena exactly
// as the teacher's own sync.Pool-based hot-path pooling is generalized
// elsewhere in this runtime, and the *logging/metrics* idiom follows
// the teacher's log/slog + Prometheus conventions (pkg/memory/interner.go).
package httpserver

import (
	"github.com/google/uuid"

	"github.com/corewell/phprt/pkg/memory"
)

// maxPooledContexts bounds how many RequestContexts are kept for reuse
// (spec §4.7 step 6: "return the context to the pool (bounded at
// 100)"); beyond that, a finished context is simply dropped instead of
// growing the pool without limit.
const maxPooledContexts = 100

// RequestContext holds one request/response's parsed and serialized
// state plus its bound per-request arena. Reset clears every field so
// a pooled context never leaks a prior request's data into the next.
type RequestContext struct {
	RequestID string

	Method  string
	Path    string
	Version string
	Query   map[string]string
	Headers map[string]string
	Body    []byte
	Params  map[string]string

	StatusCode      int
	ResponseHeaders map[string]string
	ResponseBody    []byte

	Arena *memory.Arena[byte]
}

// resetContext clears c in place for reuse by the pool's resetFn.
func resetContext(c *RequestContext) {
	c.RequestID = ""
	c.Method = ""
	c.Path = ""
	c.Version = ""
	c.Query = nil
	c.Headers = nil
	c.Body = nil
	c.Params = nil
	c.StatusCode = 0
	c.ResponseHeaders = nil
	c.ResponseBody = nil
}

// contextPool is the bounded RequestContext pool backing Server.acquire/
// release. It wraps memory.ObjectPool with the spec's 100-context cap,
// since ObjectPool itself grows its free list without limit (spec
// §4.2's CHUNK_SIZE slabs are meant to be kept, not capped — the cap
// here is an httpserver-level policy layered on top).
type contextPool struct {
	pool     *memory.ObjectPool[RequestContext]
	occupied int
}

func newContextPool() *contextPool {
	return &contextPool{pool: memory.NewObjectPool[RequestContext](resetContext)}
}

func (p *contextPool) acquire() (uint32, *RequestContext) {
	h, c := p.pool.Acquire()
	p.occupied++
	c.RequestID = uuid.NewString()
	c.Arena = memory.NewArena[byte]()
	return h, c
}

// release returns handle to the pool's free list unless
// maxPooledContexts handles are already free there; a handle released
// past that cap is dropped, and its slot is not handed out again.
func (p *contextPool) release(handle uint32) {
	p.occupied--
	if p.pool.Stats().Free >= maxPooledContexts {
		return
	}
	c := p.pool.Get(handle)
	c.Arena.Reset()
	p.pool.Release(handle)
}
