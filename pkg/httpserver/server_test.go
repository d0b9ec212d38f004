package httpserver

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

func TestRouterParamBinding(t *testing.T) {
	r := NewRouter()
	r.Handle("GET", "/users/:id/posts/:postId", func(ctx *RequestContext) error { return nil })

	h, params, ok := r.Match("GET", "/users/42/posts/7")
	if !ok || h == nil {
		t.Fatal("expected a route match")
	}
	if params["id"] != "42" || params["postId"] != "7" {
		t.Fatalf("params = %+v, want id=42 postId=7", params)
	}

	if _, _, ok := r.Match("POST", "/users/42/posts/7"); ok {
		t.Fatal("method mismatch should not match")
	}
	if _, _, ok := r.Match("GET", "/users/42"); ok {
		t.Fatal("segment-count mismatch should not match")
	}
}

func TestParseRequestWithBody(t *testing.T) {
	raw := "POST /submit?x=1 HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Content-Length: 5\r\n" +
		"\r\n" +
		"hello"
	r := bufio.NewReader(strings.NewReader(raw))
	ctx := &RequestContext{}
	if err := parseRequest(r, ctx); err != nil {
		t.Fatalf("parseRequest: %v", err)
	}
	if ctx.Method != "POST" || ctx.Path != "/submit" || ctx.Query["x"] != "1" {
		t.Fatalf("parsed = %+v", ctx)
	}
	if string(ctx.Body) != "hello" {
		t.Fatalf("body = %q, want %q", ctx.Body, "hello")
	}
	if ctx.Headers["Host"] != "example.com" {
		t.Fatalf("headers = %+v", ctx.Headers)
	}
}

func TestWriteResponseContentLength(t *testing.T) {
	ctx := &RequestContext{StatusCode: 200, ResponseBody: []byte("hi"), ResponseHeaders: map[string]string{}}
	var buf bytes.Buffer
	if err := writeResponse(&buf, ctx); err != nil {
		t.Fatalf("writeResponse: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("missing status line: %q", out)
	}
	if !strings.Contains(out, "Content-Length: 2\r\n") {
		t.Fatalf("missing Content-Length: %q", out)
	}
	if !strings.HasSuffix(out, "hi") {
		t.Fatalf("missing body: %q", out)
	}
}

func TestContextPoolBounded(t *testing.T) {
	p := newContextPool()
	handles := make([]uint32, 0, maxPooledContexts+10)
	for i := 0; i < maxPooledContexts+10; i++ {
		h, _ := p.acquire()
		handles = append(handles, h)
	}
	for _, h := range handles {
		p.release(h)
	}
	if free := p.pool.Stats().Free; free > maxPooledContexts {
		t.Fatalf("pool grew past the bound: %d free slots", free)
	}
}

// TestServeEndToEnd exercises the accept loop over a real TCP listener:
// one GET request routed to a handler that echoes a path parameter.
func TestServeEndToEnd(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	s := New(WithRequestTimeout(2 * time.Second))
	s.Router().Handle("GET", "/hello/:name", func(ctx *RequestContext) error {
		ctx.StatusCode = 200
		ctx.ResponseHeaders = map[string]string{"Content-Type": "text/plain"}
		ctx.ResponseBody = []byte("hi " + ctx.Params["name"])
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Serve(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	req := "GET /hello/world HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	body, err := io.ReadAll(conn)
	if err != nil && !strings.Contains(err.Error(), "closed") {
		t.Fatalf("ReadAll: %v", err)
	}
	out := string(body)
	if !strings.Contains(out, "200 OK") {
		t.Fatalf("response missing 200 OK: %q", out)
	}
	if !strings.Contains(out, "hi world") {
		t.Fatalf("response missing echoed body: %q", out)
	}
}
