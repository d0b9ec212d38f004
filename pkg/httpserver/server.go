package httpserver

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/corewell/phprt/pkg/concurrent"
)

// Options configures a Server, in the teacher's functional-options
// register (pkg/vm.Options/Option).
type Options struct {
	Logger           *slog.Logger
	Metrics          prometheus.Registerer
	RequestTimeout   time.Duration
	KeepAliveTimeout time.Duration
	Concurrent       bool
	MaxConcurrent    int
}

// Option mutates Options during construction.
type Option func(*Options)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option { return func(o *Options) { o.Logger = l } }

// WithMetrics registers pool-occupancy gauges on reg (nil skips
// exposition, matching pkg/memory.NewInterner's convention).
func WithMetrics(reg prometheus.Registerer) Option { return func(o *Options) { o.Metrics = reg } }

// WithRequestTimeout bounds how long a single request's handler may run
// before its coroutine is cancelled (spec §4.7/§5).
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Options) { o.RequestTimeout = d }
}

// WithKeepAliveTimeout bounds how long an idle persistent connection is
// held open waiting for the next request line.
func WithKeepAliveTimeout(d time.Duration) Option {
	return func(o *Options) { o.KeepAliveTimeout = d }
}

// WithConcurrency enables per-request coroutine dispatch instead of
// running the handler inline on the accept loop's goroutine (spec
// §4.7 step 4: "If coroutines are enabled, spawn a coroutine and run
// until it completes").
func WithConcurrency(maxConcurrent int) Option {
	return func(o *Options) { o.Concurrent = true; o.MaxConcurrent = maxConcurrent }
}

func defaultOptions() Options {
	return Options{
		Logger:           slog.Default(),
		RequestTimeout:   30 * time.Second,
		KeepAliveTimeout: 60 * time.Second,
	}
}

// Server is the embedded HTTP accept loop of spec §4.7: single-threaded
// by default, with a bounded RequestContext pool and a per-request
// arena bound to each context.
type Server struct {
	opts    Options
	router  *Router
	ctxPool *contextPool
	metrics *metrics
	sched   *concurrent.Scheduler
	sem     chan struct{} // nil unless Concurrent with MaxConcurrent > 0
}

// New returns a Server ready to Serve connections once routes are
// registered on Router().
func New(opts ...Option) *Server {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{
		opts:    o,
		router:  NewRouter(),
		ctxPool: newContextPool(),
		metrics: newMetrics(o.Metrics),
	}
	if o.Concurrent {
		s.sched = concurrent.NewScheduler()
		if o.MaxConcurrent > 0 {
			s.sem = make(chan struct{}, o.MaxConcurrent)
		}
	}
	return s
}

// Router returns the Server's route table for registration.
func (s *Server) Router() *Router { return s.router }

// Serve runs the accept loop over ln until ctx is cancelled or ln
// stops accepting. Each connection is handled inline (or via a
// coroutine if WithConcurrency was set) on its own accept-loop
// iteration — the loop itself never parallelizes beyond that fan-out
// point, matching spec §4.7's "single-threaded by default" framing.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		s.dispatch(ctx, conn)
	}
}

func (s *Server) dispatch(ctx context.Context, conn net.Conn) {
	if s.sched == nil {
		s.handleConn(ctx, conn)
		return
	}
	if s.sem != nil {
		s.sem <- struct{}{}
	}
	s.sched.Go(ctx, func(cctx context.Context) error {
		if s.sem != nil {
			defer func() { <-s.sem }()
		}
		s.handleConn(cctx, conn)
		return nil
	})
}

// handleConn serves every pipelined request on conn until the
// keep-alive timeout elapses or the client (or Connection: close)
// closes it, per spec §4.7 steps 1-6.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		if s.opts.KeepAliveTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.opts.KeepAliveTimeout))
		}

		handle, rc := s.ctxPool.acquire()
		s.metrics.contextPoolSize.Set(float64(s.ctxPool.occupied))
		s.metrics.arenaPoolSize.Set(float64(s.ctxPool.occupied))

		if err := parseRequest(r, rc); err != nil {
			s.ctxPool.release(handle)
			if !errors.Is(err, io.EOF) {
				s.opts.Logger.Debug("httpserver: request parse failed", "error", err)
			}
			return
		}

		reqCtx := ctx
		var cancel context.CancelFunc
		if s.opts.RequestTimeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		}
		s.serveOne(reqCtx, rc)
		if cancel != nil {
			cancel()
		}

		if err := writeResponse(conn, rc); err != nil {
			s.ctxPool.release(handle)
			return
		}

		keepAlive := rc.Headers["Connection"] != "close" && rc.Version != "HTTP/1.0"
		s.ctxPool.release(handle)
		s.metrics.contextPoolSize.Set(float64(s.ctxPool.occupied))
		if !keepAlive {
			return
		}
	}
}

func (s *Server) serveOne(ctx context.Context, rc *RequestContext) {
	handler, params, ok := s.router.Match(rc.Method, rc.Path)
	if !ok {
		rc.StatusCode = 404
		rc.ResponseBody = []byte("not found")
		return
	}
	rc.Params = params

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := handler(rc); err != nil {
			s.opts.Logger.Warn("httpserver: handler error", "request_id", rc.RequestID, "error", err)
			rc.StatusCode = 500
			rc.ResponseBody = []byte("internal error")
		}
	}()
	select {
	case <-done:
	case <-ctx.Done():
		rc.StatusCode = 408
		rc.ResponseBody = []byte("request timeout")
	}
}
