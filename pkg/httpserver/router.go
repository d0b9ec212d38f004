package httpserver

import "strings"

// Handler processes one request, reading from ctx's parsed request
// fields and writing StatusCode/ResponseHeaders/ResponseBody.
type Handler func(ctx *RequestContext) error

type route struct {
	method  string
	segs    []string
	handler Handler
}

// Router matches a request's method and path against registered
// patterns (spec §4.7: "path segments beginning with `:` are
// parameters; matching binds them to the request's parameter map").
type Router struct {
	routes []route
}

// NewRouter returns an empty Router.
func NewRouter() *Router { return &Router{} }

// Handle registers handler for method and pattern (e.g. "/users/:id").
func (r *Router) Handle(method, pattern string, handler Handler) {
	r.routes = append(r.routes, route{
		method:  method,
		segs:    splitPath(pattern),
		handler: handler,
	})
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Match finds the first registered route whose method and pattern match
// path, returning its handler and the bound parameter map. Segments
// beginning with ":" bind unconditionally; all other segments must
// match literally.
func (r *Router) Match(method, path string) (Handler, map[string]string, bool) {
	segs := splitPath(path)
	for _, rt := range r.routes {
		if rt.method != method || len(rt.segs) != len(segs) {
			continue
		}
		params := make(map[string]string)
		ok := true
		for i, rs := range rt.segs {
			if strings.HasPrefix(rs, ":") {
				params[rs[1:]] = segs[i]
				continue
			}
			if rs != segs[i] {
				ok = false
				break
			}
		}
		if ok {
			return rt.handler, params, true
		}
	}
	return nil, nil, false
}
