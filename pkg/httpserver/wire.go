package httpserver

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/corewell/phprt/pkg/rterror"
)

// parseRequest reads one HTTP/1.1 request off r into ctx (spec §6:
// "Request line `METHOD SP PATH SP VERSION CRLF`; headers `Name: Value
// CRLF`; body follows the empty line").
func parseRequest(r *bufio.Reader, ctx *RequestContext) error {
	line, err := readCRLFLine(r)
	if err != nil {
		return err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return rterror.TypeErrorf("", 0, "malformed request line %q", line)
	}
	ctx.Method = parts[0]
	rawPath := parts[1]
	ctx.Version = parts[2]

	if i := strings.IndexByte(rawPath, '?'); i >= 0 {
		ctx.Path = rawPath[:i]
		ctx.Query = parseQuery(rawPath[i+1:])
	} else {
		ctx.Path = rawPath
		ctx.Query = map[string]string{}
	}

	ctx.Headers = map[string]string{}
	for {
		hline, err := readCRLFLine(r)
		if err != nil {
			return err
		}
		if hline == "" {
			break
		}
		name, value, ok := strings.Cut(hline, ":")
		if !ok {
			return rterror.TypeErrorf("", 0, "malformed header %q", hline)
		}
		ctx.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}

	if cl, ok := ctx.Headers["Content-Length"]; ok {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return rterror.TypeErrorf("", 0, "malformed Content-Length %q", cl)
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			return err
		}
		ctx.Body = body
	}
	return nil
}

func readCRLFLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func parseQuery(raw string) map[string]string {
	out := map[string]string{}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return out
	}
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

var statusText = map[int]string{
	200: "OK",
	201: "Created",
	204: "No Content",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	500: "Internal Server Error",
	503: "Service Unavailable",
}

// writeResponse serializes ctx's response fields to w (spec §4.7 step
// 5: "status line, auto-computed Content-Length, headers, body").
func writeResponse(w io.Writer, ctx *RequestContext) error {
	status := ctx.StatusCode
	if status == 0 {
		status = 200
	}
	text := statusText[status]
	if text == "" {
		text = "Unknown"
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", status, text)
	for name, value := range ctx.ResponseHeaders {
		fmt.Fprintf(bw, "%s: %s\r\n", name, value)
	}
	fmt.Fprintf(bw, "Content-Length: %d\r\n", len(ctx.ResponseBody))
	bw.WriteString("\r\n")
	bw.Write(ctx.ResponseBody)
	return bw.Flush()
}
