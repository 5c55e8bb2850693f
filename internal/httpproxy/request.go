// Package httpproxy implements the byte-level data plane: it terminates
// exactly one HTTP/1.1 request head on an accepted connection, rewrites
// it, forwards it to an upstream and then degrades to a transparent
// bidirectional byte pipe. Everything after the request head (bodies,
// websocket frames, CDP traffic) passes through untouched.
package httpproxy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMalformedRequest is wrapped by all head-parsing failures.
var ErrMalformedRequest = errors.New("malformed http request")

// maxHeadBytes bounds the request head read so a hostile client cannot
// grow the buffer forever.
const maxHeadBytes = 64 * 1024

var headTerminator = []byte("\r\n\r\n")

// Header is one request header. Order is preserved end to end.
type Header struct {
	Name  string
	Value string
}

// Request is a parsed HTTP/1.1 request head.
type Request struct {
	Method  string
	Path    string
	Version string
	Headers []Header
}

// HeaderValue returns the first header matching name (case-insensitive)
// and whether it was present.
func (r *Request) HeaderValue(name string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// ReadRequest reads one request head from r: byte by byte until the exact
// CRLFCRLF terminator, then parses it. Reading stops at the terminator, so
// any body or upgraded-protocol bytes stay in r for the pipe to carry.
func ReadRequest(r io.Reader) (*Request, error) {
	buf := make([]byte, 0, 512)
	one := make([]byte, 1)
	for {
		if _, err := io.ReadFull(r, one); err != nil {
			return nil, fmt.Errorf("read request head: %w", err)
		}
		buf = append(buf, one[0])
		if bytes.HasSuffix(buf, headTerminator) {
			break
		}
		if len(buf) > maxHeadBytes {
			return nil, fmt.Errorf("%w: head exceeds %d bytes", ErrMalformedRequest, maxHeadBytes)
		}
	}
	return ParseRequest(buf)
}

// ParseRequest parses a raw request head including the CRLFCRLF
// terminator.
func ParseRequest(raw []byte) (*Request, error) {
	head, ok := bytes.CutSuffix(raw, headTerminator)
	if !ok {
		return nil, fmt.Errorf("%w: missing terminator", ErrMalformedRequest)
	}

	lines := strings.Split(string(head), "\r\n")
	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, fmt.Errorf("%w: bad request line %q", ErrMalformedRequest, lines[0])
	}
	req := &Request{Method: parts[0], Path: parts[1], Version: parts[2]}

	for _, line := range lines[1:] {
		name, value, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("%w: bad header line %q", ErrMalformedRequest, line)
		}
		req.Headers = append(req.Headers, Header{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	return req, nil
}

// Encode serializes the head back to wire form. Headers go out in
// insertion order; values are written as stored.
func (r *Request) Encode() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s %s\r\n", r.Method, r.Path, r.Version)
	for _, h := range r.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

// WriteTo writes the encoded head to w.
func (r *Request) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r.Encode())
	return int64(n), err
}
