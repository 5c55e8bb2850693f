package httpproxy

import "strings"

// pathMode selects how a path override combines with the incoming path.
type pathMode int

const (
	pathNone pathMode = iota
	pathReplace
	pathPrefix
	pathAppend
)

// PathOverride rewrites the request path. The zero value leaves the path
// untouched.
type PathOverride struct {
	mode  pathMode
	value string
}

// ReplacePath discards the incoming path entirely.
func ReplacePath(p string) PathOverride { return PathOverride{mode: pathReplace, value: p} }

// PrefixPath prepends p; a bare "/" incoming path collapses to p alone.
func PrefixPath(p string) PathOverride { return PathOverride{mode: pathPrefix, value: p} }

// AppendPath appends p; a bare "/" incoming path collapses to p alone.
func AppendPath(p string) PathOverride { return PathOverride{mode: pathAppend, value: p} }

// Apply combines the override with the incoming path.
func (o PathOverride) Apply(path string) string {
	switch o.mode {
	case pathReplace:
		return o.value
	case pathPrefix:
		if path == "/" {
			return o.value
		}
		return o.value + path
	case pathAppend:
		if path == "/" {
			return o.value
		}
		return path + o.value
	default:
		return path
	}
}

// Rewrite transforms a parsed request head before it is forwarded.
type Rewrite struct {
	Path PathOverride
	// Headers are overrides applied last: any incoming header with a
	// matching name (case-insensitive) is removed, then every override is
	// appended in order.
	Headers []Header
}

// Apply rewrites req in place.
func (rw Rewrite) Apply(req *Request) {
	req.Path = rw.Path.Apply(req.Path)

	if len(rw.Headers) == 0 {
		return
	}
	kept := req.Headers[:0]
	for _, h := range req.Headers {
		if !rw.overrides(h.Name) {
			kept = append(kept, h)
		}
	}
	req.Headers = append(kept, rw.Headers...)
}

func (rw Rewrite) overrides(name string) bool {
	for _, h := range rw.Headers {
		if strings.EqualFold(h.Name, name) {
			return true
		}
	}
	return false
}

// HostRewrite is the common case: point the request at addr with a fresh
// root path.
func HostRewrite(addr, path string) Rewrite {
	return Rewrite{
		Path:    ReplacePath(path),
		Headers: []Header{{Name: "Host", Value: addr}},
	}
}
