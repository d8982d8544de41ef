package handler

import (
	"net/http"
	"strings"
)

// route describes one path pattern; "*" matches any single segment.
type route struct {
	pattern []string
	methods []string
}

var routes = []route{
	{pattern: []string{"sessions"}, methods: []string{http.MethodPost}},
	{pattern: []string{"sessions", "*"}, methods: []string{http.MethodGet}},
	{pattern: []string{"sessions", "*", "messages"}, methods: []string{http.MethodPost}},
	{pattern: []string{"sessions", "*", "turns", "*", "feedback"}, methods: []string{http.MethodPut, http.MethodPatch}},
	{pattern: []string{"sessions", "*", "turns", "*", "feedback", "submit"}, methods: []string{http.MethodPost}},
	{pattern: []string{"review", "feedback"}, methods: []string{http.MethodGet}},
	{pattern: []string{"review", "feedback", "export"}, methods: []string{http.MethodGet}},
	{pattern: []string{"review", "feedback", "*", "status"}, methods: []string{http.MethodPost}},
	{pattern: []string{"review", "feedback", "*", "decision"}, methods: []string{http.MethodPost}},
	{pattern: []string{"review", "summary"}, methods: []string{http.MethodGet}},
	{pattern: []string{"review", "decisions"}, methods: []string{http.MethodGet}},
	{pattern: []string{"review", "decisions", "export"}, methods: []string{http.MethodGet}},
}

func (r route) match(seg []string) bool {
	if len(seg) != len(r.pattern) {
		return false
	}
	for i, p := range r.pattern {
		if p != "*" && p != seg[i] {
			return false
		}
	}
	return true
}

// allowedMethods returns the methods served on a path, or nil for an
// unknown path.
func allowedMethods(seg []string) []string {
	var out []string
	for _, r := range routes {
		if r.match(seg) {
			out = append(out, r.methods...)
		}
	}
	return out
}

// checkMethod fails with a methodNotAllowedError when the path is known but
// method is not served on it. Unknown paths pass through to the router.
func checkMethod(seg []string, method string) error {
	allowed := allowedMethods(seg)
	if len(allowed) == 0 {
		return nil
	}
	for _, m := range allowed {
		if m == method {
			return nil
		}
	}
	return &methodNotAllowedError{method: method, allowed: allowed}
}

type methodNotAllowedError struct {
	method  string
	allowed []string
}

func (e *methodNotAllowedError) Error() string {
	return "handler: method " + e.method + " not allowed, want " + strings.Join(e.allowed, ", ")
}
