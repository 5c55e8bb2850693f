package httpproxy

import "testing"

func TestPathOverride(t *testing.T) {
	tests := []struct {
		name     string
		override PathOverride
		path     string
		want     string
	}{
		{"replace", ReplacePath("/devtools/browser/abc"), "/anything", "/devtools/browser/abc"},
		{"replace root", ReplacePath("/devtools/browser/abc"), "/", "/devtools/browser/abc"},
		{"prefix", PrefixPath("/api"), "/v1/users", "/api/v1/users"},
		{"prefix root collapses", PrefixPath("/api"), "/", "/api"},
		{"append", AppendPath("/ws"), "/session", "/session/ws"},
		{"append root collapses", AppendPath("/ws"), "/", "/ws"},
		{"zero value keeps path", PathOverride{}, "/unchanged", "/unchanged"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.override.Apply(tt.path); got != tt.want {
				t.Errorf("Apply(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestRewriteHeaders(t *testing.T) {
	req := &Request{
		Method:  "GET",
		Path:    "/",
		Version: "HTTP/1.1",
		Headers: []Header{
			{"Host", "client-facing.example"},
			{"Connection", "Upgrade"},
			{"Upgrade", "websocket"},
		},
	}

	Rewrite{
		Path:    ReplacePath("/json/version"),
		Headers: []Header{{"Host", "10.0.0.5:9222"}},
	}.Apply(req)

	if req.Path != "/json/version" {
		t.Errorf("path = %q, want /json/version", req.Path)
	}
	want := []Header{
		{"Connection", "Upgrade"},
		{"Upgrade", "websocket"},
		{"Host", "10.0.0.5:9222"},
	}
	if len(req.Headers) != len(want) {
		t.Fatalf("headers = %+v, want %+v", req.Headers, want)
	}
	for i := range want {
		if req.Headers[i] != want[i] {
			t.Errorf("header %d = %+v, want %+v", i, req.Headers[i], want[i])
		}
	}
}

func TestRewriteHeaderCaseInsensitive(t *testing.T) {
	req := &Request{Headers: []Header{{"host", "old"}, {"Accept", "*/*"}}}
	Rewrite{Headers: []Header{{"Host", "new"}}}.Apply(req)

	if _, ok := req.HeaderValue("Accept"); !ok {
		t.Error("non-overridden header dropped")
	}
	v, _ := req.HeaderValue("Host")
	if v != "new" {
		t.Errorf("Host = %q, want %q", v, "new")
	}
	for _, h := range req.Headers {
		if h.Name == "host" {
			t.Error("old host header survived the override")
		}
	}
}

func TestHostRewrite(t *testing.T) {
	req := &Request{Path: "/ignored", Headers: []Header{{"Host", "front"}}}
	HostRewrite("10.1.2.3:1337", "/").Apply(req)
	if req.Path != "/" {
		t.Errorf("path = %q, want /", req.Path)
	}
	if v, _ := req.HeaderValue("Host"); v != "10.1.2.3:1337" {
		t.Errorf("Host = %q, want 10.1.2.3:1337", v)
	}
}
