package hubapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestServeSearchRequiresQuery(t *testing.T) {
	p := NewProxy(http.DefaultClient)
	req := httptest.NewRequest(http.MethodGet, "/search", nil)
	rec := httptest.NewRecorder()
	p.ServeSearch(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
}

func TestServeSearchAcceptsQOrQueryParam(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("query") != "nginx" {
			t.Errorf("unexpected upstream query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer upstream.Close()

	p := NewProxyWithBase(upstream.Client(), upstream.URL)
	req := httptest.NewRequest(http.MethodGet, "/search?q=nginx", nil)
	rec := httptest.NewRecorder()
	p.ServeSearch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"results"`) {
		t.Fatalf("got body %q", rec.Body.String())
	}
}

func TestServeSearchCachesSuccessfulResponses(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer upstream.Close()

	p := NewProxyWithBase(upstream.Client(), upstream.URL)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/search?query=redis", nil)
		rec := httptest.NewRecorder()
		p.ServeSearch(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("call %d: got %d", i, rec.Code)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 upstream call after caching, got %d", calls)
	}
}

func TestServeSearchDoesNotCacheErrors(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	p := NewProxyWithBase(upstream.Client(), upstream.URL)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/search?query=redis", nil)
		rec := httptest.NewRecorder()
		p.ServeSearch(rec, req)
	}
	if calls != 2 {
		t.Fatalf("expected errors to bypass the cache, got %d calls", calls)
	}
}

func TestServeTagsQueryRequiresNamespaceAndName(t *testing.T) {
	p := NewProxy(http.DefaultClient)
	req := httptest.NewRequest(http.MethodGet, "/tags?namespace=library", nil)
	rec := httptest.NewRecorder()
	p.ServeTags(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
}

func TestServeTagsQueryPassesThroughUpstream(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer upstream.Close()

	p := NewProxyWithBase(upstream.Client(), upstream.URL)
	req := httptest.NewRequest(http.MethodGet, "/tags?namespace=library&name=nginx", nil)
	rec := httptest.NewRecorder()
	p.ServeTags(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, body %s", rec.Code, rec.Body.String())
	}
	want := "/namespaces/library/repositories/nginx/tags"
	if gotPath != want {
		t.Fatalf("got path %q, want %q", gotPath, want)
	}
}

// TestServeTagsPathAppliesLibraryWart reproduces a compatibility wart: when
// the namespace segment is "library" and the name segment itself contains a
// slash, the first part of name becomes the real namespace. This lets
// "/tags/library/bitnami/nginx" resolve to namespace "bitnami", name
// "nginx" rather than a literal (and non-existent) "library/bitnami/nginx"
// repository.
func TestServeTagsPathAppliesLibraryWart(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer upstream.Close()

	p := NewProxyWithBase(upstream.Client(), upstream.URL)
	req := httptest.NewRequest(http.MethodGet, "/tags/library/bitnami/nginx", nil)
	rec := httptest.NewRecorder()
	p.ServeTagsPath(rec, req, "library", "bitnami/nginx")

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, body %s", rec.Code, rec.Body.String())
	}
	want := "/namespaces/bitnami/repositories/nginx/tags"
	if gotPath != want {
		t.Fatalf("got path %q, want %q", gotPath, want)
	}
}

func TestServeTagsPathLeavesNonLibraryNamespaceAlone(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer upstream.Close()

	p := NewProxyWithBase(upstream.Client(), upstream.URL)
	req := httptest.NewRequest(http.MethodGet, "/tags/bitnami/nginx", nil)
	rec := httptest.NewRecorder()
	p.ServeTagsPath(rec, req, "bitnami", "nginx")

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, body %s", rec.Code, rec.Body.String())
	}
	want := "/namespaces/bitnami/repositories/nginx/tags"
	if gotPath != want {
		t.Fatalf("got path %q, want %q", gotPath, want)
	}
}

func TestServeTagsPathLibraryWithoutSlashInNameIsUnaffected(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer upstream.Close()

	p := NewProxyWithBase(upstream.Client(), upstream.URL)
	req := httptest.NewRequest(http.MethodGet, "/tags/library/nginx", nil)
	rec := httptest.NewRecorder()
	p.ServeTagsPath(rec, req, "library", "nginx")

	want := "/namespaces/library/repositories/nginx/tags"
	if gotPath != want {
		t.Fatalf("got path %q, want %q", gotPath, want)
	}
}

func TestServeSearchUpstreamUnreachableReturns500(t *testing.T) {
	p := NewProxyWithBase(&http.Client{Transport: failingTransport{}}, "https://hub.invalid")
	req := httptest.NewRequest(http.MethodGet, "/search?q=nginx", nil)
	rec := httptest.NewRecorder()
	p.ServeSearch(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("got %d, want 500", rec.Code)
	}
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errTransport
}

var errTransport = &transportError{"simulated transport failure"}

type transportError struct{ msg string }

func (e *transportError) Error() string { return e.msg }

func TestAtoiOrFallsBackOnInvalid(t *testing.T) {
	if got := atoiOr("", 5); got != 5 {
		t.Fatalf("got %d, want 5", got)
	}
	if got := atoiOr("not-a-number", 5); got != 5 {
		t.Fatalf("got %d, want 5", got)
	}
	if got := atoiOr("42", 5); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}
