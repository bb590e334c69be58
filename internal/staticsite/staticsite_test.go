package staticsite

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestServeHomeReturnsHTML(t *testing.T) {
	s := NewSite()
	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	s.ServeHome(rec, req)

	if rec.Code != 200 {
		t.Fatalf("got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("got content-type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "accelproxy") {
		t.Fatal("expected home page body to mention accelproxy")
	}
}

func TestServeSearchPageReturnsHTML(t *testing.T) {
	s := NewSite()
	req := httptest.NewRequest("GET", "/search.html", nil)
	rec := httptest.NewRecorder()
	s.ServeSearchPage(rec, req)

	if rec.Code != 200 {
		t.Fatalf("got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "search-form") {
		t.Fatal("expected search page to contain the search form")
	}
}

func TestServeFaviconReturnsIcon(t *testing.T) {
	s := NewSite()
	req := httptest.NewRequest("GET", "/favicon.ico", nil)
	rec := httptest.NewRecorder()
	s.ServeFavicon(rec, req)

	if rec.Code != 200 {
		t.Fatalf("got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/x-icon" {
		t.Fatalf("got content-type %q", ct)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected non-empty favicon body")
	}
}

func TestPublicServesEmbeddedAssets(t *testing.T) {
	s := NewSite()
	req := httptest.NewRequest("GET", "/public/style.css", nil)
	rec := httptest.NewRecorder()
	s.Public()(rec, req)

	if rec.Code != 200 {
		t.Fatalf("got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "font-family") {
		t.Fatal("expected style.css contents")
	}
}

func TestPublicRejectsPathTraversal(t *testing.T) {
	s := NewSite()
	req := httptest.NewRequest("GET", "/public/../staticsite.go", nil)
	rec := httptest.NewRecorder()
	s.Public()(rec, req)

	if rec.Code == 200 {
		t.Fatal("expected path traversal outside /public to fail")
	}
}
