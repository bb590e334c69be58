package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthURLByDialect(t *testing.T) {
	cases := []struct {
		d    Descriptor
		want string
	}{
		{Descriptor{AuthDialect: DialectDockerHub}, "https://auth.docker.io/token?service=registry.docker.io&scope=repository:library/nginx:pull"},
		{Descriptor{AuthDialect: DialectGitHub}, "https://ghcr.io/token?scope=repository:library/nginx:pull"},
		{Descriptor{AuthDialect: DialectGoogle}, "https://gcr.io/v2/token?scope=repository:library/nginx:pull"},
		{Descriptor{AuthDialect: DialectQuay}, "https://quay.io/v2/auth?scope=repository:library/nginx:pull"},
		{Descriptor{AuthDialect: DialectAnonymous}, ""},
		{Descriptor{AuthDialect: DialectGeneric, AuthEndpoint: "https://example.com/auth"}, "https://example.com/auth?scope=repository:library/nginx:pull"},
	}
	scope := scopeFor("library/nginx")
	for _, c := range cases {
		if got := authURL(c.d, scope); got != c.want {
			t.Errorf("dialect %v: got %q, want %q", c.d.AuthDialect, got, c.want)
		}
	}
}

func TestAcquireCachesToken(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"abc123"}`))
	}))
	defer srv.Close()

	d := Descriptor{AuthDialect: DialectGeneric, AuthEndpoint: srv.URL}
	a := newTokenAcquirer(srv.Client())

	for i := 0; i < 3; i++ {
		tok := a.Acquire(context.Background(), d, "owner/image")
		if tok != "abc123" {
			t.Fatalf("call %d: got %q, want abc123", i, tok)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 upstream call (cached thereafter), got %d", calls)
	}
}

func TestAcquireAcceptsAccessTokenField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"xyz"}`))
	}))
	defer srv.Close()

	d := Descriptor{AuthDialect: DialectGeneric, AuthEndpoint: srv.URL}
	a := newTokenAcquirer(srv.Client())
	if tok := a.Acquire(context.Background(), d, "owner/image"); tok != "xyz" {
		t.Fatalf("got %q, want xyz", tok)
	}
}

func TestAcquireDegradesOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := Descriptor{AuthDialect: DialectGeneric, AuthEndpoint: srv.URL}
	a := newTokenAcquirer(srv.Client())
	if tok := a.Acquire(context.Background(), d, "owner/image"); tok != "" {
		t.Fatalf("got %q, want empty token on non-2xx", tok)
	}
}

func TestAcquireAnonymousNeverCallsOut(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	d := Descriptor{AuthDialect: DialectAnonymous}
	a := newTokenAcquirer(srv.Client())
	if tok := a.Acquire(context.Background(), d, "owner/image"); tok != "" {
		t.Fatalf("got %q, want empty for anonymous dialect", tok)
	}
	if called {
		t.Fatal("anonymous dialect must never call the auth endpoint")
	}
}

func TestAcquireTransportErrorDegrades(t *testing.T) {
	d := Descriptor{AuthDialect: DialectGeneric, AuthEndpoint: "http://127.0.0.1:1"}
	a := newTokenAcquirer(http.DefaultClient)
	if tok := a.Acquire(context.Background(), d, "owner/image"); tok != "" {
		t.Fatalf("got %q, want empty on transport failure", tok)
	}
}
