package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGateAllowsWhenDisabled(t *testing.T) {
	g := New("")
	r := httptest.NewRequest(http.MethodPost, "/mcp/message", nil)
	if !g.Allow(r) {
		t.Fatal("expected disabled gate to allow all requests")
	}
}

func TestGateRejectsMissingHeader(t *testing.T) {
	g := New("secret-token")
	r := httptest.NewRequest(http.MethodPost, "/mcp/message", nil)
	if g.Allow(r) {
		t.Fatal("expected missing Authorization header to be rejected")
	}
}

func TestGateRejectsWrongToken(t *testing.T) {
	g := New("secret-token")
	r := httptest.NewRequest(http.MethodPost, "/mcp/message", nil)
	r.Header.Set("Authorization", "Bearer wrong-token")
	if g.Allow(r) {
		t.Fatal("expected wrong token to be rejected")
	}
}

func TestGateAllowsCorrectToken(t *testing.T) {
	g := New("secret-token")
	r := httptest.NewRequest(http.MethodPost, "/mcp/message", nil)
	r.Header.Set("Authorization", "Bearer secret-token")
	if !g.Allow(r) {
		t.Fatal("expected correct token to be allowed")
	}
}

func TestGateMiddleware(t *testing.T) {
	g := New("secret-token")
	called := false
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/mcp/message", nil)
	h.ServeHTTP(w, r)
	if called {
		t.Fatal("handler should not run without a valid token")
	}
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/mcp/message", nil)
	r.Header.Set("Authorization", "Bearer secret-token")
	h.ServeHTTP(w, r)
	if !called {
		t.Fatal("handler should run with a valid token")
	}
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
