package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareIssuesAndReusesOwnerCookie(t *testing.T) {
	var seen string
	h := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = OwnerIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if !IsValidOwnerID(seen) {
		t.Fatalf("owner id %q has wrong format", seen)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != seen {
		t.Fatalf("unexpected cookies: %+v", cookies)
	}

	first := seen
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: OwnerCookieName, Value: first})
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != first {
		t.Errorf("owner id = %q, want reused %q", seen, first)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: OwnerCookieName, Value: "forged"})
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen == "forged" || !IsValidOwnerID(seen) {
		t.Errorf("invalid cookie was accepted: %q", seen)
	}
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5123"
	if got := IPFromRequest(req); got != "10.0.0.7" {
		t.Errorf("IPFromRequest = %q, want 10.0.0.7", got)
	}
}
