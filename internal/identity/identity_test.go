package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func captureClientID(t *testing.T, req *http.Request) (string, *httptest.ResponseRecorder) {
	t.Helper()
	var got string
	h := Middleware(true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = ClientIDFromContext(r.Context())
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return got, rr
}

func TestMiddlewareMintsClientID(t *testing.T) {
	id, rr := captureClientID(t, httptest.NewRequest(http.MethodGet, "/", nil))
	if id == "" {
		t.Fatal("expected a client id")
	}

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != ClientCookieName || cookies[0].Value != id {
		t.Fatalf("expected client cookie carrying %q, got %+v", id, cookies)
	}
}

func TestMiddlewareReusesCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: ClientCookieName, Value: "device-1"})

	id, _ := captureClientID(t, req)
	if id != "device-1" {
		t.Fatalf("expected device-1, got %q", id)
	}
}

func TestMiddlewarePrefersHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ClientHeaderName, "forge-cli")
	req.AddCookie(&http.Cookie{Name: ClientCookieName, Value: "device-1"})

	id, rr := captureClientID(t, req)
	if id != "forge-cli" {
		t.Fatalf("expected forge-cli, got %q", id)
	}
	if len(rr.Result().Cookies()) != 0 {
		t.Fatal("header clients must not receive a cookie")
	}
}

func TestMiddlewareRejectsMalformedID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ClientHeaderName, "bad id with spaces")

	id, _ := captureClientID(t, req)
	if id == "bad id with spaces" || id == "" {
		t.Fatalf("expected a freshly minted id, got %q", id)
	}
}
