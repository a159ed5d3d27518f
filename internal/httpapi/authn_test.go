package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"accessdesk.org/internal/directory"
	"accessdesk.org/internal/store/mem"
)

func newTestAPI(t *testing.T) (*API, *directory.Service, http.Handler) {
	t.Helper()
	svc, err := directory.NewService(mem.New())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	api := New(svc, ReadyProbe{}, "", "test")
	return api, svc, api.Router(nil, 1<<20)
}

func issueToken(t *testing.T, svc *directory.Service) directory.Token {
	t.Helper()
	tok, err := svc.CreateToken(context.Background())
	if err != nil {
		t.Fatalf("CreateToken failed: %v", err)
	}
	return tok
}

func TestRequireTokenMissing(t *testing.T) {
	_, _, handler := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
		t.Fatalf("expected WWW-Authenticate: Bearer, got %q", got)
	}
}

func TestRequireTokenWrongScheme(t *testing.T) {
	_, _, handler := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireTokenUnknown(t *testing.T) {
	_, _, handler := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
		t.Fatalf("expected WWW-Authenticate: Bearer, got %q", got)
	}
}

func TestRequireTokenValid(t *testing.T) {
	_, svc, handler := newTestAPI(t)
	tok := issueToken(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealthEndpointsNeedNoToken(t *testing.T) {
	_, _, handler := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc123", "abc123", false},
		{"bearer abc123", "abc123", false},
		{"Bearer   abc123  ", "abc123", false},
		{"", "", true},
		{"Bearer ", "", true},
		{"Token abc123", "", true},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("header %q: expected error", tc.header)
			}
			continue
		}
		if err != nil {
			t.Fatalf("header %q: unexpected error %v", tc.header, err)
		}
		if got != tc.want {
			t.Fatalf("header %q: got %q, want %q", tc.header, got, tc.want)
		}
	}
}
