package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/api/v1/users":                 "/api/v1/users",
		"/api/v1/users/abc":             "/api/v1/users/:id",
		"/api/v1/users/search":          "/api/v1/users/search",
		"/api/v1/users/abc/roles/def":   "/api/v1/users/:id/roles/:id",
		"/api/v1/roles/xyz":             "/api/v1/roles/:id",
		"/dashboard/secrets/tok1":       "/dashboard/secrets/:id",
		"/dashboard/users/new":          "/dashboard/users/new",
		"/api/v1/users?skip=0&limit=10": "/api/v1/users",
		"/api/v1/roles/xyz/users":       "/api/v1/roles/:id/users",
		"/healthz":                      "/healthz",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
