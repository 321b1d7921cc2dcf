package registry

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestServerResolveAppliesRoundRobin(t *testing.T) {
	r := New()
	r.Register("database", "http://a", nil)
	r.Register("database", "http://b", nil)

	srv := httptest.NewServer(NewServer(r))
	defer srv.Close()

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		resp, err := srv.Client().Get(srv.URL + "/servers/resolve?role=database")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		var out resolveResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		resp.Body.Close()
		seen[out.Endpoint]++
	}
	if seen["http://a"] != 2 || seen["http://b"] != 2 {
		t.Fatalf("expected even round-robin split over HTTP, got %v", seen)
	}
}

func TestServerResolveMissingRoleIs404(t *testing.T) {
	r := New()
	srv := httptest.NewServer(NewServer(r))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/servers/resolve?role=database")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
