package research

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearchClient_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/search" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-API-KEY") != "secret" {
			t.Errorf("Expected API key header, got %q", r.Header.Get("X-API-KEY"))
		}
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Q != "chiefs injuries" {
			t.Errorf("Expected query, got %q", req.Q)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"organic":[{"title":"A","snippet":"one","link":"l1"},{"title":"B","snippet":"two"},{"title":"C","snippet":"three"}]}`))
	}))
	defer server.Close()

	c := NewSearchClient(WithSearchURL(server.URL), WithSearchKey("secret"), WithNumResults(2))
	results, err := c.Search(context.Background(), "chiefs injuries")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].Title != "A" || results[1].Snippet != "two" {
		t.Errorf("Unexpected results: %+v", results)
	}
}

func TestSearchClient_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("bad key"))
	}))
	defer server.Close()

	c := NewSearchClient(WithSearchURL(server.URL))
	if _, err := c.Search(context.Background(), "q"); err == nil {
		t.Error("Expected error for 403")
	}
}
