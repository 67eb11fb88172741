package jina

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/https://example.com/events", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "markdown", r.Header.Get("X-Return-Format"))

		resp := readResponse{Code: 200}
		resp.Data.Title = "Spring Gala 2026"
		resp.Data.URL = "https://example.com/events"
		resp.Data.Content = "# Spring Gala\n\nJoin us in Austin."
		resp.Data.Usage.Tokens = 42
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	page, err := c.Read(context.Background(), "https://example.com/events")
	require.NoError(t, err)

	assert.Equal(t, "Spring Gala 2026", page.Title)
	assert.Equal(t, "# Spring Gala\n\nJoin us in Austin.", page.Markdown)
	assert.Equal(t, 42, page.Tokens)
}

func TestReadErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	_, err := c.Read(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestReadRetriesTransientStatus(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		resp := readResponse{Code: 200}
		resp.Data.Content = "ok"
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	page, err := c.Read(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "ok", page.Markdown)
	assert.Equal(t, 2, calls)
}

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Spring%20Gala%20Austin", r.URL.EscapedPath())
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		resp := searchResponse{Code: 200}
		resp.Data = []struct {
			Title string `json:"title"`
			URL   string `json:"url"`
		}{
			{Title: "a", URL: "https://example.com/a"},
			{Title: "dup", URL: "https://example.com/a"},
			{Title: "self", URL: "https://www.google.com/search?q=gala"},
			{Title: "b", URL: "https://example.org/b"},
			{Title: "c", URL: "https://example.net/c"},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithSearchBaseURL(srv.URL))
	urls, err := c.Search(context.Background(), "Spring Gala Austin", 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://example.com/a", "https://example.org/b"}, urls)
}

func TestSearchNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient("k", WithSearchBaseURL(srv.URL))
	urls, err := c.Search(context.Background(), "no such event", 10)
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestIsSearchEngineURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/events", false},
		{"https://www.google.com/search?q=x", true},
		{"https://duckduckgo.com/?q=x", true},
		{"https://s.jina.ai/foo", true},
		{"https://notgoogle.com/page", false},
		{"://bad url", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isSearchEngineURL(tt.url), tt.url)
	}
}
