package duckduckgo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serpPage = `<!DOCTYPE html>
<html><body>
<div class="result">
  <h2 class="result__title">
    <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Facme.example%2Fcontact&rut=abc">Acme Corp - Contact</a>
  </h2>
  <a class="result__snippet">Reach our sales team by phone or email.</a>
</div>
<div class="result">
  <h2 class="result__title">
    <a class="result__a" href="https://acme.example/about">Acme Corp - About</a>
  </h2>
  <a class="result__snippet">Who we are.</a>
</div>
<div class="result">
  <h2 class="result__title"><span>ad block, no link</span></h2>
</div>
</body></html>`

func TestSearch_ParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "acme corp", r.URL.Query().Get("q"))
		assert.Empty(t, r.URL.Query().Get("s"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(serpPage)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	results, err := client.Search(context.Background(), "acme corp", 1)

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Acme Corp - Contact", results[0].Title)
	assert.Equal(t, "https://acme.example/contact", results[0].URL)
	assert.Equal(t, "Reach our sales team by phone or email.", results[0].Snippet)
	assert.Equal(t, "https://acme.example/about", results[1].URL)
}

func TestSearch_PaginationOffset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "30", r.URL.Query().Get("s"))
		_, _ = w.Write([]byte(`<html><body></body></html>`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	results, err := client.Search(context.Background(), "acme", 2)

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), "acme", 1)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}

func TestResolveRedirect(t *testing.T) {
	tests := []struct {
		name string
		href string
		want string
	}{
		{"wrapped", "//duckduckgo.com/l/?uddg=" + url.QueryEscape("https://acme.example/x?y=1"), "https://acme.example/x?y=1"},
		{"direct", "https://acme.example/about", "https://acme.example/about"},
		{"relative junk", "/y.js?ad", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveRedirect(tt.href))
		})
	}
}
