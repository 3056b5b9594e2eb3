package gitprovider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	assert.ErrorIs(t, classifyStatus("github", http.StatusUnauthorized, ""), ErrAuthentication)
	assert.ErrorIs(t, classifyStatus("github", http.StatusNotFound, ""), ErrNotFound)
	assert.ErrorIs(t, classifyStatus("gitlab", http.StatusTooManyRequests, ""), ErrRateLimit)

	err := classifyStatus("github", http.StatusBadGateway, " upstream down ")
	assert.NotErrorIs(t, err, ErrAuthentication)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "upstream down")
}

func TestGitHubRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.github.v3+json", r.Header.Get("Accept"))
		w.Header().Set("X-Ratelimit-Remaining", "42")
		json.NewEncoder(w).Encode(map[string]string{"login": "octocat"})
	}))
	defer srv.Close()

	gh := NewGitHub("tok", srv.URL)
	var out struct {
		Login string `json:"login"`
	}
	headers, err := gh.Request(context.Background(), http.MethodGet, gh.BaseURL()+"/user", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "octocat", out.Login)
	assert.Equal(t, "42", headers.Get("X-Ratelimit-Remaining"))
}

func TestGitHubRequestGetSendsQueryParams(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	gh := NewGitHub("tok", srv.URL)
	_, err := gh.Request(context.Background(), http.MethodGet, gh.BaseURL()+"/user/repos",
		map[string]string{"per_page": "5", "page": "2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "5", gotQuery.Get("per_page"))
	assert.Equal(t, "2", gotQuery.Get("page"))

	// Params merge into an existing query string instead of replacing it.
	_, err = gh.Request(context.Background(), http.MethodGet, gh.BaseURL()+"/user/repos?sort=updated",
		url.Values{"page": []string{"3"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "updated", gotQuery.Get("sort"))
	assert.Equal(t, "3", gotQuery.Get("page"))
}

func TestGitHubRequestErrorClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "Bad credentials"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	gh := NewGitHub("bad", srv.URL)
	_, err := gh.Request(context.Background(), http.MethodGet, gh.BaseURL()+"/user", nil, nil)
	require.ErrorIs(t, err, ErrAuthentication)
}

func TestGitHubGraphQL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/graphql", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		var payload struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Contains(t, payload.Query, "viewer")
		assert.Equal(t, "main", payload.Variables["ref"])
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"ok": true}})
	}))
	defer srv.Close()

	gh := NewGitHub("tok", srv.URL)
	var out map[string]any
	err := gh.GraphQL(context.Background(), "query { viewer { login } }", map[string]any{"ref": "main"}, &out)
	require.NoError(t, err)
}

func TestGitLabURLs(t *testing.T) {
	gl := NewGitLab("tok", "")
	assert.Equal(t, "https://gitlab.com/api/v4", gl.BaseURL())

	gl = NewGitLab("tok", "https://gitlab.corp.example.com")
	assert.Equal(t, "https://gitlab.corp.example.com/api/v4", gl.BaseURL())
}

func TestGitLabNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "404 Project Not Found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	gl := &GitLab{token: "tok", baseURL: srv.URL, graphqlURL: srv.URL, client: newHTTPClient()}
	_, err := gl.Request(context.Background(), http.MethodGet, gl.BaseURL()+"/projects/1", nil, nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedactHeaders(t *testing.T) {
	in := http.Header{}
	in.Set("Authorization", "Bearer secret-token")
	in.Set("Private-Token", "glpat-xyz")
	in.Set("Cookie", "session=1")
	in.Set("Accept", "application/json")

	out := RedactHeaders(in)
	assert.Equal(t, []string{"***"}, out["Authorization"])
	assert.Equal(t, []string{"***"}, out["Private-Token"])
	assert.Equal(t, []string{"***"}, out["Cookie"])
	assert.Equal(t, []string{"application/json"}, out["Accept"])

	// The original is left untouched.
	assert.Equal(t, "Bearer secret-token", in.Get("Authorization"))
}
