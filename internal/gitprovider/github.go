package gitprovider

import (
	"context"
	"net/http"
)

const (
	githubBaseURL    = "https://api.github.com"
	githubGraphQLURL = "https://api.github.com/graphql"
)

type GitHub struct {
	token      string
	baseURL    string
	graphqlURL string
	client     *http.Client
}

// NewGitHub builds a GitHub client. baseURL overrides the public API host for
// GitHub Enterprise installs; empty means github.com.
func NewGitHub(token, baseURL string) *GitHub {
	gh := &GitHub{
		token:      token,
		baseURL:    githubBaseURL,
		graphqlURL: githubGraphQLURL,
		client:     newHTTPClient(),
	}
	if baseURL != "" {
		gh.baseURL = baseURL
		gh.graphqlURL = baseURL + "/graphql"
	}
	return gh
}

func (g *GitHub) Name() string { return "github" }

func (g *GitHub) BaseURL() string { return g.baseURL }

func (g *GitHub) Headers(ctx context.Context) (http.Header, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+g.token)
	headers.Set("Accept", "application/vnd.github.v3+json")
	return headers, nil
}

func (g *GitHub) Request(ctx context.Context, method, url string, params, out any) (http.Header, error) {
	headers, err := g.Headers(ctx)
	if err != nil {
		return nil, err
	}
	return doJSON(ctx, g.client, g.Name(), method, url, headers, params, out)
}

func (g *GitHub) GraphQL(ctx context.Context, query string, variables map[string]any, out any) error {
	headers, err := g.Headers(ctx)
	if err != nil {
		return err
	}
	payload := map[string]any{"query": query, "variables": variables}
	_, err = doJSON(ctx, g.client, g.Name(), http.MethodPost, g.graphqlURL, headers, payload, out)
	return err
}
