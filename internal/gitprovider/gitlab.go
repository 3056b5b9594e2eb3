package gitprovider

import (
	"context"
	"net/http"
)

const (
	gitlabBaseURL    = "https://gitlab.com/api/v4"
	gitlabGraphQLURL = "https://gitlab.com/api/graphql"
)

type GitLab struct {
	token      string
	baseURL    string
	graphqlURL string
	client     *http.Client
}

func NewGitLab(token, baseURL string) *GitLab {
	gl := &GitLab{
		token:      token,
		baseURL:    gitlabBaseURL,
		graphqlURL: gitlabGraphQLURL,
		client:     newHTTPClient(),
	}
	if baseURL != "" {
		gl.baseURL = baseURL + "/api/v4"
		gl.graphqlURL = baseURL + "/api/graphql"
	}
	return gl
}

func (g *GitLab) Name() string { return "gitlab" }

func (g *GitLab) BaseURL() string { return g.baseURL }

func (g *GitLab) Headers(ctx context.Context) (http.Header, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+g.token)
	return headers, nil
}

func (g *GitLab) Request(ctx context.Context, method, url string, params, out any) (http.Header, error) {
	headers, err := g.Headers(ctx)
	if err != nil {
		return nil, err
	}
	return doJSON(ctx, g.client, g.Name(), method, url, headers, params, out)
}

func (g *GitLab) GraphQL(ctx context.Context, query string, variables map[string]any, out any) error {
	headers, err := g.Headers(ctx)
	if err != nil {
		return err
	}
	payload := map[string]any{"query": query, "variables": variables}
	_, err = doJSON(ctx, g.client, g.Name(), http.MethodPost, g.graphqlURL, headers, payload, out)
	return err
}
