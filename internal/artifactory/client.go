package artifactory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const apiTimeout = 10 * time.Second

// Client queries the Artifactory REST API.
type Client struct {
	host   string
	apiKey string
	http   *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		host:   cfg.NormalizedHost(),
		apiKey: cfg.APIKey,
		http:   &http.Client{Timeout: apiTimeout},
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.host + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-JFrog-Art-Api", c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("artifactory request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("artifactory api responded with status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("artifactory response: %w", err)
	}
	return nil
}

// SupportedRepositoryTypes returns the repository types this Artifactory
// instance can serve, filtered to the ecosystems the sandbox knows how to
// configure.
func (c *Client) SupportedRepositoryTypes(ctx context.Context) ([]RepositoryType, error) {
	var payload []map[string]any
	if err := c.get(ctx, "/api/repositories/types", nil, &payload); err != nil {
		return nil, err
	}
	available := extractPackageTypes(payload)
	var supported []RepositoryType
	for _, t := range []RepositoryType{RepoPython, RepoJavaScript, RepoJava, RepoGo} {
		if available[string(t)] {
			supported = append(supported, t)
		}
	}
	return supported, nil
}

// SearchRepositories searches repositories by name, optionally filtered by
// package type.
func (c *Client) SearchRepositories(ctx context.Context, query string, repoType RepositoryType, limit int) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	params := url.Values{}
	params.Set("name", "*"+query+"*")
	if repoType != "" {
		params.Set("packageType", string(repoType))
	}
	var payload map[string]any
	if err := c.get(ctx, "/api/search/repositories", params, &payload); err != nil {
		return nil, err
	}
	names := extractRepositoryNames(payload)
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	return names, nil
}

// Different Artifactory versions spell the package type field differently;
// try the known spellings in order.
func extractPackageTypes(payload []map[string]any) map[string]bool {
	types := map[string]bool{}
	for _, item := range payload {
		for _, key := range []string{"packageType", "repositoryType", "repoType", "type", "key"} {
			if raw, ok := item[key].(string); ok && strings.TrimSpace(raw) != "" {
				types[strings.ToLower(strings.TrimSpace(raw))] = true
				break
			}
		}
	}
	return types
}

func extractRepositoryNames(payload map[string]any) []string {
	results, ok := payload["results"].([]any)
	if !ok {
		return nil
	}
	var names []string
	seen := map[string]bool{}
	for _, raw := range results {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		var name string
		for _, key := range []string{"repo", "repository", "key"} {
			if v, ok := item[key].(string); ok && strings.TrimSpace(v) != "" {
				name = strings.TrimSpace(v)
				break
			}
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
