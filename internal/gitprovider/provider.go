// Package gitprovider holds the HTTP clients for Git-hosting APIs the agent
// talks to. Each provider implements the same capability interface over a
// shared http.Client; there is no inheritance hierarchy, only per-provider
// header and URL construction.
package gitprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrNotFound       = errors.New("resource not found")
	ErrRateLimit      = errors.New("rate limit exceeded")
)

// Provider is the capability surface a Git host must offer.
type Provider interface {
	Name() string
	// Headers returns the authenticated request headers for the provider.
	Headers(ctx context.Context) (http.Header, error)
	// Request performs a REST call and decodes the JSON response into out.
	// The returned headers expose pagination metadata.
	Request(ctx context.Context, method, url string, params, out any) (http.Header, error)
	// GraphQL executes a GraphQL query against the provider's endpoint.
	GraphQL(ctx context.Context, query string, variables map[string]any, out any) error
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// classifyStatus maps provider API status codes onto the shared error set.
func classifyStatus(provider string, status int, body string) error {
	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: invalid %s token", ErrAuthentication, provider)
	case http.StatusNotFound:
		return fmt.Errorf("%w on %s API", ErrNotFound, provider)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w on %s API", ErrRateLimit, provider)
	}
	return fmt.Errorf("%s API status %d: %s", provider, status, strings.TrimSpace(body))
}

func doJSON(ctx context.Context, client *http.Client, provider, method, rawURL string, headers http.Header, params, out any) (http.Header, error) {
	var body io.Reader
	if params != nil {
		if method == http.MethodGet {
			// GET carries params in the query string, everything else in
			// the JSON body.
			q, err := queryValues(params)
			if err != nil {
				return nil, fmt.Errorf("%s params: %w", provider, err)
			}
			rawURL = appendQuery(rawURL, q)
		} else {
			buf, err := json.Marshal(params)
			if err != nil {
				return nil, err
			}
			body = bytes.NewReader(buf)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", provider, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s response: %w", provider, err)
	}
	if resp.StatusCode >= 400 {
		return nil, classifyStatus(provider, resp.StatusCode, string(raw))
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("%s response: %w", provider, err)
		}
	}
	return resp.Header, nil
}

func queryValues(params any) (url.Values, error) {
	switch p := params.(type) {
	case url.Values:
		return p, nil
	case map[string]string:
		q := url.Values{}
		for k, v := range p {
			q.Set(k, v)
		}
		return q, nil
	case map[string]any:
		q := url.Values{}
		for k, v := range p {
			q.Set(k, fmt.Sprint(v))
		}
		return q, nil
	}
	return nil, fmt.Errorf("unsupported query params type %T", params)
}

func appendQuery(rawURL string, q url.Values) string {
	if len(q) == 0 {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + q.Encode()
}

// RedactHeaders masks credential-bearing header values for logging.
func RedactHeaders(headers http.Header) http.Header {
	sensitive := []string{"authorization", "token", "secret", "cookie"}
	out := http.Header{}
	for key, values := range headers {
		lower := strings.ToLower(key)
		masked := false
		for _, kw := range sensitive {
			if strings.Contains(lower, kw) {
				masked = true
				break
			}
		}
		if masked {
			out[key] = []string{"***"}
			continue
		}
		out[key] = append([]string(nil), values...)
	}
	return out
}
