package main

import (
	"context"
	"log"
	"net/http"

	"sandboxd/internal/gitprovider"
)

// verifyGitCredentials checks any git-hosting tokens handed to the sandbox
// before provisioning starts, so a revoked token surfaces in the sandboxd log
// instead of as an opaque clone failure inside the sandbox. Verification is
// advisory: a failure is logged, never blocks provisioning.
func verifyGitCredentials(ctx context.Context, sid string, env map[string]string) {
	if token := env["GITHUB_TOKEN"]; token != "" {
		gh := gitprovider.NewGitHub(token, env["GITHUB_BASE_URL"])
		if _, err := gh.Request(ctx, http.MethodGet, gh.BaseURL()+"/user", nil, nil); err != nil {
			log.Printf("github token check failed sid=%s err=%v", sid, err)
		}
	}
	if token := env["GITLAB_TOKEN"]; token != "" {
		gl := gitprovider.NewGitLab(token, env["GITLAB_BASE_URL"])
		if _, err := gl.Request(ctx, http.MethodGet, gl.BaseURL()+"/user", nil, nil); err != nil {
			log.Printf("gitlab token check failed sid=%s err=%v", sid, err)
		}
	}
}
