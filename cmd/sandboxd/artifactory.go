package main

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"sandboxd/internal/artifactory"
)

// Artifactory discovery endpoints for operators picking repository keys for
// the sandbox configuration. Both 404 when no Artifactory is configured.

func (s *server) artifactoryTypes(c *gin.Context) {
	if !s.cfg.Artifactory.Configured() {
		writeError(c, 404, "artifactory is not configured")
		return
	}
	client := artifactory.NewClient(s.cfg.Artifactory)
	types, err := client.SupportedRepositoryTypes(c.Request.Context())
	if err != nil {
		writeError(c, 502, err.Error())
		return
	}
	writeJSON(c, 200, gin.H{"types": types})
}

func (s *server) artifactorySearch(c *gin.Context) {
	if !s.cfg.Artifactory.Configured() {
		writeError(c, 404, "artifactory is not configured")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit <= 0 {
		limit = 20
	}
	client := artifactory.NewClient(s.cfg.Artifactory)
	names, err := client.SearchRepositories(c.Request.Context(),
		c.Query("q"), artifactory.RepositoryType(c.Query("type")), limit)
	if err != nil {
		writeError(c, 502, err.Error())
		return
	}
	writeJSON(c, 200, gin.H{"repositories": names})
}
