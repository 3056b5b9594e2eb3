package artifactory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigured(t *testing.T) {
	assert.False(t, Config{}.Configured())
	assert.False(t, Config{Host: "https://arty.example.com"}.Configured())
	assert.False(t, Config{APIKey: "k"}.Configured())
	assert.True(t, Config{Host: "https://arty.example.com", APIKey: "k"}.Configured())
}

func TestNormalizedHost(t *testing.T) {
	assert.Equal(t, "https://arty.example.com", Config{Host: "https://arty.example.com/"}.NormalizedHost())
	assert.Equal(t, "https://arty.example.com", Config{Host: "https://arty.example.com"}.NormalizedHost())
}

func TestRepositoryCommands(t *testing.T) {
	cfg := Config{
		Host:     "https://arty.example.com",
		APIKey:   "k",
		ServerID: "main",
		Repositories: map[RepositoryType]string{
			RepoPython:     "pypi-remote",
			RepoJavaScript: "npm-remote",
			RepoJava:       "maven-remote",
			RepoGo:         "go-remote",
		},
	}
	commands := cfg.RepositoryCommands()
	require.Len(t, commands, 4)
	assert.Equal(t, "jfrog pip-config --server-id-resolve main --repo-resolve pypi-remote --interactive=false", commands[RepoPython])
	assert.Equal(t, "jfrog npm-config --server-id-resolve main --repo-resolve npm-remote --interactive=false", commands[RepoJavaScript])
	assert.Equal(t, "jfrog mvn-config --server-id-resolve main --repo-resolve maven-remote --interactive=false", commands[RepoJava])
	assert.Equal(t, "jfrog go-config --server-id-resolve main --repo-resolve go-remote --interactive=false", commands[RepoGo])
}

func TestRepositoryCommandsSkipsBlankAndUnknown(t *testing.T) {
	cfg := Config{
		Repositories: map[RepositoryType]string{
			RepoPython: "  ",
			"rust":     "cargo-remote",
			RepoGo:     "go-remote",
		},
	}
	commands := cfg.RepositoryCommands()
	require.Len(t, commands, 1)
	assert.Contains(t, commands[RepoGo], "--server-id-resolve "+DefaultServerID)
}

func TestSupportedRepositoryTypes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/repositories/types", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-JFrog-Art-Api"))
		w.Header().Set("Content-Type", "application/json")
		// Mixed field spellings, as returned by different server versions.
		w.Write([]byte(`[
			{"packageType": "Python"},
			{"repositoryType": "go"},
			{"type": "docker"},
			{"key": "javascript"}
		]`))
	}))
	defer srv.Close()

	client := NewClient(Config{Host: srv.URL, APIKey: "test-key"})
	types, err := client.SupportedRepositoryTypes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []RepositoryType{RepoPython, RepoJavaScript, RepoGo}, types)
}

func TestSearchRepositories(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/search/repositories", r.URL.Path)
		assert.Equal(t, "*npm*", r.URL.Query().Get("name"))
		assert.Equal(t, "javascript", r.URL.Query().Get("packageType"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results": [
			{"repo": " npm-remote "},
			{"repository": "npm-local"},
			{"key": "npm-remote"},
			{"other": 1},
			{"repo": "npm-virtual"}
		]}`))
	}))
	defer srv.Close()

	client := NewClient(Config{Host: srv.URL, APIKey: "test-key"})
	names, err := client.SearchRepositories(context.Background(), " npm ", RepoJavaScript, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"npm-remote", "npm-local"}, names)
}

func TestSearchRepositoriesEmptyQuery(t *testing.T) {
	client := NewClient(Config{Host: "http://unused", APIKey: "k"})
	names, err := client.SearchRepositories(context.Background(), "   ", "", 10)
	require.NoError(t, err)
	assert.Nil(t, names)
}

func TestSearchRepositoriesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(Config{Host: srv.URL, APIKey: "k"})
	_, err := client.SearchRepositories(context.Background(), "npm", "", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestDetectRepositoryType(t *testing.T) {
	cases := []struct {
		marker string
		want   RepositoryType
	}{
		{"go.mod", RepoGo},
		{"package.json", RepoJavaScript},
		{"pyproject.toml", RepoPython},
		{"requirements.txt", RepoPython},
		{"pom.xml", RepoJava},
		{"build.gradle", RepoJava},
	}
	for _, tc := range cases {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, tc.marker), []byte("x"), 0o644))
		assert.Equal(t, tc.want, DetectRepositoryType(dir), tc.marker)
	}
	assert.Equal(t, RepositoryType(""), DetectRepositoryType(t.TempDir()))
}
