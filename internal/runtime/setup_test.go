package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/kubernetes/fake"

	"sandboxd/internal/artifactory"
	"sandboxd/internal/config"
)

func artifactoryConfig() *config.Config {
	cfg := testConfig()
	cfg.Artifactory = artifactory.Config{
		Host:   "https://arty.example.com",
		APIKey: "k",
		Repositories: map[artifactory.RepositoryType]string{
			artifactory.RepoPython: "pypi-remote",
			artifactory.RepoGo:     "go-remote",
		},
	}
	return cfg
}

func TestSetupCommandsAllConfiguredRegistries(t *testing.T) {
	rt := New(fake.NewSimpleClientset(), artifactoryConfig(), "s", Options{})
	require.Len(t, rt.setupCommands, 2)
	// Deterministic order by repository type.
	assert.Contains(t, rt.setupCommands[0], "go-config")
	assert.Contains(t, rt.setupCommands[1], "pip-config")
}

func TestSetupCommandsFilteredByRepoType(t *testing.T) {
	rt := New(fake.NewSimpleClientset(), artifactoryConfig(), "s", Options{
		Env: map[string]string{"REPO_TYPE": "python"},
	})
	require.Len(t, rt.setupCommands, 1)
	assert.Contains(t, rt.setupCommands[0], "pip-config")
}

func TestSetupCommandsUnknownRepoTypeKeepsAll(t *testing.T) {
	rt := New(fake.NewSimpleClientset(), artifactoryConfig(), "s", Options{
		Env: map[string]string{"REPO_TYPE": "rust"},
	})
	assert.Len(t, rt.setupCommands, 2)
}

func TestSetupCommandsUnconfigured(t *testing.T) {
	rt := New(fake.NewSimpleClientset(), testConfig(), "s", Options{})
	assert.Empty(t, rt.setupCommands)
}
