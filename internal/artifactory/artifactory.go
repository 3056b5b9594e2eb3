// Package artifactory connects the sandbox's package managers to a JFrog
// Artifactory instance: it validates the configuration, renders the jfrog CLI
// commands executed inside the sandbox, and queries the Artifactory REST API
// for available repositories.
package artifactory

import (
	"strings"

	"github.com/kballard/go-shellquote"
)

// RepositoryType names a package ecosystem Artifactory can proxy.
type RepositoryType string

const (
	RepoPython     RepositoryType = "python"
	RepoJavaScript RepositoryType = "javascript"
	RepoJava       RepositoryType = "java"
	RepoGo         RepositoryType = "go"
)

// DefaultServerID is the identifier used when configuring the jfrog CLI.
const DefaultServerID = "sandboxd-artifactory"

type Config struct {
	Host         string                    `yaml:"host"`
	APIKey       string                    `yaml:"api_key"`
	ServerID     string                    `yaml:"server_id"`
	Repositories map[RepositoryType]string `yaml:"repositories"`
}

// Configured reports whether the integration has enough data to run.
func (c Config) Configured() bool {
	return c.Host != "" && c.APIKey != ""
}

// NormalizedHost returns the host without a trailing slash.
func (c Config) NormalizedHost() string {
	return strings.TrimRight(c.Host, "/")
}

var configSubcommands = map[RepositoryType]string{
	RepoPython:     "pip-config",
	RepoJavaScript: "npm-config",
	RepoJava:       "mvn-config",
	RepoGo:         "go-config",
}

// RepositoryCommands returns the jfrog CLI invocation per configured
// repository type. Repository keys are shell-quoted because they end up in a
// shell line executed inside the sandbox.
func (c Config) RepositoryCommands() map[RepositoryType]string {
	serverID := c.ServerID
	if serverID == "" {
		serverID = DefaultServerID
	}
	commands := map[RepositoryType]string{}
	for repoType, repoKey := range c.Repositories {
		repoKey = strings.TrimSpace(repoKey)
		if repoKey == "" {
			continue
		}
		sub, ok := configSubcommands[repoType]
		if !ok {
			continue
		}
		commands[repoType] = shellquote.Join("jfrog", sub,
			"--server-id-resolve", serverID,
			"--repo-resolve", repoKey,
			"--interactive=false")
	}
	return commands
}
