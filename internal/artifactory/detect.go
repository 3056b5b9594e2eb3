package artifactory

import (
	"os"
	"path/filepath"
)

// DetectRepositoryType inspects a checked-out repository and returns the
// package ecosystem its dependencies resolve through, so only the matching
// registry setup command needs to run inside the sandbox. Empty means no
// supported ecosystem was recognized.
func DetectRepositoryType(repoPath string) RepositoryType {
	markers := []struct {
		name string
		repo RepositoryType
	}{
		{"go.mod", RepoGo},
		{"package.json", RepoJavaScript},
		{"pyproject.toml", RepoPython},
		{"requirements.txt", RepoPython},
		{"pom.xml", RepoJava},
		{"build.gradle", RepoJava},
	}
	for _, m := range markers {
		if _, err := os.Stat(filepath.Join(repoPath, m.name)); err == nil {
			return m.repo
		}
	}
	return ""
}
