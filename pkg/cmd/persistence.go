package cmd

import (
	"strings"

	"github.com/stagehq/stagehand/pkg/persistence"
	"github.com/stagehq/stagehand/pkg/persistence/file"
)

var supportedPersistenceProviders = []string{"file"}

// NewPersistence builds a definition store from a URL. Unknown schemes
// fall back to file storage, treating the URL as a directory path.
func NewPersistence(databaseURL string) persistence.Persistence {
	switch parsePersistenceProvider(databaseURL) {
	default:
		return file.NewPersistence(databaseURL)
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}
