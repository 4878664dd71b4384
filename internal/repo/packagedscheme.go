package repo

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"

	"starbash/internal/engine"
	"starbash/internal/repo/packaged"
)

// LoadPackaged resolves repo (scheme packaged) by reading the
// bundled default document out of the binary itself. Packaged
// documents are not expected to use `import`, since there is no
// writable root to resolve relative imports against.
func LoadPackaged(repo engine.Repository) (Document, error) {
	data, err := packaged.Defaults.ReadFile(packaged.DefaultsConfigFile)
	if err != nil {
		return Document{}, fmt.Errorf("read packaged document: %w", err)
	}
	var root map[string]any
	if err := toml.Unmarshal(data, &root); err != nil {
		return Document{}, fmt.Errorf("parse packaged document: %w", err)
	}
	return Document{RepoID: repo.ID, Path: packaged.DefaultsConfigFile, Root: root}, nil
}
