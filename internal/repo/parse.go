package repo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"starbash/internal/engine"
)

// ParseDocument decodes a repository's declarative TOML file into a
// generic table, without resolving imports.
func ParseDocument(repoID, path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, &engine.MissingFileError{RepoID: repoID, Path: path}
		}
		return Document{}, fmt.Errorf("read document %s: %w", path, err)
	}

	var root map[string]any
	if err := toml.Unmarshal(data, &root); err != nil {
		return Document{}, fmt.Errorf("parse document %s: %w", path, err)
	}
	return Document{RepoID: repoID, Path: path, Root: root}, nil
}

// fileCache memoizes parsed documents per run, keyed on (repo, path),
// per the import resolver's "a per-run file cache keys on (repo, file
// path) to avoid repeated reads" contract.
type fileCache struct {
	docs map[string]Document
}

func newFileCache() *fileCache {
	return &fileCache{docs: map[string]Document{}}
}

func (c *fileCache) load(repoID, path string) (Document, error) {
	key := repoID + "\x00" + path
	if doc, ok := c.docs[key]; ok {
		return doc, nil
	}
	doc, err := ParseDocument(repoID, path)
	if err != nil {
		return Document{}, err
	}
	c.docs[key] = doc
	return doc, nil
}

// ResolveImports parses repo's top-level document at root/configFile
// and recursively replaces every `import` sub-table with the
// referenced node, detecting cycles along the chain of (repo, path,
// key) triples currently being resolved.
func ResolveImports(repo engine.Repository, configFile string, resolveRepo func(repoID string) (engine.Repository, error)) (Document, error) {
	cache := newFileCache()
	path := filepath.Join(repo.Root, configFile)
	doc, err := cache.load(repo.ID, path)
	if err != nil {
		return Document{}, err
	}

	resolved := map[string]any{}
	for k, v := range doc.Root {
		rv, err := resolveValue(v, repo, path, cache, resolveRepo, nil)
		if err != nil {
			return Document{}, err
		}
		resolved[k] = rv
	}
	doc.Root = resolved
	return doc, nil
}

type chainLink struct {
	repoID, path, key string
}

func chainString(chain []chainLink) []string {
	out := make([]string, len(chain))
	for i, c := range chain {
		out[i] = c.repoID + ":" + c.path + "#" + c.key
	}
	return out
}

// resolveValue walks one value, replacing any table carrying an
// `import` key with the deep-copied node it references. Tables nested
// inside an array-of-tables resolve the same way, with the import's
// fields merged into the enclosing item (the item's own keys win on
// collision).
func resolveValue(v any, repo engine.Repository, path string, cache *fileCache,
	resolveRepo func(string) (engine.Repository, error), chain []chainLink) (any, error) {

	switch t := v.(type) {
	case map[string]any:
		return resolveTable(t, repo, path, cache, resolveRepo, chain)
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, item := range t {
			rv, err := resolveTable(item, repo, path, cache, resolveRepo, chain)
			if err != nil {
				return nil, err
			}
			m, _ := rv.(map[string]any)
			out[i] = m
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			rv, err := resolveValue(item, repo, path, cache, resolveRepo, chain)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveTable(t map[string]any, repo engine.Repository, path string, cache *fileCache,
	resolveRepo func(string) (engine.Repository, error), chain []chainLink) (any, error) {

	imp, hasImport := t["import"]
	if !hasImport {
		out := map[string]any{}
		for k, v := range t {
			rv, err := resolveValue(v, repo, path, cache, resolveRepo, chain)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	}

	target, ok := imp.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("repo %s: %s: import table must itself be a table", repo.ID, path)
	}
	targetRepoID, _ := target["repo"].(string)
	if targetRepoID == "" {
		targetRepoID = repo.ID
	}
	targetFile, _ := target["file"].(string)
	targetKey, _ := target["key"].(string)

	targetRepo := repo
	if targetRepoID != repo.ID {
		r, err := resolveRepo(targetRepoID)
		if err != nil {
			return nil, err
		}
		targetRepo = r
	}
	targetPath := filepath.Join(targetRepo.Root, targetFile)

	link := chainLink{repoID: targetRepoID, path: targetPath, key: targetKey}
	for _, c := range chain {
		if c == link {
			return nil, &engine.ImportCycleError{Chain: chainString(append(chain, link))}
		}
	}

	targetDoc, err := cache.load(targetRepoID, targetPath)
	if err != nil {
		return nil, err
	}
	node, ok := lookupDotted(targetDoc.Root, targetKey)
	if !ok {
		return nil, &engine.ImportTargetNotFoundError{RepoID: targetRepoID, Path: targetFile, Key: targetKey}
	}

	resolvedNode, err := resolveValue(node, targetRepo, targetPath, cache, resolveRepo, append(chain, link))
	if err != nil {
		return nil, err
	}
	nodeTable, ok := resolvedNode.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("repo %s: import target %s#%s is not a table", targetRepoID, targetFile, targetKey)
	}

	// Deep-copy the imported node, then let the enclosing item's own
	// keys (everything but "import") win on collision.
	merged := map[string]any{}
	for k, v := range nodeTable {
		merged[k] = v
	}
	for k, v := range t {
		if k == "import" {
			continue
		}
		rv, err := resolveValue(v, repo, path, cache, resolveRepo, chain)
		if err != nil {
			return nil, err
		}
		merged[k] = rv
	}
	return merged, nil
}

// lookupDotted resolves a dotted key path ("stage.calibrate-flat")
// against a nested map, descending through table values.
func lookupDotted(root map[string]any, key string) (any, bool) {
	if key == "" {
		return root, true
	}
	cur := any(root)
	for _, part := range splitDotted(key) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func splitDotted(key string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			parts = append(parts, key[start:i])
			start = i + 1
		}
	}
	parts = append(parts, key[start:])
	return parts
}
