package repo

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"starbash/internal/engine"
)

// DefaultConfigFile is the canonical document name a local repository
// root is expected to contain.
const DefaultConfigFile = "starbash.toml"

// LoadLocal resolves repo (scheme local) into a fully import-resolved
// Document rooted at repo.Root.
func LoadLocal(repo engine.Repository, resolveRepo func(string) (engine.Repository, error)) (Document, error) {
	return ResolveImports(repo, DefaultConfigFile, resolveRepo)
}

// Watcher watches a local repository's root for changes and signals
// the caller to re-ingest, following the
// FileSystemWatcher/processEvents goroutine pattern.
type Watcher struct {
	watcher *fsnotify.Watcher
	Events  chan string // repo ids needing re-ingestion
	log     *slog.Logger
	byPath  map[string]string // watched dir -> repo id
}

// NewWatcher starts watching the root directories of every local repo
// in repos.
func NewWatcher(repos []engine.Repository, log *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{watcher: fw, Events: make(chan string, 64), log: log, byPath: map[string]string{}}
	for _, r := range repos {
		if r.Scheme != engine.SchemeLocal {
			continue
		}
		if err := fw.Add(r.Root); err != nil {
			fw.Close()
			return nil, err
		}
		w.byPath[filepath.Clean(r.Root)] = r.ID
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			dir := filepath.Dir(ev.Name)
			repoID, known := w.byPath[filepath.Clean(dir)]
			if !known {
				repoID, known = w.byPath[filepath.Clean(ev.Name)]
			}
			if !known {
				continue
			}
			if w.log != nil {
				w.log.Debug("repository changed", "repo", repoID, "path", ev.Name, "op", ev.Op.String())
			}
			w.Events <- repoID
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Warn("repository watch error", "error", err)
			}
		}
	}
}

// Close stops the watcher and closes Events.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	close(w.Events)
	return err
}
