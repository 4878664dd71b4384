package repo

import (
	"log/slog"

	"starbash/internal/engine"
)

// Loader resolves a configured set of repositories into a single
// Union, dispatching each by its URL scheme.
type Loader struct {
	Remote *RemoteClient
	Log    *slog.Logger

	byID map[string]engine.Repository
}

// NewLoader builds a Loader; remoteCacheRoot is where fetched remote
// documents are cached.
func NewLoader(remoteCacheRoot string, log *slog.Logger) *Loader {
	return &Loader{Remote: NewRemoteClient(remoteCacheRoot), Log: log, byID: map[string]engine.Repository{}}
}

// Load resolves every repo in repos (in ascending Precedence order)
// into a merged Union. Repositories are indexed by id first so imports
// can reference a not-yet-processed repository by id.
func (l *Loader) Load(repos []engine.Repository) (*Union, error) {
	for _, r := range repos {
		l.byID[r.ID] = r
	}

	u := NewUnion()
	for _, r := range orderByPrecedence(repos) {
		doc, err := l.loadOne(r)
		if err != nil {
			return nil, err
		}
		u.Merge(doc, r)
	}
	return u, nil
}

func (l *Loader) loadOne(r engine.Repository) (Document, error) {
	switch r.Scheme {
	case engine.SchemeLocal:
		return LoadLocal(r, l.resolveRepo)
	case engine.SchemePackaged:
		return LoadPackaged(r)
	case engine.SchemeRemote:
		doc, warning, err := LoadRemote(r, l.Remote)
		if warning != "" && l.Log != nil {
			l.Log.Warn("remote repository degraded to cache", "repo", r.ID, "reason", warning)
		}
		return doc, err
	default:
		return Document{}, &engine.UnknownSchemeError{URL: r.URL}
	}
}

func (l *Loader) resolveRepo(id string) (engine.Repository, error) {
	r, ok := l.byID[id]
	if !ok {
		return engine.Repository{}, &engine.ImportTargetNotFoundError{RepoID: id, Path: "", Key: ""}
	}
	return r, nil
}

func orderByPrecedence(repos []engine.Repository) []engine.Repository {
	out := append([]engine.Repository(nil), repos...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Precedence < out[j-1].Precedence; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
