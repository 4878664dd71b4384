package repo

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"starbash/internal/engine"
)

// remoteCacheTTL is the bounded stale-if-error window: a cached
// document younger than this is served without attempting a fetch at
// all; older than this, a conditional GET is attempted and failures
// fall back to the cache with a warning rather than erroring.
const remoteCacheTTL = 24 * time.Hour

// cacheMeta is the sidecar written next to a cached remote document,
// tracking the validator needed for a conditional GET.
type cacheMeta struct {
	ETag      string    `json:"etag"`
	FetchedAt time.Time `json:"fetched_at"`
}

// RemoteClient fetches a remote repository's document with a local
// cache, using stdlib net/http: the document schemes in play here are
// plain HTTP GETs of a single TOML file, which doesn't need a
// dedicated client library the way the catalog's image tooling needs
// exiftool/ImageMagick.
type RemoteClient struct {
	HTTP      *http.Client
	CacheRoot string
}

// NewRemoteClient builds a RemoteClient caching fetched documents under
// cacheRoot.
func NewRemoteClient(cacheRoot string) *RemoteClient {
	return &RemoteClient{HTTP: http.DefaultClient, CacheRoot: cacheRoot}
}

func (c *RemoteClient) cachePaths(url string) (docPath, metaPath string) {
	name := cacheFileName(url)
	return filepath.Join(c.CacheRoot, name+".toml"), filepath.Join(c.CacheRoot, name+".meta.json")
}

// cacheFileName derives a filesystem-safe cache key from a URL without
// pulling in a hashing dependency the rest of the pack doesn't use.
func cacheFileName(url string) string {
	out := make([]byte, 0, len(url))
	for i := 0; i < len(url); i++ {
		b := url[i]
		switch {
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
			out = append(out, b)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// Fetch retrieves repo's document, serving the cache when the TTL
// hasn't elapsed, attempting a conditional GET otherwise, and falling
// back to any existing cache (with a caller-visible warning) on
// network failure. A hard RemoteUnavailableError is only returned when
// there is no cache to fall back to at all.
func (c *RemoteClient) Fetch(repo engine.Repository) (data []byte, warning string, err error) {
	docPath, metaPath := c.cachePaths(repo.URL)
	meta, hasCache := readCacheMeta(metaPath)

	if hasCache && time.Since(meta.FetchedAt) < remoteCacheTTL {
		if cached, err := os.ReadFile(docPath); err == nil {
			return cached, "", nil
		}
	}

	req, err := http.NewRequest(http.MethodGet, repo.URL, nil)
	if err != nil {
		return nil, "", &engine.RemoteUnavailableError{URL: repo.URL, Err: err}
	}
	if hasCache && meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}

	resp, httpErr := c.HTTP.Do(req)
	if httpErr != nil {
		if hasCache {
			if cached, readErr := os.ReadFile(docPath); readErr == nil {
				return cached, fmt.Sprintf("remote %s unreachable (%v), serving cached copy", repo.URL, httpErr), nil
			}
		}
		return nil, "", &engine.RemoteUnavailableError{URL: repo.URL, Err: httpErr}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		if cached, readErr := os.ReadFile(docPath); readErr == nil {
			writeCacheMeta(metaPath, cacheMeta{ETag: meta.ETag, FetchedAt: time.Now()})
			return cached, "", nil
		}
	}

	if resp.StatusCode != http.StatusOK {
		if hasCache {
			if cached, readErr := os.ReadFile(docPath); readErr == nil {
				return cached, fmt.Sprintf("remote %s returned %d, serving cached copy", repo.URL, resp.StatusCode), nil
			}
		}
		return nil, "", &engine.RemoteUnavailableError{URL: repo.URL, Err: fmt.Errorf("http status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &engine.RemoteUnavailableError{URL: repo.URL, Err: err}
	}

	if err := os.MkdirAll(c.CacheRoot, 0o755); err == nil {
		_ = os.WriteFile(docPath, body, 0o644)
		writeCacheMeta(metaPath, cacheMeta{ETag: resp.Header.Get("ETag"), FetchedAt: time.Now()})
	}
	return body, "", nil
}

func readCacheMeta(path string) (cacheMeta, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cacheMeta{}, false
	}
	var m cacheMeta
	if json.Unmarshal(data, &m) != nil {
		return cacheMeta{}, false
	}
	return m, true
}

func writeCacheMeta(path string, m cacheMeta) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0o644)
}

// LoadRemote resolves repo (scheme remote) via client, parsing the
// fetched document. A non-empty warning should be surfaced to the
// caller's logger; it does not indicate failure.
func LoadRemote(repo engine.Repository, client *RemoteClient) (Document, string, error) {
	data, warning, err := client.Fetch(repo)
	if err != nil {
		return Document{}, "", err
	}
	var root map[string]any
	if err := toml.Unmarshal(data, &root); err != nil {
		return Document{}, warning, fmt.Errorf("parse remote document %s: %w", repo.URL, err)
	}
	return Document{RepoID: repo.ID, Path: repo.URL, Root: root}, warning, nil
}
