// Package icons resolves file extensions to the Rich Presence art assets
// uploaded for the Discord application.
//
// The manifest is fetched with double fallback: remote GitHub -> local
// cache. Without any manifest the presence mapper passes the raw extension
// through as the asset key.
//
// # HOW TO ADD A NEW FILE ICON
//
//  1. Upload a PNG named after the extension (e.g. "metal") to the Discord
//     Developer Portal -> Rich Presence -> Art Assets
//  2. Add "metal" to "icons" in data/icons.json, or map another extension
//     onto an existing asset in "aliases" (e.g. "hpp": "h")
//  3. Push to main; running daemons pick up the change on next restart
package icons

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"tools.zach/dev/xcodecord/internal/atomicfile"
	"tools.zach/dev/xcodecord/internal/paths"
	"tools.zach/dev/xcodecord/internal/remote"
)

var (
	remoteURL     string
	remoteURLOnce sync.Once
)

func getRemoteURL() string {
	remoteURLOnce.Do(func() { remoteURL = remote.RawURL(paths.IconsDataPath) })
	return remoteURL
}

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Manifest lists the uploaded asset keys.
type Manifest struct {
	// Icons are asset keys, each named after the lowercase extension it
	// depicts.
	Icons []string `json:"icons"`
	// Aliases maps extensions without their own asset onto an asset key.
	Aliases map[string]string `json:"aliases,omitempty"`
}

// Icon returns the asset key for ext, following one alias. Matching is
// case-insensitive. It implements presence.Icons.
func (m *Manifest) Icon(ext string) (string, bool) {
	if m == nil || ext == "" {
		return "", false
	}
	key := strings.ToLower(ext)
	if alias, ok := m.Aliases[key]; ok {
		key = alias
	}
	if slices.Contains(m.Icons, key) {
		return key, true
	}
	return "", false
}

// ///////////////////////////////////////////////
// Public API
// ///////////////////////////////////////////////

// Fetch loads the manifest: remote -> cache. A successful remote fetch
// refreshes the cache in dataDir. Returns nil with an error when both
// sources fail.
func Fetch(ctx context.Context, dataDir string) (*Manifest, error) {
	cache := paths.DataDir{Root: dataDir}.IconsCache()

	if url := getRemoteURL(); url == "" {
		slog.Debug("skipping remote icon fetch: no remote URL configured")
	} else if m, err := fetchRemote(ctx, url); err != nil {
		slog.Debug("remote icon fetch failed", "error", err)
	} else {
		if err := atomicfile.WriteJSON(cache, m, 0o644); err != nil {
			slog.Debug("failed to write icon cache", "error", err)
		}
		return m, nil
	}

	m, err := cacheRead(cache)
	if err != nil {
		return nil, fmt.Errorf("no icon manifest available: %w", err)
	}
	slog.Debug("using cached icon manifest", "icons", len(m.Icons))
	return m, nil
}

// Cached loads the manifest from the cache in dataDir without touching the
// network.
func Cached(dataDir string) (*Manifest, error) {
	return cacheRead(paths.DataDir{Root: dataDir}.IconsCache())
}

// ///////////////////////////////////////////////
// Internal helpers
// ///////////////////////////////////////////////

// fetchRemote downloads the manifest. The response body is limited to
// 1 MiB.
func fetchRemote(ctx context.Context, url string) (*Manifest, error) {
	body, err := remote.Fetch(ctx, url, 1<<20)
	if err != nil {
		return nil, err
	}
	return parse(body)
}

func cacheRead(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading icon cache: %w", err)
	}
	return parse(b)
}

func parse(b []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parsing icon manifest: %w", err)
	}
	if len(m.Icons) == 0 {
		return nil, fmt.Errorf("icon manifest lists no icons")
	}
	return &m, nil
}
