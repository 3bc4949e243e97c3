// Package update checks for newer versions of xcodecord via the release manifest.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"tools.zach/dev/xcodecord/internal/paths"
	"tools.zach/dev/xcodecord/internal/remote"
)

var (
	manifestURL     string
	manifestURLOnce sync.Once
)

func getManifestURL() string {
	manifestURLOnce.Do(func() { manifestURL = remote.RawURL(paths.ReleaseManifest) })
	return manifestURL
}

// ///////////////////////////////////////////////
// Public API
// ///////////////////////////////////////////////

// Check fetches the release manifest and logs when a newer version than
// current exists. It returns that version, or "" when current is up to date
// or the check failed. Failures are logged at debug level only.
func Check(ctx context.Context, current string) string {
	if getManifestURL() == "" {
		slog.Debug("skipping version check: no remote URL configured")
		return ""
	}
	latest, err := fetchLatest(ctx)
	if err != nil {
		slog.Debug("version check failed", "error", err)
		return ""
	}
	if latest == "" || latest == current || !semverLess(current, latest) {
		return ""
	}
	slog.Info("new version available", "current", current, "latest", latest)
	return latest
}

// ///////////////////////////////////////////////
// Internal helpers
// ///////////////////////////////////////////////

// fetchLatest downloads the release manifest and returns the version string
// stored under the "." key, which represents the latest stable release.
func fetchLatest(ctx context.Context) (string, error) {
	body, err := remote.Fetch(ctx, getManifestURL(), 64<<10)
	if err != nil {
		return "", err
	}
	var manifest map[string]string
	if err := json.Unmarshal(body, &manifest); err != nil {
		return "", fmt.Errorf("parsing manifest: %w", err)
	}
	return manifest["."], nil
}

// semverLess reports whether version a precedes b. Both must look like
// "1.2.3" with an optional "v" prefix; anything else never compares less.
// A pre-release precedes the release with the same numbers ("0.1.0-dev" <
// "0.1.0"), but pre-releases are not ordered among themselves.
func semverLess(a, b string) bool {
	va, okA := parseSemver(a)
	vb, okB := parseSemver(b)
	if !okA || !okB {
		return false
	}
	if va.core != vb.core {
		for i := range va.core {
			if va.core[i] != vb.core[i] {
				return va.core[i] < vb.core[i]
			}
		}
	}
	return va.pre && !vb.pre
}

type version struct {
	core [3]int
	pre  bool
}

// parseSemver splits "v1.2.3-rc.1+build" into its numeric core and whether a
// pre-release suffix is present. Build metadata is ignored.
func parseSemver(s string) (version, bool) {
	s = strings.TrimPrefix(s, "v")
	s, _, _ = strings.Cut(s, "+")
	s, pre, hasPre := strings.Cut(s, "-")

	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return version{}, false
	}
	v := version{pre: hasPre && pre != ""}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return version{}, false
		}
		v.core[i] = n
	}
	return v, true
}
