// Package remote centralizes GitHub raw content URLs for the project and the
// HTTP client used to fetch them.
//
// Owner and repo are determined lazily on first access. Values set at build
// time via ldflags take precedence; otherwise the package derives them from
// the local git remote origin.
package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"regexp"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Set at build time via:
//
//	-X tools.zach/dev/xcodecord/internal/remote.ldOwner=...
//	-X tools.zach/dev/xcodecord/internal/remote.ldRepo=...
var (
	ldOwner string
	ldRepo  string
)

var (
	initOnce sync.Once
	owner    string
	repo     string
)

// githubRemoteRe extracts owner and repo from GitHub remote URLs.
// Matches both HTTPS (github.com/) and SSH (github.com:) formats.
var githubRemoteRe = regexp.MustCompile(`github\.com[:/]([^/]+)/([^/.]+)`)

// ensureInit lazily resolves owner and repo on first call. Build-time ldflags
// are preferred; otherwise the values are derived from the local git remote origin.
func ensureInit() {
	initOnce.Do(func() {
		if ldOwner != "" && ldRepo != "" {
			owner = ldOwner
			repo = ldRepo
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		out, err := exec.CommandContext(ctx, "git", "remote", "get-url", "origin").Output()
		if err != nil {
			slog.Debug("remote: ldflags not set and git remote unavailable", "error", err)
			return
		}
		owner, repo = parseOrigin(string(out))
	})
}

// parseOrigin returns owner and repo from a GitHub remote URL, or empty
// strings for any other host.
func parseOrigin(url string) (owner, repo string) {
	m := githubRemoteRe.FindStringSubmatch(url)
	if len(m) != 3 {
		return "", ""
	}
	return m[1], m[2]
}

// RawURL returns the raw GitHub URL for a file on the main branch.
// Returns empty string if owner/repo could not be determined.
func RawURL(path string) string {
	ensureInit()
	if owner == "" || repo == "" {
		return ""
	}
	return "https://raw.githubusercontent.com/" + owner + "/" + repo + "/main/" + path
}

// ///////////////////////////////////////////////
// HTTP
// ///////////////////////////////////////////////

// httpClient is a lazily-initialized retryablehttp client shared across all
// remote fetches. Initialized once via httpClientOnce.
var (
	httpClient     *retryablehttp.Client
	httpClientOnce sync.Once
)

// client returns the shared retryable HTTP client, initializing it on first
// call.
func client() *retryablehttp.Client {
	httpClientOnce.Do(func() {
		httpClient = retryablehttp.NewClient()
		httpClient.RetryMax = 2
		httpClient.HTTPClient.Timeout = 10 * time.Second
		httpClient.Logger = nil // suppress retryablehttp's default logging
	})
	return httpClient
}

// Fetch GETs url and returns at most limit bytes of a 200 response body.
// Transient failures are retried by the shared client.
func Fetch(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}
