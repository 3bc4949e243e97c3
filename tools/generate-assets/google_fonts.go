// google_fonts.go downloads font files from the Google Fonts CSS API.
//
// Font specs use the format "google:FAMILY:WEIGHT" (e.g. "google:Inter:800").
// Downloaded fonts are cached as TTF so later runs work offline.

package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tdewolff/font"
)

// fontURLRe extracts the font file URL from the CSS response, e.g.
// url(https://fonts.gstatic.com/s/inter/v18/xxx.woff2).
var fontURLRe = regexp.MustCompile(`url\((https://fonts\.gstatic\.com/[^)]+)\)`)

// ParseGoogleFontSpec splits a "google:Family:Weight" spec.
func ParseGoogleFontSpec(spec string) (family, weight string, ok bool) {
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) != 3 || parts[0] != "google" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// FetchGoogleFont returns the font for spec in SFNT form, downloading it
// into cacheDir on first use.
func FetchGoogleFont(spec, cacheDir string) ([]byte, error) {
	family, weight, ok := ParseGoogleFontSpec(spec)
	if !ok {
		return nil, fmt.Errorf("invalid google font spec %q: expected google:FAMILY:WEIGHT", spec)
	}

	cacheFile := filepath.Join(cacheDir, fmt.Sprintf("%s-%s.ttf", family, weight))
	if data, err := os.ReadFile(cacheFile); err == nil {
		return data, nil
	}

	client := &http.Client{Timeout: 15 * time.Second}

	// A modern User-Agent gets WOFF2 URLs, which toSFNT converts.
	cssURL := fmt.Sprintf("https://fonts.googleapis.com/css2?family=%s:wght@%s", url.QueryEscape(family), weight)
	css, err := download(client, cssURL, 1<<20, "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) AppleWebKit/537.36")
	if err != nil {
		return nil, fmt.Errorf("fetching CSS for %s wght@%s: %w", family, weight, err)
	}

	m := fontURLRe.FindSubmatch(css)
	if m == nil {
		return nil, fmt.Errorf("no font URL in Google Fonts CSS for %s wght@%s", family, weight)
	}
	fontURL := string(m[1])

	raw, err := download(client, fontURL, 10<<20, "")
	if err != nil {
		return nil, fmt.Errorf("downloading font file: %w", err)
	}
	data, err := toSFNT(fontURL, raw)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating font cache dir: %w", err)
	}
	if err := os.WriteFile(cacheFile, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to cache font: %v\n", err)
	}
	return data, nil
}

// download GETs url and returns at most limit bytes of the body.
func download(client *http.Client, url string, limit int64, userAgent string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}

// toSFNT converts WOFF2 data to SFNT and returns anything else unchanged.
// name is a file path or URL used to detect the format by extension.
func toSFNT(name string, data []byte) ([]byte, error) {
	if !isWOFF2(name, data) {
		return data, nil
	}
	sfnt, err := font.ToSFNT(data)
	if err != nil {
		return nil, fmt.Errorf("convert woff2 to sfnt: %w", err)
	}
	return sfnt, nil
}

// isWOFF2 checks for WOFF2 by extension or the "wOF2" magic bytes.
func isWOFF2(name string, data []byte) bool {
	return strings.HasSuffix(strings.ToLower(name), ".woff2") || strings.HasPrefix(string(data), "wOF2")
}
