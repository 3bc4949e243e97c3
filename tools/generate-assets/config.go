// config.go defines icon styling types and JSON loading for the gen-assets
// tool. [StyleData] is read from data/icon-styles.json; the asset keys to
// render come from the "icons" list of data/icons.json.

package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// StyleConfig holds the visual styling of one icon.
type StyleConfig struct {
	// BgColor is the background hex color (e.g. "#F05138").
	BgColor string `json:"bg_color,omitempty"`
	// FgColor is the label hex color (e.g. "#FFFFFF").
	FgColor string `json:"fg_color,omitempty"`
	// Size is the square image dimension in pixels.
	Size int `json:"size,omitempty"`
	// FontSize is the largest label size in points at 72 DPI. Long labels
	// are shrunk to fit.
	FontSize int `json:"font_size,omitempty"`
}

// StyleData holds the styling read from data/icon-styles.json.
type StyleData struct {
	// Font is a local font file path relative to the repo root.
	Font string `json:"font,omitempty"`
	// FontFallback is a Google Fonts spec (e.g. "google:Inter:800") used when
	// Font is unset or missing.
	FontFallback string `json:"font_fallback,omitempty"`
	// Defaults is inherited by every icon.
	Defaults StyleConfig `json:"defaults"`
	// Icons maps asset keys to their overrides.
	Icons map[string]StyleConfig `json:"icons"`
}

// Resolved returns the effective style for key: defaults overlaid with the
// key's overrides.
func (d *StyleData) Resolved(key string) StyleConfig {
	cfg := d.Defaults
	if o, ok := d.Icons[key]; ok {
		mergeStyle(&cfg, o)
	}
	return cfg
}

// mergeStyle applies non-zero fields from src onto dst.
func mergeStyle(dst *StyleConfig, src StyleConfig) {
	if src.BgColor != "" {
		dst.BgColor = src.BgColor
	}
	if src.FgColor != "" {
		dst.FgColor = src.FgColor
	}
	if src.Size != 0 {
		dst.Size = src.Size
	}
	if src.FontSize != 0 {
		dst.FontSize = src.FontSize
	}
}

// LoadStyles reads and parses an icon-styles.json file.
func LoadStyles(path string) (*StyleData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sd StyleData
	if err := json.Unmarshal(data, &sd); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &sd, nil
}

// LoadIconKeys returns the asset keys listed in an icons.json manifest.
func LoadIconKeys(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var manifest struct {
		Icons []string `json:"icons"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return manifest.Icons, nil
}
