// gen-assets renders the file-extension icons uploaded as Discord Rich
// Presence art assets.
//
// Every asset key in data/icons.json is drawn as its uppercase extension on
// a colored square, styled by data/icon-styles.json. Output goes to
// assets/discord/{key}.png, ready for upload in the Developer Portal.
//
// Font resolution:
//  1. Local file path from icon-styles.json "font"
//  2. Google Fonts download from "font_fallback" (e.g. "google:Inter:800")
//
// Usage:
//
//	cd tools/generate-assets && go run .
//	cd tools/generate-assets && go run . -only swift,metal
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/image/font/opentype"
)

func main() {
	// Default paths assume running from tools/generate-assets/.
	iconsFile := flag.String("icons", "../../data/icons.json", "path to icons.json")
	stylesFile := flag.String("styles", "../../data/icon-styles.json", "path to icon-styles.json")
	outDir := flag.String("out", "../../assets/discord", "output directory")
	only := flag.String("only", "", "comma-separated asset keys to render (default all)")
	flag.Parse()

	repoRoot, err := filepath.Abs(filepath.Join(filepath.Dir(*iconsFile), ".."))
	if err != nil {
		fatalf("resolve repo root: %v", err)
	}

	keys, err := LoadIconKeys(*iconsFile)
	if err != nil {
		fatalf("load icons: %v", err)
	}
	styles, err := LoadStyles(*stylesFile)
	if err != nil {
		fatalf("load styles: %v", err)
	}
	keys = selectKeys(keys, *only)
	if len(keys) == 0 {
		fatalf("no icons to render")
	}

	fontBytes, err := resolveFont(styles, repoRoot, filepath.Join(repoRoot, "assets", "fonts", ".cache"))
	if err != nil {
		fatalf("%v", err)
	}
	otFont, err := opentype.Parse(fontBytes)
	if err != nil {
		fatalf("parse font: %v", err)
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fatalf("create output dir: %v", err)
	}
	for _, key := range keys {
		label := strings.ToUpper(key)
		pngData, err := RenderIcon(styles.Resolved(key), label, otFont)
		if err != nil {
			fatalf("render %s: %v", key, err)
		}
		outPath := filepath.Join(*outDir, key+".png")
		if err := os.WriteFile(outPath, pngData, 0o644); err != nil {
			fatalf("write %s: %v", outPath, err)
		}
		fmt.Printf("  %s.png (%s)\n", key, label)
	}
	fmt.Printf("Done. Generated %d icons.\n", len(keys))
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// selectKeys filters keys to the comma-separated list in only, preserving
// manifest order. An empty list selects every key.
func selectKeys(keys []string, only string) []string {
	if only == "" {
		return slices.Clone(keys)
	}
	want := strings.Split(only, ",")
	for i := range want {
		want[i] = strings.ToLower(strings.TrimSpace(want[i]))
	}
	var out []string
	for _, k := range keys {
		if slices.Contains(want, k) {
			out = append(out, k)
		}
	}
	return out
}

// resolveFont loads the local font from styles.Font, falling back to the
// Google Fonts spec in styles.FontFallback.
func resolveFont(styles *StyleData, repoRoot, fontCacheDir string) ([]byte, error) {
	if styles.Font != "" {
		localPath := filepath.Join(repoRoot, styles.Font)
		if data, err := os.ReadFile(localPath); err == nil {
			fmt.Printf("font: %s (local)\n", styles.Font)
			return toSFNT(localPath, data)
		}
	}
	if styles.FontFallback != "" {
		if family, weight, ok := ParseGoogleFontSpec(styles.FontFallback); ok {
			fmt.Printf("font: %s wght@%s (Google Fonts)\n", family, weight)
			data, err := FetchGoogleFont(styles.FontFallback, fontCacheDir)
			if err != nil {
				return nil, fmt.Errorf("google fonts fallback failed: %w", err)
			}
			return data, nil
		}
	}
	return nil, fmt.Errorf("no font configured (set \"font\" or \"font_fallback\" in icon-styles.json)")
}
