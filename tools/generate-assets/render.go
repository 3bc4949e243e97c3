// render.go implements PNG rendering for the gen-assets tool. [RenderIcon]
// draws an extension label centered on a solid square, shrinking the font
// until the label fits.

package main

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	// maxLabelWidth is the share of the canvas width a label may cover, in
	// percent.
	maxLabelWidth = 80
	minFontSize   = 8
	fontSizeStep  = 4
)

// RenderIcon renders one file icon with label centered on the background
// and returns the PNG bytes.
func RenderIcon(style StyleConfig, label string, otFont *opentype.Font) ([]byte, error) {
	if label == "" {
		return nil, fmt.Errorf("empty label")
	}
	bgColor, err := ParseHexColor(style.BgColor)
	if err != nil {
		return nil, fmt.Errorf("parse bg_color: %w", err)
	}
	fgColor, err := ParseHexColor(style.FgColor)
	if err != nil {
		return nil, fmt.Errorf("parse fg_color: %w", err)
	}
	if style.Size <= 0 || style.FontSize <= 0 {
		return nil, fmt.Errorf("size and font_size must be positive")
	}

	face, bounds, err := fitFace(otFont, label, style.FontSize, style.Size*maxLabelWidth/100)
	if err != nil {
		return nil, err
	}
	defer face.Close()

	size := style.Size
	glyphW := (bounds.Max.X - bounds.Min.X).Ceil()
	glyphH := (bounds.Max.Y - bounds.Min.Y).Ceil()
	originX := (size-glyphW)/2 - bounds.Min.X.Floor()
	originY := (size-glyphH)/2 - bounds.Min.Y.Floor()

	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(bgColor), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(fgColor),
		Face: face,
		Dot:  fixed.P(originX, originY),
	}
	d.DrawString(label)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// fitFace returns the largest face no bigger than maxSize points whose
// rendering of label is at most width pixels wide, along with the label's
// pixel bounds. The minimum size is used when nothing fits.
func fitFace(otFont *opentype.Font, label string, maxSize, width int) (font.Face, fixed.Rectangle26_6, error) {
	for size := maxSize; ; size -= fontSizeStep {
		size = max(size, minFontSize)
		face, err := opentype.NewFace(otFont, &opentype.FaceOptions{
			Size:    float64(size),
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			return nil, fixed.Rectangle26_6{}, fmt.Errorf("create font face: %w", err)
		}
		bounds, _ := font.BoundString(face, label)
		if (bounds.Max.X-bounds.Min.X).Ceil() <= width || size == minFontSize {
			return face, bounds, nil
		}
		face.Close()
	}
}
