package render

import (
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// Text draws s with its top-left corner at (x, y)
func Text(dst *image.RGBA, face font.Face, x, y int, s string, c color.Color) {
	if s == "" {
		return
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y) + face.Metrics().Ascent},
	}
	d.DrawString(s)
}

// TextRight draws s so that it ends at x
func TextRight(dst *image.RGBA, face font.Face, x, y int, s string, c color.Color) {
	Text(dst, face, x-Measure(face, s), y, s, c)
}

// TextCenter draws s horizontally centred on cx
func TextCenter(dst *image.RGBA, face font.Face, cx, y int, s string, c color.Color) {
	Text(dst, face, cx-Measure(face, s)/2, y, s, c)
}

// Measure returns the advance width of s in pixels
func Measure(face font.Face, s string) int {
	return font.MeasureString(face, s).Ceil()
}

// LineHeight is the distance between consecutive baselines
func LineHeight(face font.Face) int {
	return face.Metrics().Height.Ceil()
}

// TextHeight is the ascent plus descent of face
func TextHeight(face font.Face) int {
	m := face.Metrics()
	return (m.Ascent + m.Descent).Ceil()
}

// Truncate shortens s with an ellipsis until it fits width
func Truncate(face font.Face, s string, width int) string {
	if Measure(face, s) <= width {
		return s
	}
	const ellipsis = "…"
	r := []rune(s)
	for len(r) > 0 {
		r = r[:len(r)-1]
		t := strings.TrimRight(string(r), " ") + ellipsis
		if Measure(face, t) <= width {
			return t
		}
	}
	return ""
}

// Wrap breaks text into at most maxLines lines no wider than width. A
// single word wider than width gets a line of its own.
func Wrap(face font.Face, text string, width, maxLines int) []string {
	words := strings.Fields(text)
	if len(words) == 0 || maxLines <= 0 {
		return nil
	}

	var lines []string
	cur := ""
	for _, w := range words {
		candidate := w
		if cur != "" {
			candidate = cur + " " + w
		}
		if Measure(face, candidate) <= width || cur == "" {
			cur = candidate
			continue
		}
		lines = append(lines, cur)
		if len(lines) >= maxLines {
			return lines
		}
		cur = w
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return lines
}
