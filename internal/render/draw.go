package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
)

// Fill replaces every pixel of dst with c
func Fill(dst *image.RGBA, c color.RGBA) {
	draw.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}

// FillRect replaces the pixels of r with c, alpha included
func FillRect(dst *image.RGBA, r image.Rectangle, c color.RGBA) {
	draw.Draw(dst, r.Intersect(dst.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)
}

// Blend paints src over dst with its top-left corner at at, scaling the
// source alpha by opacity (0..1)
func Blend(dst *image.RGBA, src image.Image, at image.Point, opacity float64) {
	if opacity <= 0 {
		return
	}
	sb := src.Bounds()
	r := image.Rectangle{Min: at, Max: at.Add(sb.Size())}
	if opacity >= 1 {
		draw.Draw(dst, r, src, sb.Min, draw.Over)
		return
	}
	mask := image.NewUniform(color.Alpha{A: uint8(math.Round(opacity * 255))})
	draw.DrawMask(dst, r, src, sb.Min, mask, image.Point{}, draw.Over)
}

// BlendRect paints c over the pixels of r with the given opacity
func BlendRect(dst *image.RGBA, r image.Rectangle, c color.RGBA, opacity float64) {
	if r.Empty() || opacity <= 0 {
		return
	}
	if opacity > 1 {
		opacity = 1
	}
	mask := image.NewUniform(color.Alpha{A: uint8(math.Round(opacity * 255))})
	draw.DrawMask(dst, r.Intersect(dst.Bounds()), image.NewUniform(c), image.Point{}, mask, image.Point{}, draw.Over)
}

// RoundedRect fills r with c, leaving the corners outside radius untouched
func RoundedRect(dst *image.RGBA, r image.Rectangle, radius int, c color.RGBA) {
	r = r.Canon()
	if r.Empty() {
		return
	}
	if limit := min(r.Dx(), r.Dy()) / 2; radius > limit {
		radius = limit
	}
	if radius <= 0 {
		FillRect(dst, r, c)
		return
	}

	src := image.NewUniform(c)
	rad := float64(radius)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		inset := 0
		var dy float64
		switch {
		case y < r.Min.Y+radius:
			dy = rad - (float64(y-r.Min.Y) + 0.5)
		case y >= r.Max.Y-radius:
			dy = rad - (float64(r.Max.Y-1-y) + 0.5)
		}
		if dy > 0 {
			inset = int(math.Ceil(rad - math.Sqrt(rad*rad-dy*dy)))
		}
		row := image.Rect(r.Min.X+inset, y, r.Max.X-inset, y+1)
		draw.Draw(dst, row.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

// Dot paints a filled circle of radius around center
func Dot(dst *image.RGBA, center image.Point, radius int, c color.RGBA) {
	if radius <= 0 {
		return
	}
	src := image.NewUniform(c)
	r2 := radius * radius
	for dy := -radius; dy <= radius; dy++ {
		half := int(math.Sqrt(float64(r2 - dy*dy)))
		row := image.Rect(center.X-half, center.Y+dy, center.X+half+1, center.Y+dy+1)
		draw.Draw(dst, row.Intersect(dst.Bounds()), src, image.Point{}, draw.Over)
	}
}

// Line paints a segment from p0 to p1 that is width pixels thick
func Line(dst *image.RGBA, p0, p1 image.Point, width int, c color.RGBA) {
	if width < 1 {
		width = 1
	}
	src := image.NewUniform(c)
	half := width / 2

	dx, dy := p1.X-p0.X, p1.Y-p0.Y
	steps := max(abs(dx), abs(dy))
	if steps == 0 {
		steps = 1
	}
	for i := 0; i <= steps; i++ {
		x := p0.X + int(math.Round(float64(dx*i)/float64(steps)))
		y := p0.Y + int(math.Round(float64(dy*i)/float64(steps)))
		sq := image.Rect(x-half, y-half, x-half+width, y-half+width)
		draw.Draw(dst, sq.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

// Polyline joins consecutive points with Line
func Polyline(dst *image.RGBA, pts []image.Point, width int, c color.RGBA) {
	for i := 1; i < len(pts); i++ {
		Line(dst, pts[i-1], pts[i], width, c)
	}
}

// ScaleInto resamples src to fill r of dst
func ScaleInto(dst *image.RGBA, r image.Rectangle, src image.Image) {
	if r.Empty() || src == nil || src.Bounds().Empty() {
		return
	}
	xdraw.ApproxBiLinear.Scale(dst, r, src, src.Bounds(), xdraw.Src, nil)
}

// Scaled returns a new width x height copy of src
func Scaled(src image.Image, width, height int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	ScaleInto(out, out.Bounds(), src)
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
