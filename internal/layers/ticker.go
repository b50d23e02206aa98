package layers

import (
	"image"
	"image/color"
	"image/draw"
	"strings"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/layer"
	"github.com/OkinawaBoss/WeatharrStation/internal/render"
	"github.com/OkinawaBoss/WeatharrStation/internal/weather"
)

const (
	tickerSpacer   = "    •    "
	tickerFallback = "Weather data loading..."
)

// Ticker scrolls the ticker_text string from right to left. Scroll position
// is a function of the time since the text last changed.
type Ticker struct {
	*layer.Base
	env   Env
	speed float64 // px/s at output resolution

	text    string
	strip   *image.RGBA
	started time.Time
}

// NewTicker creates the ticker at bounds scrolling pxPerSec base pixels per
// second
func NewTicker(env Env, bounds image.Rectangle, pxPerSec int, interval time.Duration) *Ticker {
	speed := float64(pxPerSec) * env.Scale
	if speed < 1 {
		speed = 1
	}
	return &Ticker{
		Base:  layer.NewBase("ticker", bounds, 200, interval),
		env:   env,
		speed: speed,
	}
}

// Text returns the string currently scrolling
func (t *Ticker) Text() string { return t.text }

func (t *Ticker) Tick(now time.Time) []image.Rectangle {
	text := strings.TrimSpace(t.env.Data.Read().String(weather.KeyTicker))
	if text == "" {
		text = tickerFallback
	}
	if text != t.text || t.strip == nil {
		t.text = text
		t.strip = t.buildStrip(text)
		t.started = now
	}
	return t.Render(now, t.draw)
}

func (t *Ticker) buildStrip(text string) *image.RGBA {
	_, h := t.Size()
	face := t.env.face(30)
	s := text + tickerSpacer
	w := render.Measure(face, s)
	if w < 1 {
		w = 1
	}
	strip := image.NewRGBA(image.Rect(0, 0, w, h))
	render.Text(strip, face, 0, (h-render.TextHeight(face))/2, s, colorText)
	return strip
}

// Offset is the strip position for now
func (t *Ticker) Offset(now time.Time) int {
	if t.strip == nil {
		return 0
	}
	elapsed := now.Sub(t.started).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return int(elapsed*t.speed) % t.strip.Bounds().Dx()
}

func (t *Ticker) draw(now time.Time, dst *image.RGBA) error {
	render.Fill(dst, color.RGBA{0, 0, 0, 180})

	w, h := t.Size()
	sw := t.strip.Bounds().Dx()
	for x := -t.Offset(now); x < w; x += sw {
		draw.Draw(dst, image.Rect(x, 0, x+sw, h), t.strip, image.Point{}, draw.Over)
	}
	return nil
}
