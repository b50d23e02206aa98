package layers

import (
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/config"
	"github.com/OkinawaBoss/WeatharrStation/internal/layer"
	"github.com/OkinawaBoss/WeatharrStation/internal/pages"
)

// pageDef describes one built-in page: its title and where its content
// starts below the header band (base pixels)
type pageDef struct {
	name  string
	title string
	top   float64
	make  func(Env, image.Rectangle) layer.Layer
}

var pageDefs = []pageDef{
	{"current", "Current Conditions", 240, func(e Env, r image.Rectangle) layer.Layer { return NewCurrent(e, r) }},
	{"radar", "Local Radar", 220, func(e Env, r image.Rectangle) layer.Layer { return NewRadar(e, r) }},
	{"forecast_map", "Forecast Map", 240, func(e Env, r image.Rectangle) layer.Layer { return NewForecastMap(e, r) }},
	{"regional", "Regional Conditions", 240, func(e Env, r image.Rectangle) layer.Layer { return NewRegional(e, r) }},
	{"hourly", "Hourly Forecast", 260, func(e Env, r image.Rectangle) layer.Layer { return NewHourly(e, r) }},
	{"daily", "7-Day Forecast", 260, func(e Env, r image.Rectangle) layer.Layer { return NewDaily(e, r) }},
	{"forecast_text", "Extended Forecast", 260, func(e Env, r image.Rectangle) layer.Layer { return NewForecastText(e, r) }},
	{"latest", "Latest Observations", 252, func(e Env, r image.Rectangle) layer.Layer { return NewLatest(e, r) }},
}

// PageNames lists the built-in pages in default order
func PageNames() []string {
	names := make([]string, len(pageDefs))
	for i, p := range pageDefs {
		names[i] = p.name
	}
	return names
}

// contentRect is where a page's content layer sits below its header
func contentRect(W, H int, env Env, def pageDef) image.Rectangle {
	tickerH := env.px(64)
	x := env.px(48)
	y := env.px(def.top)
	w := W - env.px(96)
	h := H - (y + tickerH + env.px(20) + env.px(24))
	if def.name == "current" {
		h = min(env.px(420), h)
	}
	if w < 1 || h < 1 {
		return image.Rectangle{}
	}
	return image.Rect(x, y, x+w, y+h)
}

// MapSize is the pixel size of the map pages' content, which is what map
// backgrounds are rendered at
func MapSize(cfg *config.Config) (w, h int) {
	env := Env{Scale: cfg.Render.Scale()}
	for _, def := range pageDefs {
		if def.name == "regional" {
			r := contentRect(cfg.Render.Width, cfg.Render.Height, env, def)
			return max(1, r.Dx()), max(1, r.Dy())
		}
	}
	return 1, 1
}

// Layout is the full set of layers for a station
type Layout struct {
	// Overlays are visible on every page
	Overlays []layer.Layer
	Pages    []pages.Page

	Ticker *Ticker
	Clock  *Clock
}

// All returns every distinct layer, overlays first
func (l Layout) All() []layer.Layer {
	all := append([]layer.Layer(nil), l.Overlays...)
	seen := make(map[layer.Layer]bool, len(all))
	for _, ly := range all {
		seen[ly] = true
	}
	for _, p := range l.Pages {
		for _, ly := range p.Layers {
			if !seen[ly] {
				seen[ly] = true
				all = append(all, ly)
			}
		}
	}
	return all
}

// Build creates the overlays and the pages selected by cfg.Render.Pages
func Build(cfg *config.Config, env Env) (Layout, error) {
	W, H := cfg.Render.Width, cfg.Render.Height

	selected, err := selectPages(cfg.Render.Pages)
	if err != nil {
		return Layout{}, err
	}

	chrome := NewChrome(env, W, H, "Local Forecast", cfg.Station.Name)

	clockW, clockH := env.px(480), env.px(200)
	clock := NewClock(env, image.Rect(W-clockW-env.px(48), env.px(24), W-env.px(48), env.px(24)+clockH))

	tickerH := env.px(64)
	tickerY := H - tickerH - env.px(20)
	ticker := NewTicker(env,
		image.Rect(env.px(48), tickerY, W-env.px(48), tickerY+tickerH),
		cfg.Render.TickerSpeed,
		time.Second/30,
	)

	headerBounds := image.Rect(env.px(480), env.px(150), W-clockW-env.px(72), env.px(214))

	layout := Layout{
		Overlays: []layer.Layer{chrome, clock, ticker},
		Ticker:   ticker,
		Clock:    clock,
	}
	for _, def := range selected {
		r := contentRect(W, H, env, def)
		if r.Dx() < 1 || r.Dy() < 1 {
			return Layout{}, fmt.Errorf("frame %dx%d too small for page %s", W, H, def.name)
		}

		header := NewHeader(env, def.name, headerBounds, def.title)
		content := def.make(env, r)
		header.SetVisible(false)
		content.SetVisible(false)

		layout.Pages = append(layout.Pages, pages.Page{
			Name:   def.name,
			Layers: []layer.Layer{header, content},
		})
	}
	return layout, nil
}

func selectPages(names []string) ([]pageDef, error) {
	if len(names) == 0 {
		return pageDefs, nil
	}
	byName := make(map[string]pageDef, len(pageDefs))
	for _, p := range pageDefs {
		byName[p.name] = p
	}
	out := make([]pageDef, 0, len(names))
	for _, n := range names {
		p, ok := byName[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("unknown page %q (available: %s)", n, strings.Join(PageNames(), ", "))
		}
		out = append(out, p)
	}
	return out, nil
}
