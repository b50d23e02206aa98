package layers

import (
	"image"
	"image/color"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/layer"
	"github.com/OkinawaBoss/WeatharrStation/internal/render"
	"github.com/OkinawaBoss/WeatharrStation/internal/weather"
)

const maxLatestRows = 10

var latestColumns = [4]float64{0, 0.28, 0.55, 0.78}

// Latest is the table of nearby station observations
type Latest struct {
	*layer.Base
	env Env
}

// NewLatest creates the table at bounds
func NewLatest(env Env, bounds image.Rectangle) *Latest {
	return &Latest{
		Base: layer.NewBase("latest", bounds, 50, 15*time.Second),
		env:  env,
	}
}

func (l *Latest) Tick(now time.Time) []image.Rectangle {
	return l.Render(now, l.draw)
}

func (l *Latest) draw(_ time.Time, dst *image.RGBA) error {
	e := l.env
	w, h := l.Size()
	rows, _ := e.Data.Read()[weather.KeyLatest].([]weather.LatestRow)

	render.Fill(dst, color.RGBA{24, 32, 44, 235})
	if len(rows) == 0 {
		render.Text(dst, e.face(30), e.px(12), e.px(12), "No recent observations", colorText)
		return nil
	}

	var xs [4]int
	inner := w - e.px(48)
	for i, f := range latestColumns {
		xs[i] = e.px(24) + int(float64(inner)*f)
	}
	rights := [4]int{xs[1], xs[2], xs[3], w - e.px(12)}
	var widths [4]int
	for i := range xs {
		widths[i] = rights[i] - xs[i] - e.px(8)
	}

	head := e.bold(30)
	y := e.px(24)
	for i, label := range []string{"Station", "Temperature", "Condition", "Wind"} {
		render.Text(dst, head, xs[i], y, label, colorText)
	}
	y += e.px(44)

	body := e.face(24)
	lh := e.px(26)
	for i, r := range rows {
		if i >= maxLatestRows || y > h-e.px(24)-lh {
			break
		}
		render.Text(dst, body, xs[0], y, render.Truncate(body, r.Name, widths[0]), colorTextSoft)
		render.Text(dst, body, xs[1], y, r.Temp, colorTextSoft)

		used := 1
		for col, text := range [2]string{r.Condition, r.Wind} {
			col += 2
			lines := render.Wrap(body, text, widths[col], 2)
			for j, line := range lines {
				render.Text(dst, body, xs[col], y+j*lh, line, colorTextSoft)
			}
			used = max(used, len(lines))
		}
		y += used*lh + e.px(10)
	}
	return nil
}
