package layers

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/layer"
	"github.com/OkinawaBoss/WeatharrStation/internal/render"
	"github.com/OkinawaBoss/WeatharrStation/internal/weather"
)

// ForecastText shows the next two forecast periods side by side with their
// detailed text
type ForecastText struct {
	*layer.Base
	env Env
}

// NewForecastText creates the layer at bounds
func NewForecastText(env Env, bounds image.Rectangle) *ForecastText {
	return &ForecastText{
		Base: layer.NewBase("forecast_text", bounds, 50, 30*time.Second),
		env:  env,
	}
}

func (f *ForecastText) Tick(now time.Time) []image.Rectangle {
	return f.Render(now, f.draw)
}

func (f *ForecastText) draw(_ time.Time, dst *image.RGBA) error {
	e := f.env
	w, h := f.Size()
	periods, _ := e.Data.Read()[weather.KeyForecast].([]weather.Period)

	render.Fill(dst, color.RGBA{28, 40, 56, 235})
	if len(periods) == 0 {
		render.Text(dst, e.face(34), e.px(12), e.px(12), "No forecast available", colorText)
		return nil
	}

	n := min(2, len(periods))
	pad := e.px(16)
	panelW := w / n
	body := e.face(34)
	tiny := e.face(24)

	for i, p := range periods[:n] {
		x := i * panelW
		render.RoundedRect(dst, image.Rect(x+e.px(12), e.px(12), x+panelW-e.px(12), h-e.px(12)), e.px(24), color.RGBA{32, 46, 64, 235})
		render.Text(dst, body, x+pad, e.px(24), strings.ToUpper(p.Name), color.RGBA{255, 230, 120, 255})
		if p.Temperature != nil {
			render.Text(dst, body, x+pad, e.px(60), fmt.Sprintf("%d°%s", *p.Temperature, p.Unit), colorText)
		}
		if wind := strings.TrimSpace(p.WindDir + " " + p.Wind); wind != "" {
			render.Text(dst, tiny, x+pad, e.px(94), "WIND "+wind, colorDetail)
		}
		if p.Precip != nil {
			render.Text(dst, tiny, x+pad, e.px(120), fmt.Sprintf("PRECIP %d%%", int(*p.Precip)), colorDetail)
		}

		text := p.Detailed
		if text == "" {
			text = p.Short
		}
		y := e.px(164)
		for _, line := range render.Wrap(body, strings.ToUpper(text), panelW-2*pad-e.px(24), 10) {
			if y+render.LineHeight(body) > h-e.px(12) {
				break
			}
			render.Text(dst, body, x+pad, y, line, colorTextSoft)
			y += e.px(38)
		}
	}
	return nil
}
