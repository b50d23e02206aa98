package layers

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/layer"
	"github.com/OkinawaBoss/WeatharrStation/internal/render"
	"github.com/OkinawaBoss/WeatharrStation/internal/weather"
)

// Daily is the seven day outlook, one card per day
type Daily struct {
	*layer.Base
	env Env
}

// NewDaily creates the outlook at bounds
func NewDaily(env Env, bounds image.Rectangle) *Daily {
	return &Daily{
		Base: layer.NewBase("daily", bounds, 50, 30*time.Second),
		env:  env,
	}
}

func (d *Daily) Tick(now time.Time) []image.Rectangle {
	return d.Render(now, d.draw)
}

func tempOrDash(v *int) string {
	if v == nil {
		return "--"
	}
	return fmt.Sprint(*v)
}

func (d *Daily) draw(_ time.Time, dst *image.RGBA) error {
	e := d.env
	w, h := d.Size()
	days, _ := e.Data.Read()[weather.KeyDaily].([]weather.Day)

	render.Fill(dst, color.RGBA{32, 44, 62, 235})
	if len(days) == 0 {
		render.Text(dst, e.face(32), e.px(12), e.px(12), "No data", colorText)
		return nil
	}

	n := min(7, len(days))
	gutter := e.px(10)
	cardW := (w - gutter*(n-1)) / n
	top, bottom := e.px(16), h-e.px(16)

	for i, day := range days[:n] {
		x0 := i * (cardW + gutter)
		render.RoundedRect(dst, image.Rect(x0, top, x0+cardW, bottom), e.px(20), color.RGBA{26, 38, 54, 235})

		name := render.Truncate(e.face(32), day.Name, cardW-e.px(24))
		render.Text(dst, e.face(32), x0+e.px(16), top+e.px(20), name, colorDayName)

		mid := x0 + cardW/2
		for j, line := range render.Wrap(e.face(24), day.Short, cardW-e.px(24), 3) {
			render.TextCenter(dst, e.face(24), mid, top+e.px(72)+j*e.px(28), line, colorDetail)
		}
		render.TextCenter(dst, e.bold(64), mid, top+e.px(180), tempOrDash(day.High)+"°", colorText)
		low := fmt.Sprintf("LOW %s°%s", tempOrDash(day.Low), day.Unit)
		render.TextCenter(dst, e.face(26), mid, bottom-e.px(48), low, colorDetail)
	}
	return nil
}
