// Package layers implements the on-screen elements of the broadcast and lays
// them out into pages.
package layers

import (
	"image/color"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/datastore"
	"github.com/OkinawaBoss/WeatharrStation/internal/layer"
	"github.com/OkinawaBoss/WeatharrStation/internal/render"
	"golang.org/x/image/font"
)

// Env is what every layer draws with
type Env struct {
	Data  datastore.Reader
	Fonts *render.Fonts
	Scale float64
	TZ    *time.Location
}

// px scales a 1920x1080 measurement to the output resolution
func (e Env) px(v float64) int {
	return layer.Scale(v, e.Scale, 1)
}

func (e Env) face(size float64) font.Face {
	return e.Fonts.Face(layer.Scale(size, e.Scale, 8))
}

func (e Env) bold(size float64) font.Face {
	return e.Fonts.Bold(layer.Scale(size, e.Scale, 8))
}

func (e Env) now(t time.Time) time.Time {
	if e.TZ != nil {
		return t.In(e.TZ)
	}
	return t
}

var (
	colorText      = color.RGBA{255, 255, 255, 255}
	colorTextSoft  = color.RGBA{235, 242, 255, 255}
	colorTextDim   = color.RGBA{210, 220, 230, 255}
	colorLabel     = color.RGBA{200, 210, 220, 255}
	colorHighlight = color.RGBA{255, 230, 140, 255}
	colorDayName   = color.RGBA{255, 232, 150, 255}
	colorDetail    = color.RGBA{215, 225, 235, 255}
)
