package weather

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/cache"
	"github.com/jonboulle/clockwork"
	xdraw "golang.org/x/image/draw"
)

const (
	tileSize    = 256
	tileTTL     = 15 * time.Minute
	maxTiles    = 256
	maxLatitude = 85.0
	minZoom     = 5
	maxZoom     = 11
	defaultZoom = 6
)

// TileMap stitches slippy-map tiles into map page backgrounds. Tiles are
// cached so the periodic refresh only downloads what scrolled into view.
type TileMap struct {
	template  string
	userAgent string
	http      *http.Client
	tiles     *cache.TTL[string, image.Image]
}

// NewTileMap creates a compositor for a {z}/{x}/{y} URL template
func NewTileMap(template, userAgent string, clock clockwork.Clock) *TileMap {
	return &TileMap{
		template:  template,
		userAgent: userAgent,
		http:      &http.Client{Timeout: 10 * time.Second},
		tiles:     cache.NewTTL[string, image.Image](tileTTL, maxTiles, clock),
	}
}

func (t *TileMap) tileURL(z, x, y int) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
	).Replace(t.template)
}

func (t *TileMap) tile(ctx context.Context, z, x, y int) (image.Image, error) {
	url := t.tileURL(z, x, y)
	if img, ok := t.tiles.Get(url); ok {
		return img, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", t.userAgent)
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tile %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(io.LimitReader(resp.Body, maxResponseBytes)); err != nil {
		return nil, fmt.Errorf("failed to read tile %s: %w", url, err)
	}
	img, _, err := image.Decode(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tile %s: %w", url, err)
	}
	t.tiles.Set(url, img)
	return img, nil
}

func lonToTileX(lon float64, z int) float64 {
	return (lon + 180) / 360 * math.Exp2(float64(z))
}

func latToTileY(lat float64, z int) float64 {
	lat = math.Max(-maxLatitude, math.Min(maxLatitude, lat))
	rad := lat * math.Pi / 180
	return (1 - math.Log(math.Tan(rad)+1/math.Cos(rad))/math.Pi) / 2 * math.Exp2(float64(z))
}

func tileXToLon(x float64, z int) float64 {
	return x/math.Exp2(float64(z))*360 - 180
}

func tileYToLat(y float64, z int) float64 {
	n := math.Pi - 2*math.Pi*y/math.Exp2(float64(z))
	return math.Atan(math.Sinh(n)) * 180 / math.Pi
}

// autoZoom picks the most detailed zoom whose tile span fits the output
func autoZoom(b Bounds, w, h int) int {
	for z := maxZoom; z >= minZoom; z-- {
		spanX := lonToTileX(b.LonMax, z) - lonToTileX(b.LonMin, z)
		spanY := latToTileY(b.LatMin, z) - latToTileY(b.LatMax, z)
		if spanX <= float64(w)/tileSize+1 && spanY <= float64(h)/tileSize+1 {
			return z
		}
	}
	return defaultZoom
}

// Compose renders a w x h background covering at least b. The tile span is
// widened to the output's aspect ratio, so the returned bounds are what the
// image actually shows.
func (t *TileMap) Compose(ctx context.Context, b Bounds, w, h int) (image.Image, Bounds, error) {
	if !b.Valid() || w <= 0 || h <= 0 {
		return nil, b, errors.New("empty map area")
	}
	z := autoZoom(b, w, h)

	x0, x1 := lonToTileX(b.LonMin, z), lonToTileX(b.LonMax, z)
	y0, y1 := latToTileY(b.LatMax, z), latToTileY(b.LatMin, z)
	spanX, spanY := x1-x0, y1-y0
	aspect := float64(w) / float64(h)
	if spanX/spanY < aspect {
		grow := (spanY*aspect - spanX) / 2
		x0, x1 = x0-grow, x1+grow
	} else {
		grow := (spanX/aspect - spanY) / 2
		y0, y1 = y0-grow, y1+grow
	}

	n := int(math.Exp2(float64(z)))
	fx, fy := int(math.Floor(x0)), int(math.Floor(y0))
	cx, cy := int(math.Ceil(x1)), int(math.Ceil(y1))
	mosaic := image.NewRGBA(image.Rect(0, 0, (cx-fx)*tileSize, (cy-fy)*tileSize))

	fetched := 0
	var lastErr error
	for ty := fy; ty < cy; ty++ {
		if ty < 0 || ty >= n {
			continue
		}
		for tx := fx; tx < cx; tx++ {
			if err := ctx.Err(); err != nil {
				return nil, b, err
			}
			img, err := t.tile(ctx, z, ((tx%n)+n)%n, ty)
			if err != nil {
				lastErr = err
				continue
			}
			at := image.Pt((tx-fx)*tileSize, (ty-fy)*tileSize)
			draw.Draw(mosaic, image.Rectangle{Min: at, Max: at.Add(image.Pt(tileSize, tileSize))}, img, img.Bounds().Min, draw.Src)
			fetched++
		}
	}
	if fetched == 0 {
		if lastErr == nil {
			lastErr = errors.New("no tiles in range")
		}
		return nil, b, fmt.Errorf("failed to compose map: %w", lastErr)
	}

	crop := image.Rect(
		int((x0-float64(fx))*tileSize), int((y0-float64(fy))*tileSize),
		int((x1-float64(fx))*tileSize), int((y1-float64(fy))*tileSize),
	)
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(out, out.Bounds(), mosaic, crop, xdraw.Src, nil)

	adjusted := Bounds{
		LonMin: tileXToLon(x0, z),
		LonMax: tileXToLon(x1, z),
		LatMax: tileYToLat(y0, z),
		LatMin: tileYToLat(y1, z),
	}
	return out, adjusted, nil
}
