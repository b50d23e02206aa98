package weather

import (
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tileServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if status != http.StatusOK {
			http.Error(w, "no", status)
			return
		}
		img := image.NewRGBA(image.Rect(0, 0, tileSize, tileSize))
		for i := 0; i < len(img.Pix); i += 4 {
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 200, 200, 200, 255
		}
		png.Encode(w, img)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestComposeStitchesAndCachesTiles(t *testing.T) {
	srv, hits := tileServer(t, http.StatusOK)
	tm := NewTileMap(srv.URL+"/{z}/{x}/{y}.png", "weatharr-test", clockwork.NewFakeClock())

	b := FitBounds([]MapPoint{{Lat: 29.76, Lon: -95.37}, {Lat: 30.27, Lon: -97.74}}, 0, 0)
	img, adjusted, err := tm.Compose(context.Background(), b, 400, 300)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 400, 300), img.Bounds())
	r, _, _, a := img.At(200, 150).RGBA()
	assert.InDelta(t, 200, r>>8, 1)
	assert.EqualValues(t, 0xffff, a)

	const eps = 1e-6
	assert.LessOrEqual(t, adjusted.LonMin, b.LonMin+eps)
	assert.GreaterOrEqual(t, adjusted.LonMax, b.LonMax-eps)
	assert.LessOrEqual(t, adjusted.LatMin, b.LatMin+eps)
	assert.GreaterOrEqual(t, adjusted.LatMax, b.LatMax-eps)

	first := hits.Load()
	require.Positive(t, first)
	_, _, err = tm.Compose(context.Background(), b, 400, 300)
	require.NoError(t, err)
	assert.Equal(t, first, hits.Load(), "tiles come from the cache")
}

func TestComposeFailsWithoutTiles(t *testing.T) {
	srv, _ := tileServer(t, http.StatusNotFound)
	tm := NewTileMap(srv.URL+"/{z}/{x}/{y}.png", "weatharr-test", nil)

	_, _, err := tm.Compose(context.Background(), FitBounds(nil, 30, -95), 400, 300)
	assert.ErrorContains(t, err, "404")

	_, _, err = tm.Compose(context.Background(), Bounds{}, 400, 300)
	assert.Error(t, err)
}

func TestAutoZoom(t *testing.T) {
	wide := Bounds{LatMin: 20, LatMax: 45, LonMin: -120, LonMax: -70}
	assert.Equal(t, defaultZoom, autoZoom(wide, 400, 300), "too wide for any zoom")

	small := Bounds{LatMin: 29.4, LatMax: 29.6, LonMin: -95.3, LonMax: -95.1}
	assert.Equal(t, maxZoom, autoZoom(small, 1824, 732))

	regional := FitBounds(nil, 29.5, -95.2)
	z := autoZoom(regional, 1824, 732)
	assert.Greater(t, z, minZoom)
	assert.Less(t, z, maxZoom)
}

func TestMapDataUsesTileBackground(t *testing.T) {
	srv, _ := tileServer(t, http.StatusOK)
	f := NewFetcher(nil, Location{Lat: 29.5, Lon: -95.2},
		WithTiles(NewTileMap(srv.URL+"/{z}/{x}/{y}.png", "weatharr-test", nil), 320, 240))

	md := f.mapData(context.Background(), []MapPoint{{Name: "Houston", Lat: 29.76, Lon: -95.37}})
	require.NotNil(t, md.Base)
	assert.Equal(t, 320, md.Base.Bounds().Dx())
	assert.Less(t, md.Bounds.LatMin, 29.76)

	empty := f.mapData(context.Background(), nil)
	assert.Nil(t, empty.Base)
}
