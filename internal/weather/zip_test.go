package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/OkinawaBoss/WeatharrStation/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zipServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/77581" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"post code":"77581","country":"United States","places":[
			{"place name":"Pearland","longitude":"-95.2743","state":"Texas","state abbreviation":"TX","latitude":"29.5628"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestZipLookup(t *testing.T) {
	var hits atomic.Int32
	z := NewZipLookup(zipServer(t, &hits).URL)

	p, err := z.Lookup(context.Background(), "77581-0001")
	require.NoError(t, err)
	assert.Equal(t, Place{Zip: "77581", Lat: 29.5628, Lon: -95.2743, City: "Pearland", State: "TX"}, p)
	assert.Equal(t, "Pearland, TX", p.Label())

	_, err = z.Lookup(context.Background(), "77581")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	_, err = z.Lookup(context.Background(), "90210")
	assert.ErrorIs(t, err, ErrZipNotFound)

	_, err = z.Lookup(context.Background(), "12")
	assert.Error(t, err)
}

func TestResolveLocation(t *testing.T) {
	var hits atomic.Int32
	z := NewZipLookup(zipServer(t, &hits).URL)
	ctx := context.Background()

	loc := ResolveLocation(ctx, config.StationConfig{Name: config.DefaultLocationName, Zip: "77581"}, z)
	assert.Equal(t, Location{Name: "Pearland, TX", Lat: 29.5628, Lon: -95.2743}, loc)

	loc = ResolveLocation(ctx, config.StationConfig{Name: "Gulf Coast", Zip: "77581", Lat: 30, Lon: -94}, z)
	assert.Equal(t, Location{Name: "Gulf Coast", Lat: 30, Lon: -94}, loc)

	loc = ResolveLocation(ctx, config.StationConfig{Zip: "00000"}, z)
	assert.Equal(t, Location{Name: config.DefaultLocationName, Lat: FallbackLat, Lon: FallbackLon}, loc)
}
