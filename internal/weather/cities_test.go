package weather

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCities(t *testing.T) {
	in := `pop,name,lon,lat
"53,695",Galveston,-94.7977,29.3013
2304580,Houston,-95.3698,29.7604
,Nowhere,-95.0,29.0
12,Broken,east,29.0
,,-95.0,29.0
`
	cities, err := ParseCities(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, cities, 3)
	assert.Equal(t, City{Name: "Houston", Lat: 29.7604, Lon: -95.3698, Population: 2304580}, cities[0])
	assert.Equal(t, 53695, cities[1].Population)
	assert.Equal(t, "Nowhere", cities[2].Name)

	_, err = ParseCities(strings.NewReader("name,lat\nHouston,29.7\n"))
	assert.ErrorContains(t, err, `"lon"`)
}

func TestBuiltinCatalog(t *testing.T) {
	c := NewCityCatalog("", 0, nil)
	cities := c.Cities()
	require.Greater(t, len(cities), 100)
	assert.Equal(t, "New York", cities[0].Name)
	for i := 1; i < len(cities); i++ {
		assert.GreaterOrEqual(t, cities[i-1].Population, cities[i].Population)
	}
}

func TestNearPrefersLargeCities(t *testing.T) {
	c := NewCityCatalog("", 0, nil)
	targets := c.Near(29.5, -95.2, 360, 12)
	require.Len(t, targets, 12)
	assert.Equal(t, "Pasadena", targets[0].Name)
	assert.Equal(t, "Houston", targets[1].Name)
	for i, tg := range targets {
		assert.GreaterOrEqual(t, tg.Population, 150_000, tg.Name)
		assert.LessOrEqual(t, tg.Distance, 360.0, tg.Name)
		assert.GreaterOrEqual(t, tg.MaxObsDistance, 60.0)
		assert.LessOrEqual(t, tg.MaxObsDistance, 120.0)
		if i > 0 {
			assert.GreaterOrEqual(t, tg.Distance, targets[i-1].Distance)
		}
	}
}

func TestNearLowersThePopulationFloor(t *testing.T) {
	c := NewCityCatalog("", 0, nil)
	targets := c.Near(24.56, -81.78, 50, 12)
	require.Len(t, targets, 1)
	assert.Equal(t, "Key West", targets[0].Name)
	assert.Equal(t, 60.0, targets[0].MaxObsDistance)
}

func TestNearFallsBackToLargestCities(t *testing.T) {
	c := NewCityCatalog("", 0, nil)
	targets := c.Near(0, 0, 100, 2)
	require.Len(t, targets, 2)
	assert.GreaterOrEqual(t, targets[1].Distance, targets[0].Distance)
	assert.Greater(t, targets[0].Distance, 100.0)
	assert.Equal(t, 120.0, targets[0].MaxObsDistance)
}

func TestCanonicalName(t *testing.T) {
	c := NewCityCatalog("", 0, nil)
	cases := map[string]string{
		"Houston Intercontinental Airport":      "Houston",
		"William P. Hobby Airport":              "Houston",
		"Corpus Christi International Airport":  "Corpus Christi",
		"Scholes Field, Galveston":              "Galveston",
		"San Antonio International Airport":     "San Antonio",
		"Pearland Regional Airport, TX":         "Pearland",
		"Salemburg Airport, NC":                 "Salemburg Airport",
		"Port Arthur, Jack Brooks Regional, TX": "Port Arthur",
		"":                                      "Station",
	}
	for raw, want := range cases {
		assert.Equal(t, want, c.CanonicalName(raw), raw)
	}
}

func TestCatalogReloadsAfterTTL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cities.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,lat,lon,pop\nAlpha,30,-95,10\n"), 0o644))

	clock := clockwork.NewFakeClock()
	c := NewCityCatalog(path, time.Hour, clock)
	require.Len(t, c.Cities(), 1)

	require.NoError(t, os.WriteFile(path, []byte("name,lat,lon,pop\nAlpha,30,-95,10\nBeta,31,-96,20\n"), 0o644))
	assert.Len(t, c.Cities(), 1, "served from cache")

	clock.Advance(2 * time.Hour)
	cities := c.Cities()
	require.Len(t, cities, 2)
	assert.Equal(t, "Beta", cities[0].Name)
}

func TestCatalogFallsBackToBuiltin(t *testing.T) {
	c := NewCityCatalog(filepath.Join(t.TempDir(), "missing.csv"), 0, nil)
	assert.Greater(t, len(c.Cities()), 100)
}

func TestHaversine(t *testing.T) {
	assert.InDelta(t, 0, Haversine(29.76, -95.37, 29.76, -95.37), 1e-9)
	// Houston to Dallas
	assert.InDelta(t, 225, Haversine(29.7604, -95.3698, 32.7767, -96.7970), 5)
}
