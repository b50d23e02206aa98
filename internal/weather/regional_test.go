package weather

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog(t *testing.T) *CityCatalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cities.csv")
	require.NoError(t, os.WriteFile(path, []byte(`name,lat,lon,pop
Houston,29.7604,-95.3698,2304580
Austin,30.2672,-97.7431,961855
Galveston,29.3013,-94.7977,53695
`), 0o644))
	return NewCityCatalog(path, time.Hour, nil)
}

func stationObs(name string, lat, lon float64, tempC *float64, ts string) StationObservation {
	var so StationObservation
	so.Station.Properties.Name = name
	so.Station.Geometry.Coordinates = []float64{lon, lat}
	so.Observation.Properties.Temperature.Value = tempC
	so.Observation.Properties.TextDescription = "Clear"
	so.Observation.Properties.Timestamp = ts
	return so
}

func TestFetchBuildsMapPages(t *testing.T) {
	stub := newNWSStub(t)
	tz := time.FixedZone("CDT", -5*3600)
	loc := Location{Name: "Pearland, TX", Lat: 29.5, Lon: -95.2}
	f := NewFetcher(stub.client(time.Minute), loc,
		WithTimezone(tz),
		WithCities(testCatalog(t), 360),
		WithMaps(true, true))

	snap, err := f.Fetch(context.Background())
	require.NoError(t, err)

	regional, ok := snap[KeyRegional].(*MapData)
	require.True(t, ok)
	require.Len(t, regional.Points, 1, "Austin has no station in reach")
	assert.Equal(t, MapPoint{
		Name: "Houston", Lat: 29.7604, Lon: -95.3698,
		Temp: "88.0°F", Condition: "Partly Cloudy", IsDay: true,
	}, regional.Points[0])
	assert.Nil(t, regional.Base)
	assert.True(t, regional.Bounds.Valid())

	fmap, ok := snap[KeyForecastMap].(*MapData)
	require.True(t, ok)
	require.Len(t, fmap.Points, 2)
	assert.Equal(t, "Houston", fmap.Points[0].Name)
	assert.Equal(t, "Austin", fmap.Points[1].Name)
	assert.Equal(t, "H 91°F  L 78°", fmap.Points[1].Temp)
	assert.Equal(t, "Mostly Sunny", fmap.Points[1].Condition)
	for _, p := range fmap.Points {
		assert.True(t, p.Lat > fmap.Bounds.LatMin && p.Lat < fmap.Bounds.LatMax)
		assert.True(t, p.Lon > fmap.Bounds.LonMin && p.Lon < fmap.Bounds.LonMax)
	}
}

func TestMapPagesAreOptIn(t *testing.T) {
	stub := newNWSStub(t)
	f := NewFetcher(stub.client(time.Minute), Location{Name: "x", Lat: 29.5, Lon: -95.2},
		WithCities(testCatalog(t), 360),
		WithMaps(false, true))

	snap, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, snap, KeyRegional)
	assert.Contains(t, snap, KeyForecastMap)
}

func TestForecastMapFallsBackToHome(t *testing.T) {
	dead := httptest.NewServer(nil)
	dead.Close()
	loc := Location{Name: "Pearland, TX", Lat: 29.5, Lon: -95.2}
	f := NewFetcher(NewClient(29.5, -95.2, "weatharr-test", time.Minute, WithBaseURL(dead.URL)), loc)

	var home Forecast
	high, low := 91, 78
	home.Properties.Periods = []ForecastPeriod{
		{Name: "Today", IsDaytime: true, Temperature: &high, TemperatureUnit: "F", ShortForecast: "Sunny"},
		{Name: "Tonight", Temperature: &low, TemperatureUnit: "F"},
	}

	md := f.forecastMapData(context.Background(), testCatalog(t).Near(loc.Lat, loc.Lon, 360, 12), &home)
	require.Len(t, md.Points, 1)
	assert.Equal(t, MapPoint{Name: "Pearland, TX", Lat: 29.5, Lon: -95.2, Temp: "H 91°F  L 78°", Condition: "Sunny", IsDay: true}, md.Points[0])
}

func TestBuildRegionalMergesStationsPerCity(t *testing.T) {
	cat := testCatalog(t)
	targets := cat.Near(29.5, -95.2, 360, 12)
	warm, hot := 25.0, 35.0
	obs := []StationObservation{
		stationObs("Houston Intercontinental Airport", 29.98, -95.36, &warm, "2025-06-02T04:00:00Z"),
		// same city again, ignored
		stationObs("William P. Hobby Airport", 29.65, -95.28, &hot, "2025-06-02T04:00:00Z"),
		stationObs("Austin-Bergstrom International Airport", 30.18, -97.68, nil, "bad"),
		stationObs("No Geometry", 0, 0, &hot, ""),
	}
	obs[3].Station.Geometry.Coordinates = nil

	points := BuildRegional(obs, targets, cat.CanonicalName, time.UTC)
	require.Len(t, points, 2)
	assert.Equal(t, "Houston", points[0].Name)
	assert.Equal(t, "77.0°F", points[0].Temp)
	assert.False(t, points[0].IsDay, "04:00 UTC is night")
	assert.Equal(t, "Austin", points[1].Name)
	assert.Equal(t, "--", points[1].Temp)
	assert.Equal(t, 29.7604, points[0].Lat, "plotted at the city, not the station")
}

func TestBuildRegionalPlotsStationsWhenNoCityMatches(t *testing.T) {
	targets := []Target{{City: City{Name: "Far Away", Lat: 45, Lon: -120}, MaxObsDistance: 60}}
	var obs []StationObservation
	for i := 0; i < 10; i++ {
		temp := float64(i)
		obs = append(obs, stationObs(string(rune('A'+i))+" Field, TX", 29+float64(i)/10, -95, &temp, "2025-06-02T15:00:00Z"))
	}

	points := BuildRegional(obs, targets, nil, time.UTC)
	require.Len(t, points, 8)
	assert.Equal(t, "A Field", points[0].Name)
	assert.Equal(t, 29.0, points[0].Lat)
	assert.True(t, points[0].IsDay)
}

func TestForecastPoint(t *testing.T) {
	_, ok := ForecastPoint("x", 0, 0, nil)
	assert.False(t, ok)

	night, day := 70, 88
	fc := &Forecast{}
	fc.Properties.Periods = []ForecastPeriod{
		{Name: "Tonight", Temperature: &night, TemperatureUnit: "F", ShortForecast: "Clear"},
		{Name: "Friday", IsDaytime: true, Temperature: &day, ShortForecast: " Hot "},
	}
	pt, ok := ForecastPoint("Dallas", 32.8, -96.8, fc)
	require.True(t, ok)
	assert.Equal(t, "H 88°F", pt.Temp, "no night period follows")
	assert.Equal(t, "Hot", pt.Condition)

	fc.Properties.Periods = fc.Properties.Periods[:1]
	pt, ok = ForecastPoint("Dallas", 32.8, -96.8, fc)
	require.True(t, ok)
	assert.Equal(t, "70°F", pt.Temp)
	assert.False(t, pt.IsDay)
}

func TestFitBounds(t *testing.T) {
	b := FitBounds(nil, 30, -95)
	assert.InDelta(t, 2.0, b.LatMax-b.LatMin, 1e-9)
	assert.Greater(t, b.LonMax-b.LonMin, 2.0, "widened by latitude")
	assert.InDelta(t, -95, (b.LonMin+b.LonMax)/2, 1e-9)

	b = FitBounds([]MapPoint{{Lat: 28, Lon: -99}, {Lat: 33, Lon: -94}}, 0, 0)
	assert.InDelta(t, 5.4, b.LatMax-b.LatMin, 1e-9)
	assert.InDelta(t, 30.5, (b.LatMin+b.LatMax)/2, 1e-9)
	assert.Less(t, b.LonMin, -99.2)
	assert.Greater(t, b.LonMax, -93.8)
}
