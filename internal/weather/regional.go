package weather

import (
	"context"
	"fmt"
	"image"
	"math"
	"strings"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
	"golang.org/x/sync/errgroup"
)

const (
	maxMapPoints   = 8
	maxMapTargets  = 12
	mapFetchLimit  = 4
	boundsPad      = 0.2
	boundsMinSpan  = 2.0
	minCosLatitude = 0.25
)

// MapPoint is one labelled city on a map page
type MapPoint struct {
	Name      string
	Lat       float64
	Lon       float64
	Temp      string
	Condition string
	IsDay     bool
}

// Bounds is a lat/lon box
type Bounds struct {
	LatMin, LonMin float64
	LatMax, LonMax float64
}

// Valid reports whether the box has area
func (b Bounds) Valid() bool {
	return b.LatMax > b.LatMin && b.LonMax > b.LonMin
}

// MapData is what the map pages draw. Base is an optional background
// covering exactly Bounds.
type MapData struct {
	Points []MapPoint
	Bounds Bounds
	Base   image.Image
}

// FitBounds returns a padded box around the points, at least two degrees
// tall, with longitude widened by latitude so the box is roughly square on
// screen. With no points the box is centered on the fallback.
func FitBounds(points []MapPoint, fallbackLat, fallbackLon float64) Bounds {
	latMin, latMax := fallbackLat, fallbackLat
	lonMin, lonMax := fallbackLon, fallbackLon
	for i, p := range points {
		if i == 0 {
			latMin, latMax, lonMin, lonMax = p.Lat, p.Lat, p.Lon, p.Lon
			continue
		}
		latMin, latMax = math.Min(latMin, p.Lat), math.Max(latMax, p.Lat)
		lonMin, lonMax = math.Min(lonMin, p.Lon), math.Max(lonMax, p.Lon)
	}

	centerLat := (latMin + latMax) / 2
	centerLon := (lonMin + lonMax) / 2
	cos := math.Max(math.Cos(centerLat*math.Pi/180), minCosLatitude)

	latSpan := math.Max(latMax-latMin+2*boundsPad, boundsMinSpan)
	lonSpan := math.Max(lonMax-lonMin+2*boundsPad/cos, boundsMinSpan/cos)
	return Bounds{
		LatMin: centerLat - latSpan/2,
		LatMax: centerLat + latSpan/2,
		LonMin: centerLon - lonSpan/2,
		LonMax: centerLon + lonSpan/2,
	}
}

type inventoryRecord struct {
	name      string
	lat, lon  float64
	temp      string
	condition string
	isDay     bool
}

// BuildRegional assigns each target city the nearest observation within
// its reach. canonical maps station names to city names so several
// stations around one city count once. When no target has a station in
// reach the stations themselves are plotted.
func BuildRegional(obs []StationObservation, targets []Target, canonical func(string) string, tz *time.Location) []MapPoint {
	if tz == nil {
		tz = time.Local
	}
	if canonical == nil {
		canonical = StationName
	}

	var inventory []inventoryRecord
	seen := map[string]bool{}
	for _, so := range obs {
		lat, lon, ok := so.Station.Position()
		if !ok {
			continue
		}
		sp := so.Station.Properties
		raw := sp.Name
		if raw == "" {
			raw = sp.StationIdentifier
		}
		name := canonical(raw)
		if seen[name] {
			continue
		}
		seen[name] = true

		op := so.Observation.Properties
		rec := inventoryRecord{name: name, lat: lat, lon: lon, temp: "--", condition: op.TextDescription}
		if v := op.Temperature.Value; v != nil {
			rec.temp = fmt.Sprintf("%.1f°F", Round(CToF(*v), 1))
		}
		if ts, err := time.Parse(time.RFC3339, op.Timestamp); err == nil {
			h := ts.In(tz).Hour()
			rec.isDay = h >= 6 && h < 18
		}
		inventory = append(inventory, rec)
	}

	var points []MapPoint
	used := map[string]bool{}
	for _, t := range targets {
		if used[t.Name] {
			continue
		}
		best, bestDist := -1, math.Inf(1)
		for i, rec := range inventory {
			if d := Haversine(t.Lat, t.Lon, rec.lat, rec.lon); d <= t.MaxObsDistance && d < bestDist {
				best, bestDist = i, d
			}
		}
		if best < 0 {
			continue
		}
		used[t.Name] = true
		rec := inventory[best]
		points = append(points, MapPoint{
			Name:      t.Name,
			Lat:       t.Lat,
			Lon:       t.Lon,
			Temp:      rec.temp,
			Condition: rec.condition,
			IsDay:     rec.isDay,
		})
		if len(points) >= maxMapPoints {
			return points
		}
	}
	if len(points) > 0 {
		return points
	}

	for _, rec := range inventory {
		points = append(points, MapPoint{
			Name:      rec.name,
			Lat:       rec.lat,
			Lon:       rec.lon,
			Temp:      rec.temp,
			Condition: rec.condition,
			IsDay:     rec.isDay,
		})
		if len(points) >= maxMapPoints {
			break
		}
	}
	return points
}

// ForecastPoint turns a city's forecast into a map label: the next daytime
// high with the low of the night after it
func ForecastPoint(name string, lat, lon float64, forecast *Forecast) (MapPoint, bool) {
	periods := forecast.Periods()
	idx := -1
	for i, p := range periods {
		if p.IsDaytime && p.Temperature != nil {
			idx = i
			break
		}
	}
	if idx < 0 {
		for i, p := range periods {
			if p.Temperature != nil {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return MapPoint{}, false
	}

	p := periods[idx]
	unit := p.TemperatureUnit
	if unit == "" {
		unit = "F"
	}
	temp := fmt.Sprintf("%d°%s", *p.Temperature, unit)
	if p.IsDaytime {
		temp = "H " + temp
		if idx+1 < len(periods) && !periods[idx+1].IsDaytime && periods[idx+1].Temperature != nil {
			temp += fmt.Sprintf("  L %d°", *periods[idx+1].Temperature)
		}
	}
	return MapPoint{
		Name:      name,
		Lat:       lat,
		Lon:       lon,
		Temp:      temp,
		Condition: strings.TrimSpace(p.ShortForecast),
		IsDay:     p.IsDaytime,
	}, true
}

// regionalData observes the area around every target city. The home
// station list is included so the closest cities resolve without extra
// lookups.
func (f *Fetcher) regionalData(ctx context.Context, targets []Target, home []StationObservation) *MapData {
	found := make([][]StationObservation, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(mapFetchLimit)
	for i, t := range targets {
		g.Go(func() error {
			obs, err := f.nws.ObservationsNear(gctx, t.Lat, t.Lon, 2)
			if err != nil {
				logger.WithComponent("weather").Debug().Err(err).Str("city", t.Name).Msg("No regional observation")
				return nil
			}
			found[i] = obs
			return nil
		})
	}
	g.Wait()

	all := append([]StationObservation(nil), home...)
	for _, obs := range found {
		all = append(all, obs...)
	}
	canonical := StationName
	if f.cities != nil {
		canonical = f.cities.CanonicalName
	}
	points := BuildRegional(all, targets, canonical, f.tz)
	return f.mapData(ctx, points)
}

// forecastMapData looks up the forecast for each target city, falling back
// to the home forecast when none resolve
func (f *Fetcher) forecastMapData(ctx context.Context, targets []Target, home *Forecast) *MapData {
	found := make([]*MapPoint, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(mapFetchLimit)
	for i, t := range targets {
		g.Go(func() error {
			fc, err := f.nws.PointForecast(gctx, t.Lat, t.Lon)
			if err != nil {
				logger.WithComponent("weather").Debug().Err(err).Str("city", t.Name).Msg("No city forecast")
				return nil
			}
			if pt, ok := ForecastPoint(t.Name, t.Lat, t.Lon, fc); ok {
				found[i] = &pt
			}
			return nil
		})
	}
	g.Wait()

	var points []MapPoint
	for _, pt := range found {
		if pt != nil {
			points = append(points, *pt)
		}
		if len(points) >= maxMapPoints {
			break
		}
	}
	if len(points) == 0 {
		if pt, ok := ForecastPoint(f.loc.Name, f.loc.Lat, f.loc.Lon, home); ok {
			points = append(points, pt)
		}
	}
	return f.mapData(ctx, points)
}

func (f *Fetcher) mapData(ctx context.Context, points []MapPoint) *MapData {
	md := &MapData{Points: points, Bounds: FitBounds(points, f.loc.Lat, f.loc.Lon)}
	if f.tiles == nil || len(points) == 0 {
		return md
	}
	base, adjusted, err := f.tiles.Compose(ctx, md.Bounds, f.mapW, f.mapH)
	if err != nil {
		logger.WithComponent("weather").Warn().Err(err).Msg("Failed to compose map background")
		return md
	}
	md.Base, md.Bounds = base, adjusted
	return md
}
