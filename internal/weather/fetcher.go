package weather

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/datastore"
	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
	"github.com/jonboulle/clockwork"
)

const tickerSeparator = "  •  "

// FetcherOption configures a Fetcher
type FetcherOption func(*Fetcher)

// WithFeeds adds RSS headlines to the ticker
func WithFeeds(f *Feeds) FetcherOption {
	return func(ft *Fetcher) { ft.feeds = f }
}

// WithRadar enables downloading the radar composite
func WithRadar(enabled bool) FetcherOption {
	return func(ft *Fetcher) { ft.radar = enabled }
}

// WithTimezone sets the zone hour labels are rendered in
func WithTimezone(tz *time.Location) FetcherOption {
	return func(ft *Fetcher) {
		if tz != nil {
			ft.tz = tz
		}
	}
}

// WithMaxStations bounds how many nearby stations are queried
func WithMaxStations(n int) FetcherOption {
	return func(ft *Fetcher) { ft.maxStations = n }
}

// WithCities enables the map pages' city lookups within radiusMi of the
// location
func WithCities(c *CityCatalog, radiusMi float64) FetcherOption {
	return func(ft *Fetcher) {
		ft.cities = c
		ft.radiusMi = radiusMi
	}
}

// WithMaps selects which map pages are fetched for
func WithMaps(regional, forecastMap bool) FetcherOption {
	return func(ft *Fetcher) {
		ft.regional = regional
		ft.forecastMap = forecastMap
	}
}

// WithTiles draws the map pages over a w x h tile background
func WithTiles(t *TileMap, w, h int) FetcherOption {
	return func(ft *Fetcher) {
		ft.tiles = t
		ft.mapW, ft.mapH = w, h
	}
}

// WithFetcherClock sets the clock used for the snapshot timestamp
func WithFetcherClock(c clockwork.Clock) FetcherOption {
	return func(ft *Fetcher) { ft.clock = c }
}

// Fetcher assembles a complete snapshot from the NWS client and feeds
type Fetcher struct {
	nws         *Client
	feeds       *Feeds
	loc         Location
	tz          *time.Location
	radar       bool
	maxStations int
	clock       clockwork.Clock

	cities      *CityCatalog
	radiusMi    float64
	regional    bool
	forecastMap bool
	tiles       *TileMap
	mapW, mapH  int
}

// NewFetcher creates a fetcher for loc
func NewFetcher(nws *Client, loc Location, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		nws:         nws,
		loc:         loc,
		tz:          time.Local,
		maxStations: 12,
		clock:       clockwork.NewRealClock(),
		radiusMi:    360,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch implements datastore.FetchFunc. Individual sources that fail leave
// their keys empty; only when every forecast and observation source fails is
// an error returned so the store keeps serving the previous snapshot.
func (f *Fetcher) Fetch(ctx context.Context) (datastore.Snapshot, error) {
	log := logger.WithComponent("weather")
	snap := datastore.Snapshot{KeyLocation: f.loc}

	alerts, alertsErr := f.nws.Alerts(ctx)
	if alertsErr != nil {
		log.Warn().Err(alertsErr).Msg("Failed to fetch alerts")
	}
	var titles []string
	if f.feeds != nil {
		titles = f.feeds.Titles(ctx)
	}
	snap[KeyAlerts] = alerts
	snap[KeyTicker] = TickerText(alerts, alertsErr, titles)

	forecast, forecastErr := f.nws.Forecast(ctx)
	if forecastErr != nil {
		log.Warn().Err(forecastErr).Msg("Failed to fetch forecast")
	}
	hourly, hourlyErr := f.nws.Hourly(ctx)
	if hourlyErr != nil {
		log.Warn().Err(hourlyErr).Msg("Failed to fetch hourly forecast")
	}
	grid, gridErr := f.nws.GridData(ctx)
	if gridErr != nil {
		log.Debug().Err(gridErr).Msg("Failed to fetch gridpoint data")
	}
	obs, obsErr := f.nws.LatestObservations(ctx, f.maxStations)
	if obsErr != nil {
		log.Warn().Err(obsErr).Msg("Failed to fetch observations")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if forecastErr != nil && hourlyErr != nil && obsErr != nil {
		return nil, fmt.Errorf("failed to fetch weather data: %w", errors.Join(forecastErr, hourlyErr, obsErr))
	}

	var first *StationObservation
	if len(obs) > 0 {
		first = &obs[0]
	}
	snap[KeyCurrent] = BuildCurrent(forecast, first)
	snap[KeyDaily] = BuildDaily(forecast)
	snap[KeyForecast] = BuildPeriods(forecast)
	snap[KeyHourly] = BuildHourly(hourly, grid, f.tz)
	snap[KeyLatest] = BuildLatestRows(obs)
	snap[KeyNarration] = Narration(forecast, hourly, f.loc.Name)

	if f.cities != nil && (f.regional || f.forecastMap) {
		targets := f.cities.Near(f.loc.Lat, f.loc.Lon, f.radiusMi, maxMapTargets)
		if f.regional {
			snap[KeyRegional] = f.regionalData(ctx, targets, obs)
		}
		if f.forecastMap {
			snap[KeyForecastMap] = f.forecastMapData(ctx, targets, forecast)
		}
	}

	if f.radar {
		img, err := f.nws.RadarComposite(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to fetch radar composite")
		} else {
			snap[KeyRadar] = img
		}
	}

	snap[KeyUpdated] = f.clock.Now()
	return snap, nil
}

// TickerText orders the crawl as alerts, headlines, alerts so the alerts
// are on screen on both sides of the loop point
func TickerText(alerts []string, alertsErr error, titles []string) string {
	var lead string
	switch {
	case alertsErr != nil:
		lead = "Weather data unavailable"
	case len(alerts) == 0:
		lead = "No active alerts"
	default:
		lead = strings.Join(alerts, tickerSeparator)
	}

	var middle []string
	for _, t := range titles {
		if t = strings.TrimSpace(t); t != "" {
			middle = append(middle, t)
		}
	}
	if len(middle) == 0 {
		return lead
	}
	return lead + tickerSeparator + strings.Join(middle, tickerSeparator) + tickerSeparator + lead
}

// BuildCurrent merges an observation with the first forecast period
func BuildCurrent(forecast *Forecast, so *StationObservation) Current {
	c := Current{StationName: "Nearby Station", ForecastUnit: "F", ForecastIsDay: true}

	if so != nil {
		sp := so.Station.Properties
		switch {
		case sp.Name != "":
			c.StationName = sp.Name
		case sp.StationIdentifier != "":
			c.StationName = sp.StationIdentifier
		}

		op := so.Observation.Properties
		if v := op.Temperature.Value; v != nil {
			c.TempF = ptr(Round(CToF(*v), 1))
		}
		if v := op.Dewpoint.Value; v != nil {
			c.DewF = ptr(Round(CToF(*v), 1))
		}
		if v := op.RelativeHumidity.Value; v != nil {
			c.Humidity = ptr(Round(*v, 0))
		}
		if mph, ok := windMPH(op.WindSpeed); ok {
			c.WindMPH = ptr(Round(mph, 1))
		}
		if v := op.WindDirection.Value; v != nil {
			c.WindDir = Cardinal(*v)
		}
		if v := op.Visibility.Value; v != nil {
			c.VisibilityMi = ptr(Round(MetersToMiles(*v), 1))
		}
		if v := op.BarometricPressure.Value; v != nil {
			c.PressureInHg = ptr(Round(PascalToInHg(*v), 2))
		}
		if c.TempF != nil && c.Humidity != nil {
			c.HeatIndexF = ptr(Round(HeatIndex(*c.TempF, *c.Humidity), 1))
		}

		var ceilingM *float64
		if op.Ceiling != nil {
			ceilingM = op.Ceiling.Value
		}
		if ceilingM == nil {
			for _, l := range op.CloudLayers {
				if l.Base.Value != nil {
					ceilingM = l.Base.Value
					break
				}
			}
		}
		if ceilingM != nil {
			c.CeilingFt = ptr(Round(MetersToFeet(*ceilingM), 0))
		}

		c.Observed = op.TextDescription
		if ts, err := time.Parse(time.RFC3339, op.Timestamp); err == nil {
			c.ObservedAt = ts
		}
	}

	if periods := forecast.Periods(); len(periods) > 0 {
		p := periods[0]
		c.ForecastTemp = p.Temperature
		if p.TemperatureUnit != "" {
			c.ForecastUnit = p.TemperatureUnit
		}
		c.ForecastShort = p.ShortForecast
		c.ForecastIsDay = p.IsDaytime
	}
	return c
}

// windMPH converts an observed wind speed, which NWS reports in km/h or m/s
func windMPH(q Quantity) (float64, bool) {
	if q.Value == nil {
		return 0, false
	}
	if strings.Contains(q.UnitCode, "km_h") {
		return KMHToMPH(*q.Value), true
	}
	return MSToMPH(*q.Value), true
}

// BuildDaily pairs each daytime period with the following night's low, up
// to seven days
func BuildDaily(forecast *Forecast) []Day {
	periods := forecast.Periods()
	days := []Day{}
	for i, p := range periods {
		if !p.IsDaytime {
			continue
		}
		d := Day{
			Name:  strings.ToUpper(p.Name),
			High:  p.Temperature,
			Unit:  p.TemperatureUnit,
			Short: p.ShortForecast,
			IsDay: true,
		}
		if d.Name == "" {
			d.Name = "DAY"
		}
		if d.Unit == "" {
			d.Unit = "F"
		}
		if i+1 < len(periods) && !periods[i+1].IsDaytime {
			d.Low = periods[i+1].Temperature
		}
		days = append(days, d)
		if len(days) >= 7 {
			break
		}
	}
	return days
}

// BuildPeriods returns the first two forecast periods for the text page
func BuildPeriods(forecast *Forecast) []Period {
	periods := forecast.Periods()
	if len(periods) > 2 {
		periods = periods[:2]
	}
	out := make([]Period, 0, len(periods))
	for _, p := range periods {
		pd := Period{
			Name:        p.Name,
			Temperature: p.Temperature,
			Unit:        p.TemperatureUnit,
			Wind:        p.WindSpeed,
			WindDir:     p.WindDirection,
			Short:       p.ShortForecast,
			Detailed:    p.DetailedForecast,
			IsDay:       p.IsDaytime,
		}
		if pd.Unit == "" {
			pd.Unit = "F"
		}
		if q := p.ProbabilityOfPrecipitation; q != nil && q.Value != nil {
			pd.Precip = ptr(*q.Value)
		}
		out = append(out, pd)
	}
	return out
}

// BuildHourly returns up to twelve hourly points with sky cover joined in
// from the gridpoint data by local hour
func BuildHourly(hourly *Forecast, grid *GridData, tz *time.Location) []HourlyPoint {
	if tz == nil {
		tz = time.Local
	}
	clouds := cloudLookup(grid, tz)

	periods := hourly.Periods()
	if len(periods) > 12 {
		periods = periods[:12]
	}
	points := []HourlyPoint{}
	for _, p := range periods {
		start, err := time.Parse(time.RFC3339, p.StartTime)
		if err != nil {
			continue
		}
		local := start.In(tz)
		pt := HourlyPoint{
			Time:  start,
			Label: hourLabel(local),
		}
		if p.Temperature != nil {
			pt.Temp = ptr(float64(*p.Temperature))
		}
		if q := p.ProbabilityOfPrecipitation; q != nil && q.Value != nil {
			pt.Precip = *q.Value
		}
		if v, ok := clouds[hourKey(local)]; ok {
			pt.Cloud = ptr(v)
		}
		points = append(points, pt)
	}
	return points
}

func hourKey(t time.Time) int64 {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location()).Unix()
}

func hourLabel(t time.Time) string {
	return t.Format("3") + t.Format("PM")[:1]
}

func cloudLookup(grid *GridData, tz *time.Location) map[int64]float64 {
	out := map[int64]float64{}
	if grid == nil {
		return out
	}
	for _, v := range grid.Properties.SkyCover.Values {
		if v.Value == nil {
			continue
		}
		startRaw, _, _ := strings.Cut(v.ValidTime, "/")
		start, err := time.Parse(time.RFC3339, startRaw)
		if err != nil {
			continue
		}
		out[hourKey(start.In(tz))] = *v.Value
	}
	return out
}

// BuildLatestRows formats one table row per nearby station
func BuildLatestRows(obs []StationObservation) []LatestRow {
	rows := []LatestRow{}
	for _, so := range obs {
		sp := so.Station.Properties
		raw := sp.Name
		if raw == "" {
			raw = sp.StationIdentifier
		}
		op := so.Observation.Properties

		row := LatestRow{
			Name:      StationName(raw),
			Temp:      "--",
			Condition: op.TextDescription,
			Wind:      "Calm",
		}
		if v := op.Temperature.Value; v != nil {
			row.Temp = fmt.Sprintf("%.1f°F", Round(CToF(*v), 1))
		}
		if mph, ok := windMPH(op.WindSpeed); ok {
			dir := "--"
			if d := op.WindDirection.Value; d != nil {
				dir = Cardinal(*d)
			}
			row.Wind = fmt.Sprintf("%s %.1f mph", dir, Round(mph, 1))
		}
		if row.Condition == "" {
			row.Condition = "--"
		}
		rows = append(rows, row)
	}
	return rows
}
