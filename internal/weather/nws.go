// Package weather talks to the National Weather Service and friends and turns
// their responses into the snapshot the layers draw from.
package weather

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/cache"
	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultNWSBaseURL = "https://api.weather.gov"
	DefaultRadarURL   = "https://radar.weather.gov/ridge/standard/CONUS_Composite_Reflectivity.png"

	maxResponseBytes = 16 << 20
)

// Quantity is an NWS value with its unit; Value is nil when not reported
type Quantity struct {
	Value    *float64 `json:"value"`
	UnitCode string   `json:"unitCode"`
}

type pointResponse struct {
	Properties struct {
		Forecast            string `json:"forecast"`
		ForecastHourly      string `json:"forecastHourly"`
		ForecastGridData    string `json:"forecastGridData"`
		ObservationStations string `json:"observationStations"`
		RadarStation        string `json:"radarStation"`
	} `json:"properties"`
}

// ForecastPeriod is one entry of a forecast or hourly forecast
type ForecastPeriod struct {
	Number                     int       `json:"number"`
	Name                       string    `json:"name"`
	StartTime                  string    `json:"startTime"`
	IsDaytime                  bool      `json:"isDaytime"`
	Temperature                *int      `json:"temperature"`
	TemperatureUnit            string    `json:"temperatureUnit"`
	WindSpeed                  string    `json:"windSpeed"`
	WindDirection              string    `json:"windDirection"`
	ShortForecast              string    `json:"shortForecast"`
	DetailedForecast           string    `json:"detailedForecast"`
	ProbabilityOfPrecipitation *Quantity `json:"probabilityOfPrecipitation"`
}

// Forecast is the periods list returned by the forecast endpoints
type Forecast struct {
	Properties struct {
		Periods []ForecastPeriod `json:"periods"`
	} `json:"properties"`
}

// Periods returns the forecast periods, tolerating a nil receiver
func (f *Forecast) Periods() []ForecastPeriod {
	if f == nil {
		return nil
	}
	return f.Properties.Periods
}

// GridData carries the gridpoint layers used for the hourly graph
type GridData struct {
	Properties struct {
		SkyCover struct {
			Values []struct {
				ValidTime string   `json:"validTime"`
				Value     *float64 `json:"value"`
			} `json:"values"`
		} `json:"skyCover"`
	} `json:"properties"`
}

type stationsResponse struct {
	ObservationStations []string `json:"observationStations"`
}

// Station is observation station metadata
type Station struct {
	Geometry struct {
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
	Properties struct {
		Name              string `json:"name"`
		StationIdentifier string `json:"stationIdentifier"`
	} `json:"properties"`
}

// Position returns the station's coordinates from its GeoJSON point
func (s Station) Position() (lat, lon float64, ok bool) {
	if len(s.Geometry.Coordinates) < 2 {
		return 0, 0, false
	}
	return s.Geometry.Coordinates[1], s.Geometry.Coordinates[0], true
}

// Observation is the latest report from a station
type Observation struct {
	Properties struct {
		TextDescription    string    `json:"textDescription"`
		Timestamp          string    `json:"timestamp"`
		Temperature        Quantity  `json:"temperature"`
		Dewpoint           Quantity  `json:"dewpoint"`
		RelativeHumidity   Quantity  `json:"relativeHumidity"`
		WindSpeed          Quantity  `json:"windSpeed"`
		WindDirection      Quantity  `json:"windDirection"`
		Visibility         Quantity  `json:"visibility"`
		BarometricPressure Quantity  `json:"barometricPressure"`
		Ceiling            *Quantity `json:"ceiling"`
		CloudLayers        []struct {
			Base Quantity `json:"base"`
		} `json:"cloudLayers"`
	} `json:"properties"`
}

// StationObservation pairs a station with its latest observation
type StationObservation struct {
	Station     Station
	Observation Observation
}

type alertsResponse struct {
	Features []struct {
		Properties struct {
			Headline string `json:"headline"`
		} `json:"properties"`
	} `json:"features"`
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithBaseURL points the client at another API root
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithRadarURL replaces the radar composite image URL
func WithRadarURL(u string) ClientOption {
	return func(c *Client) { c.radarURL = u }
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithCacheClock drives response expiry from clock
func WithCacheClock(clock clockwork.Clock) ClientOption {
	return func(c *Client) { c.clock = clock }
}

// Client is an NWS API client for one location. Responses are cached for
// the configured TTL so a refresh loop faster than the TTL is cheap.
type Client struct {
	lat, lon  float64
	userAgent string
	baseURL   string
	radarURL  string
	http      *http.Client
	clock     clockwork.Clock
	ttl       time.Duration

	responses *cache.TTL[string, []byte]
	radar     *cache.TTL[string, image.Image]

	mu     sync.Mutex
	points *pointResponse
}

// NewClient creates a client for lat/lon
func NewClient(lat, lon float64, userAgent string, ttl time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		lat:       lat,
		lon:       lon,
		userAgent: userAgent,
		baseURL:   DefaultNWSBaseURL,
		radarURL:  DefaultRadarURL,
		http:      &http.Client{Timeout: 15 * time.Second},
		ttl:       ttl,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.responses = cache.NewTTL[string, []byte](ttl, 256, c.clock)
	c.radar = cache.NewTTL[string, image.Image](ttl, 2, c.clock)
	return c
}

func (c *Client) fetch(ctx context.Context, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	return data, nil
}

// getJSON fetches url through the response cache and decodes it into out
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	data, ok := c.responses.Get(url)
	if !ok {
		var err error
		data, err = c.fetch(ctx, url, "application/geo+json")
		if err != nil {
			return err
		}
		c.responses.Set(url, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.responses.Delete(url)
		return fmt.Errorf("failed to parse %s: %w", url, err)
	}
	return nil
}

// pointAt looks up the gridpoint URLs for any coordinate through the
// response cache
func (c *Client) pointAt(ctx context.Context, lat, lon float64) (*pointResponse, error) {
	var resp pointResponse
	url := fmt.Sprintf("%s/points/%.4f,%.4f", c.baseURL, lat, lon)
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	if resp.Properties.Forecast == "" || resp.Properties.ForecastHourly == "" {
		return nil, fmt.Errorf("no forecast URLs for %.4f,%.4f", lat, lon)
	}
	return &resp, nil
}

func (c *Client) resolvePoints(ctx context.Context) (*pointResponse, error) {
	c.mu.Lock()
	p := c.points
	c.mu.Unlock()
	if p != nil {
		return p, nil
	}

	resp, err := c.pointAt(ctx, c.lat, c.lon)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.points = resp
	c.mu.Unlock()

	logger.WithComponent("weather").Info().
		Str("radar_station", resp.Properties.RadarStation).
		Msg("Resolved NWS gridpoint")
	return resp, nil
}

// Forecast returns the 12-hour period forecast
func (c *Client) Forecast(ctx context.Context) (*Forecast, error) {
	p, err := c.resolvePoints(ctx)
	if err != nil {
		return nil, err
	}
	var f Forecast
	if err := c.getJSON(ctx, p.Properties.Forecast, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Hourly returns the hourly forecast
func (c *Client) Hourly(ctx context.Context) (*Forecast, error) {
	p, err := c.resolvePoints(ctx)
	if err != nil {
		return nil, err
	}
	var f Forecast
	if err := c.getJSON(ctx, p.Properties.ForecastHourly, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// GridData returns the raw gridpoint layers
func (c *Client) GridData(ctx context.Context) (*GridData, error) {
	p, err := c.resolvePoints(ctx)
	if err != nil {
		return nil, err
	}
	if p.Properties.ForecastGridData == "" {
		return &GridData{}, nil
	}
	var g GridData
	if err := c.getJSON(ctx, p.Properties.ForecastGridData, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// PointForecast returns the period forecast for another coordinate, such
// as a city on the forecast map
func (c *Client) PointForecast(ctx context.Context, lat, lon float64) (*Forecast, error) {
	p, err := c.pointAt(ctx, lat, lon)
	if err != nil {
		return nil, err
	}
	var f Forecast
	if err := c.getJSON(ctx, p.Properties.Forecast, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// LatestObservations returns the newest observation for up to limit nearby
// stations. Stations that fail are skipped.
func (c *Client) LatestObservations(ctx context.Context, limit int) ([]StationObservation, error) {
	p, err := c.resolvePoints(ctx)
	if err != nil {
		return nil, err
	}
	return c.observationsFrom(ctx, p.Properties.ObservationStations, limit)
}

// ObservationsNear is LatestObservations for another coordinate
func (c *Client) ObservationsNear(ctx context.Context, lat, lon float64, limit int) ([]StationObservation, error) {
	p, err := c.pointAt(ctx, lat, lon)
	if err != nil {
		return nil, err
	}
	return c.observationsFrom(ctx, p.Properties.ObservationStations, limit)
}

func (c *Client) observationsFrom(ctx context.Context, stationsURL string, limit int) ([]StationObservation, error) {
	if stationsURL == "" {
		return nil, nil
	}

	var stations stationsResponse
	if err := c.getJSON(ctx, stationsURL, &stations); err != nil {
		return nil, err
	}
	urls := stations.ObservationStations
	if limit > 0 && len(urls) > limit {
		urls = urls[:limit]
	}

	out := make([]StationObservation, 0, len(urls))
	for _, u := range urls {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		var so StationObservation
		if err := c.getJSON(ctx, u+"/observations/latest", &so.Observation); err != nil {
			logger.WithComponent("weather").Debug().Err(err).Str("station", u).Msg("Skipping station")
			continue
		}
		if err := c.getJSON(ctx, u, &so.Station); err != nil {
			logger.WithComponent("weather").Debug().Err(err).Str("station", u).Msg("Skipping station")
			continue
		}
		out = append(out, so)
	}
	return out, nil
}

// Alerts returns the headlines of active alerts for the point
func (c *Client) Alerts(ctx context.Context) ([]string, error) {
	var resp alertsResponse
	url := fmt.Sprintf("%s/alerts/active?point=%.4f,%.4f", c.baseURL, c.lat, c.lon)
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	var headlines []string
	for _, f := range resp.Features {
		if h := strings.TrimSpace(f.Properties.Headline); h != "" {
			headlines = append(headlines, h)
		}
		if len(headlines) >= 10 {
			break
		}
	}
	return headlines, nil
}

// RadarComposite downloads and decodes the national reflectivity mosaic
func (c *Client) RadarComposite(ctx context.Context) (image.Image, error) {
	if img, ok := c.radar.Get(c.radarURL); ok {
		return img, nil
	}
	data, err := c.fetch(ctx, c.radarURL, "image/png")
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode radar image: %w", err)
	}
	c.radar.Set(c.radarURL, img)
	return img, nil
}
