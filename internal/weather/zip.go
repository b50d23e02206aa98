package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/cache"
	"github.com/OkinawaBoss/WeatharrStation/internal/config"
	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
)

// DefaultZipURL is the zippopotam.us US lookup root
const DefaultZipURL = "https://api.zippopotam.us/us"

// Fallback coordinates used when neither lat/lon nor a ZIP resolves
const (
	FallbackLat = 29.735
	FallbackLon = -94.977
)

// ErrZipNotFound is returned for ZIP codes the lookup service does not know
var ErrZipNotFound = errors.New("zip code not found")

// Place is a resolved ZIP code
type Place struct {
	Zip   string  `json:"zip"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	City  string  `json:"city"`
	State string  `json:"state"`
}

// Label formats the place as "City, ST"
func (p Place) Label() string {
	switch {
	case p.City != "" && p.State != "":
		return p.City + ", " + p.State
	case p.City != "":
		return p.City
	}
	return p.State
}

// NormalizeZip extracts the first five digits of zip, or "" when there are
// fewer than five
func NormalizeZip(zip string) string {
	var b strings.Builder
	for _, r := range zip {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			if b.Len() == 5 {
				return b.String()
			}
		}
	}
	return ""
}

// ZipLookup resolves US ZIP codes to coordinates with a bounded result cache
type ZipLookup struct {
	baseURL string
	http    *http.Client
	cache   *cache.TTL[string, Place]
}

// NewZipLookup creates a lookup against baseURL (DefaultZipURL when empty)
func NewZipLookup(baseURL string) *ZipLookup {
	if baseURL == "" {
		baseURL = DefaultZipURL
	}
	return &ZipLookup{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 8 * time.Second},
		cache:   cache.NewTTL[string, Place](24*time.Hour, 1024, nil),
	}
}

type zipResponse struct {
	Places []struct {
		PlaceName         string `json:"place name"`
		State             string `json:"state"`
		StateAbbreviation string `json:"state abbreviation"`
		Latitude          string `json:"latitude"`
		Longitude         string `json:"longitude"`
	} `json:"places"`
}

// Lookup resolves zip
func (z *ZipLookup) Lookup(ctx context.Context, zip string) (Place, error) {
	code := NormalizeZip(zip)
	if code == "" {
		return Place{}, fmt.Errorf("invalid zip code %q", zip)
	}
	if p, ok := z.cache.Get(code); ok {
		return p, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, z.baseURL+"/"+code, nil)
	if err != nil {
		return Place{}, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := z.http.Do(req)
	if err != nil {
		return Place{}, fmt.Errorf("failed to look up zip %s: %w", code, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Place{}, fmt.Errorf("%w: %s", ErrZipNotFound, code)
	}
	if resp.StatusCode != http.StatusOK {
		return Place{}, fmt.Errorf("zip lookup returned status %d", resp.StatusCode)
	}

	var zr zipResponse
	if err := json.NewDecoder(resp.Body).Decode(&zr); err != nil {
		return Place{}, fmt.Errorf("failed to parse zip response: %w", err)
	}
	if len(zr.Places) == 0 {
		return Place{}, fmt.Errorf("%w: %s", ErrZipNotFound, code)
	}

	first := zr.Places[0]
	lat, err := strconv.ParseFloat(first.Latitude, 64)
	if err != nil {
		return Place{}, fmt.Errorf("invalid latitude %q: %w", first.Latitude, err)
	}
	lon, err := strconv.ParseFloat(first.Longitude, 64)
	if err != nil {
		return Place{}, fmt.Errorf("invalid longitude %q: %w", first.Longitude, err)
	}
	state := strings.TrimSpace(first.StateAbbreviation)
	if state == "" {
		state = strings.TrimSpace(first.State)
	}

	p := Place{
		Zip:   code,
		Lat:   lat,
		Lon:   lon,
		City:  strings.TrimSpace(first.PlaceName),
		State: state,
	}
	z.cache.Set(code, p)
	return p, nil
}

// ResolveLocation decides where the broadcast is for. Explicit coordinates
// win; otherwise the ZIP is looked up, and as a last resort the fallback
// coordinates are used. An unchanged default station name is replaced with
// the ZIP's "City, ST".
func ResolveLocation(ctx context.Context, st config.StationConfig, z *ZipLookup) Location {
	log := logger.WithComponent("weather")
	loc := Location{Name: st.Name, Lat: st.Lat, Lon: st.Lon}
	if loc.Name == "" {
		loc.Name = config.DefaultLocationName
	}

	if st.Zip != "" && z != nil {
		p, err := z.Lookup(ctx, st.Zip)
		if err != nil {
			log.Warn().Err(err).Str("zip", st.Zip).Msg("ZIP lookup failed")
		} else {
			if !st.HasCoordinates() {
				loc.Lat, loc.Lon = p.Lat, p.Lon
			}
			if loc.Name == config.DefaultLocationName && p.Label() != "" {
				loc.Name = p.Label()
			}
		}
	}

	if loc.Lat == 0 && loc.Lon == 0 {
		loc.Lat, loc.Lon = FallbackLat, FallbackLon
		log.Warn().
			Float64("lat", loc.Lat).
			Float64("lon", loc.Lon).
			Msg("No coordinates configured, using fallback location")
	}
	return loc
}
