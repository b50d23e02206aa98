package config

import (
	"fmt"
	"strings"
)

// Base layout resolution; every pixel constant in the layers is expressed at this size
const (
	BaseWidth  = 1920
	BaseHeight = 1080
)

// DefaultLocationName is replaced by the ZIP lookup's "City, ST" when left unchanged
const DefaultLocationName = "Weatharr Station"

// Config represents the station configuration
type Config struct {
	Station   StationConfig   `json:"station" yaml:"station"`
	Render    RenderConfig    `json:"render" yaml:"render"`
	Data      DataConfig      `json:"data" yaml:"data"`
	Output    OutputConfig    `json:"output" yaml:"output"`
	Audio     AudioConfig     `json:"audio" yaml:"audio"`
	API       APIConfig       `json:"api" yaml:"api"`
	Preview   PreviewConfig   `json:"preview" yaml:"preview"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Control   ControlConfig   `json:"control" yaml:"control"`
	LogLevel  string          `json:"log_level" yaml:"log_level"`
}

// StationConfig identifies where the forecast is for
type StationConfig struct {
	Name      string  `json:"name" yaml:"name"`
	Zip       string  `json:"zip" yaml:"zip"`
	Lat       float64 `json:"lat" yaml:"lat"`
	Lon       float64 `json:"lon" yaml:"lon"`
	Timezone  string  `json:"timezone" yaml:"timezone"`
	UserAgent string  `json:"user_agent" yaml:"user_agent"`
}

// HasCoordinates reports whether lat/lon were configured explicitly
func (s StationConfig) HasCoordinates() bool {
	return s.Lat != 0 || s.Lon != 0
}

// RenderConfig controls the frame size and on-screen pacing
type RenderConfig struct {
	Width       int      `json:"width" yaml:"width"`
	Height      int      `json:"height" yaml:"height"`
	FPS         int      `json:"fps" yaml:"fps"`
	PageSeconds float64  `json:"page_seconds" yaml:"page_seconds"`
	TickerSpeed int      `json:"ticker_speed" yaml:"ticker_speed"` // px/s at base resolution
	FontPath    string   `json:"font_path" yaml:"font_path"`
	Pages       []string `json:"pages" yaml:"pages"` // empty means all pages in default order
}

// Scale returns the layout scale relative to the 1920x1080 base
func (r RenderConfig) Scale() float64 {
	sx := float64(r.Width) / BaseWidth
	sy := float64(r.Height) / BaseHeight
	if sy < sx {
		return sy
	}
	return sx
}

// DataConfig controls the background weather refresh
type DataConfig struct {
	IntervalSec   int      `json:"interval_sec" yaml:"interval_sec"`
	CacheTTLSec   int      `json:"cache_ttl_sec" yaml:"cache_ttl_sec"`
	RSSURLs       []string `json:"rss_urls" yaml:"rss_urls"`
	RSSRefreshSec int      `json:"rss_refresh_sec" yaml:"rss_refresh_sec"`
	RSSMaxItems   int      `json:"rss_max_items" yaml:"rss_max_items"`

	// CitiesFile is a name,lat,lon,pop CSV replacing the built-in city list
	CitiesFile       string  `json:"cities_file" yaml:"cities_file"`
	RegionalRadiusMi float64 `json:"regional_radius_mi" yaml:"regional_radius_mi"`
	// MapTileURL is a {z}/{x}/{y} template for the map page backgrounds;
	// empty draws a plain grid
	MapTileURL string `json:"map_tile_url" yaml:"map_tile_url"`
}

// OutputConfig describes the encoder and its destination
type OutputConfig struct {
	URL           string  `json:"url" yaml:"url"`
	VideoKbps     int     `json:"video_kbps" yaml:"video_kbps"`
	AudioKbps     int     `json:"audio_kbps" yaml:"audio_kbps"`
	Encoder       string  `json:"encoder" yaml:"encoder"`
	Preset        string  `json:"preset" yaml:"preset"`
	Threads       int     `json:"threads" yaml:"threads"`
	GOPSeconds    float64 `json:"gop_seconds" yaml:"gop_seconds"`
	MaxQueue      int     `json:"max_queue" yaml:"max_queue"`
	ForceCFR      bool    `json:"force_cfr" yaml:"force_cfr"`
	WallclockTS   bool    `json:"wallclock_ts" yaml:"wallclock_ts"`
	SRTLatencyMS  int     `json:"srt_latency_ms" yaml:"srt_latency_ms"`
	SRTMode       string  `json:"srt_mode" yaml:"srt_mode"`
	UDPPacketSize int     `json:"udp_pkt_size" yaml:"udp_pkt_size"`
	TCPListen     bool    `json:"tcp_listen" yaml:"tcp_listen"`
	TCPNoDelay    bool    `json:"tcp_nodelay" yaml:"tcp_nodelay"`
	PATPeriod     float64 `json:"pat_period" yaml:"pat_period"`
	PCRPeriodMS   int     `json:"pcr_period_ms" yaml:"pcr_period_ms"`
	MuxrateKbps   int     `json:"muxrate_kbps" yaml:"muxrate_kbps"`
	FlushPackets  bool    `json:"flush_packets" yaml:"flush_packets"`
	PrintCmd      bool    `json:"print_cmd" yaml:"print_cmd"`
	FFmpegPath    string  `json:"ffmpeg_path" yaml:"ffmpeg_path"`
	OutWidth      int     `json:"out_width" yaml:"out_width"`
	OutHeight     int     `json:"out_height" yaml:"out_height"`
}

// AudioConfig describes the optional PCM side channels
type AudioConfig struct {
	MusicDir      string `json:"music_dir" yaml:"music_dir"`
	MusicFIFO     string `json:"music_fifo" yaml:"music_fifo"`
	VoiceFIFO     string `json:"voice_fifo" yaml:"voice_fifo"`
	SampleRate    int    `json:"sample_rate" yaml:"sample_rate"`
	InjectSilence bool   `json:"inject_silence" yaml:"inject_silence"`
	Narration     bool   `json:"narration" yaml:"narration"`
	TTSCommand    string `json:"tts_command" yaml:"tts_command"`
}

// APIConfig controls the status/control HTTP server
type APIConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Port    int  `json:"port" yaml:"port"`
}

// PreviewConfig controls local monitoring outputs
type PreviewConfig struct {
	MJPEG     bool `json:"mjpeg" yaml:"mjpeg"`
	FPS       int  `json:"fps" yaml:"fps"`
	X11       bool `json:"x11" yaml:"x11"`
	X11Width  int  `json:"x11_width" yaml:"x11_width"`
	X11Height int  `json:"x11_height" yaml:"x11_height"`
}

// TelemetryConfig controls the MQTT status publisher
type TelemetryConfig struct {
	Broker      string `json:"broker" yaml:"broker"`
	Topic       string `json:"topic" yaml:"topic"`
	ClientID    string `json:"client_id" yaml:"client_id"`
	IntervalSec int    `json:"interval_sec" yaml:"interval_sec"`
}

// ControlConfig holds the external stop conditions polled by the scheduler
type ControlConfig struct {
	StopFile         string  `json:"stop_file" yaml:"stop_file"`
	DisableURL       string  `json:"disable_url" yaml:"disable_url"`
	CheckIntervalSec float64 `json:"check_interval_sec" yaml:"check_interval_sec"`
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		Station: StationConfig{
			Name:      DefaultLocationName,
			UserAgent: "WeatherStream/0.2 (+contact)",
		},
		Render: RenderConfig{
			Width:       BaseWidth,
			Height:      BaseHeight,
			FPS:         30,
			PageSeconds: 12,
			TickerSpeed: 120,
			Pages:       []string{},
		},
		Data: DataConfig{
			IntervalSec:   60,
			CacheTTLSec:   180,
			RSSURLs:       []string{},
			RSSRefreshSec: 300,
			RSSMaxItems:   10,

			RegionalRadiusMi: 360,
		},
		Output: OutputConfig{
			URL:           "udp://127.0.0.1:5000?pkt_size=1316",
			VideoKbps:     3500,
			AudioKbps:     128,
			Encoder:       "auto",
			Preset:        "veryfast",
			Threads:       2,
			GOPSeconds:    1.0,
			MaxQueue:      2,
			SRTLatencyMS:  120,
			SRTMode:       "listener",
			UDPPacketSize: 1316,
			TCPListen:     true,
			TCPNoDelay:    true,
			PATPeriod:     0.5,
			PCRPeriodMS:   40,
			PrintCmd:      true,
			FFmpegPath:    "ffmpeg",
		},
		Audio: AudioConfig{
			SampleRate:    48000,
			InjectSilence: true,
		},
		API: APIConfig{
			Enabled: true,
			Port:    8089,
		},
		Preview: PreviewConfig{
			MJPEG:     true,
			FPS:       5,
			X11Width:  960,
			X11Height: 540,
		},
		Telemetry: TelemetryConfig{
			Topic:       "weatharr/status",
			IntervalSec: 10,
		},
		Control: ControlConfig{
			CheckIntervalSec: 5,
		},
		LogLevel: "info",
	}
}

// Validate clamps values into their usable ranges and rejects nonsense
func (c *Config) Validate() error {
	if c.Render.Width <= 0 {
		c.Render.Width = BaseWidth
	}
	if c.Render.Height <= 0 {
		c.Render.Height = BaseHeight
	}
	if c.Render.Width%2 != 0 || c.Render.Height%2 != 0 {
		return fmt.Errorf("render size %dx%d must be even for yuv420p", c.Render.Width, c.Render.Height)
	}
	c.Render.FPS = clampInt(c.Render.FPS, 1, 60)
	if c.Render.PageSeconds < 1 {
		c.Render.PageSeconds = 1
	}
	if c.Render.TickerSpeed <= 0 {
		c.Render.TickerSpeed = 120
	}

	if c.Data.IntervalSec <= 0 {
		c.Data.IntervalSec = 60
	}
	if c.Data.CacheTTLSec <= 0 {
		c.Data.CacheTTLSec = 180
	}
	if c.Data.RSSRefreshSec < 30 {
		c.Data.RSSRefreshSec = 30
	}
	if c.Data.RegionalRadiusMi <= 0 {
		c.Data.RegionalRadiusMi = 360
	}
	if c.Data.MapTileURL != "" && !validTileURL(c.Data.MapTileURL) {
		return fmt.Errorf("data.map_tile_url must contain {z}, {x} and {y}")
	}
	if c.Data.RSSMaxItems < 1 {
		c.Data.RSSMaxItems = 1
	}

	if strings.TrimSpace(c.Output.URL) == "" {
		return fmt.Errorf("output url is required")
	}
	if c.Output.VideoKbps <= 0 {
		return fmt.Errorf("output video_kbps must be positive, got %d", c.Output.VideoKbps)
	}
	if c.Output.AudioKbps <= 0 {
		c.Output.AudioKbps = 128
	}
	if c.Output.MaxQueue < 1 {
		c.Output.MaxQueue = 1
	}
	if c.Output.GOPSeconds <= 0 {
		c.Output.GOPSeconds = 1
	}
	if c.Output.Encoder == "" {
		c.Output.Encoder = "auto"
	}
	if c.Output.FFmpegPath == "" {
		c.Output.FFmpegPath = "ffmpeg"
	}

	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = 48000
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api port: %d", c.API.Port)
	}
	c.Preview.FPS = clampInt(c.Preview.FPS, 1, c.Render.FPS)
	if c.Telemetry.IntervalSec <= 0 {
		c.Telemetry.IntervalSec = 10
	}
	if c.Control.CheckIntervalSec <= 0 {
		c.Control.CheckIntervalSec = 5
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func validTileURL(u string) bool {
	return strings.Contains(u, "{z}") && strings.Contains(u, "{x}") && strings.Contains(u, "{y}")
}
