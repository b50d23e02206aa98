// Package station assembles a running broadcast out of the data store, the
// layers, the scheduler and the encoder sink, and exposes it to the control
// API and telemetry.
package station

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/api"
	"github.com/OkinawaBoss/WeatharrStation/internal/audio"
	"github.com/OkinawaBoss/WeatharrStation/internal/compositor"
	"github.com/OkinawaBoss/WeatharrStation/internal/config"
	"github.com/OkinawaBoss/WeatharrStation/internal/datastore"
	"github.com/OkinawaBoss/WeatharrStation/internal/display"
	"github.com/OkinawaBoss/WeatharrStation/internal/layers"
	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
	"github.com/OkinawaBoss/WeatharrStation/internal/output"
	"github.com/OkinawaBoss/WeatharrStation/internal/pages"
	"github.com/OkinawaBoss/WeatharrStation/internal/render"
	"github.com/OkinawaBoss/WeatharrStation/internal/scheduler"
	"github.com/OkinawaBoss/WeatharrStation/internal/stream"
	"github.com/OkinawaBoss/WeatharrStation/internal/telemetry"
	"github.com/OkinawaBoss/WeatharrStation/internal/weather"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

var background = color.RGBA{6, 14, 32, 255}

// narratedPage is the page whose arrival triggers the spoken summary
const narratedPage = "current"

// Option configures a Station
type Option func(*Station)

// WithFetch replaces the weather fetcher, which skips location lookup
func WithFetch(fn datastore.FetchFunc) Option {
	return func(s *Station) { s.fetch = fn }
}

// WithLauncher replaces the encoder process launcher
func WithLauncher(l stream.Launcher) Option {
	return func(s *Station) { s.launcher = l }
}

// WithPlatform replaces the host capability checks used to pick an encoder
func WithPlatform(p stream.Platform) Option {
	return func(s *Station) { s.platform = p }
}

// WithTelemetryClient replaces the MQTT client
func WithTelemetryClient(c telemetry.Client) Option {
	return func(s *Station) { s.mqtt = c }
}

// WithSynthesizer replaces the text-to-speech engine used for narration
func WithSynthesizer(synth audio.Synthesizer) Option {
	return func(s *Station) { s.synth = synth }
}

// WithSinkOptions passes extra options to the encoder sink
func WithSinkOptions(opts ...stream.SinkOption) Option {
	return func(s *Station) { s.sinkOpts = append(s.sinkOpts, opts...) }
}

// WithClock sets the clock behind the stop checks
func WithClock(c clockwork.Clock) Option {
	return func(s *Station) { s.clock = c }
}

// Station is one configured broadcast
type Station struct {
	cfg *config.Config

	fetch    datastore.FetchFunc
	launcher stream.Launcher
	platform stream.Platform
	mqtt     telemetry.Client
	synth    audio.Synthesizer
	clock    clockwork.Clock
	sinkOpts []stream.SinkOption

	location weather.Location
	tz       *time.Location
	store    *datastore.Store
	layout   layers.Layout
	cycler   *pages.Cycler
	comp     *compositor.Compositor
	sched    *scheduler.Scheduler

	launch stream.LaunchConfig
	sink   *stream.Sink
	frames *framePool

	playlist string
	voice    *audio.Pipe
	narrator *audio.Narrator

	mjpeg *output.MJPEGOutput
	tap   *output.Tap

	api       *api.Server
	publisher *telemetry.Publisher
	control   *StopControl

	started   atomic.Pointer[time.Time]
	presented atomic.Uint64
	rejected  atomic.Uint64
}

// New builds a station from cfg. It resolves the location, lays out the
// pages and prepares the encoder command, but starts nothing.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Station, error) {
	s := &Station{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.platform == nil {
		s.platform = stream.HostPlatform()
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}

	if err := s.setupData(ctx); err != nil {
		return nil, err
	}
	if err := s.setupLayers(); err != nil {
		return nil, err
	}
	if err := s.setupAudio(); err != nil {
		return nil, err
	}
	if err := s.setupSink(); err != nil {
		s.removePlaylist()
		return nil, err
	}
	s.setupPreview()

	s.control = NewStopControl(cfg.Control, s.clock)
	s.sched = scheduler.New(s.layout.All(), s.comp, scheduler.Options{
		CFR:        float64(cfg.Render.FPS),
		OnPresent:  s.present,
		ShouldStop: s.control.ShouldStop,
	})

	if cfg.API.Enabled {
		var apiOpts []api.Option
		if s.mjpeg != nil {
			apiOpts = append(apiOpts, api.WithPreview(s.mjpeg.StreamHandler()))
		}
		s.api = api.NewServer(s, apiOpts...)
	}
	if cfg.Telemetry.Broker != "" {
		status := func() any { return s.Status() }
		if s.mqtt != nil {
			s.publisher = telemetry.NewPublisherWithClient(cfg.Telemetry, status, s.mqtt)
		} else {
			s.publisher = telemetry.NewPublisher(cfg.Telemetry, status)
		}
	}
	return s, nil
}

func (s *Station) setupData(ctx context.Context) error {
	cfg := s.cfg
	s.tz = time.Local
	if cfg.Station.Timezone != "" {
		tz, err := time.LoadLocation(cfg.Station.Timezone)
		if err != nil {
			return fmt.Errorf("failed to load timezone %q: %w", cfg.Station.Timezone, err)
		}
		s.tz = tz
	}

	interval := time.Duration(cfg.Data.IntervalSec) * time.Second
	if s.fetch != nil {
		s.location = weather.Location{Name: cfg.Station.Name, Lat: cfg.Station.Lat, Lon: cfg.Station.Lon}
		s.store = datastore.New(s.fetch, interval,
			datastore.WithInitial(datastore.Snapshot{weather.KeyLocation: s.location}))
		return nil
	}

	s.location = weather.ResolveLocation(ctx, cfg.Station, weather.NewZipLookup(""))
	client := weather.NewClient(
		s.location.Lat, s.location.Lon,
		cfg.Station.UserAgent,
		time.Duration(cfg.Data.CacheTTLSec)*time.Second,
	)

	fopts := []weather.FetcherOption{
		weather.WithTimezone(s.tz),
		weather.WithRadar(s.wantsPage("radar")),
	}
	if len(cfg.Data.RSSURLs) > 0 {
		feeds := weather.NewFeeds(
			cfg.Data.RSSURLs,
			time.Duration(cfg.Data.RSSRefreshSec)*time.Second,
			cfg.Data.RSSMaxItems,
			clockwork.NewRealClock(),
		)
		fopts = append(fopts, weather.WithFeeds(feeds))
	}
	if regional, forecastMap := s.wantsPage("regional"), s.wantsPage("forecast_map"); regional || forecastMap {
		cities := weather.NewCityCatalog(cfg.Data.CitiesFile, 24*time.Hour, nil)
		fopts = append(fopts,
			weather.WithCities(cities, cfg.Data.RegionalRadiusMi),
			weather.WithMaps(regional, forecastMap))
		if cfg.Data.MapTileURL != "" {
			w, h := layers.MapSize(cfg)
			fopts = append(fopts, weather.WithTiles(
				weather.NewTileMap(cfg.Data.MapTileURL, cfg.Station.UserAgent, nil), w, h))
		}
	}
	fetcher := weather.NewFetcher(client, s.location, fopts...)

	s.store = datastore.New(fetcher.Fetch, interval,
		datastore.WithInitial(datastore.Snapshot{weather.KeyLocation: s.location}))
	return nil
}

// wantsPage reports whether the configured rotation includes name
func (s *Station) wantsPage(name string) bool {
	if len(s.cfg.Render.Pages) == 0 {
		return true
	}
	for _, p := range s.cfg.Render.Pages {
		if strings.EqualFold(strings.TrimSpace(p), name) {
			return true
		}
	}
	return false
}

func (s *Station) setupLayers() error {
	cfg := s.cfg
	env := layers.Env{
		Data:  s.store,
		Fonts: render.NewFonts(cfg.Render.FontPath),
		Scale: cfg.Render.Scale(),
		TZ:    s.tz,
	}
	layout, err := layers.Build(cfg, env)
	if err != nil {
		return fmt.Errorf("failed to build layers: %w", err)
	}
	s.layout = layout

	interval := time.Duration(cfg.Render.PageSeconds * float64(time.Second))
	s.cycler = pages.NewCycler(layout.Pages, interval, pages.WithOnChange(s.onPageChange))
	s.comp = compositor.New(cfg.Render.Width, cfg.Render.Height, background)
	return nil
}

func (s *Station) setupAudio() error {
	a := s.cfg.Audio
	if a.MusicDir != "" && a.MusicFIFO == "" {
		path, err := audio.WritePlaylist(a.MusicDir)
		if err != nil {
			logger.WithComponent("station").Warn().
				Err(err).
				Str("dir", a.MusicDir).
				Msg("Music disabled")
		}
		s.playlist = path
	}

	if a.VoiceFIFO == "" {
		return nil
	}
	s.voice = audio.NewPipe(a.VoiceFIFO, a.SampleRate)

	synth := s.synth
	if synth == nil && a.TTSCommand != "" {
		synth = audio.CommandTTS{
			Command:    a.TTSCommand,
			FFmpegPath: s.cfg.Output.FFmpegPath,
			SampleRate: a.SampleRate,
		}
	}
	if a.Narration && synth != nil {
		s.narrator = audio.NewNarrator(synth, s.voice)
	}
	return nil
}

func (s *Station) setupSink() error {
	settings := stream.SettingsFromConfig(s.cfg)
	settings.MusicPlaylist = s.playlist

	lc, err := stream.BuildLaunchConfig(settings, s.platform)
	if err != nil {
		return fmt.Errorf("failed to build encoder command: %w", err)
	}
	s.launch = lc
	if s.cfg.Output.PrintCmd {
		logger.WithComponent("station").Info().Str("cmd", lc.String()).Msg("Encoder command")
	}

	// queued frames, the one being written and the one being filled
	s.frames = newFramePool(lc.FrameSize(), s.cfg.Output.MaxQueue+2)

	opts := []stream.SinkOption{
		stream.WithMaxQueue(s.cfg.Output.MaxQueue),
		stream.WithRelease(s.frames.put),
	}
	if s.launcher != nil {
		opts = append(opts, stream.WithLauncher(s.launcher))
	}
	opts = append(opts, s.sinkOpts...)
	s.sink = stream.NewSink(lc, opts...)
	return nil
}

func (s *Station) setupPreview() {
	p := s.cfg.Preview
	var outs []output.Output

	if p.MJPEG {
		w, h := s.cfg.Render.Width, s.cfg.Render.Height
		if w > 960 {
			h = h * 960 / w
			w = 960
		}
		s.mjpeg = output.NewMJPEGOutput(output.Config{Width: w, Height: h, FPS: p.FPS})
		outs = append(outs, s.mjpeg)
	}
	if p.X11 {
		outs = append(outs, display.NewManager(p))
	}
	s.tap = output.NewTap(p.FPS, outs...)
}

// LaunchConfig returns the resolved encoder invocation
func (s *Station) LaunchConfig() stream.LaunchConfig {
	return s.launch
}

// present hands a finished frame to the encoder and the preview tap. It runs
// on the scheduler goroutine and must not block.
func (s *Station) present(frame *image.RGBA) {
	s.presented.Add(1)

	buf := s.frames.get()
	copy(buf, frame.Pix)
	if !s.sink.Send(buf) {
		s.rejected.Add(1)
		s.frames.put(buf)
	}

	s.tap.Offer(time.Now(), frame)
}

func (s *Station) onPageChange(index int, name string) {
	logger.WithComponent("station").Debug().
		Int("index", index).
		Str("page", name).
		Msg("Page changed")

	if s.narrator == nil || name != narratedPage {
		return
	}
	lines, ok := datastore.Get[[]string](s.store.Read(), weather.KeyNarration)
	if !ok || len(lines) == 0 {
		return
	}
	s.narrator.Speak(strings.Join(lines, " "))
}

// Run broadcasts until ctx is cancelled, a stop is requested, or a
// component fails, including an encoder that keeps exiting at launch. Everything it started is shut down before it returns;
// a requested stop or cancellation returns nil.
func (s *Station) Run(ctx context.Context) error {
	log := logger.WithComponent("station")

	if s.voice != nil {
		if err := s.voice.Start(); err != nil {
			return fmt.Errorf("failed to start voice pipe: %w", err)
		}
	}
	if err := s.sink.Start(); err != nil {
		s.stopAudio()
		return fmt.Errorf("failed to start encoder: %w", err)
	}
	if s.narrator != nil {
		s.narrator.Start()
	}
	for _, out := range s.tap.Outputs() {
		if err := out.Start(); err != nil {
			log.Warn().Err(err).Str("output", out.Name()).Msg("Preview output unavailable")
		}
	}

	now := time.Now()
	s.started.Store(&now)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	s.store.Start(runCtx)
	s.cycler.Activate(0)
	s.cycler.Start()

	g.Go(func() error {
		// whichever way the scheduler ends, the rest follows
		defer cancel()
		err := s.sched.Run(runCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		select {
		case <-runCtx.Done():
			return nil
		case <-s.sink.Failed():
			return fmt.Errorf("encoder failed: %w", s.sink.Err())
		}
	})
	if s.control.Watching() {
		g.Go(func() error {
			return s.control.Run(runCtx)
		})
	}
	if s.api != nil {
		g.Go(func() error {
			return s.api.Start(runCtx, s.cfg.API.Port)
		})
	}
	if s.publisher != nil {
		g.Go(func() error {
			_ = s.publisher.Run(runCtx)
			return nil
		})
	}

	log.Info().
		Str("location", s.location.Name).
		Str("url", s.launch.Destination.URL).
		Int("width", s.cfg.Render.Width).
		Int("height", s.cfg.Render.Height).
		Int("fps", s.cfg.Render.FPS).
		Msg("Station on air")

	err := g.Wait()
	s.shutdown()

	if err != nil {
		return err
	}
	log.Info().Str("reason", s.stopReason(ctx)).Msg("Station off air")
	return nil
}

func (s *Station) stopReason(ctx context.Context) string {
	if r := s.control.Reason(); r != "" {
		return r
	}
	if ctx.Err() != nil {
		return "shutdown"
	}
	return "unknown"
}

func (s *Station) shutdown() {
	s.cycler.Stop()
	s.store.Stop()
	if s.narrator != nil {
		s.narrator.Stop()
	}

	s.tap.Wait()
	for _, out := range s.tap.Outputs() {
		if err := out.Stop(); err != nil {
			logger.WithComponent("station").Debug().Err(err).Str("output", out.Name()).Msg("Stopping preview output")
		}
	}

	s.sink.Stop()
	s.stopAudio()
}

func (s *Station) stopAudio() {
	if s.voice != nil {
		s.voice.Stop()
	}
	s.removePlaylist()
}

func (s *Station) removePlaylist() {
	if s.playlist == "" {
		return
	}
	if err := os.Remove(s.playlist); err != nil && !os.IsNotExist(err) {
		logger.WithComponent("station").Debug().Err(err).Str("path", s.playlist).Msg("Removing playlist")
	}
}

// PageNames lists the pages in rotation order
func (s *Station) PageNames() []string {
	return s.cycler.Names()
}

// CurrentPage returns the active page
func (s *Station) CurrentPage() (int, string) {
	return s.cycler.Current()
}

// ActivatePage jumps to the named page
func (s *Station) ActivatePage(name string) error {
	return s.cycler.ActivateByName(name)
}

// RequestStop ends the broadcast at the scheduler's next check
func (s *Station) RequestStop() {
	s.control.RequestStop()
}

// Snapshot returns the current weather data
func (s *Station) Snapshot() datastore.Snapshot {
	return s.store.Read()
}

// FrameStats counts frames leaving the scheduler
type FrameStats struct {
	Presented uint64 `json:"presented"`
	Rejected  uint64 `json:"rejected"`
}

// Status is the station's self-description for the API and telemetry
type Status struct {
	Location   string           `json:"location"`
	Started    time.Time        `json:"started,omitempty"`
	Uptime     string           `json:"uptime,omitempty"`
	Page       string           `json:"page"`
	PageIndex  int              `json:"page_index"`
	Pages      []string         `json:"pages"`
	StopReason string           `json:"stop_reason,omitempty"`
	Frames     FrameStats       `json:"frames"`
	Encoder    stream.Stats     `json:"encoder"`
	Scheduler  scheduler.Stats  `json:"scheduler"`
	Data       datastore.Stats  `json:"data"`
	Preview    *output.Stats    `json:"preview,omitempty"`
	Telemetry  *telemetry.Stats `json:"telemetry,omitempty"`
}

// Status collects the current counters
func (s *Station) Status() any {
	idx, name := s.cycler.Current()
	st := Status{
		Location:   s.location.Name,
		Page:       name,
		PageIndex:  idx,
		Pages:      s.cycler.Names(),
		StopReason: s.control.Reason(),
		Frames: FrameStats{
			Presented: s.presented.Load(),
			Rejected:  s.rejected.Load(),
		},
		Encoder:   s.sink.Stats(),
		Scheduler: s.sched.Stats(),
		Data:      s.store.Stats(),
	}
	if loc, ok := datastore.Get[weather.Location](s.store.Read(), weather.KeyLocation); ok && loc.Name != "" {
		st.Location = loc.Name
	}
	if started := s.started.Load(); started != nil {
		st.Started = *started
		st.Uptime = time.Since(*started).Round(time.Second).String()
	}
	if s.mjpeg != nil {
		ps := s.mjpeg.Stats()
		st.Preview = &ps
	}
	if s.publisher != nil {
		ts := s.publisher.Stats()
		st.Telemetry = &ts
	}
	return st
}
