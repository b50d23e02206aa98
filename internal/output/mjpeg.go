package output

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
	xdraw "golang.org/x/image/draw"
)

const defaultJPEGQuality = 80

// MJPEGOutput serves the preview as a multipart JPEG stream. Each client has
// a two-frame buffer; a client that falls behind misses frames instead of
// slowing the others.
type MJPEGOutput struct {
	config  Config
	quality int

	mu        sync.RWMutex
	running   bool
	startTime time.Time

	frameMu    sync.RWMutex
	latest     []byte
	lastUpdate time.Time

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	frames  atomic.Uint64
	skipped atomic.Uint64
	scratch *image.RGBA
}

// NewMJPEGOutput creates the preview stream. Frames are scaled to
// config.Width x config.Height when those are set.
func NewMJPEGOutput(config Config) *MJPEGOutput {
	return &MJPEGOutput{
		config:  config,
		quality: defaultJPEGQuality,
		clients: make(map[chan []byte]struct{}),
	}
}

// Start marks the output live. The HTTP side is mounted separately via
// StreamHandler.
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("mjpeg output already running")
	}
	m.running = true
	m.startTime = time.Now()

	logger.WithComponent("mjpeg").Info().
		Int("width", m.config.Width).
		Int("height", m.config.Height).
		Int("fps", m.config.FPS).
		Msg("MJPEG preview started")
	return nil
}

// Stop disconnects every client
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("mjpeg").Info().
		Uint64("frames", m.frames.Load()).
		Msg("MJPEG preview stopped")
	return nil
}

// encode scales frame to the preview size when needed and JPEG-encodes it
func (m *MJPEGOutput) encode(frame *image.RGBA) ([]byte, error) {
	src := image.Image(frame)
	w, h := m.config.Width, m.config.Height
	if w > 0 && h > 0 && (w != frame.Bounds().Dx() || h != frame.Bounds().Dy()) {
		if m.scratch == nil || m.scratch.Bounds().Dx() != w || m.scratch.Bounds().Dy() != h {
			m.scratch = image.NewRGBA(image.Rect(0, 0, w, h))
		}
		xdraw.ApproxBiLinear.Scale(m.scratch, m.scratch.Bounds(), frame, frame.Bounds(), xdraw.Src, nil)
		src = m.scratch
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: m.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFrame encodes frame and offers it to every client
func (m *MJPEGOutput) WriteFrame(frame *image.RGBA) error {
	if !m.IsRunning() {
		return fmt.Errorf("mjpeg output not running")
	}

	data, err := m.encode(frame)
	if err != nil {
		return err
	}

	m.frameMu.Lock()
	m.latest = data
	m.lastUpdate = time.Now()
	m.frameMu.Unlock()
	m.frames.Add(1)

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- data:
		default:
			m.skipped.Add(1)
		}
	}
	m.clientsMu.RUnlock()
	return nil
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "mjpeg"
}

// IsRunning reports whether the output accepts frames
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Snapshot returns the most recent JPEG, nil before the first frame
func (m *MJPEGOutput) Snapshot() []byte {
	m.frameMu.RLock()
	defer m.frameMu.RUnlock()
	return m.latest
}

func (m *MJPEGOutput) subscribe() (chan []byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.running {
		return nil, false
	}

	ch := make(chan []byte, 2)
	m.clientsMu.Lock()
	m.clients[ch] = struct{}{}
	n := len(m.clients)
	m.clientsMu.Unlock()

	// start the client on the current picture instead of waiting a tick
	if last := m.Snapshot(); last != nil {
		ch <- last
	}
	logger.WithComponent("mjpeg").Info().Int("clients", n).Msg("Preview client connected")
	return ch, true
}

func (m *MJPEGOutput) unsubscribe(ch chan []byte) {
	m.clientsMu.Lock()
	_, ok := m.clients[ch]
	delete(m.clients, ch)
	n := len(m.clients)
	m.clientsMu.Unlock()
	if ok {
		logger.WithComponent("mjpeg").Info().Int("clients", n).Msg("Preview client disconnected")
	}
}

// StreamHandler serves multipart/x-mixed-replace until the client leaves or
// the output stops
func (m *MJPEGOutput) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, ok := m.subscribe()
		if !ok {
			http.Error(w, "preview not running", http.StatusServiceUnavailable)
			return
		}
		defer m.unsubscribe(ch)

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Connection", "close")

		for {
			select {
			case <-r.Context().Done():
				return
			case data, open := <-ch:
				if !open {
					return
				}
				if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(data)); err != nil {
					return
				}
				if _, err := w.Write(data); err != nil {
					return
				}
				if _, err := w.Write([]byte("\r\n")); err != nil {
					return
				}
				if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
			}
		}
	}
}

// Stats describes the preview stream
type Stats struct {
	Running    bool    `json:"running"`
	Clients    int     `json:"clients"`
	Frames     uint64  `json:"frames"`
	Skipped    uint64  `json:"skipped"`
	FPS        float64 `json:"fps"`
	LastUpdate string  `json:"last_update,omitempty"`
}

// Stats returns the current counters
func (m *MJPEGOutput) Stats() Stats {
	m.mu.RLock()
	running, start := m.running, m.startTime
	m.mu.RUnlock()

	m.frameMu.RLock()
	last := m.lastUpdate
	m.frameMu.RUnlock()

	m.clientsMu.RLock()
	clients := len(m.clients)
	m.clientsMu.RUnlock()

	st := Stats{
		Running: running,
		Clients: clients,
		Frames:  m.frames.Load(),
		Skipped: m.skipped.Load(),
	}
	if running && !start.IsZero() {
		if elapsed := time.Since(start).Seconds(); elapsed > 0 {
			st.FPS = float64(st.Frames) / elapsed
		}
	}
	if !last.IsZero() {
		st.LastUpdate = last.Format(time.RFC3339)
	}
	return st
}
