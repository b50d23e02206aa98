// Package display shows the composed frames in a local X11 window for
// monitoring the broadcast without a stream client.
package display

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/OkinawaBoss/WeatharrStation/internal/config"
	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
	"github.com/OkinawaBoss/WeatharrStation/internal/render"
)

const windowTitle = "Weatharr Station - Preview"

// Manager owns the preview window. It implements output.Output.
type Manager struct {
	width  int
	height int

	mu      sync.RWMutex
	conn    *xgb.Conn
	screen  *xproto.ScreenInfo
	window  xproto.Window
	gc      xproto.Gcontext
	format  pixelFormat
	maxReq  int
	canvas  *image.RGBA
	running bool
}

type pixelFormat struct {
	depth         byte
	bytesPerPixel int
	scanlinePad   int
}

// NewManager creates the preview; the X connection is made by Start
func NewManager(cfg config.PreviewConfig) *Manager {
	w, h := cfg.X11Width, cfg.X11Height
	if w <= 0 || h <= 0 {
		w, h = 960, 540
	}
	return &Manager{width: w, height: h}
}

func (m *Manager) Name() string { return "x11" }

// Start connects to the X server and maps the window
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("display already running")
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}
	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	format, err := findFormat(setup.PixmapFormats, screen.RootDepth)
	if err != nil {
		conn.Close()
		return err
	}

	window, err := xproto.NewWindowId(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create window ID: %w", err)
	}
	err = xproto.CreateWindowChecked(
		conn,
		screen.RootDepth,
		window,
		screen.Root,
		0, 0,
		uint16(m.width), uint16(m.height),
		0,
		xproto.WindowClassInputOutput,
		screen.RootVisual,
		xproto.CwBackPixel|xproto.CwEventMask,
		[]uint32{0x000000, xproto.EventMaskExposure | xproto.EventMaskStructureNotify},
	).Check()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create window: %w", err)
	}

	m.conn, m.screen, m.window, m.format = conn, screen, window, format
	// max request length is in 4-byte units; leave room for the header
	m.maxReq = int(setup.MaximumRequestLength)*4 - 64

	log := logger.WithComponent("display")
	if err := m.setProperty("_NET_WM_NAME", "UTF8_STRING", windowTitle); err != nil {
		log.Warn().Err(err).Msg("Failed to set window title")
	}
	if err := m.setProperty("WM_CLASS", "STRING", "weatharr\x00WeatharrStation\x00"); err != nil {
		log.Warn().Err(err).Msg("Failed to set window class")
	}

	if err := xproto.MapWindowChecked(conn, window).Check(); err != nil {
		m.closeLocked()
		return fmt.Errorf("failed to map window: %w", err)
	}

	gc, err := xproto.NewGcontextId(conn)
	if err != nil {
		m.closeLocked()
		return fmt.Errorf("failed to create graphics context: %w", err)
	}
	if err := xproto.CreateGCChecked(conn, gc, xproto.Drawable(window), 0, nil).Check(); err != nil {
		m.closeLocked()
		return fmt.Errorf("failed to create GC: %w", err)
	}
	m.gc = gc
	m.canvas = image.NewRGBA(image.Rect(0, 0, m.width, m.height))
	m.running = true

	log.Info().
		Int("width", m.width).
		Int("height", m.height).
		Uint32("window_id", uint32(window)).
		Msg("Preview window created")
	return nil
}

// Stop destroys the window and closes the connection
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	m.closeLocked()
	logger.WithComponent("display").Info().Msg("Preview window closed")
	return nil
}

func (m *Manager) closeLocked() {
	if m.gc != 0 {
		xproto.FreeGC(m.conn, m.gc)
		m.gc = 0
	}
	if m.window != 0 {
		xproto.DestroyWindow(m.conn, m.window)
		m.window = 0
	}
	m.conn.Sync()
	m.conn.Close()
}

func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// WriteFrame letterboxes frame into the window
func (m *Manager) WriteFrame(frame *image.RGBA) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return fmt.Errorf("display not running")
	}

	render.Fill(m.canvas, color.RGBA{0, 0, 0, 255})
	render.ScaleInto(m.canvas, Letterbox(frame.Bounds(), m.width, m.height), frame)

	data, stride, err := ToZPixmap(m.canvas, m.format)
	if err != nil {
		return err
	}
	return m.putImage(data, stride)
}

// putImage sends data in horizontal bands that fit in one request
func (m *Manager) putImage(data []byte, stride int) error {
	rows := max(1, m.maxReq/stride)
	for y := 0; y < m.height; y += rows {
		n := min(rows, m.height-y)
		err := xproto.PutImageChecked(
			m.conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(m.window),
			m.gc,
			uint16(m.width), uint16(n),
			0, int16(y),
			0,
			m.format.depth,
			data[y*stride:(y+n)*stride],
		).Check()
		if err != nil {
			return fmt.Errorf("failed to put image: %w", err)
		}
	}
	return nil
}

// Letterbox fits src into a width x height area keeping its aspect ratio
func Letterbox(src image.Rectangle, width, height int) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	if sw == 0 || sh == 0 {
		return image.Rectangle{}
	}
	scale := min(float64(width)/float64(sw), float64(height)/float64(sh))
	dw, dh := int(float64(sw)*scale), int(float64(sh)*scale)
	x, y := (width-dw)/2, (height-dh)/2
	return image.Rect(x, y, x+dw, y+dh)
}

func findFormat(formats []xproto.Format, depth byte) (pixelFormat, error) {
	for _, f := range formats {
		if f.Depth == depth {
			return pixelFormat{
				depth:         depth,
				bytesPerPixel: int(f.BitsPerPixel) / 8,
				scanlinePad:   int(f.ScanlinePad) / 8,
			}, nil
		}
	}
	return pixelFormat{}, fmt.Errorf("no pixmap format for depth %d", depth)
}

// ToZPixmap converts img into the server's BGR(x) layout with padded rows
func ToZPixmap(img *image.RGBA, f pixelFormat) ([]byte, int, error) {
	if f.bytesPerPixel != 3 && f.bytesPerPixel != 4 {
		return nil, 0, fmt.Errorf("unsupported bytes per pixel: %d", f.bytesPerPixel)
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	pad := max(1, f.scanlinePad)
	stride := (w*f.bytesPerPixel + pad - 1) / pad * pad

	data := make([]byte, stride*h)
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+w*4]
		dst := data[y*stride:]
		for x := 0; x < w; x++ {
			s, d := x*4, x*f.bytesPerPixel
			dst[d], dst[d+1], dst[d+2] = src[s+2], src[s+1], src[s]
			if f.bytesPerPixel == 4 && f.depth == 32 {
				dst[d+3] = src[s+3]
			}
		}
	}
	return data, stride, nil
}

func (m *Manager) setProperty(name, typ, value string) error {
	prop, err := m.atom(name)
	if err != nil {
		return err
	}
	kind, err := m.atom(typ)
	if err != nil {
		return err
	}
	return xproto.ChangePropertyChecked(
		m.conn,
		xproto.PropModeReplace,
		m.window,
		prop,
		kind,
		8,
		uint32(len(value)),
		[]byte(value),
	).Check()
}

func (m *Manager) atom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(m.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to intern %s: %w", name, err)
	}
	return reply.Atom, nil
}
