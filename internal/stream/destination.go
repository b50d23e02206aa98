package stream

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
)

// Muxer formats
const (
	FormatMPEGTS = "mpegts"
	FormatMP4    = "mp4"
)

// TransportOptions are the scheme specific parameters injected into the
// output URL when it does not already carry them.
type TransportOptions struct {
	UDPPacketSize int
	TCPListen     bool
	TCPNoDelay    bool
	SRTMode       string
	SRTLatencyMS  int
}

// DefaultTransport returns the transport tuning used for MPEG-TS over UDP,
// TCP and SRT when nothing is configured.
func DefaultTransport() TransportOptions {
	return TransportOptions{
		UDPPacketSize: 1316,
		TCPListen:     true,
		TCPNoDelay:    true,
		SRTMode:       "listener",
		SRTLatencyMS:  120,
	}
}

// Destination is a resolved output target
type Destination struct {
	Scheme string
	Format string
	URL    string

	// ExtraArgs are output options placed just before -f
	ExtraArgs []string

	// TS is true for MPEG-TS outputs, HTTP for the listening HTTP server mode
	TS   bool
	HTTP bool
}

// Network reports whether the destination is a network transport
func (d Destination) Network() bool {
	return d.Scheme != "file"
}

// ParseDestination resolves raw into a muxer format and final URL. Existing
// query parameters are never rewritten; missing transport parameters are
// appended.
func ParseDestination(raw string, opts TransportOptions) (Destination, error) {
	raw = strings.TrimSpace(raw)
	def := DefaultTransport()
	if opts.UDPPacketSize <= 0 {
		opts.UDPPacketSize = def.UDPPacketSize
	}
	if opts.SRTMode == "" {
		opts.SRTMode = def.SRTMode
	}
	if opts.SRTLatencyMS <= 0 {
		opts.SRTLatencyMS = def.SRTLatencyMS
	}

	scheme := ""
	var u *url.URL
	if i := strings.Index(raw, "://"); i > 0 {
		parsed, err := url.Parse(raw)
		if err != nil {
			return Destination{}, fmt.Errorf("%w: %v", ErrInvalidDestination, err)
		}
		u = parsed
		scheme = strings.ToLower(u.Scheme)
	} else if strings.HasPrefix(strings.ToLower(raw), "file:") {
		scheme = "file"
	}

	switch scheme {
	case "udp", "tcp", "srt", "http", "https":
		if u.Host == "" {
			return Destination{}, fmt.Errorf("%w: %s URL %q has no host", ErrInvalidDestination, scheme, raw)
		}
	}

	switch scheme {
	case "udp":
		out := appendParams(raw, u, []param{{"pkt_size", strconv.Itoa(opts.UDPPacketSize)}})
		return Destination{Scheme: scheme, Format: FormatMPEGTS, URL: out, TS: true}, nil

	case "tcp":
		var ps []param
		if opts.TCPListen {
			ps = append(ps, param{"listen", "1"})
		}
		if opts.TCPNoDelay {
			ps = append(ps, param{"tcp_nodelay", "1"})
		}
		return Destination{Scheme: scheme, Format: FormatMPEGTS, URL: appendParams(raw, u, ps), TS: true}, nil

	case "srt":
		out := appendParams(raw, u, []param{
			{"mode", opts.SRTMode},
			{"transtype", "live"},
			{"latency", strconv.Itoa(opts.SRTLatencyMS)},
			{"linger", "0"},
		})
		return Destination{Scheme: scheme, Format: FormatMPEGTS, URL: out, TS: true}, nil

	case "http", "https":
		return Destination{
			Scheme:    scheme,
			Format:    FormatMPEGTS,
			URL:       raw,
			ExtraArgs: []string{"-listen", "1"},
			TS:        true,
			HTTP:      true,
		}, nil

	case "", "file":
		return fileDestination(raw, u), nil
	}

	// single letter schemes are Windows drive letters
	if len(scheme) == 1 {
		return fileDestination(raw, nil), nil
	}
	return Destination{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidDestination, scheme)
}

func fileDestination(raw string, u *url.URL) Destination {
	path := raw
	if u != nil {
		path = u.Path
	} else if strings.HasPrefix(strings.ToLower(path), "file:") {
		path = path[len("file:"):]
	}
	if path == "" {
		path = "out.ts"
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".mov", ".m4v":
		return Destination{Scheme: "file", Format: FormatMP4, URL: path}
	}
	return Destination{Scheme: "file", Format: FormatMPEGTS, URL: path, TS: true}
}

type param struct {
	key   string
	value string
}

// appendParams adds each param whose key is absent from the query
func appendParams(raw string, u *url.URL, ps []param) string {
	q := u.Query()
	var add []string
	for _, p := range ps {
		if q.Has(p.key) {
			continue
		}
		add = append(add, p.key+"="+p.value)
	}
	if len(add) == 0 {
		return raw
	}
	sep := "?"
	if strings.Contains(raw, "?") {
		sep = "&"
	}
	return raw + sep + strings.Join(add, "&")
}
