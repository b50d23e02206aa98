// Package probe receives a live transport stream and reports what arrived,
// for checking an output URL from the receiving side.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
	srtgo "github.com/zsiec/srtgo"
)

const (
	tsPacketSize = 188
	tsSync       = 0x47
	readBuffer   = 1316 * 10
	srtLatency   = 120 * time.Millisecond
	dialTimeout  = 10 * time.Second
)

// Counter tallies bytes and MPEG-TS packets written to it. Packet alignment
// carries across writes; after a lost sync byte it rescans for 0x47.
type Counter struct {
	Bytes      uint64
	Packets    uint64
	SyncErrors uint64

	partial []byte
}

func (c *Counter) Write(b []byte) (int, error) {
	c.Bytes += uint64(len(b))
	data := b
	if len(c.partial) > 0 {
		data = append(c.partial, b...)
		c.partial = nil
	}

	for len(data) > 0 {
		if data[0] != tsSync {
			c.SyncErrors++
			next := indexByte(data[1:], tsSync)
			if next < 0 {
				return len(b), nil
			}
			data = data[next+1:]
			continue
		}
		if len(data) < tsPacketSize {
			c.partial = append([]byte(nil), data...)
			break
		}
		c.Packets++
		data = data[tsPacketSize:]
	}
	return len(b), nil
}

func indexByte(b []byte, v byte) int {
	for i, x := range b {
		if x == v {
			return i
		}
	}
	return -1
}

// Result summarizes a probe run
type Result struct {
	URL        string        `json:"url"`
	Bytes      uint64        `json:"bytes"`
	Packets    uint64        `json:"packets"`
	SyncErrors uint64        `json:"sync_errors"`
	Elapsed    time.Duration `json:"elapsed"`
	Kbps       float64       `json:"kbps"`
}

func (r Result) String() string {
	return fmt.Sprintf("%s: %d bytes, %d TS packets, %d sync errors in %s (%.0f kbps)",
		r.URL, r.Bytes, r.Packets, r.SyncErrors, r.Elapsed.Round(time.Millisecond), r.Kbps)
}

// Run receives from rawURL for d. udp:// listens on the given address,
// tcp:// and srt:// dial it.
func Run(ctx context.Context, rawURL string, d time.Duration) (Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, fmt.Errorf("invalid probe url: %w", err)
	}
	if u.Host == "" {
		return Result{}, fmt.Errorf("probe url %q has no address", rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	var conn io.ReadCloser
	switch u.Scheme {
	case "udp":
		var pc net.PacketConn
		pc, err = net.ListenPacket("udp", u.Host)
		if err == nil {
			conn = packetReader{pc}
		}
	case "tcp":
		var dialer net.Dialer
		conn, err = dialer.DialContext(ctx, "tcp", u.Host)
	case "srt":
		conn, err = dialSRT(ctx, u)
	default:
		return Result{}, fmt.Errorf("unsupported probe scheme %q", u.Scheme)
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to open %s: %w", rawURL, err)
	}

	logger.WithComponent("probe").Info().Str("url", rawURL).Dur("duration", d).Msg("Receiving")
	res, err := Receive(ctx, conn)
	res.URL = rawURL
	return res, err
}

type packetReader struct{ net.PacketConn }

func (p packetReader) Read(b []byte) (int, error) {
	n, _, err := p.ReadFrom(b)
	return n, err
}

func dialSRT(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatency
	if id := u.Query().Get("streamid"); id != "" {
		cfg.StreamID = id
	}

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(u.Host, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("SRT dial failed: %w", res.err)
		}
		return res.conn, nil
	case <-timer.C:
	case <-ctx.Done():
	}
	// close whatever the dial eventually returns
	go func() {
		if res := <-ch; res.conn != nil {
			res.conn.Close()
		}
	}()
	return nil, fmt.Errorf("SRT dial to %s timed out", u.Host)
}

// Receive counts what conn delivers until ctx is done or the sender closes.
// conn is closed on return.
func Receive(ctx context.Context, conn io.ReadCloser) (Result, error) {
	var (
		counter Counter
		start   = time.Now()
		readErr = make(chan error, 1)
	)

	go func() {
		buf := make([]byte, readBuffer)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				counter.Write(buf[:n])
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	var err error
	select {
	case <-ctx.Done():
		conn.Close()
		<-readErr
	case err = <-readErr:
		conn.Close()
		if errors.Is(err, io.EOF) {
			err = nil
		}
	}

	elapsed := time.Since(start)
	res := Result{
		Bytes:      counter.Bytes,
		Packets:    counter.Packets,
		SyncErrors: counter.SyncErrors,
		Elapsed:    elapsed,
	}
	if s := elapsed.Seconds(); s > 0 {
		res.Kbps = float64(res.Bytes) * 8 / 1000 / s
	}
	if err != nil {
		return res, fmt.Errorf("receive failed: %w", err)
	}
	return res, nil
}
