package stream

import (
	"errors"
	"strings"
	"testing"

	"github.com/OkinawaBoss/WeatharrStation/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlatform struct {
	goos  string
	files map[string]bool
	bins  map[string]bool
}

func (p fakePlatform) GOOS() string                { return p.goos }
func (p fakePlatform) FileExists(path string) bool { return p.files[path] }
func (p fakePlatform) LookPath(name string) (string, error) {
	if p.bins[name] {
		return "/usr/bin/" + name, nil
	}
	return "", errors.New("not found")
}

var plainLinux = fakePlatform{goos: "linux"}

func TestUDPPacketSize(t *testing.T) {
	d, err := ParseDestination("udp://127.0.0.1:5000", DefaultTransport())
	require.NoError(t, err)
	assert.Equal(t, "udp://127.0.0.1:5000?pkt_size=1316", d.URL)
	assert.Equal(t, FormatMPEGTS, d.Format)

	d, err = ParseDestination("udp://127.0.0.1:5000?pkt_size=500", DefaultTransport())
	require.NoError(t, err)
	assert.Equal(t, "udp://127.0.0.1:5000?pkt_size=500", d.URL)

	d, err = ParseDestination("udp://239.0.0.1:5000?ttl=4", TransportOptions{})
	require.NoError(t, err)
	assert.Equal(t, "udp://239.0.0.1:5000?ttl=4&pkt_size=1316", d.URL)
}

func TestTCPAndSRTParams(t *testing.T) {
	d, err := ParseDestination("tcp://0.0.0.0:9000", DefaultTransport())
	require.NoError(t, err)
	assert.Equal(t, "tcp://0.0.0.0:9000?listen=1&tcp_nodelay=1", d.URL)

	d, err = ParseDestination("tcp://host:9000?listen=0", TransportOptions{TCPListen: true})
	require.NoError(t, err)
	assert.Equal(t, "tcp://host:9000?listen=0", d.URL)

	d, err = ParseDestination("srt://:9001?latency=300", DefaultTransport())
	require.NoError(t, err)
	assert.Equal(t, "srt://:9001?latency=300&mode=listener&transtype=live&linger=0", d.URL)
}

func TestHTTPAndFileDestinations(t *testing.T) {
	d, err := ParseDestination("http://0.0.0.0:8080/live.ts", DefaultTransport())
	require.NoError(t, err)
	assert.True(t, d.HTTP)
	assert.Equal(t, []string{"-listen", "1"}, d.ExtraArgs)

	cases := map[string]struct{ url, format string }{
		"/tmp/out.MP4":          {"/tmp/out.MP4", FormatMP4},
		"clip.mov":              {"clip.mov", FormatMP4},
		"file:///var/rec/a.m4v": {"/var/rec/a.m4v", FormatMP4},
		"record.ts":             {"record.ts", FormatMPEGTS},
		"file:":                 {"out.ts", FormatMPEGTS},
		"":                      {"out.ts", FormatMPEGTS},
		`C:\streams\out.mp4`:    {`C:\streams\out.mp4`, FormatMP4},
	}
	for raw, want := range cases {
		d, err := ParseDestination(raw, DefaultTransport())
		require.NoError(t, err, raw)
		assert.Equal(t, want.url, d.URL, raw)
		assert.Equal(t, want.format, d.Format, raw)
		assert.False(t, d.Network(), raw)
	}
}

func TestInvalidDestinations(t *testing.T) {
	for _, raw := range []string{"rtmp://live.example.com/app", "udp://", "srt://?mode=caller"} {
		_, err := ParseDestination(raw, DefaultTransport())
		assert.ErrorIs(t, err, ErrInvalidDestination, raw)
	}
}

func TestSelectEncoder(t *testing.T) {
	enc, err := SelectEncoder("auto", plainLinux)
	require.NoError(t, err)
	assert.Equal(t, EncoderX264, enc)

	gpu := fakePlatform{goos: "linux", files: map[string]bool{"/usr/lib/x86_64-linux-gnu/libcuda.so.1": true}}
	enc, err = SelectEncoder("", gpu)
	require.NoError(t, err)
	assert.Equal(t, EncoderNVENC, enc)

	intel := fakePlatform{goos: "linux", files: map[string]bool{"/dev/dri/renderD128": true}}
	enc, err = SelectEncoder("AUTO", intel)
	require.NoError(t, err)
	assert.Equal(t, EncoderQSV, enc)

	enc, err = SelectEncoder("auto", fakePlatform{goos: "darwin"})
	require.NoError(t, err)
	assert.Equal(t, EncoderVideoToolbox, enc)

	enc, err = SelectEncoder("auto", fakePlatform{goos: "windows", bins: map[string]bool{"nvidia-smi": true}})
	require.NoError(t, err)
	assert.Equal(t, EncoderNVENC, enc)

	_, err = SelectEncoder("h264_videotoolbox", plainLinux)
	assert.ErrorIs(t, err, ErrEncoderUnavailable)

	enc, err = SelectEncoder("h265_magic", plainLinux)
	require.NoError(t, err)
	assert.Equal(t, EncoderX264, enc)
}

func baseSettings() Settings {
	return Settings{
		Width: 1280, Height: 720, FPS: 30,
		URL:        "udp://127.0.0.1:5000",
		Transport:  DefaultTransport(),
		VideoKbps:  3500,
		AudioKbps:  128,
		GOPSeconds: 1,
		SampleRate: 48000,
		Encoder:    "libx264",
		Preset:     "veryfast",
		Threads:    2,
		PATPeriod:  0.5, PCRPeriodMS: 40,
	}
}

// after returns the argument following the first occurrence of flag
func after(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func index(args []string, v string) int {
	for i, a := range args {
		if a == v {
			return i
		}
	}
	return -1
}

func TestBuildLaunchConfigVideoOnly(t *testing.T) {
	s := baseSettings()
	s.InjectSilence = false

	lc, err := BuildLaunchConfig(s, plainLinux)
	require.NoError(t, err)

	assert.Equal(t, "ffmpeg", lc.Path)
	assert.Equal(t, 1280*720*4, lc.FrameSize())
	assert.Equal(t, "1280x720", after(lc.Args, "-s"))
	assert.Equal(t, "rgba", after(lc.Args, "-pix_fmt"))
	assert.Equal(t, "-", after(lc.Args, "-i"))
	assert.Equal(t, "30", after(lc.Args, "-g"))
	assert.Equal(t, "7000k", after(lc.Args, "-bufsize"))
	assert.Equal(t, -1, index(lc.Args, "-c:a"))
	assert.Equal(t, "0.5", after(lc.Args, "-pat_period"))
	assert.Equal(t, "40", after(lc.Args, "-pcr_period"))

	n := len(lc.Args)
	assert.Equal(t, []string{"-f", "mpegts", "udp://127.0.0.1:5000?pkt_size=1316"}, lc.Args[n-3:])
}

func TestBuildLaunchConfigSilenceAndDucking(t *testing.T) {
	s := baseSettings()
	s.InjectSilence = true
	lc, err := BuildLaunchConfig(s, plainLinux)
	require.NoError(t, err)
	assert.Equal(t, "anullsrc=channel_layout=stereo:sample_rate=48000", lc.Args[index(lc.Args, "lavfi")+2])
	assert.Contains(t, lc.Args, "1:a")
	assert.Equal(t, "aac", after(lc.Args, "-c:a"))

	s.VoiceFIFO = "/tmp/voice.pcm"
	s.MusicPlaylist = "/tmp/music.txt"
	ducked := fakePlatform{goos: "linux", files: map[string]bool{"/tmp/music.txt": true}}
	lc, err = BuildLaunchConfig(s, ducked)
	require.NoError(t, err)

	assert.Equal(t, -1, index(lc.Args, "lavfi"))
	graph := after(lc.Args, "-filter_complex")
	assert.True(t, strings.HasPrefix(graph, "[2:a][1:a]sidechaincompress"), graph)
	assert.Contains(t, graph, "[duck][1:a]amix=inputs=2")
	assert.Equal(t, "[aout]", after(lc.Args[index(lc.Args, "0:v:0"):], "-map"))
	assert.Equal(t, "-1", after(lc.Args, "-stream_loop"))

	// a playlist that does not exist is ignored
	lc, err = BuildLaunchConfig(s, plainLinux)
	require.NoError(t, err)
	assert.Empty(t, after(lc.Args, "-filter_complex"))
	assert.Contains(t, lc.Args, "1:a")
}

func TestBuildLaunchConfigScaleIsOutputOption(t *testing.T) {
	s := baseSettings()
	s.OutWidth, s.OutHeight = 1920, 1080
	s.VoiceFIFO = "/tmp/voice.pcm"

	lc, err := BuildLaunchConfig(s, plainLinux)
	require.NoError(t, err)

	vf := index(lc.Args, "-vf")
	require.NotEqual(t, -1, vf)
	assert.Equal(t, "scale=1920:1080", lc.Args[vf+1])
	assert.Greater(t, vf, index(lc.Args, "/tmp/voice.pcm"), "scale must follow every input")

	s.OutWidth, s.OutHeight = 1280, 720
	lc, err = BuildLaunchConfig(s, plainLinux)
	require.NoError(t, err)
	assert.Equal(t, -1, index(lc.Args, "-vf"))
}

func TestBuildLaunchConfigHTTPMuxing(t *testing.T) {
	s := baseSettings()
	s.URL = "http://0.0.0.0:8080/live.ts"
	s.MuxrateKbps = 5000
	s.FlushPackets = true

	lc, err := BuildLaunchConfig(s, plainLinux)
	require.NoError(t, err)
	assert.Equal(t, "0.7", after(lc.Args, "-muxdelay"))
	assert.Equal(t, "1", after(lc.Args, "-flush_packets"))
	assert.Equal(t, -1, index(lc.Args, "-muxrate"))
	assert.Equal(t, "1", after(lc.Args, "-listen"))

	s.URL = "srt://:9000"
	lc, err = BuildLaunchConfig(s, plainLinux)
	require.NoError(t, err)
	assert.Equal(t, "5000k", after(lc.Args, "-muxrate"))
	assert.Equal(t, "0", after(lc.Args, "-muxdelay"))
}

func TestBuildLaunchConfigEncoderSpecifics(t *testing.T) {
	s := baseSettings()
	s.Encoder = "h264_videotoolbox"
	s.ForceCFR = true
	s.WallclockTS = true

	lc, err := BuildLaunchConfig(s, fakePlatform{goos: "darwin"})
	require.NoError(t, err)
	assert.Equal(t, EncoderVideoToolbox, lc.Encoder)
	assert.Equal(t, "dump_extra", after(lc.Args, "-bsf:v"))
	assert.Equal(t, "cfr", after(lc.Args, "-fps_mode"))
	assert.Less(t, index(lc.Args, "-use_wallclock_as_timestamps"), index(lc.Args, "-i"))

	s.Encoder = "h264_nvenc"
	s.Preset = "slow"
	lc, err = BuildLaunchConfig(s, fakePlatform{goos: "linux", bins: map[string]bool{"nvidia-smi": true}})
	require.NoError(t, err)
	assert.Equal(t, "p4", after(lc.Args, "-preset"))

	_, err = BuildLaunchConfig(s, plainLinux)
	assert.ErrorIs(t, err, ErrEncoderUnavailable)

	s.URL = "gopher://nowhere"
	s.Encoder = "libx264"
	_, err = BuildLaunchConfig(s, plainLinux)
	assert.ErrorIs(t, err, ErrInvalidDestination)
}

func TestSettingsFromDefaultConfig(t *testing.T) {
	cfg := config.Defaults()
	lc, err := BuildLaunchConfig(SettingsFromConfig(cfg), plainLinux)
	require.NoError(t, err)
	assert.Equal(t, "1920x1080", after(lc.Args, "-s"))
	assert.True(t, strings.HasPrefix(lc.String(), "ffmpeg -hide_banner"))
	assert.Contains(t, lc.String(), "-map 1:a")
	assert.NotContains(t, lc.String(), "-filter_complex")
}
