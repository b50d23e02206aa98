package stream

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/OkinawaBoss/WeatharrStation/internal/config"
)

// Settings is everything needed to build the encoder command line
type Settings struct {
	Width  int
	Height int
	FPS    int

	// OutWidth/OutHeight rescale the encoded video when both are set
	OutWidth  int
	OutHeight int

	URL       string
	Transport TransportOptions

	VideoKbps   int
	AudioKbps   int
	MuxrateKbps int
	GOPSeconds  float64
	ForceCFR    bool
	WallclockTS bool

	SampleRate    int
	InjectSilence bool
	VoiceFIFO     string
	MusicFIFO     string
	MusicPlaylist string

	Encoder string
	Preset  string
	Threads int

	PATPeriod    float64
	PCRPeriodMS  int
	FlushPackets bool

	FFmpegPath string
}

// SettingsFromConfig maps the station configuration onto encoder settings
func SettingsFromConfig(cfg *config.Config) Settings {
	o := cfg.Output
	return Settings{
		Width:     cfg.Render.Width,
		Height:    cfg.Render.Height,
		FPS:       cfg.Render.FPS,
		OutWidth:  o.OutWidth,
		OutHeight: o.OutHeight,
		URL:       o.URL,
		Transport: TransportOptions{
			UDPPacketSize: o.UDPPacketSize,
			TCPListen:     o.TCPListen,
			TCPNoDelay:    o.TCPNoDelay,
			SRTMode:       o.SRTMode,
			SRTLatencyMS:  o.SRTLatencyMS,
		},
		VideoKbps:     o.VideoKbps,
		AudioKbps:     o.AudioKbps,
		MuxrateKbps:   o.MuxrateKbps,
		GOPSeconds:    o.GOPSeconds,
		ForceCFR:      o.ForceCFR,
		WallclockTS:   o.WallclockTS,
		SampleRate:    cfg.Audio.SampleRate,
		InjectSilence: cfg.Audio.InjectSilence,
		VoiceFIFO:     cfg.Audio.VoiceFIFO,
		MusicFIFO:     cfg.Audio.MusicFIFO,
		Encoder:       o.Encoder,
		Preset:        o.Preset,
		Threads:       o.Threads,
		PATPeriod:     o.PATPeriod,
		PCRPeriodMS:   o.PCRPeriodMS,
		FlushPackets:  o.FlushPackets,
		FFmpegPath:    o.FFmpegPath,
	}
}

// LaunchConfig is a fully resolved encoder invocation
type LaunchConfig struct {
	Path        string
	Args        []string
	Encoder     Encoder
	Destination Destination

	Width  int
	Height int
	FPS    int
}

// FrameSize is the number of bytes in one raw RGBA input frame
func (l LaunchConfig) FrameSize() int {
	return l.Width * l.Height * 4
}

// String renders the command line with shell-style quoting
func (l LaunchConfig) String() string {
	parts := make([]string, 0, len(l.Args)+1)
	parts = append(parts, quoteArg(l.Path))
	for _, a := range l.Args {
		parts = append(parts, quoteArg(a))
	}
	return strings.Join(parts, " ")
}

func quoteArg(s string) string {
	if s == "" {
		return "''"
	}
	if strings.ContainsAny(s, " \t\n'\"\\$;&|<>()[]*?") {
		return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
	}
	return s
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// BuildLaunchConfig turns settings into the encoder command. It does not
// touch the process table, so it can run anywhere; only host capability
// checks go through p.
func BuildLaunchConfig(s Settings, p Platform) (LaunchConfig, error) {
	if s.Width <= 0 || s.Height <= 0 {
		return LaunchConfig{}, fmt.Errorf("invalid frame size %dx%d", s.Width, s.Height)
	}
	if s.FPS <= 0 {
		return LaunchConfig{}, fmt.Errorf("invalid frame rate %d", s.FPS)
	}
	if s.SampleRate <= 0 {
		s.SampleRate = 48000
	}
	if s.FFmpegPath == "" {
		s.FFmpegPath = "ffmpeg"
	}

	dest, err := ParseDestination(s.URL, s.Transport)
	if err != nil {
		return LaunchConfig{}, err
	}
	enc, err := SelectEncoder(s.Encoder, p)
	if err != nil {
		return LaunchConfig{}, err
	}

	rate := strconv.Itoa(s.SampleRate)
	args := []string{
		"-hide_banner",
		"-fflags", "+genpts",
		"-thread_queue_size", "8192",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", s.Width, s.Height),
		"-r", strconv.Itoa(s.FPS),
	}
	if s.WallclockTS {
		args = append(args, "-use_wallclock_as_timestamps", "1")
	}
	args = append(args, "-i", "-")

	// audio inputs follow the video at index 0
	next := 1
	voice, music := -1, -1
	pcmInput := func(path string) []string {
		return []string{
			"-thread_queue_size", "4096",
			"-f", "s16le", "-ar", rate, "-ac", "2",
			"-i", path,
		}
	}

	if s.VoiceFIFO != "" {
		args = append(args, pcmInput(s.VoiceFIFO)...)
		voice = next
		next++
	}
	if s.MusicFIFO != "" {
		args = append(args, pcmInput(s.MusicFIFO)...)
		music = next
		next++
	} else if s.MusicPlaylist != "" && p.FileExists(s.MusicPlaylist) {
		args = append(args,
			"-thread_queue_size", "4096",
			"-stream_loop", "-1",
			"-f", "concat",
			"-safe", "0",
			"-i", s.MusicPlaylist,
		)
		music = next
		next++
	}
	if voice < 0 && music < 0 && s.InjectSilence {
		args = append(args, "-f", "lavfi", "-i", "anullsrc=channel_layout=stereo:sample_rate="+rate)
		voice = next
	}

	audioMap := ""
	switch {
	case voice >= 0 && music >= 0:
		graph := fmt.Sprintf(
			"[%d:a][%d:a]sidechaincompress=threshold=0.035:ratio=10:attack=5:release=250:makeup=4[duck];"+
				"[duck][%d:a]amix=inputs=2:normalize=0:duration=longest:dropout_transition=0[aout]",
			music, voice, voice,
		)
		args = append(args, "-filter_complex", graph)
		audioMap = "[aout]"
	case voice >= 0:
		audioMap = fmt.Sprintf("%d:a", voice)
	case music >= 0:
		audioMap = fmt.Sprintf("%d:a", music)
	}

	args = append(args, "-map", "0:v:0")
	if audioMap != "" {
		args = append(args, "-map", audioMap)
	}

	if s.OutWidth > 0 && s.OutHeight > 0 && (s.OutWidth != s.Width || s.OutHeight != s.Height) {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", s.OutWidth, s.OutHeight))
	}

	gop := int(math.Round(float64(s.FPS) * s.GOPSeconds))
	if gop < 1 {
		gop = 1
	}
	vk := s.VideoKbps
	args = append(args, encoderArgs(enc, s.Preset, s.Threads)...)
	args = append(args,
		"-g", strconv.Itoa(gop),
		"-keyint_min", strconv.Itoa(gop),
		"-bf", "0",
		"-pix_fmt", "yuv420p",
		"-b:v", fmt.Sprintf("%dk", vk),
		"-maxrate", fmt.Sprintf("%dk", vk),
		"-bufsize", fmt.Sprintf("%dk", vk*2),
	)
	if enc == EncoderVideoToolbox {
		args = append(args, "-bsf:v", "dump_extra")
	}
	if s.ForceCFR {
		args = append(args, "-vsync", "cfr", "-fps_mode", "cfr")
	}

	if audioMap != "" {
		args = append(args,
			"-c:a", "aac",
			"-b:a", fmt.Sprintf("%dk", s.AudioKbps),
			"-ar", rate,
		)
	}

	args = append(args, muxArgs(dest, s)...)
	args = append(args, dest.ExtraArgs...)
	args = append(args, "-f", dest.Format, dest.URL)

	return LaunchConfig{
		Path:        s.FFmpegPath,
		Args:        args,
		Encoder:     enc,
		Destination: dest,
		Width:       s.Width,
		Height:      s.Height,
		FPS:         s.FPS,
	}, nil
}

// muxArgs shapes MPEG-TS muxing. HTTP clients get relaxed preload/delay;
// datagram and stream transports get tight zero-delay CBR muxing.
func muxArgs(dest Destination, s Settings) []string {
	if !dest.TS {
		return nil
	}
	flush := "0"
	if s.FlushPackets {
		flush = "1"
	}

	args := []string{"-mpegts_flags", "+resend_headers+initial_discontinuity"}
	if dest.HTTP {
		return append(args,
			"-flush_packets", flush,
			"-muxpreload", "0.5",
			"-muxdelay", "0.7",
		)
	}

	pat := s.PATPeriod
	if pat <= 0 {
		pat = 0.5
	}
	pcr := s.PCRPeriodMS
	if pcr <= 0 {
		pcr = 40
	}
	args = append(args,
		"-flush_packets", flush,
		"-max_interleave_delta", "0",
		"-muxpreload", "0",
		"-muxdelay", "0",
		"-pat_period", formatFloat(pat),
		"-pcr_period", strconv.Itoa(pcr),
	)
	if s.MuxrateKbps > 0 {
		args = append(args, "-muxrate", fmt.Sprintf("%dk", s.MuxrateKbps))
	}
	return args
}
