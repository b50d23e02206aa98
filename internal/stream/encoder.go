package stream

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// Encoder is an ffmpeg H.264 video encoder name
type Encoder string

const (
	EncoderAuto         Encoder = "auto"
	EncoderVideoToolbox Encoder = "h264_videotoolbox"
	EncoderNVENC        Encoder = "h264_nvenc"
	EncoderQSV          Encoder = "h264_qsv"
	EncoderAMF          Encoder = "h264_amf"
	EncoderX264         Encoder = "libx264"
)

// Platform answers the host capability questions encoder selection needs
type Platform interface {
	GOOS() string
	FileExists(path string) bool
	LookPath(name string) (string, error)
}

type hostPlatform struct{}

// HostPlatform inspects the machine the process runs on
func HostPlatform() Platform { return hostPlatform{} }

func (hostPlatform) GOOS() string { return runtime.GOOS }

func (hostPlatform) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (hostPlatform) LookPath(name string) (string, error) { return exec.LookPath(name) }

var cudaLibraries = []string{
	"/usr/lib64/nvidia/libcuda.so.1",
	"/usr/lib/x86_64-linux-gnu/libcuda.so.1",
	"/usr/lib/wsl/lib/libcuda.so",
	"/usr/local/cuda/lib64/libcuda.so.1",
}

// Supported reports whether enc can run on p
func Supported(enc Encoder, p Platform) bool {
	goos := p.GOOS()
	switch enc {
	case EncoderVideoToolbox:
		return goos == "darwin"
	case EncoderNVENC:
		for _, lib := range cudaLibraries {
			if p.FileExists(lib) {
				return true
			}
		}
		_, err := p.LookPath("nvidia-smi")
		return err == nil
	case EncoderQSV:
		switch goos {
		case "windows":
			return true
		case "linux":
			return p.FileExists("/dev/dri/renderD128") || p.FileExists("/dev/dri/card0")
		}
		return false
	case EncoderAMF:
		return goos == "windows"
	case EncoderX264:
		return true
	}
	return false
}

// autoOrder is the preference list for "auto" on each OS
func autoOrder(goos string) []Encoder {
	switch goos {
	case "darwin":
		return []Encoder{EncoderVideoToolbox, EncoderX264}
	case "windows":
		return []Encoder{EncoderNVENC, EncoderQSV, EncoderAMF, EncoderX264}
	default:
		return []Encoder{EncoderNVENC, EncoderQSV, EncoderX264}
	}
}

// SelectEncoder resolves a requested encoder name. "auto" (or empty) picks
// the first supported encoder for the OS; an explicit encoder that the host
// cannot run is an error; unknown names fall back to libx264.
func SelectEncoder(requested string, p Platform) (Encoder, error) {
	enc := Encoder(strings.ToLower(strings.TrimSpace(requested)))
	switch enc {
	case "", EncoderAuto:
		for _, candidate := range autoOrder(p.GOOS()) {
			if Supported(candidate, p) {
				return candidate, nil
			}
		}
		return EncoderX264, nil
	case EncoderVideoToolbox, EncoderNVENC, EncoderQSV, EncoderAMF, EncoderX264:
		if !Supported(enc, p) {
			return "", fmt.Errorf("%w: %s", ErrEncoderUnavailable, enc)
		}
		return enc, nil
	}
	return EncoderX264, nil
}

var nvencPresets = map[string]string{
	"placebo":   "p1",
	"veryslow":  "p2",
	"slower":    "p3",
	"slow":      "p4",
	"medium":    "p5",
	"fast":      "p6",
	"faster":    "p6",
	"veryfast":  "p7",
	"ultrafast": "p7",
}

// encoderArgs returns the codec specific video options
func encoderArgs(enc Encoder, preset string, threads int) []string {
	switch enc {
	case EncoderVideoToolbox:
		return []string{"-c:v", string(enc), "-profile:v", "high", "-realtime", "1"}
	case EncoderNVENC:
		p, ok := nvencPresets[preset]
		if !ok {
			p = "p5"
		}
		return []string{
			"-c:v", string(enc),
			"-preset", p,
			"-tune", "ull",
			"-rc", "cbr",
			"-zerolatency", "1",
			"-delay", "0",
		}
	case EncoderQSV:
		return []string{
			"-c:v", string(enc),
			"-global_quality", "0",
			"-look_ahead", "0",
			"-bf", "0",
			"-qsv_device", "auto",
		}
	case EncoderAMF:
		return []string{"-c:v", string(enc), "-usage", "lowlatency", "-rc", "cbr", "-bf", "0"}
	}
	if threads < 0 {
		threads = 0
	}
	if preset == "" {
		preset = "veryfast"
	}
	return []string{
		"-c:v", string(EncoderX264),
		"-tune", "zerolatency",
		"-preset", preset,
		"-threads", strconv.Itoa(threads),
		"-x264-params", "nal-hrd=cbr:force-cfr=1:repeat-headers=1:scenecut=0",
	}
}
