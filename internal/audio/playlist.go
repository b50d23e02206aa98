// Package audio provides the optional audio inputs of the encoder: a looping
// music playlist and a paced PCM pipe carrying synthesized narration.
package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var musicExtensions = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".aac":  true,
	".wav":  true,
	".flac": true,
	".ogg":  true,
	".oga":  true,
}

// Tracks lists the playable files directly inside dir, sorted by name
func Tracks(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read music dir: %w", err)
	}
	var tracks []string
	for _, e := range entries {
		if e.IsDir() || !musicExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		abs, err := filepath.Abs(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, abs)
	}
	sort.Strings(tracks)
	return tracks, nil
}

// Concat renders tracks as an ffmpeg concat demuxer script
func Concat(tracks []string) string {
	var b strings.Builder
	for _, t := range tracks {
		escaped := strings.ReplaceAll(filepath.ToSlash(t), "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}
	return b.String()
}

// WritePlaylist writes the concat script for dir into a temp file and
// returns its path. It returns "" with no error when dir has no tracks.
func WritePlaylist(dir string) (string, error) {
	tracks, err := Tracks(dir)
	if err != nil {
		return "", err
	}
	if len(tracks) == 0 {
		return "", nil
	}

	f, err := os.CreateTemp("", "weatharr-playlist-*.txt")
	if err != nil {
		return "", fmt.Errorf("failed to create playlist: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(Concat(tracks)); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write playlist: %w", err)
	}
	return f.Name(), nil
}
