// Package render holds the drawing primitives shared by the on-screen layers:
// font faces, filled shapes, lines and text placement.
package render

import (
	"fmt"
	"os"
	"sync"

	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

const defaultMaxFaces = 32

type faceKey struct {
	size int
	bold bool
}

// Fonts hands out sized font faces and keeps a bounded number of them alive.
// Faces are not safe for concurrent drawing; every layer draws from the
// scheduler goroutine.
type Fonts struct {
	regular *opentype.Font
	bold    *opentype.Font

	mu       sync.Mutex
	faces    map[faceKey]font.Face
	order    []faceKey
	maxFaces int
}

// NewFonts loads the TrueType/OpenType font at path, or the bundled Go fonts
// when path is empty or unreadable. If nothing parses, faces fall back to the
// fixed 7x13 bitmap font.
func NewFonts(path string) *Fonts {
	log := logger.WithComponent("render")
	f := &Fonts{
		faces:    make(map[faceKey]font.Face),
		maxFaces: defaultMaxFaces,
	}

	if path != "" {
		fnt, err := loadFont(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Falling back to built-in font")
		} else {
			f.regular = fnt
			f.bold = fnt
		}
	}

	if f.regular == nil {
		if fnt, err := opentype.Parse(goregular.TTF); err == nil {
			f.regular = fnt
		} else {
			log.Error().Err(err).Msg("Failed to parse built-in regular font")
		}
	}
	if f.bold == nil {
		if fnt, err := opentype.Parse(gobold.TTF); err == nil {
			f.bold = fnt
		} else {
			f.bold = f.regular
		}
	}
	return f
}

func loadFont(path string) (*opentype.Font, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read font: %w", err)
	}
	fnt, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	return fnt, nil
}

// Face returns the regular face at size pixels
func (f *Fonts) Face(size int) font.Face {
	return f.face(faceKey{size: size})
}

// Bold returns the bold face at size pixels
func (f *Fonts) Bold(size int) font.Face {
	return f.face(faceKey{size: size, bold: true})
}

func (f *Fonts) face(key faceKey) font.Face {
	if key.size < 6 {
		key.size = 6
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if face, ok := f.faces[key]; ok {
		return face
	}

	src := f.regular
	if key.bold {
		src = f.bold
	}
	var face font.Face = basicfont.Face7x13
	if src != nil {
		nf, err := opentype.NewFace(src, &opentype.FaceOptions{
			Size:    float64(key.size),
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			logger.WithComponent("render").Warn().
				Err(err).
				Int("size", key.size).
				Msg("Failed to create font face")
		} else {
			face = nf
		}
	}

	if len(f.order) >= f.maxFaces {
		oldest := f.order[0]
		f.order = f.order[1:]
		if old, ok := f.faces[oldest]; ok {
			old.Close()
			delete(f.faces, oldest)
		}
	}
	f.faces[key] = face
	f.order = append(f.order, key)
	return face
}

// Cached returns how many faces are currently held
func (f *Fonts) Cached() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.faces)
}
