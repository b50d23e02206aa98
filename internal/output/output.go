// Package output holds the local preview sinks fed alongside the encoder.
package output

import (
	"image"
)

// Output is a preview destination for composed frames. WriteFrame must not
// retain frame after it returns.
type Output interface {
	Start() error
	Stop() error

	// WriteFrame sends a frame to the output
	WriteFrame(frame *image.RGBA) error

	// Name identifies the output in logs and status
	Name() string

	IsRunning() bool
}

// Config holds the preview geometry
type Config struct {
	Width  int
	Height int
	FPS    int
}
