package stream

import "errors"

var (
	// ErrEncoderNotFound means the encoder executable could not be located
	ErrEncoderNotFound = errors.New("encoder executable not found")

	// ErrEncoderUnavailable means an explicitly requested video encoder is not
	// supported on this host
	ErrEncoderUnavailable = errors.New("requested video encoder is not available on this host")

	// ErrInvalidDestination means the output URL cannot be streamed to
	ErrInvalidDestination = errors.New("invalid output destination")

	// ErrSinkStopped is returned when starting a sink that was already stopped
	ErrSinkStopped = errors.New("stream sink stopped")

	// ErrEncoderFailing means the encoder kept exiting right after launch,
	// for example because the output address cannot be bound
	ErrEncoderFailing = errors.New("encoder keeps exiting after launch")
)
