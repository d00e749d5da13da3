//go:build !cgo

package audioio

import (
	"fmt"
	"log/slog"
)

const portaudioAvailable = false

// newPortAudioSource returns an error when built without cgo.
func newPortAudioSource(cfg Config, logger *slog.Logger) (Source, error) {
	return nil, fmt.Errorf("portaudio requires cgo")
}

// newPortAudioSink returns an error when built without cgo.
func newPortAudioSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return nil, fmt.Errorf("portaudio requires cgo")
}
