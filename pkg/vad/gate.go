// Package vad provides a local voice-activity gate for the manual
// turn-detection path. It classifies fixed-size PCM16 frames as speech
// or silence with an RMS energy measure and accumulates an utterance
// while the user is speaking.
//
// The transitions are asymmetric on purpose: silence-to-speech is
// immediate on the first energetic frame to minimize cut-on latency,
// while speech-to-silence requires silence sustained for a hold
// duration so brief pauses do not clip the utterance.
package vad

import (
	"math"
	"time"

	"github.com/openspoken/go-duplex/pkg/audioio"
)

// Event is the gate's verdict after consuming one frame.
type Event int

const (
	// None: no state change.
	None Event = iota

	// SpeechStart: the user just started speaking.
	SpeechStart

	// SpeechEnd: sustained silence ended the utterance. The accumulated
	// frames are returned alongside this event.
	SpeechEnd
)

// Config holds the gate tunables. The defaults are empirical starting
// points, not fixed behavior; tune them for the capture environment.
type Config struct {
	// Threshold is the RMS amplitude (in int16 sample units) below
	// which a frame counts as silence.
	Threshold float64

	// Hold is how long silence must persist before the utterance is
	// considered finished.
	Hold time.Duration
}

// DefaultConfig returns gate settings suitable for 24kHz mono capture.
func DefaultConfig() Config {
	return Config{
		Threshold: 250,
		Hold:      300 * time.Millisecond,
	}
}

// Gate segments a microphone stream into utterances.
// Not safe for concurrent use; feed it from a single capture goroutine.
type Gate struct {
	cfg Config

	speaking     bool
	silenceStart time.Time // zero when not in a silence run
	utterance    []byte

	now func() time.Time // injectable for tests
}

// New creates a Gate with the given configuration. Zero-value fields
// fall back to defaults.
func New(cfg Config) *Gate {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Hold <= 0 {
		cfg.Hold = def.Hold
	}
	return &Gate{cfg: cfg, now: time.Now}
}

// Feed consumes one PCM16 frame and reports any state transition.
// On SpeechEnd the returned slice holds the complete utterance
// (including the trailing silence within the hold window); the internal
// buffer is cleared for the next utterance.
func (g *Gate) Feed(frame []byte) (Event, []byte) {
	event := None

	if g.silent(frame) {
		if g.speaking {
			switch {
			case g.silenceStart.IsZero():
				g.silenceStart = g.now()
			case g.now().Sub(g.silenceStart) > g.cfg.Hold:
				g.speaking = false
				g.silenceStart = time.Time{}
				utterance := g.utterance
				g.utterance = nil
				return SpeechEnd, utterance
			}
		}
	} else {
		g.silenceStart = time.Time{}
		if !g.speaking {
			g.speaking = true
			event = SpeechStart
		}
	}

	if g.speaking {
		g.utterance = append(g.utterance, frame...)
	}

	return event, nil
}

// Speaking reports whether the gate currently considers the user to be
// speaking.
func (g *Gate) Speaking() bool {
	return g.speaking
}

// Buffered returns the number of utterance bytes accumulated so far.
func (g *Gate) Buffered() int {
	return len(g.utterance)
}

// Reset discards all state and any buffered audio.
func (g *Gate) Reset() {
	g.speaking = false
	g.silenceStart = time.Time{}
	g.utterance = nil
}

// silent reports whether the frame's RMS amplitude is below threshold.
func (g *Gate) silent(frame []byte) bool {
	return RMS(frame) < g.cfg.Threshold
}

// RMS computes the root-mean-square amplitude of a PCM16 frame in
// int16 sample units (0..32767).
func RMS(frame []byte) float64 {
	samples := audioio.BytesToSamples(frame)
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
