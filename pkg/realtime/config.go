package realtime

import (
	"errors"
	"time"
)

// Audio constants fixed by the wire protocol: 16-bit little-endian PCM,
// mono, 24 kHz, base64-encoded per message.
const (
	SampleRate     = 24000
	BytesPerSample = 2
	BytesPerSecond = SampleRate * BytesPerSample
)

// Pacing defaults. These are tunables, not protocol requirements.
const (
	// DefaultMinChunkBytes is the smallest buffered amount the pacer will
	// release (~66ms of audio at 24kHz PCM16).
	DefaultMinChunkBytes = 3200

	// DefaultPlaybackRate keeps playback release marginally ahead of
	// real time so the device is never flooded.
	DefaultPlaybackRate = 0.95
)

// TurnDetection selects who decides when the user's turn ends.
type TurnDetection string

const (
	// TurnDetectionServer lets the remote service detect speech
	// boundaries in the streamed input audio.
	TurnDetectionServer TurnDetection = "server_vad"

	// TurnDetectionManual disables remote detection; the caller commits
	// utterances explicitly (see the vad package for a local gate).
	TurnDetectionManual TurnDetection = "manual"
)

// Config holds all tunable parameters for a realtime session.
type Config struct {
	// Connection
	APIKey string
	URL    string // default: wss://api.openai.com/v1/realtime
	Model  string

	// Session
	Voice        string
	Instructions string
	Temperature  float64
	TurnMode     TurnDetection

	// Server VAD settings (used with TurnDetectionServer)
	VADThreshold       float64       // activation threshold 0.0-1.0 (default 0.5)
	VADPrefixPadding   time.Duration // audio included before speech start (default 300ms)
	VADSilenceDuration time.Duration // silence that ends a turn (default 200ms)

	// TranscriptionModel enables input transcription when non-empty.
	TranscriptionModel string

	// Pacing settings
	MinChunkBytes int     // minimum release size in bytes (default 3200)
	PlaybackRate  float64 // release cadence factor, slightly below 1.0 (default 0.95)

	// Debug enables verbose event logging.
	Debug bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:   "wss://api.openai.com/v1/realtime",
		Model: "gpt-4o-realtime-preview-2024-12-17",
		Voice: "alloy",

		Temperature: 0.7,
		TurnMode:    TurnDetectionServer,

		VADThreshold:       0.5,
		VADPrefixPadding:   300 * time.Millisecond,
		VADSilenceDuration: 200 * time.Millisecond,

		TranscriptionModel: "whisper-1",

		MinChunkBytes: DefaultMinChunkBytes,
		PlaybackRate:  DefaultPlaybackRate,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}

	switch c.TurnMode {
	case TurnDetectionServer, TurnDetectionManual:
	default:
		return errors.New("realtime: unknown turn detection mode: " + string(c.TurnMode))
	}

	if c.VADThreshold < 0 || c.VADThreshold > 1 {
		return errors.New("realtime: VAD threshold must be between 0 and 1")
	}

	if c.MinChunkBytes <= 0 {
		return errors.New("realtime: min chunk bytes must be positive")
	}

	if c.PlaybackRate <= 0 || c.PlaybackRate > 1 {
		return errors.New("realtime: playback rate must be in (0, 1]")
	}

	return nil
}

// WithAPIKey returns a copy with the API key set.
func (c Config) WithAPIKey(key string) Config {
	c.APIKey = key
	return c
}

// WithInstructions returns a copy with the system instructions set.
func (c Config) WithInstructions(instructions string) Config {
	c.Instructions = instructions
	return c
}

// WithVoice returns a copy with the voice set.
func (c Config) WithVoice(voice string) Config {
	c.Voice = voice
	return c
}

// WithTurnDetection returns a copy with the turn detection mode set.
func (c Config) WithTurnDetection(mode TurnDetection) Config {
	c.TurnMode = mode
	return c
}

// WithDebug returns a copy with debug enabled.
func (c Config) WithDebug(debug bool) Config {
	c.Debug = debug
	return c
}
