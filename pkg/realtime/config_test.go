package realtime

import (
	"errors"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:   "defaults with key are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing api key",
			mutate:  func(c *Config) { c.APIKey = "" },
			wantErr: true,
		},
		{
			name:   "manual turn mode is valid",
			mutate: func(c *Config) { c.TurnMode = TurnDetectionManual },
		},
		{
			name:    "unknown turn mode",
			mutate:  func(c *Config) { c.TurnMode = "hybrid" },
			wantErr: true,
		},
		{
			name:    "vad threshold out of range",
			mutate:  func(c *Config) { c.VADThreshold = 1.5 },
			wantErr: true,
		},
		{
			name:    "zero min chunk",
			mutate:  func(c *Config) { c.MinChunkBytes = 0 },
			wantErr: true,
		},
		{
			name:    "playback rate above one",
			mutate:  func(c *Config) { c.PlaybackRate = 1.2 },
			wantErr: true,
		},
		{
			name:    "playback rate zero",
			mutate:  func(c *Config) { c.PlaybackRate = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig().WithAPIKey("sk-test")
			tt.mutate(&cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigValidateMissingKeySentinel(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("Validate() = %v, want ErrMissingAPIKey", err)
	}
}

func TestConfigBuilders(t *testing.T) {
	base := DefaultConfig()
	cfg := base.
		WithAPIKey("sk-live").
		WithVoice("verse").
		WithInstructions("be brief").
		WithTurnDetection(TurnDetectionManual).
		WithDebug(true)

	if cfg.APIKey != "sk-live" || cfg.Voice != "verse" || cfg.Instructions != "be brief" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.TurnMode != TurnDetectionManual || !cfg.Debug {
		t.Fatalf("cfg = %+v", cfg)
	}

	// Builders copy; the base stays untouched.
	if base.APIKey != "" || base.TurnMode != TurnDetectionServer {
		t.Fatalf("base mutated: %+v", base)
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.URL != "wss://api.openai.com/v1/realtime" {
		t.Fatalf("URL = %q", cfg.URL)
	}
	if cfg.MinChunkBytes != DefaultMinChunkBytes {
		t.Fatalf("MinChunkBytes = %d", cfg.MinChunkBytes)
	}
	if cfg.PlaybackRate != DefaultPlaybackRate {
		t.Fatalf("PlaybackRate = %v", cfg.PlaybackRate)
	}
	if cfg.TurnMode != TurnDetectionServer {
		t.Fatalf("TurnMode = %q", cfg.TurnMode)
	}
}
