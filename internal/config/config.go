// Package config provides configuration helpers for go-duplex commands.
package config

import (
	"fmt"
	"os"
	"time"
)

// Default paths used by the commands.
const (
	DefaultIndexPath  = "./duplex-index"
	DefaultCollection = "documents"
)

// OpenAIKey returns the API key from OPENAI_API_KEY.
// Exits with a usage hint if not set.
func OpenAIKey() string {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		fmt.Fprintln(os.Stderr, "Error: OPENAI_API_KEY environment variable is required")
		fmt.Fprintln(os.Stderr, "Usage: OPENAI_API_KEY=sk-... go run ./cmd/...")
		os.Exit(1)
	}
	return key
}

// Env returns the value of the environment variable or the default.
func Env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvDuration returns the environment variable parsed as a duration,
// or the default if unset or unparsable.
func EnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
