// Package config loads runtime settings from the environment and prompt
// presets from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lokutor-ai/promptdj/pkg/audio"
)

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Backend selection. The realtime backend is used when APIKey is set,
	// otherwise LocalAsset is looped.
	APIKey     string
	Model      string // empty keeps the backend default
	BaseURL    string
	LocalAsset string

	// Output
	SampleRate int
	Channels   int
	Headless   bool   // render on a timer instead of a sound device
	RecordPath string // write everything rendered to this WAV file on exit

	// Playback
	BufferTime  time.Duration
	Temperature float64
	BPM         int
	Seed        int

	// Prompts
	PresetsPath string // empty uses the built-in palette

	// Ops
	MetricsAddr string
	LogLevel    string
}

// FromEnv reads configuration from environment variables with defaults.
// Callers load .env files beforehand.
func FromEnv() Config {
	return Config{
		APIKey:     envStr("GEMINI_API_KEY", ""),
		Model:      envStr("PROMPTDJ_MODEL", ""),
		BaseURL:    envStr("PROMPTDJ_BASE_URL", ""),
		LocalAsset: envStr("PROMPTDJ_LOCAL_ASSET", ""),

		SampleRate: envInt("PROMPTDJ_SAMPLE_RATE", audio.DefaultFormat.SampleRate),
		Channels:   envInt("PROMPTDJ_CHANNELS", audio.DefaultFormat.Channels),
		Headless:   envBool("PROMPTDJ_HEADLESS", false),
		RecordPath: envStr("PROMPTDJ_RECORD", ""),

		BufferTime:  envDuration("PROMPTDJ_BUFFER_TIME", 2*time.Second),
		Temperature: envFloat("PROMPTDJ_TEMPERATURE", 1.0),
		BPM:         envInt("PROMPTDJ_BPM", 0),
		Seed:        envInt("PROMPTDJ_SEED", 0),

		PresetsPath: envStr("PROMPTDJ_PRESETS", ""),

		MetricsAddr: envStr("PROMPTDJ_METRICS_ADDR", ""),
		LogLevel:    envStr("PROMPTDJ_LOG_LEVEL", "info"),
	}
}

// UseLocal reports whether the local substitute backend is selected.
func (c Config) UseLocal() bool {
	return c.APIKey == ""
}

// Validate checks that c contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func (c Config) Validate() error {
	var errs []error

	if c.APIKey == "" && c.LocalAsset == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY or PROMPTDJ_LOCAL_ASSET must be set"))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("PROMPTDJ_SAMPLE_RATE %d must be positive", c.SampleRate))
	}
	if c.Channels < 1 || c.Channels > 2 {
		errs = append(errs, fmt.Errorf("PROMPTDJ_CHANNELS %d must be 1 or 2", c.Channels))
	}
	if c.BufferTime <= 0 {
		errs = append(errs, fmt.Errorf("PROMPTDJ_BUFFER_TIME %s must be positive", c.BufferTime))
	}
	if c.Temperature < 0 || c.Temperature > 3 {
		errs = append(errs, fmt.Errorf("PROMPTDJ_TEMPERATURE %.2f outside [0, 3]", c.Temperature))
	}
	if c.BPM != 0 && (c.BPM < 60 || c.BPM > 200) {
		errs = append(errs, fmt.Errorf("PROMPTDJ_BPM %d outside [60, 200]", c.BPM))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	if c.APIKey != "" && c.LocalAsset != "" {
		slog.Warn("both GEMINI_API_KEY and PROMPTDJ_LOCAL_ASSET are set; using the realtime backend")
	}

	return errors.Join(errs...)
}

// ParseLevel maps a log level name to its slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("PROMPTDJ_LOG_LEVEL %q is invalid; valid values: debug, info, warn, error", s)
}
