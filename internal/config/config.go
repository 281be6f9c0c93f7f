// Package config reads the persisted settings the core treats as
// read-only (§6.4): position/progress reporting cadence, decode-stream and
// buffer-threshold limits, and the watchdog period. Missing values fall
// back to the defaults below; the core never writes to this store.
package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/viper"
)

const envPrefix = "WKMP"

// Keys used both to read values and to seed defaults, grounded on
// tphakala/birdnet-go's internal/config.Load pattern of a single viper
// instance carrying dotted keys plus environment-variable overrides.
const (
	KeyPositionUpdateIntervalMS = "position_update_interval_ms"
	KeyProgressEventIntervalMS  = "progress_event_interval_ms"
	KeyMaxDecodeStreams         = "max_decode_streams"
	KeyMinimumPlaybackBufferMS  = "minimum_playback_buffer_ms"
	KeyWatchdogIntervalMS       = "watchdog_interval_ms"
)

// Settings is the typed view of §6.4's persisted keys, unmarshalled from
// the viper store once at startup and refreshed per passage start.
type Settings struct {
	PositionUpdateIntervalMS int64 `mapstructure:"position_update_interval_ms"`
	ProgressEventIntervalMS  int64 `mapstructure:"progress_event_interval_ms"`
	MaxDecodeStreams         int   `mapstructure:"max_decode_streams"`
	MinimumPlaybackBufferMS  int64 `mapstructure:"minimum_playback_buffer_ms"`
	WatchdogIntervalMS       int64 `mapstructure:"watchdog_interval_ms"`
}

// DefaultSettings returns §6.4's documented defaults.
//
// max_decode_streams keeps the reference value of 16 rather than an
// ARM-friendlier default (see DESIGN.md's Open Questions decision);
// operators on constrained hardware should override it down to 4 in their
// config file.
func DefaultSettings() Settings {
	return Settings{
		PositionUpdateIntervalMS: 500,
		ProgressEventIntervalMS:  5000,
		MaxDecodeStreams:         16,
		MinimumPlaybackBufferMS:  3000,
		WatchdogIntervalMS:       100,
	}
}

// Store wraps a viper instance bound to an optional config file plus
// WKMP_-prefixed environment variable overrides (§6.4).
type Store struct {
	v *viper.Viper
}

// New constructs a Store with every §6.4 default pre-seeded, then attempts
// to read configPath (if non-empty). A missing config file is not an error
// — the defaults stand, exactly as §6.4 requires.
func New(configPath string) (*Store, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	d := DefaultSettings()
	v.SetDefault(KeyPositionUpdateIntervalMS, d.PositionUpdateIntervalMS)
	v.SetDefault(KeyProgressEventIntervalMS, d.ProgressEventIntervalMS)
	v.SetDefault(KeyMaxDecodeStreams, d.MaxDecodeStreams)
	v.SetDefault(KeyMinimumPlaybackBufferMS, d.MinimumPlaybackBufferMS)
	v.SetDefault(KeyWatchdogIntervalMS, d.WatchdogIntervalMS)

	s := &Store{v: v}
	if configPath == "" {
		return s, nil
	}

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
	}
	return s, nil
}

// Settings unmarshals the current view of every §6.4 key.
func (s *Store) Settings() (Settings, error) {
	var out Settings
	if err := s.v.Unmarshal(&out); err != nil {
		return Settings{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return out, nil
}
