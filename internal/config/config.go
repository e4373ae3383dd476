// Package config loads the JSON configuration surface described in
// SPEC_FULL.md §4.7: device paths, the gapless preload window, and the
// per-extraction-level autoplay rule. It follows the teacher's
// config.go shape (struct of nested sub-configs, DefaultConfig + Load +
// Validate) with encoding/json standing in for the teacher's
// BurntSushi/toml, since the spec mandates a JSON file, not TOML.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// AutoplayRule controls whether playback starts automatically once a
// disc finishes loading, keyed by extraction level (0 = streaming,
// 1-3 = RAM with increasing error-correction effort). The JSON field
// accepts either a bare bool applying to every level
// ("autoplay_on_load": true) or an object mapping level-as-string to
// bool ("autoplay_on_load": {"0": false, "1": true}).
type AutoplayRule struct {
	All     *bool
	ByLevel map[int]bool
}

// Enabled reports whether autoplay fires for the given extraction
// level. An "All" rule overrides any per-level map; a level absent from
// ByLevel defaults to false.
func (a AutoplayRule) Enabled(level int) bool {
	if a.All != nil {
		return *a.All
	}
	return a.ByLevel[level]
}

// UnmarshalJSON accepts both shapes documented on AutoplayRule.
func (a *AutoplayRule) UnmarshalJSON(data []byte) error {
	var asBool bool
	if err := json.Unmarshal(data, &asBool); err == nil {
		a.All = &asBool
		a.ByLevel = nil
		return nil
	}

	var asObject map[string]bool
	if err := json.Unmarshal(data, &asObject); err != nil {
		return fmt.Errorf("config: autoplay_on_load must be a bool or an object mapping level to bool: %w", err)
	}

	byLevel := make(map[int]bool, len(asObject))
	for k, v := range asObject {
		level, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("config: autoplay_on_load key %q is not an extraction level: %w", k, err)
		}
		byLevel[level] = v
	}
	a.All = nil
	a.ByLevel = byLevel
	return nil
}

// MarshalJSON mirrors UnmarshalJSON's two accepted shapes.
func (a AutoplayRule) MarshalJSON() ([]byte, error) {
	if a.All != nil {
		return json.Marshal(*a.All)
	}
	asObject := make(map[string]bool, len(a.ByLevel))
	for level, v := range a.ByLevel {
		asObject[strconv.Itoa(level)] = v
	}
	return json.Marshal(asObject)
}

// Config is the full set of tunables for a session.
type Config struct {
	Audio  AudioConfig  `json:"audio"`
	Device DeviceConfig `json:"device"`
}

// AudioConfig controls playback buffering and preload behavior, shared
// by both transport backends.
type AudioConfig struct {
	AutoplayOnLoad       AutoplayRule `json:"autoplay_on_load"`
	AudioBufferFrames    int          `json:"audio_buffer_frames"`    // CD frames (1/75s); validated, but neither backend reads it (the RAM sink uses a fixed 50ms buffer)
	StreamStartupTimeout float64      `json:"stream_startup_timeout"` // seconds, streaming backend only
	PreloadAhead         bool         `json:"preload_ahead"`          // not read: the controller calls PrepareNext after every navigation regardless
}

// DeviceConfig names the physical resources the out-of-scope
// collaborators (ripper, display driver) need, carried here because
// this is the one place a deployment's local settings live.
type DeviceConfig struct {
	CDDevice   string `json:"cd_device"`
	AlsaDevice string `json:"alsa_device"`
	MCUBPort   string `json:"mcub_port"`
	RAMPath    string `json:"ram_path"`
}

// Default returns the built-in configuration used when no file is
// present or a key is omitted from one.
func Default() Config {
	always := true
	return Config{
		Audio: AudioConfig{
			AutoplayOnLoad:       AutoplayRule{All: &always},
			AudioBufferFrames:    150, // 2 seconds at 75 frames/sec
			StreamStartupTimeout: 20,
			PreloadAhead:         true,
		},
		Device: DeviceConfig{
			CDDevice:   "/dev/cdrom",
			AlsaDevice: "default",
			MCUBPort:   "/dev/ttyUSB0",
			RAMPath:    "",
		},
	}
}

// Load reads path and merges it onto Default(). A missing file is not
// an error — it simply yields the defaults, matching how a freshly
// imaged single-board host boots before any override file exists.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

// DefaultPath returns the conventional override location under the
// user's config directory, creating the parent directory if needed.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}

	redramDir := filepath.Join(dir, "redram")
	if err := os.MkdirAll(redramDir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(redramDir, "config.json"), nil
}

// Validate rejects settings that would make playback nonsensical.
func (c Config) Validate() error {
	if c.Audio.AudioBufferFrames <= 0 {
		return &ValidationError{Field: "audio.audio_buffer_frames", Message: "must be positive"}
	}
	if c.Audio.StreamStartupTimeout <= 0 {
		return &ValidationError{Field: "audio.stream_startup_timeout", Message: "must be positive"}
	}
	for level := range c.Audio.AutoplayOnLoad.ByLevel {
		if level < 0 || level > 3 {
			return &ValidationError{Field: "audio.autoplay_on_load", Message: "extraction level keys must be in 0..3"}
		}
	}
	return nil
}

// ValidationError reports a single invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
