// ABOUTME: YAML configuration for the phoenix-audio CLI
// ABOUTME: Loads playback, device and trace settings that command flags override
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/team-phoenix/phoenix-audio/pkg/audio"
	"github.com/team-phoenix/phoenix-audio/pkg/audio/resample"
)

const (
	// DefaultBaseDir is the configuration directory under the user's home
	DefaultBaseDir = ".phoenix-audio"
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "config.yaml"
)

// Config holds CLI settings
type Config struct {
	// Sink selects the output: "oto" (system device) or "virtual"
	Sink string `yaml:"sink,omitempty"`

	// Deviation is the maximum fractional rate correction
	Deviation float64 `yaml:"deviation,omitempty"`

	// RingMs is the producer ring buffer length
	RingMs int `yaml:"ring_ms,omitempty"`

	// BufferMs and Periods size the device buffer
	BufferMs int `yaml:"buffer_ms,omitempty"`
	Periods  int `yaml:"periods,omitempty"`

	// Quality is the rate conversion filter (quick, low, medium, high, veryhigh)
	Quality string `yaml:"quality,omitempty"`

	// Volume is the initial software volume, 0.0 to 1.0
	Volume *float64 `yaml:"volume,omitempty"`

	// Device fixes the device format; empty plays at the producer format
	Device Device `yaml:"device,omitempty"`

	Trace Trace `yaml:"trace,omitempty"`

	// LogFile receives log output
	LogFile string `yaml:"log_file,omitempty"`

	configPath string
}

// Device describes a fixed output format
type Device struct {
	SampleRate int    `yaml:"sample_rate,omitempty"`
	Channels   int    `yaml:"channels,omitempty"`
	Sample     string `yaml:"sample,omitempty"` // u8, s16, s24, s32 or f32
}

// Trace configures the rate trace server
type Trace struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Port    int    `yaml:"port,omitempty"`
	Name    string `yaml:"name,omitempty"`
}

// Default returns the built-in settings
func Default() *Config {
	volume := 1.0
	return &Config{
		Sink:      "oto",
		Deviation: 0.005,
		RingMs:    200,
		BufferMs:  100,
		Periods:   4,
		Quality:   "medium",
		Volume:    &volume,
		Trace:     Trace{Port: 8928},
		LogFile:   "phoenix-audio.log",
	}
}

// DefaultPath returns ~/.phoenix-audio/config.yaml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DefaultBaseDir, DefaultConfigFile), nil
}

// Load reads the config at path over the defaults. An empty path uses
// DefaultPath. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	cfg.configPath = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.configPath = path

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to its path
func (c *Config) Save() error {
	if c.configPath == "" {
		return fmt.Errorf("config has no path")
	}
	if err := os.MkdirAll(filepath.Dir(c.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(c.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Path returns the config file path
func (c *Config) Path() string {
	return c.configPath
}

// Validate checks values that would otherwise fail deep inside playback
func (c *Config) Validate() error {
	switch c.Sink {
	case "oto", "virtual":
	default:
		return fmt.Errorf("unknown sink %q (expected oto or virtual)", c.Sink)
	}
	if c.Deviation < 0 || c.Deviation >= 1 {
		return fmt.Errorf("deviation %v out of range [0, 1)", c.Deviation)
	}
	if c.RingMs < 0 || c.BufferMs < 0 || c.Periods < 0 {
		return fmt.Errorf("buffer sizes must not be negative")
	}
	if c.Volume != nil && (*c.Volume < 0 || *c.Volume > 1) {
		return fmt.Errorf("volume %v out of range [0, 1]", *c.Volume)
	}
	if _, err := resample.ParseQuality(c.Quality); err != nil {
		return err
	}
	if _, err := c.DeviceFormat(); err != nil {
		return err
	}
	return nil
}

// QualityLevel returns the parsed rate conversion quality
func (c *Config) QualityLevel() resample.Quality {
	q, _ := resample.ParseQuality(c.Quality)
	return q
}

// RingDuration returns the ring buffer length
func (c *Config) RingDuration() time.Duration {
	return time.Duration(c.RingMs) * time.Millisecond
}

// BufferDuration returns the device buffer length
func (c *Config) BufferDuration() time.Duration {
	return time.Duration(c.BufferMs) * time.Millisecond
}

// VolumeLevel returns the initial volume
func (c *Config) VolumeLevel() float64 {
	if c.Volume == nil {
		return 1
	}
	return *c.Volume
}

// DeviceFormat returns the fixed device format, or the zero Format when the
// device follows the producer
func (c *Config) DeviceFormat() (audio.Format, error) {
	d := c.Device
	if d == (Device{}) {
		return audio.Format{}, nil
	}

	f, err := ParseSample(d.Sample)
	if err != nil {
		return audio.Format{}, err
	}
	f.SampleRate = d.SampleRate
	f.Channels = d.Channels
	if !f.Valid() {
		return audio.Format{}, fmt.Errorf("invalid device format: %s", f)
	}
	return f, nil
}

// ParseSample parses a sample type like "s16" or "f32" into a Format with
// only Encoding and BitDepth set
func ParseSample(s string) (audio.Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		s = "s16"
	}
	if len(s) < 2 {
		return audio.Format{}, fmt.Errorf("invalid sample type %q", s)
	}

	var enc audio.Encoding
	switch s[0] {
	case 's':
		enc = audio.EncodingSigned
	case 'u':
		enc = audio.EncodingUnsigned
	case 'f':
		enc = audio.EncodingFloat
	default:
		return audio.Format{}, fmt.Errorf("invalid sample type %q", s)
	}

	bits, err := strconv.Atoi(s[1:])
	if err != nil {
		return audio.Format{}, fmt.Errorf("invalid sample type %q", s)
	}
	return audio.Format{Encoding: enc, BitDepth: bits}, nil
}
