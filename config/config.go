// Package config loads and validates the receive station configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete station configuration
type Config struct {
	SDR     SDRConfig     `yaml:"sdr"`
	Search  SearchConfig  `yaml:"search"`
	Decode  DecodeConfig  `yaml:"decode"`
	APRS    APRSConfig    `yaml:"aprs"`
	Habitat HabitatConfig `yaml:"habitat"`
	Ozi     OziConfig     `yaml:"ozi"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Upload  UploadConfig  `yaml:"upload"`
	Logging LoggingConfig `yaml:"logging"`

	// LoadedFrom records the path the config was read from.
	LoadedFrom string `yaml:"-"`
}

// SDRConfig contains RTL-SDR tuner settings shared by scan, detect and decode
type SDRConfig struct {
	PPM  int    `yaml:"ppm"`
	Gain string `yaml:"gain"`
	Bias bool   `yaml:"bias"`
}

// SearchConfig contains band scan and peak detection settings
type SearchConfig struct {
	MinFreqMHz     float64 `yaml:"min_freq"`
	MaxFreqMHz     float64 `yaml:"max_freq"`
	StepHz         int     `yaml:"search_step"`
	DwellSeconds   int     `yaml:"dwell_time"`
	MinSNR         float64 `yaml:"min_snr"`
	MinDistanceHz  int     `yaml:"min_distance"`
	QuantizationHz int     `yaml:"quantization"`
	Attempts       int     `yaml:"search_attempts"`
	DelaySeconds   int     `yaml:"search_delay"`
}

// DecodeConfig contains decode session settings
type DecodeConfig struct {
	// RXTimeoutSeconds is the liveness timeout: maximum silence from the
	// decoder before the session is considered dead.
	RXTimeoutSeconds int `yaml:"rx_timeout"`
}

// APRSConfig contains APRS-IS upload settings
type APRSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Server        string `yaml:"server"`
	Port          int    `yaml:"port"`
	User          string `yaml:"user"`
	Pass          string `yaml:"pass"`
	ObjectID      string `yaml:"object_id"`
	CustomComment string `yaml:"custom_comment"`
}

// HabitatConfig contains telemetry aggregator upload settings
type HabitatConfig struct {
	Enabled          bool    `yaml:"enabled"`
	URL              string  `yaml:"url"`
	PayloadCallsign  string  `yaml:"payload_callsign"`
	UploaderCallsign string  `yaml:"uploader_callsign"`
	UploaderLat      float64 `yaml:"uploader_lat"`
	UploaderLon      float64 `yaml:"uploader_lon"`
}

// OziConfig contains local plotter and payload summary UDP settings
type OziConfig struct {
	Enabled               bool   `yaml:"enabled"`
	Hostname              string `yaml:"hostname"`
	Port                  int    `yaml:"port"`
	UpdateRateSeconds     int    `yaml:"update_rate"`
	PayloadSummaryEnabled bool   `yaml:"payload_summary_enabled"`
	PayloadSummaryPort    int    `yaml:"payload_summary_port"`
}

// MQTTConfig contains optional per-frame MQTT publishing settings
type MQTTConfig struct {
	Enabled bool   `yaml:"enabled"`
	Broker  string `yaml:"broker"`
	Port    int    `yaml:"port"`
	Topic   string `yaml:"topic"`
}

// UploadConfig contains internet push cadence settings
type UploadConfig struct {
	// Synchronous aligns uploads to wall-clock timeslots (unix time modulo
	// RateSeconds) so independent stations upload in the same slot.
	Synchronous bool `yaml:"synchronous_upload"`
	RateSeconds int  `yaml:"upload_rate"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Dir string `yaml:"dir"`
}

// Load loads configuration from a YAML file, fills defaults and validates.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.LoadedFrom = filename

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with sensible defaults for the 400-403 MHz
// radiosonde band.
func Default() *Config {
	return &Config{
		SDR: SDRConfig{
			Gain: "automatic",
		},
		Search: SearchConfig{
			MinFreqMHz:     400.4,
			MaxFreqMHz:     403.5,
			StepHz:         800,
			DwellSeconds:   20,
			MinSNR:         10,
			MinDistanceHz:  1000,
			QuantizationHz: 5000,
			Attempts:       5,
			DelaySeconds:   10,
		},
		Decode: DecodeConfig{
			RXTimeoutSeconds: 120,
		},
		APRS: APRSConfig{
			Server:        "radiosondy.info",
			Port:          14580,
			CustomComment: "Radiosonde <type> <freq>",
		},
		Habitat: HabitatConfig{
			URL: "http://habitat.habhub.org",
		},
		Ozi: OziConfig{
			Hostname:           "127.0.0.1",
			Port:               8942,
			UpdateRateSeconds:  5,
			PayloadSummaryPort: 55672,
		},
		MQTT: MQTTConfig{
			Port:  1883,
			Topic: "sondes",
		},
		Upload: UploadConfig{
			RateSeconds: 30,
		},
		Logging: LoggingConfig{
			Dir: "log",
		},
	}
}

// Validate checks the configuration for values the pipeline cannot work with.
func (c *Config) Validate() error {
	if c.Search.MinFreqMHz >= c.Search.MaxFreqMHz {
		return fmt.Errorf("search: min_freq (%.3f) must be below max_freq (%.3f)",
			c.Search.MinFreqMHz, c.Search.MaxFreqMHz)
	}
	if c.Search.StepHz <= 0 {
		return fmt.Errorf("search: search_step must be positive, got %d", c.Search.StepHz)
	}
	if c.Search.QuantizationHz <= 0 {
		return fmt.Errorf("search: quantization must be positive, got %d", c.Search.QuantizationHz)
	}
	if c.Search.Attempts <= 0 {
		return fmt.Errorf("search: search_attempts must be positive, got %d", c.Search.Attempts)
	}
	if c.Decode.RXTimeoutSeconds <= 0 {
		return fmt.Errorf("decode: rx_timeout must be positive, got %d", c.Decode.RXTimeoutSeconds)
	}
	if c.Upload.RateSeconds <= 0 {
		return fmt.Errorf("upload: upload_rate must be positive, got %d", c.Upload.RateSeconds)
	}
	if c.Ozi.UpdateRateSeconds <= 0 {
		return fmt.Errorf("ozi: update_rate must be positive, got %d", c.Ozi.UpdateRateSeconds)
	}
	if c.APRS.Enabled && strings.TrimSpace(c.APRS.User) == "" {
		return fmt.Errorf("aprs: user is required when aprs upload is enabled")
	}
	if c.Habitat.Enabled && strings.TrimSpace(c.Habitat.UploaderCallsign) == "" {
		return fmt.Errorf("habitat: uploader_callsign is required when habitat upload is enabled")
	}
	if c.MQTT.Enabled && strings.TrimSpace(c.MQTT.Broker) == "" {
		return fmt.Errorf("mqtt: broker is required when mqtt publishing is enabled")
	}
	return nil
}

// NormalizedGain collapses unusable gain settings to automatic gain control.
// rtl_fm treats any non-numeric gain as AGC, and a gain of zero behaves the
// same way in practice.
func (s *SDRConfig) NormalizedGain() string {
	g := strings.TrimSpace(s.Gain)
	if g == "" || g == "0" {
		return "automatic"
	}
	if _, err := strconv.ParseFloat(g, 64); err != nil {
		return "automatic"
	}
	return g
}
