// Package config holds the application configuration, loaded from an
// optional TOML file and overridable from the command line.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration.
type Config struct {
	Capture CaptureConfig `toml:"capture"`
	Record  RecordConfig  `toml:"record"`
	Motion  MotionConfig  `toml:"motion"`
	Stream  StreamConfig  `toml:"stream"`
	Alert   AlertConfig   `toml:"alert"`
	Log     LogConfig     `toml:"log"`
}

type CaptureConfig struct {
	// Index selects the camera device.
	Index int `toml:"index"`
	// Video, when set, is a video file used as the input instead of a
	// live camera (offline analysis of recorded footage).
	Video     string  `toml:"video"`
	Width     int     `toml:"width"`
	Height    int     `toml:"height"`
	Framerate float64 `toml:"framerate"`
}

type RecordConfig struct {
	Directory string `toml:"directory"`
	// FilenameLayout is a Go time layout the output file name is derived
	// from; extension is always ".mkv".
	FilenameLayout string `toml:"filename_layout"`
	Codec          string `toml:"codec"`
	// Overlay draws capture date/time on recorded frames.
	Overlay bool `toml:"overlay"`
}

type MotionConfig struct {
	MinimumArea  float64 `toml:"minimum_area"`
	BlurSize     int     `toml:"blur_size"`
	Threshold    float32 `toml:"threshold"`
	DilationSize int     `toml:"dilation_size"`
}

type StreamConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

type AlertConfig struct {
	WebhookURL string `toml:"webhook_url"`
	Channel    string `toml:"channel"`
	Username   string `toml:"username"`
	// CooldownSeconds is the minimum interval between two notifications.
	CooldownSeconds int `toml:"cooldown_seconds"`
}

type LogConfig struct {
	Level string `toml:"level"`
	// File, when set, additionally writes rotated logs to this path.
	File  string `toml:"file"`
	Quiet bool   `toml:"quiet"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Capture: CaptureConfig{
			Index:     0,
			Width:     640,
			Height:    480,
			Framerate: 25,
		},
		Record: RecordConfig{
			Directory:      "recordings",
			FilenameLayout: "2006-01-02_15-04-05",
			Codec:          "XVID",
			Overlay:        true,
		},
		Motion: MotionConfig{
			MinimumArea:  3000,
			BlurSize:     21,
			Threshold:    25,
			DilationSize: 3,
		},
		Stream: StreamConfig{
			ListenAddr: "0.0.0.0:8740",
		},
		Alert: AlertConfig{
			Channel:         "#cam",
			Username:        "fieldcam",
			CooldownSeconds: 5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the TOML file at path on top of the defaults. A missing file
// is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return cfg, nil
}

// AlertCooldown returns the cooldown as a duration.
func (c Config) AlertCooldown() time.Duration {
	if c.Alert.CooldownSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Alert.CooldownSeconds) * time.Second
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return fmt.Errorf("capture geometry must be positive, got %dx%d",
			c.Capture.Width, c.Capture.Height)
	}
	if c.Capture.Framerate <= 0 {
		return fmt.Errorf("capture framerate must be positive, got %v", c.Capture.Framerate)
	}
	if c.Stream.ListenAddr == "" {
		return fmt.Errorf("stream listen address must be set")
	}
	if c.Motion.MinimumArea <= 0 {
		return fmt.Errorf("motion minimum area must be positive, got %v", c.Motion.MinimumArea)
	}
	return nil
}
