// Package config provides configuration management for psxav using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultJPEGQuality     = 90
	defaultSectorsPerFrame = "10"
	defaultWidth           = 320
	defaultHeight          = 240
	defaultDiscSpeed       = 2
	defaultAudioRate       = 37800

	defaultProgressInterval = 2 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Output  OutputConfig  `mapstructure:"output"`
	Decode  DecodeConfig  `mapstructure:"decode"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Input   InputConfig   `mapstructure:"input"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
	// ProgressInterval is the minimum gap between progress log lines.
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
}

// OutputConfig controls where and how saved media is written.
type OutputConfig struct {
	Dir         string `mapstructure:"dir"`
	Format      string `mapstructure:"format"` // bitstream, mdec, png, bmp, jpg, avi:rgb, avi:yuv, avi:jyuv, avi:mjpg
	JPEGQuality int    `mapstructure:"jpeg_quality"`
	Naming      string `mapstructure:"naming"` // index, sector
	SaveAudio   bool   `mapstructure:"save_audio"`
	AudioFormat string `mapstructure:"audio_format"` // wav, aiff
}

// DecodeConfig selects the MDEC decoder variant.
type DecodeConfig struct {
	Quality       string `mapstructure:"quality"`        // high, fast
	YUVConvention string `mapstructure:"yuv_convention"` // rec601, jfif
}

// SyncConfig controls audio/video synchronisation.
type SyncConfig struct {
	EmulateAV bool `mapstructure:"emulate_av"`
}

// InputConfig describes a frame-dump directory when no disc index is available.
type InputConfig struct {
	SectorsPerFrame string `mapstructure:"sectors_per_frame"` // exact rational, e.g. "10" or "15/2"
	Width           int    `mapstructure:"width"`
	Height          int    `mapstructure:"height"`
	DiscSpeed       int    `mapstructure:"disc_speed"` // 1, 2, or 0 for unknown
	AudioRate       int    `mapstructure:"audio_rate"`
	AudioStereo     bool   `mapstructure:"audio_stereo"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with PSXAV_ and use underscores for nesting.
// Example: PSXAV_OUTPUT_FORMAT=avi:mjpg.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.psxav")
	}

	v.SetEnvPrefix("PSXAV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	return FromViper(v)
}

// FromViper unmarshals and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.progress_interval", defaultProgressInterval)

	// Output defaults
	v.SetDefault("output.dir", ".")
	v.SetDefault("output.format", "avi:mjpg")
	v.SetDefault("output.jpeg_quality", defaultJPEGQuality)
	v.SetDefault("output.naming", "index")
	v.SetDefault("output.save_audio", true)
	v.SetDefault("output.audio_format", "wav")

	// Decode defaults
	v.SetDefault("decode.quality", "high")
	v.SetDefault("decode.yuv_convention", "rec601")

	// Sync defaults
	v.SetDefault("sync.emulate_av", false)

	// Input defaults
	v.SetDefault("input.sectors_per_frame", defaultSectorsPerFrame)
	v.SetDefault("input.width", defaultWidth)
	v.SetDefault("input.height", defaultHeight)
	v.SetDefault("input.disc_speed", defaultDiscSpeed)
	v.SetDefault("input.audio_rate", defaultAudioRate)
	v.SetDefault("input.audio_stereo", true)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	if c.Logging.ProgressInterval < 0 {
		return fmt.Errorf("logging.progress_interval must not be negative")
	}

	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		return fmt.Errorf("output.jpeg_quality must be between 1 and 100")
	}
	validNaming := map[string]bool{"index": true, "sector": true}
	if !validNaming[c.Output.Naming] {
		return fmt.Errorf("output.naming must be one of: index, sector")
	}
	validAudio := map[string]bool{"wav": true, "aiff": true}
	if !validAudio[c.Output.AudioFormat] {
		return fmt.Errorf("output.audio_format must be one of: wav, aiff")
	}

	validQuality := map[string]bool{"high": true, "fast": true}
	if !validQuality[c.Decode.Quality] {
		return fmt.Errorf("decode.quality must be one of: high, fast")
	}
	validConv := map[string]bool{"rec601": true, "jfif": true}
	if !validConv[c.Decode.YUVConvention] {
		return fmt.Errorf("decode.yuv_convention must be one of: rec601, jfif")
	}

	if c.Input.Width < 1 || c.Input.Height < 1 {
		return fmt.Errorf("input.width and input.height must be positive")
	}
	if c.Input.DiscSpeed < 0 || c.Input.DiscSpeed > 2 {
		return fmt.Errorf("input.disc_speed must be 0, 1 or 2")
	}
	if c.Input.SectorsPerFrame == "" {
		return fmt.Errorf("input.sectors_per_frame is required")
	}

	return nil
}
