// Package config loads timetable-ocr settings from defaults, an optional
// YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/ironsheep/timetable-ocr/internal/imaging"
	"github.com/ironsheep/timetable-ocr/internal/logger"
	"github.com/ironsheep/timetable-ocr/internal/ocr"
	"github.com/ironsheep/timetable-ocr/internal/pipeline"
)

// EnvConfigFile names the config file when no path is given to Load.
const EnvConfigFile = "TIMETABLE_CONFIG"

// Config holds the full timetable-ocr configuration.
type Config struct {
	Pipeline pipeline.Config  `yaml:"pipeline"`
	OCR      ocr.Options      `yaml:"ocr"`
	Server   ServerConfig     `yaml:"server"`
	Log      logger.LogConfig `yaml:"log"`
}

// ServerConfig configures the HTTP upload service.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	UploadDir      string `yaml:"upload_dir"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	KeepUploads    bool   `yaml:"keep_uploads"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Pipeline: pipeline.DefaultConfig(),
		OCR:      ocr.DefaultOptions(),
		Server: ServerConfig{
			Addr:           ":8080",
			UploadDir:      "input_images",
			MaxUploadBytes: 10 << 20,
			KeepUploads:    true,
		},
		Log: logger.DefaultConfig(),
	}
}

// Load builds the configuration. Later sources win: defaults, then the YAML
// file at path (or $TIMETABLE_CONFIG when path is empty), then environment
// variables. A missing file is an error only when one was named.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.OCR.Engine = getEnv("TIMETABLE_OCR_ENGINE", c.OCR.Engine)
	c.OCR.Language = getEnv("TIMETABLE_OCR_LANGUAGE", c.OCR.Language)
	c.OCR.TessdataPrefix = getEnv("TIMETABLE_TESSDATA_PREFIX", c.OCR.TessdataPrefix)
	c.Server.Addr = getEnv("TIMETABLE_ADDR", c.Server.Addr)
	c.Server.UploadDir = getEnv("TIMETABLE_UPLOAD_DIR", c.Server.UploadDir)

	if v := os.Getenv("TIMETABLE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TIMETABLE_WORKERS: %w", err)
		}
		c.Pipeline.Recognize.Workers = n
	}

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Log.Output = getEnv("LOG_OUTPUT", c.Log.Output)
	c.Log.TimeFormat = getEnv("LOG_TIME_FORMAT", c.Log.TimeFormat)
	return nil
}

// Validate checks that values are in range.
func (c *Config) Validate() error {
	p := c.Pipeline

	if p.Preprocess.MaxDimension < 0 {
		return errors.New("pipeline.preprocess.max_dimension must be >= 0")
	}
	if p.Preprocess.NoiseRadius < 0 {
		return errors.New("pipeline.preprocess.noise_radius must be >= 0")
	}
	switch p.Preprocess.Threshold {
	case imaging.ThresholdAdaptive, imaging.ThresholdOtsu:
	default:
		return fmt.Errorf("pipeline.preprocess.threshold: unsupported method %q (use adaptive or otsu)", p.Preprocess.Threshold)
	}
	if p.Preprocess.Threshold == imaging.ThresholdAdaptive && p.Preprocess.BlockSize < 3 {
		return errors.New("pipeline.preprocess.block_size must be >= 3")
	}

	if p.Grid.RelativeThreshold <= 0 || p.Grid.RelativeThreshold > 1 {
		return errors.New("pipeline.grid.relative_threshold must be in (0, 1]")
	}
	if p.Grid.MinSpacing < 1 {
		return errors.New("pipeline.grid.min_spacing must be >= 1")
	}
	if p.Grid.RunFraction < 0 || p.Grid.RunFraction > 1 {
		return errors.New("pipeline.grid.run_fraction must be in [0, 1]")
	}
	if p.Grid.RunGap < 0 {
		return errors.New("pipeline.grid.run_gap must be >= 0")
	}

	if p.Recognize.Workers < 0 {
		return errors.New("pipeline.recognize.workers must be >= 0")
	}
	if p.Recognize.Scale < 1 {
		return errors.New("pipeline.recognize.scale must be >= 1")
	}
	if p.Recognize.Border < 0 {
		return errors.New("pipeline.recognize.border must be >= 0")
	}
	if p.Recognize.ConfidenceFloor < 0 || p.Recognize.ConfidenceFloor > 1 {
		return errors.New("pipeline.recognize.confidence_floor must be in [0, 1]")
	}

	if err := c.OCR.Validate(); err != nil {
		return fmt.Errorf("ocr: %w", err)
	}

	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.UploadDir == "" {
		return errors.New("server.upload_dir is required")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return errors.New("server.max_upload_bytes must be > 0")
	}

	return nil
}

// PipelineConfig returns the converter settings with the OCR section
// folded in.
func (c *Config) PipelineConfig() pipeline.Config {
	p := c.Pipeline
	p.OCR = c.OCR
	return p
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return c.Log
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
