// Package config holds the toolkit settings shared by the command line and
// embedding applications.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/idmcalculus/kytepdf/observability"
)

type Env string

const (
	Development Env = "development"
	Production  Env = "production"
	Test        Env = "test"
)

// Environment variables read by FromEnv.
const (
	EnvMode     = "KYTE_ENV"
	EnvLogLevel = "KYTE_LOG_LEVEL"
	EnvDebug    = "KYTE_DEBUG"
	EnvRenderer = "KYTE_RENDERER"
)

type Logging struct {
	Enabled    bool
	Level      string `validate:"oneof=DEBUG INFO WARN ERROR"`
	Timestamps bool
	JSON       bool
}

type Compression struct {
	// DefaultTargetKB is used when a caller gives no target.
	DefaultTargetKB float64 `validate:"gt=0"`
}

type Render struct {
	// Backend selects the rasterizer. mupdf needs a build with the mupdf tag.
	Backend     string  `validate:"oneof=native mupdf"`
	Scale       float64 `validate:"gt=0,lte=8"`
	ImageFormat string  `validate:"oneof=png jpeg"`
	JPEGQuality float64 `validate:"gt=0,lte=1"`
}

type Limits struct {
	MaxFileSizeMB int `validate:"min=1"`
	MaxMergeFiles int `validate:"min=2"`
}

type App struct {
	Name    string `validate:"required"`
	Version string `validate:"required"`
}

type Config struct {
	Env         Env `validate:"oneof=development production test"`
	Logging     Logging
	Compression Compression
	Render      Render
	Limits      Limits
	App         App
}

func NewDefaultConfig() *Config {
	return &Config{
		Env: Development,
		Logging: Logging{
			Enabled:    true,
			Level:      "DEBUG",
			Timestamps: true,
		},
		Compression: Compression{DefaultTargetKB: 1024},
		Render: Render{
			Backend:     "native",
			Scale:       2,
			ImageFormat: "png",
			JPEGQuality: 0.92,
		},
		Limits: Limits{MaxFileSizeMB: 100, MaxMergeFiles: 50},
		App:    App{Name: "KytePDF", Version: "1.0.0"},
	}
}

func (cfg *Config) Validate() error {
	return validator.New().Struct(cfg)
}

// IsProd reports whether the production defaults apply.
func (cfg *Config) IsProd() bool { return cfg.Env == Production }

// Load returns the defaults with the process environment applied.
func Load() (*Config, error) {
	cfg := NewDefaultConfig()
	if err := cfg.FromEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv applies overrides from lookup. In production logging is off and
// limited to errors unless KYTE_DEBUG is "true"; KYTE_LOG_LEVEL wins over
// both defaults. The result is validated.
func (cfg *Config) FromEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvMode); ok && v != "" {
		cfg.Env = Env(strings.ToLower(strings.TrimSpace(v)))
	}
	if cfg.IsProd() {
		cfg.Logging.Enabled = false
		cfg.Logging.Level = "ERROR"
	}
	if v, ok := lookup(EnvDebug); ok && strings.EqualFold(strings.TrimSpace(v), "true") {
		cfg.Logging.Enabled = true
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Logging.Level = strings.ToUpper(strings.TrimSpace(v))
		if cfg.Logging.Level == "WARNING" {
			cfg.Logging.Level = "WARN"
		}
	}
	if v, ok := lookup(EnvRenderer); ok && v != "" {
		cfg.Render.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Logger builds the logger the settings describe, writing to out. Disabled
// logging gives a NopLogger.
func (cfg *Config) Logger(out io.Writer) observability.Logger {
	if !cfg.Logging.Enabled {
		return observability.NopLogger{}
	}
	return observability.NewLogrus(observability.LogrusOptions{
		Level:      cfg.Logging.Level,
		Timestamps: cfg.Logging.Timestamps,
		JSON:       cfg.Logging.JSON,
		Output:     out,
	})
}

// MaxFileSize is Limits.MaxFileSizeMB in bytes.
func (cfg *Config) MaxFileSize() int64 { return int64(cfg.Limits.MaxFileSizeMB) * 1024 * 1024 }
