package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/smarttrash/classifier/internal/preprocess"
)

// EnvPrefix namespaces environment overrides, e.g. SMARTTRASH_MODEL_PATH.
const EnvPrefix = "SMARTTRASH_"

// DefaultModelPath is used when nothing overrides model.path.
const DefaultModelPath = "models/waste_classifier.onnx"

type Config struct {
	Server ServerConfig  `koanf:"server"`
	Log    LogConfig     `koanf:"log"`
	Model  ModelConfig   `koanf:"model"`
	Labels []LabelConfig `koanf:"labels"`
}

type ServerConfig struct {
	Port           string `koanf:"port"`
	Workers        int    `koanf:"workers"`
	MaxUploadBytes int64  `koanf:"max_upload_bytes"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type ModelConfig struct {
	Path             string        `koanf:"path"`
	MetadataPath     string        `koanf:"metadata_path"`
	RuntimeLibrary   string        `koanf:"runtime_library"`
	InputName        string        `koanf:"input_name"`
	OutputName       string        `koanf:"output_name"`
	Width            int           `koanf:"width"`
	Height           int           `koanf:"height"`
	Layout           string        `koanf:"layout"`
	Normalization    string        `koanf:"normalization"`
	Mean             []float64     `koanf:"mean"`
	Std              []float64     `koanf:"std"`
	Interpolation    string        `koanf:"interpolation"`
	MaxPixels        int64         `koanf:"max_pixels"`
	ApplySoftmax     bool          `koanf:"apply_softmax"`
	Threads          int           `koanf:"threads"`
	InferenceTimeout time.Duration `koanf:"inference_timeout"`
}

// LabelConfig overrides one catalog entry. Order is the model's output order.
type LabelConfig struct {
	Raw      string `koanf:"raw"`
	Bin      string `koanf:"bin"`
	Material string `koanf:"material"`
	Color    string `koanf:"color"`
	Tip      string `koanf:"tip"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8000",
			Workers:        4,
			MaxUploadBytes: 10 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Model: ModelConfig{
			Path:          DefaultModelPath,
			InputName:     "input",
			OutputName:    "output",
			Width:         224,
			Height:        224,
			Layout:        "NHWC",
			Normalization: "unit",
			Interpolation: "bilinear",
			MaxPixels:     preprocess.DefaultMaxPixels,
		},
	}
}

// Load layers defaults, the YAML file at path and SMARTTRASH_* variables.
// A missing file is not an error; an unreadable or malformed one is.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps SMARTTRASH_MODEL_INFERENCE_TIMEOUT to model.inference_timeout.
func envKey(s string) string {
	return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
}

func (c *Config) Validate() error {
	if c.Model.Path == "" {
		return errors.New("model.path is empty")
	}
	if c.Model.Width <= 0 || c.Model.Height <= 0 {
		return fmt.Errorf("model input size %dx%d is invalid", c.Model.Width, c.Model.Height)
	}
	if c.Model.MaxPixels <= 0 {
		return fmt.Errorf("model.max_pixels must be positive, got %d", c.Model.MaxPixels)
	}
	if c.Server.Workers <= 0 {
		return fmt.Errorf("server.workers must be positive, got %d", c.Server.Workers)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive, got %d", c.Server.MaxUploadBytes)
	}
	return nil
}
