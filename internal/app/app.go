// Package app assembles the prediction stack from a Config.
package app

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/smarttrash/classifier/internal/catalog"
	"github.com/smarttrash/classifier/internal/classifier"
	"github.com/smarttrash/classifier/internal/config"
	"github.com/smarttrash/classifier/internal/fallback"
	"github.com/smarttrash/classifier/internal/model"
	"github.com/smarttrash/classifier/internal/predict"
	"github.com/smarttrash/classifier/internal/preprocess"
)

type App struct {
	Config   *config.Config
	Catalog  *catalog.Catalog
	Registry *model.Registry
	Service  *predict.Service
	Log      *logrus.Entry
}

// NewLogger configures a logrus logger from the log section.
func NewLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return logger, nil
}

// New builds every component. When loader is nil the ONNX runtime is used.
// The model is loaded eagerly; a failed load is logged and the service
// starts in fallback mode.
func New(cfg *config.Config, loader model.Loader, log *logrus.Entry) (*App, error) {
	cat, err := cfg.Catalog()
	if err != nil {
		return nil, fmt.Errorf("labels: %w", err)
	}

	opts, err := cfg.PreprocessOptions()
	if err != nil {
		return nil, fmt.Errorf("preprocessing: %w", err)
	}
	pre, err := preprocess.New(opts)
	if err != nil {
		return nil, fmt.Errorf("preprocessing: %w", err)
	}

	if loader == nil {
		loader = model.ONNXLoader(cfg.ONNXOptions(pre.Shape(), cat.Labels()))
	}
	reg := model.NewRegistry(cfg.Model.Path, loader, log)
	reg.EnsureLoaded()

	cls := classifier.New(reg, pre, cat.Len(), classifier.WithTimeout(cfg.Model.InferenceTimeout))
	svc := predict.NewService(
		predict.NewModelPipeline(cls, cat),
		fallback.NewPredictor(nil),
		reg,
		cfg.Server.Workers,
		log,
	)

	return &App{
		Config:   cfg,
		Catalog:  cat,
		Registry: reg,
		Service:  svc,
		Log:      log,
	}, nil
}

// Close releases the model session and the runtime.
func (a *App) Close() error {
	if err := a.Registry.Close(); err != nil {
		return err
	}
	return model.ShutdownRuntime()
}
