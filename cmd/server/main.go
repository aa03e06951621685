package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/smarttrash/classifier/internal/app"
	"github.com/smarttrash/classifier/internal/config"
	"github.com/smarttrash/classifier/internal/handlers"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logrus.Fatal(err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := app.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("invalid log config: %w", err)
	}
	log := logrus.NewEntry(logger)

	if logger.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := app.New(cfg, nil, log)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.WithError(err).Warn("shutdown")
		}
	}()

	h := handlers.NewHandler(a.Service, a.Registry, cfg.Server.MaxUploadBytes, log)
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handlers.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.WithFields(logrus.Fields{
		"port":    cfg.Server.Port,
		"model":   a.Registry.Path(),
		"state":   a.Registry.State().String(),
		"classes": a.Catalog.Labels(),
	}).Info("server starting")
	log.Info("endpoints: GET /health, POST /predict, POST /model/reload")
	log.Infof("upload test: curl -X POST -F \"file=@bottle.jpg\" http://localhost:%s/predict", cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	return serve(srv, quit, log)
}

// serve runs srv until it fails or a signal arrives on quit. A listen
// failure is returned instead of exiting so the caller's cleanup still runs.
func serve(srv *http.Server, quit <-chan os.Signal, log *logrus.Entry) error {
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
