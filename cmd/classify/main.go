package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/smarttrash/classifier/internal/app"
	"github.com/smarttrash/classifier/internal/config"
	"github.com/smarttrash/classifier/internal/predict"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config file] image\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	logger, err := app.NewLogger(cfg.Log)
	if err != nil {
		logrus.Fatalf("invalid log config: %v", err)
	}
	log := logrus.NewEntry(logger)

	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("failed to read image: %v", err)
	}

	a, err := app.New(cfg, nil, log)
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}
	defer a.Close()

	result := a.Service.Predict(context.Background(), predict.Upload{
		Filename:    filepath.Base(path),
		ContentType: http.DetectContentType(data),
		Data:        data,
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatalf("failed to write result: %v", err)
	}
}
