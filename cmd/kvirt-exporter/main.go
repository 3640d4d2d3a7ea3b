package main

import (
	"context"
	"log"

	"kvirt-exporter/internal/config"
	"kvirt-exporter/internal/exporter"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := exporter.BuildLogger(cfg)
	exp, err := exporter.New(cfg, logger)
	if err != nil {
		logger.Error("exporter initialization failed", "error", err)
		return
	}

	if err := exp.Run(context.Background()); err != nil {
		logger.Error("exporter runtime failed", "error", err)
	}
}
