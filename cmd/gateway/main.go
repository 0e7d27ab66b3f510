// Command gateway is the trading gateway's entry point: load config,
// build the logger, construct the engine, authenticate, start every
// component, then wait for SIGINT/SIGTERM and shut down cleanly.
// Grounded on the teacher's cmd/bot/main.go for the overall sequencing
// and exit codes, and on original_source/src/main.cpp for authenticating
// before anything else starts (a failed initial authenticate is fatal).
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sonugupta2001/trading-gateway/internal/config"
	"github.com/Sonugupta2001/trading-gateway/internal/engine"
	"github.com/Sonugupta2001/trading-gateway/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/config.yaml", "path to the gateway configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		return 1
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		return 1
	}
	defer closer.Close()

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to construct engine", "error", err)
		return 1
	}

	for _, instrument := range []string{"BTC-PERPETUAL", "ETH-PERPETUAL"} {
		eng.Subscribe(instrument)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start gateway", "error", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("signal received, shutting down")
	eng.Stop()
	return 0
}
