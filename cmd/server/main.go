package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/embedkit/embedkit/internal/infrastructure/config"
	"github.com/embedkit/embedkit/internal/infrastructure/server"
)

func main() {
	configFile := flag.String("config", "", "optional YAML config overlay")
	flag.Parse()

	cfg := config.LoadOrDefault()

	var themeParams map[string]string
	if *configFile != "" {
		params, err := cfg.ApplyFile(*configFile)
		if err != nil {
			log.Fatalf("config file: %v", err)
		}
		themeParams = params
	}

	srv, err := server.NewServer(cfg, server.Options{ThemeParams: themeParams})
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		if err := srv.Close(); err != nil {
			log.Printf("error during shutdown: %v", err)
		}
	case err := <-errChan:
		log.Fatalf("server error: %v", err)
	}
}
