// Package main runs the release distribution server.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/releaserelay/release_layer/internal/app/runtime"
)

func main() {
	cfgPath := flag.String("config", "", "Path to the YAML config file")
	flag.Parse()

	if v := os.Getenv("RELEASE_LAYER_CONFIG"); v != "" && *cfgPath == "" {
		*cfgPath = v
	}

	app, err := runtime.NewApplication(*cfgPath)
	if err != nil {
		log.Fatalf("Failed to initialise: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received %s, shutting down...", sig)
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
		return
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
