// Package main is the entry point for the draftsync agent.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/helmstudio/draftsync/internal/app"
)

var (
	// version can be set at build time via -ldflags
	version = "dev"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		log.Printf("draftsync version %s\n", version)
		os.Exit(0)
	}

	agent, err := app.New(app.Options{
		ConfigPath: *configPath,
		Version:    version,
	})
	if err != nil {
		log.Fatalf("Failed to initialize agent: %v", err)
	}
	defer func() {
		if closeErr := agent.Close(); closeErr != nil {
			log.Printf("Cleanup error: %v", closeErr)
		}
	}()

	if err := agent.Run(context.Background()); err != nil {
		log.Fatalf("Agent error: %v", err)
	}
}
