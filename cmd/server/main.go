package main

import (
	"context"
	"log"
	"os"

	approuters "github.com/sngor/bayon-realtime/internal/app_routers"
	"github.com/sngor/bayon-realtime/internal/configuration"
)

func main() {
	configPath := os.Getenv("BAYON_CONFIG")
	if configPath == "" {
		configPath = "../../shared/config.dev.json"
	}

	container, err := configuration.BuildContainer(configPath)
	if err != nil {
		log.Fatalf("Failed to build container: %v", err)
	}

	// Ensure cleanup on shutdown
	defer container.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Presence fan-out runs off the registry mutation feed; the reactor
	// reopens the feed itself after a failure.
	go container.Reactor.Run(ctx, container.OpenFeed)

	// Background retry and cleanup jobs.
	container.Cron.Start()

	// Setup routers; blocks until shutdown
	approuters.StartServer(container)
}
