// BRIDGE behavioral authentication server - continuously scores mobile
// banking sessions against evolving per-user behavioral profiles.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chanikkyasaai/bridge/pkg/api"
	"github.com/chanikkyasaai/bridge/pkg/config"
	"github.com/chanikkyasaai/bridge/pkg/engine"
	"github.com/chanikkyasaai/bridge/pkg/extract"
	"github.com/chanikkyasaai/bridge/pkg/metrics"
	"github.com/chanikkyasaai/bridge/pkg/storage"
	"github.com/chanikkyasaai/bridge/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	memoryOnly := flag.Bool("memory-only",
		os.Getenv("MEMORY_ONLY") == "true",
		"Run without PostgreSQL (in-memory persistence only)")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "release"))

	log.Printf("Starting %s", version.String())
	log.Printf("HTTP Port: %s", httpPort)
	log.Printf("Config Directory: %s", *configDir)

	ctx := context.Background()

	// Initialize configuration
	cfg, err := config.Initialize(*configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}

	// Initialize persistence
	var (
		repo      storage.VectorRepository
		serverOps []api.Option
	)
	if *memoryOnly {
		log.Println("Running in memory-only mode, no database configured")
		repo = storage.NewMemory()
	} else {
		dbConfig, err := storage.LoadConfigFromEnv()
		if err != nil {
			log.Fatalf("Failed to load database config: %v", err)
		}

		pgRepo, err := storage.NewPostgres(ctx, dbConfig)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer func() {
			if err := pgRepo.Close(); err != nil {
				log.Printf("Error closing database: %v", err)
			}
		}()
		log.Println("✓ Connected to PostgreSQL database")
		log.Println("✓ Database schema initialized")

		repo = pgRepo
		serverOps = append(serverOps, api.WithDatabase(pgRepo.DB()))
	}

	// Initialize metrics
	registry := prometheus.NewRegistry()
	engineMetrics := metrics.New(registry)
	serverOps = append(serverOps, api.WithMetricsRegistry(registry))

	// Initialize engine
	eng, err := engine.New(cfg, extract.NewMobileExtractor(), repo,
		engine.WithMetrics(engineMetrics))
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}

	if cfg.Engine.WarmStart {
		if err := eng.WarmStart(ctx); err != nil {
			log.Printf("Warning: index warm start failed: %v", err)
			log.Printf("Continuing with empty indices...")
		} else {
			log.Println("✓ Similarity indices warmed from persisted vectors")
		}
	}
	log.Println("✓ Behavioral engine initialized")

	// Serve HTTP
	server := api.NewServer(eng, serverOps...)
	log.Printf("Serving HTTP on :%s", httpPort)
	if err := server.Run(":" + httpPort); err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
}
