// Command harnessd runs the agent harness as an HTTP service: it loads
// configuration, connects to Postgres, runs pending migrations, recovers
// any runs orphaned by a previous process, and serves the thin HTTP
// surface (pkg/api) over the Harness Kernel. Startup ordering (config,
// then database, then services, then server) follows the teacher's
// cmd/tarsy/main.go.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/tarsy-labs/agentharness/pkg/acceptance"
	"github.com/tarsy-labs/agentharness/pkg/api"
	"github.com/tarsy-labs/agentharness/pkg/executor"
	"github.com/tarsy-labs/agentharness/pkg/harness"
	"github.com/tarsy-labs/agentharness/pkg/harnessstore"
	"github.com/tarsy-labs/agentharness/pkg/kernel"
	"github.com/tarsy-labs/agentharness/pkg/orphan"
	"github.com/tarsy-labs/agentharness/pkg/replay"
	"github.com/tarsy-labs/agentharness/pkg/specvalidate"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	v := strings.ToLower(os.Getenv(key))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	if getEnv("GIN_MODE", "debug") == "release" {
		log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	slog.SetDefault(log)

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		log.Info("loaded environment file", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "debug"))
	projectDir := getEnv("PROJECT_DIR", ".")

	ctx := context.Background()

	dbConfig, err := harnessstore.LoadConfigFromEnv()
	if err != nil {
		log.Error("failed to load database config", "error", err)
		os.Exit(1)
	}
	store, err := harnessstore.NewClient(ctx, dbConfig)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("error closing database connection", "error", err)
		}
	}()
	log.Info("connected to database and applied migrations")

	specs := harnessstore.NewSpecRepository(store)
	runs := harnessstore.NewRunRepository(store)
	events := harnessstore.NewEventRepository(store)
	artifacts := harnessstore.NewFileArtifactWriter(projectDir)

	recorder := harness.NewEventRecorder(events, artifacts, log)
	registry := acceptance.NewRegistry()
	gate := acceptance.New(registry)
	validator := specvalidate.New(registry)
	replayer := replay.New(events, artifacts, runs)

	strictPolicy := getEnvBool("HARNESS_STRICT_POLICY", false)
	k := kernel.New(runs, recorder, gate, strictPolicy, log)

	recoverer := orphan.New(runs, specs, runs, recorder, log)
	summary, err := recoverer.Recover(ctx)
	if err != nil {
		log.Error("orphan recovery scan failed", "error", err)
	} else {
		log.Info("orphan recovery complete",
			"total_found", summary.TotalFound,
			"cleaned", summary.CleanedCount,
			"skipped", summary.SkippedCount,
			"errors", len(summary.Errors))
	}

	server := &api.Server{
		Kernel:     k,
		Validator:  validator,
		Specs:      specs,
		Runs:       runs,
		Replayer:   replayer,
		Executor:   executor.NewStub(),
		ProjectDir: projectDir,
		DB:         pingWrapper{store},
		Log:        log,
	}

	router := server.Router()
	log.Info("starting agentharness server", "port", httpPort)
	if err := router.Run(":" + httpPort); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// pingWrapper adapts harnessstore.Client.DB().PingContext to api.Pinger.
type pingWrapper struct{ store *harnessstore.Client }

func (p pingWrapper) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.store.DB().PingContext(ctx)
}
