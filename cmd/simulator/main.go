// Command simulator serves a synthetic upstream dataset for local
// development: a deterministic week of cauldron levels, courier runs,
// and transport tickets, including a few planted discrepancies for the
// audit to find.
package main

import (
	"net/http"
	"os"
	"strconv"

	"github.com/mbd888/potionwatch/internal/logging"
	"github.com/mbd888/potionwatch/internal/simulator"
)

func main() {
	logger := logging.New(envOrDefault("LOG_LEVEL", "info"), "text")

	cfg := simulator.Config{
		Seed:          int64(envInt("SIM_SEED", 42)),
		Days:          envInt("SIM_DAYS", 7),
		CauldronCount: envInt("SIM_CAULDRONS", 8),
		CourierCount:  envInt("SIM_COURIERS", 4),
	}

	world := simulator.Generate(cfg)
	logger.Info("world generated",
		"seed", cfg.Seed,
		"cauldrons", len(world.Cauldrons),
		"couriers", len(world.Couriers),
		"frames", len(world.Frames),
		"tickets", len(world.Tickets),
		"start", world.Meta.Start,
		"end", world.Meta.End,
	)

	// The dashboard's default upstream URL points here.
	port := envOrDefault("SIM_PORT", "9980")
	srv := simulator.NewServer(world, logger)

	logger.Info("simulator listening", "port", port)
	if err := http.ListenAndServe(":"+port, srv.Router()); err != nil {
		logger.Error("simulator stopped", "error", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func envInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}
