// Command sweeper runs the delay/resume background loop: promoting DELAYED
// runs and streams back to PENDING once their delay has elapsed, and
// finalizing PROCESSING runs whose streams have all reached a terminal state.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/commstream/integration-pipeline/internal/bootstrap"
	"github.com/commstream/integration-pipeline/internal/platform/config"
	"github.com/commstream/integration-pipeline/internal/platform/logger"
	"github.com/commstream/integration-pipeline/internal/sweeper"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := bootstrap.LoadConfig(config.GetConfigPath("config/sweeper.yaml"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.Must(cfg.Logging)
	defer log.Sync()

	deps, err := bootstrap.NewDependencies(context.Background(), cfg, log, "sweeper")
	if err != nil {
		return fmt.Errorf("bootstrap dependencies: %w", err)
	}
	defer deps.Close()

	sweep := sweeper.New(deps.Repositories.Runs, deps.Repositories.Streams, deps.Queues.Runs, deps.Queues.Streams, log, sweeper.Config{Interval: cfg.Sweeper.Interval}).WithMetrics(deps.Metrics)
	return bootstrap.RunUntilInterrupt(log, sweep)
}
