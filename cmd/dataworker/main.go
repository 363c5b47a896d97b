// Command dataworker consumes process_data messages, invoking each
// platform's processData handler to write normalized records to the sink.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/commstream/integration-pipeline/internal/bootstrap"
	"github.com/commstream/integration-pipeline/internal/platform/config"
	"github.com/commstream/integration-pipeline/internal/platform/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := bootstrap.LoadConfig(config.GetConfigPath("config/dataworker.yaml"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.Must(cfg.Logging)
	defer log.Sync()

	deps, err := bootstrap.NewDependencies(context.Background(), cfg, log, "dataworker")
	if err != nil {
		return fmt.Errorf("bootstrap dependencies: %w", err)
	}
	defer deps.Close()

	runner := bootstrap.StartDataWorker(deps)
	return bootstrap.RunUntilInterrupt(log, nil, runner)
}
