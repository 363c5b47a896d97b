package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/commstream/integration-pipeline/internal/platform/logger"
	"github.com/commstream/integration-pipeline/internal/sweeper"
	"github.com/commstream/integration-pipeline/internal/worker"
)

// RunUntilInterrupt starts every runner's receive loop and, if sweep is
// non-nil, the delay/resume sweeper, then blocks until SIGINT/SIGTERM arrives
// or any runner exits. It then cancels the shared context so every remaining
// runner stops at once, waits for all of them, stops the sweeper last, and
// returns nil; runner errors are logged, not returned.
func RunUntilInterrupt(log logger.Logger, sweep *sweeper.Sweeper, runners ...*worker.Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if sweep != nil {
		sweep.Start(ctx)
	}

	errCh := make(chan error, len(runners))
	for _, r := range runners {
		r := r
		go func() {
			errCh <- r.Run(ctx)
		}()
	}

	remaining := len(runners)
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		remaining--
		if err != nil {
			log.Error("runner exited with error", logger.Error(err))
		}
	}

	stop()
	for i := 0; i < remaining; i++ {
		if err := <-errCh; err != nil {
			log.Error("runner stopped with error", logger.Error(err))
		}
	}

	if sweep != nil {
		sweep.Stop()
	}

	log.Info("shutdown complete")
	return nil
}
