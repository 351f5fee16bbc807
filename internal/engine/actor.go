package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rsclarke/beehive/internal/logging"
	"github.com/rsclarke/beehive/internal/messages"
)

// Run is the engine's actor loop. It consumes drone frames and commands,
// sweeps every half delay and runs retention every maintenance interval.
// It returns nil when ctx is cancelled or Stop is called, and the error when
// the store fails.
func (e *Engine) Run(ctx context.Context, ingress <-chan []byte, commands <-chan Command) error {
	sweepEvery := e.opts.Delay / 2
	if sweepEvery <= 0 {
		sweepEvery = e.opts.Delay
	}
	classify := time.NewTicker(sweepEvery)
	defer classify.Stop()
	maintenance := time.NewTicker(e.opts.MaintenanceInterval)
	defer maintenance.Stop()

	e.logger.Info("engine started",
		zap.Duration("delay", e.opts.Delay),
		zap.Duration("correlation_window", e.opts.CorrelationWindow),
		zap.Int("max_sessions", e.opts.MaxSessions))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping", zap.Error(ctx.Err()))
			return nil
		case <-e.stop:
			e.logger.Info("engine stopped")
			return nil

		case data, ok := <-ingress:
			if !ok {
				ingress = nil
				continue
			}
			if err := e.HandleMessage(ctx, data); err != nil {
				return err
			}

		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			resp, err := e.HandleCommand(ctx, cmd.Data)
			if cmd.Reply != nil {
				if rerr := cmd.Reply(resp); rerr != nil {
					e.logger.Warn("failed to reply to command",
						logging.Command(messages.ParseRequest(cmd.Data).Command), zap.Error(rerr))
				}
			}
			if err != nil {
				return err
			}

		case <-classify.C:
			if err := e.Sweep(ctx, e.opts.Delay); err != nil {
				return err
			}

		case <-maintenance.C:
			e.maintain()
		}
	}
}
