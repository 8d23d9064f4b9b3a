package app

import (
	"context"
	"time"
)

// Once executes a single pipeline run. With --at it replays a past trigger
// instant, which is idempotent: an already-committed evaluation is reused and
// only subscribers without a dispatch record are notified.
func (a *App) Once(ctx context.Context, opts OnceOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	pipeline, err := a.newPipeline(store, nil, nil)
	if err != nil {
		return err
	}

	runTS := time.Now().UTC().Truncate(time.Minute)
	if opts.At != nil {
		runTS = opts.At.UTC().Truncate(time.Minute)
	}

	a.Logger.Info().Time("run_ts", runTS).Msg("executing manual pipeline run")
	return pipeline.RunTrigger(ctx, runTS)
}
