package app

import (
	"context"
	"errors"

	"fx-rate-alerts/internal/rates"
)

// Backfill fetches historical daily rates from the provider and appends the
// missing observations. Existing dates are skipped, never overwritten; this
// is how the trailing window gets seeded with enough history.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	from := rates.Day(opts.From)
	to := rates.Day(opts.To)
	if !from.Before(to) {
		return errors.New("backfill range is empty, check --from/--to")
	}

	provider := a.newProvider()

	observations, err := provider.FetchTimeseries(ctx, from, to)
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		a.Logger.Warn().Msg("provider returned no observations for range")
		return nil
	}

	if opts.DryRun {
		a.Logger.Info().Int("fetched", len(observations)).
			Time("from", from).Time("to", to).
			Msg("backfill dry-run, nothing written")
		return nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	inserted := 0
	skipped := 0
	for _, obs := range observations {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := store.InsertObservation(ctx, obs); err != nil {
			if errors.Is(err, rates.ErrDuplicateObservation) {
				skipped++
				continue
			}
			return err
		}
		inserted++
	}

	a.Logger.Info().Int("inserted", inserted).Int("skipped", skipped).Msg("backfill complete")
	return nil
}
