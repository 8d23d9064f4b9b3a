package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints recent evaluations with their dispatch counts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	evaluations, err := store.ListRecentEvaluations(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(evaluations) == 0 {
		fmt.Fprintln(os.Stdout, "no evaluations found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Run (UTC)\tObs Date\tCurrent\tAverage\tStatus\tNotified")

	for _, eval := range evaluations {
		notified, countErr := store.CountDispatchRecords(ctx, eval.ID)
		if countErr != nil {
			return countErr
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%d\n",
			eval.RunTS.UTC().Format(time.RFC3339),
			eval.ObsDate.Format("2006-01-02"),
			eval.CurrentRate.StringFixed(4),
			eval.AverageRate.StringFixed(4),
			eval.Status,
			notified,
		)
	}

	writer.Flush()
	return nil
}

// Subscribers prints the currently subscribed recipients.
func (a *App) Subscribers(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	subscribers, err := store.ListSubscribed(ctx)
	if err != nil {
		return err
	}
	if len(subscribers) == 0 {
		fmt.Fprintln(os.Stdout, "no subscribed users")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tEmail\tSince")
	for _, sub := range subscribers {
		fmt.Fprintf(writer, "%d\t%s\t%s\n", sub.ID, sub.Email, sub.CreatedAt.UTC().Format("2006-01-02"))
	}

	writer.Flush()
	return nil
}
