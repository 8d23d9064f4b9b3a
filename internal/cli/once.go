package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fx-rate-alerts/internal/app"
)

var onceAt string

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Execute a single pipeline run, optionally replaying a past trigger",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.OnceOptions{}

		if onceAt != "" {
			at, err := time.Parse(time.RFC3339, onceAt)
			if err != nil {
				return fmt.Errorf("invalid --at value: %w", err)
			}
			opts.At = &at
		}

		return getApp().Once(cmd.Context(), opts)
	},
}

func init() {
	onceCmd.Flags().StringVar(&onceAt, "at", "", "Trigger instant to replay (RFC3339); defaults to now")
}
