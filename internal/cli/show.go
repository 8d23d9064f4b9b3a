package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"fx-rate-alerts/internal/app"
)

var showLimit int

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent evaluations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit: showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

var subscribersCmd = &cobra.Command{
	Use:   "subscribers",
	Short: "List currently subscribed recipients",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Subscribers(cmd.Context())
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of evaluations to display")
}
