package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cfptrack/cfptrack/internal/refresh"
)

var refreshSource string

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one refresh tick",
	Long:  "Refreshes at most one provider: an unseen provider first, otherwise the stalest cached one. Use --source to refresh a specific provider immediately.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := func() (*refresh.TickResult, error) {
			if refreshSource != "" {
				return env.Scheduler.RefreshSource(ctx, refreshSource)
			}
			return env.Scheduler.Tick(ctx)
		}()
		if err != nil {
			return err
		}

		if res.NoWork {
			fmt.Println("no sources need updating")
			return nil
		}
		fmt.Printf("refreshed %s: %d events, %d skipped\n", res.Source, res.Upserted, res.Skipped)
		return nil
	},
}

func init() {
	refreshCmd.Flags().StringVar(&refreshSource, "source", "", "refresh this provider now, ignoring the freshness window")
	rootCmd.AddCommand(refreshCmd)
}
