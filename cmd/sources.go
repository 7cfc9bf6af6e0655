package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show configured providers and their cache state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.Store.ListCacheEntries(ctx)
		if err != nil {
			return err
		}
		fetched := make(map[string]time.Time, len(entries))
		for _, e := range entries {
			fetched[e.Source] = e.FetchedAt
		}

		window := cfg.Refresh.FreshnessWindow()
		for _, name := range env.Registry.Names() {
			at, ok := fetched[name]
			switch {
			case !ok:
				fmt.Printf("%-20s never fetched\n", name)
			case time.Since(at) > window:
				fmt.Printf("%-20s stale (fetched %s)\n", name, at.Format(time.RFC3339))
			default:
				fmt.Printf("%-20s fresh (fetched %s)\n", name, at.Format(time.RFC3339))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
