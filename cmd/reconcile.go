package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reconcileDryRun bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Fold source events into canonical events",
	Long:  "Loads all source and canonical events, matches duplicates deterministically, and commits the merged result in concurrent batches.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Reconciler.Run(ctx, reconcileDryRun)
		if err != nil {
			return err
		}

		verb := "committed"
		if res.DryRun {
			verb = "planned"
		}
		fmt.Printf("%s: %d source events -> %d canonical (%d duplicates), %d created, %d updated, %d linked, %d failed\n",
			verb, res.SourceEvents, res.CanonicalEvents, res.DuplicatesRemoved,
			res.Created, res.Updated, res.Linked, res.Failed)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "compute the plan without writing")
	rootCmd.AddCommand(reconcileCmd)
}
