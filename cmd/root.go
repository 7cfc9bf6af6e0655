package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cfptrack/cfptrack/internal/aggregate"
	"github.com/cfptrack/cfptrack/internal/canonical"
	"github.com/cfptrack/cfptrack/internal/config"
	"github.com/cfptrack/cfptrack/internal/fetcher"
	"github.com/cfptrack/cfptrack/internal/refresh"
	"github.com/cfptrack/cfptrack/internal/source"
	"github.com/cfptrack/cfptrack/internal/store"
)

var cfg *config.Config

var sourcesFile string

var rootCmd = &cobra.Command{
	Use:   "cfptrack",
	Short: "Conference CFP aggregator",
	Long:  "Pulls call-for-papers listings from multiple providers, folds duplicates into canonical events, serves the merged view over HTTP.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if sourcesFile != "" {
			sources, err := config.LoadSourcesFile(sourcesFile)
			if err != nil {
				return err
			}
			cfg.Sources = sources
		}

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// env bundles the wired services most commands need.
type env struct {
	Store      store.Store
	Registry   *source.Registry
	Scheduler  *refresh.Scheduler
	Reconciler *canonical.Service
	Lister     *aggregate.Lister
}

func initEnv(ctx context.Context) (*env, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  cfg.Fetch.UserAgent,
		Timeout:    cfg.Fetch.Timeout(),
		MaxRetries: cfg.Fetch.MaxRetries,
	})

	reg, err := source.NewRegistry(cfg.Sources, f)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &env{
		Store:      st,
		Registry:   reg,
		Scheduler:  refresh.NewScheduler(reg, st, cfg.Refresh.FreshnessWindow(), cfg.Refresh.UpsertBatchSize),
		Reconciler: canonical.NewService(st, cfg.Reconcile.BatchSize),
		Lister:     aggregate.NewLister(st),
	}, nil
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sourcesFile, "sources", "", "YAML file overriding the configured provider list")
}
