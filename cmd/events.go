package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cfptrack/cfptrack/internal/aggregate"
)

var (
	eventsTag    string
	eventsSource string
	eventsJSON   bool
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List open CFPs from the canonical view",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		events, err := env.Lister.ListOpen(ctx, aggregate.Filter{
			Tag:    eventsTag,
			Source: eventsSource,
		})
		if err != nil {
			return err
		}

		if eventsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(events)
		}

		if len(events) == 0 {
			fmt.Println("no open CFPs match")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CFP CLOSES\tNAME\tLOCATION\tSOURCES")
		for _, ev := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				ev.CFPEndDate.Format("2006-01-02"),
				ev.Name,
				ev.Location,
				strings.Join(ev.Sources, ","))
		}
		return w.Flush()
	},
}

func init() {
	eventsCmd.Flags().StringVar(&eventsTag, "tag", "", "only events carrying this tag")
	eventsCmd.Flags().StringVar(&eventsSource, "source", "", "only events seen by this provider")
	eventsCmd.Flags().BoolVar(&eventsJSON, "json", false, "emit JSON instead of a table")
	rootCmd.AddCommand(eventsCmd)
}
