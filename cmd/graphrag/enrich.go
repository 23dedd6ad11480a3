package main

import (
	"context"
	"strings"

	graphrag "github.com/federicodip/GraphRag"
	"github.com/federicodip/GraphRag/core/enrich"
	"github.com/spf13/cobra"
)

var (
	enrichOnlyUnlinked bool
	enrichBatchSize    int
	enrichEndpoint     string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich [gazetteer-id...]",
	Short: "Resolve places against Wikidata and record same_as edges",
	Long: `Looks up places in batches by their Pleiades id (P1584) and stores the
matching Wikidata entity plus a same_as edge. Multiple matches are resolved
to the lowest QID. If ids are given only those places are enriched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configure := func(config *graphrag.Config) {
			if cmd.Flags().Changed("batch-size") {
				config.Enrichment.BatchSize = enrichBatchSize
			}
			if cmd.Flags().Changed("endpoint") {
				config.Enrichment.Endpoint = enrichEndpoint
			}
		}
		filter := enrich.Filter{OnlyUnlinked: enrichOnlyUnlinked, GazetteerIDs: args}

		return runGraph(cmd, configure, func(ctx context.Context, g *graphrag.Graph) error {
			report, err := g.EnrichPlaces(ctx, filter)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, report)
			}
			cmd.Printf("places: %d, batches: %d, calls: %d\n", report.Places, report.Batches, report.Calls)
			cmd.Printf("resolved: %d, ambiguous: %d, not found: %d, errors: %d (write errors: %d)\n",
				report.Resolved, report.Ambiguous, report.NotFound, report.Errors, report.WriteErrors)
			if len(report.Unknown) > 0 {
				cmd.Printf("unknown gazetteer ids: %s\n", strings.Join(report.Unknown, ", "))
			}
			for _, failed := range report.FailedBatches {
				cmd.Printf("failed batch %d (%d places): %s\n", failed.Index, len(failed.GazetteerIDs), failed.Error)
			}
			cmd.Printf("took %s\n", report.Duration)
			return nil
		})
	},
}

func init() {
	enrichCmd.Flags().BoolVar(&enrichOnlyUnlinked, "only-unlinked", false, "skip places that already have a same_as edge for the property")
	enrichCmd.Flags().IntVar(&enrichBatchSize, "batch-size", 40, "gazetteer ids per remote query")
	enrichCmd.Flags().StringVar(&enrichEndpoint, "endpoint", "", "SPARQL endpoint, overrides GRAPHRAG_WDQS_ENDPOINT")
	rootCmd.AddCommand(enrichCmd)
}
