package main

import (
	"context"

	graphrag "github.com/federicodip/GraphRag"
	"github.com/spf13/cobra"
)

var linkWorkers int

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link chunks to the places they mention",
	Long: `Searches every place name in the chunk full-text index, confirms each hit
with a word boundary match and records a mentions edge per chunk, place and
surface form. Existing edges are left untouched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		configure := func(config *graphrag.Config) {
			if cmd.Flags().Changed("workers") {
				config.Linker.Workers = linkWorkers
			}
		}
		return runGraph(cmd, configure, func(ctx context.Context, g *graphrag.Graph) error {
			report, err := g.LinkChunks(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, report)
			}
			cmd.Printf("places: %d, surface forms: %d, candidates: %d, confirmed: %d\n", report.Places, report.SurfaceForms, report.Candidates, report.Confirmed)
			cmd.Printf("created: %d, existing: %d, write errors: %d (%s)\n", report.Created, report.Existing, report.WriteErrors, report.Duration)
			return nil
		})
	},
}

func init() {
	linkCmd.Flags().IntVarP(&linkWorkers, "workers", "w", 1, "places linked concurrently")
	rootCmd.AddCommand(linkCmd)
}
