package main

import (
	"context"

	graphrag "github.com/federicodip/GraphRag"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load gazetteer places or articles into the graph",
}

var ingestPlacesCmd = &cobra.Command{
	Use:   "places <dump.json[.gz]>",
	Short: "Load a Pleiades dump with its connections",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGraph(cmd, nil, func(ctx context.Context, g *graphrag.Graph) error {
			report, err := g.IngestPlaces(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, report)
			}
			cmd.Printf("places: %d (skipped %d), connections: %d (created %d, errors %d)\n",
				report.Places, report.Skipped, report.Connections, report.Created, report.Errors)
			return nil
		})
	},
}

var ingestArticleCmd = &cobra.Command{
	Use:   "article <meta.json> <chunks.jsonl>",
	Short: "Load one article and its chunks",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGraph(cmd, nil, func(ctx context.Context, g *graphrag.Graph) error {
			article, err := g.IngestArticle(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, article)
			}
			cmd.Printf("article %s: %d chunks\n", article.Document.ArticleID, len(article.Chunks))
			return nil
		})
	},
}

func init() {
	ingestCmd.AddCommand(ingestPlacesCmd, ingestArticleCmd)
	rootCmd.AddCommand(ingestCmd)
}
