package main

import (
	"context"
	"strings"

	graphrag "github.com/federicodip/GraphRag"
	"github.com/federicodip/GraphRag/core/graph"
	"github.com/spf13/cobra"
)

var neighborsOptions graph.Options

var neighborsCmd = &cobra.Command{
	Use:   "neighbors <gazetteer-id>",
	Short: "List places connected to a place",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGraph(cmd, nil, func(ctx context.Context, g *graphrag.Graph) error {
			results, err := g.PlaceNeighborhood(ctx, args[0], neighborsOptions)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, results)
			}
			for _, r := range results {
				cmd.Printf("%d\t%s\t%s\t%s\n", r.Distance, r.Place.GazetteerID, r.Place.Title, strings.Join(r.Path, " > "))
			}
			return nil
		})
	},
}

func init() {
	neighborsCmd.Flags().IntVar(&neighborsOptions.MaxHops, "hops", 1, "maximum number of connected edges to follow")
	neighborsCmd.Flags().StringSliceVar(&neighborsOptions.ConnectionTypes, "type", nil, "connection types to follow (default all)")
	neighborsCmd.Flags().BoolVar(&neighborsOptions.Reverse, "reverse", false, "also follow connections pointing at a place")
	rootCmd.AddCommand(neighborsCmd)
}
