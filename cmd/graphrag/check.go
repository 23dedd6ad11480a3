package main

import (
	"context"

	graphrag "github.com/federicodip/GraphRag"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify schema preconditions and print graph counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGraph(cmd, nil, func(ctx context.Context, g *graphrag.Graph) error {
			counts, err := g.Counts(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				if err := printJSON(cmd, counts); err != nil {
					return err
				}
			} else {
				cmd.Printf("documents:         %d\n", counts.Documents)
				cmd.Printf("chunks:            %d\n", counts.Chunks)
				cmd.Printf("places:            %d\n", counts.Places)
				cmd.Printf("external entities: %d\n", counts.ExternalEntities)
				cmd.Printf("mentions:          %d\n", counts.Mentions)
				cmd.Printf("same_as:           %d\n", counts.SameAs)
				cmd.Printf("connected:         %d\n", counts.Connected)
			}

			if err := g.CheckSchema(ctx); err != nil {
				return err
			}
			cmd.Println("schema preconditions satisfied")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
