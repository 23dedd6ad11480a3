package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	graphrag "github.com/federicodip/GraphRag"
	"github.com/federicodip/GraphRag/helper"
	"github.com/spf13/cobra"
)

var (
	envFile    string
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "graphrag",
	Short: "Link text chunks to gazetteer places and enrich places from Wikidata",
	Long: `graphrag maintains a knowledge graph of articles, chunks and places in postgres.

Connection settings are read from GRAPHRAG_DB_* variables, optionally loaded
from a .env file. Every run is idempotent and can be repeated or interrupted.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print the run report as JSON")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(helper.NewPrettyHandler(os.Stderr, helper.PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{Level: level},
	}))
}

// loadConfig reads the environment after loading the dotenv file.
func loadConfig() (*graphrag.Config, error) {
	logger := newLogger()
	helper.LoadEnv(logger, envFile)

	config, err := graphrag.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	config.Logger = logger
	return config, nil
}

// runGraph opens the graph for the duration of fn. SIGINT and SIGTERM cancel
// the context; writes done so far stay valid.
func runGraph(cmd *cobra.Command, configure func(*graphrag.Config), fn func(ctx context.Context, g *graphrag.Graph) error) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	if configure != nil {
		configure(config)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return graphrag.WithGraph(config, func(g *graphrag.Graph) error {
		return fn(ctx, g)
	})
}

func printJSON(cmd *cobra.Command, v any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
