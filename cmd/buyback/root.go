/*
buyback - Command-line entry point for the buy-back pricing engine

PURPOSE:
  Runs the pricing API server and offers offline tooling for policy
  authors: quoting a single item against a policy file and checking a
  policy file for authoring mistakes before it is loaded.

COMMANDS:
  serve     Start the HTTP API (see serve.go)
  quote     Price one item against a policy file
  validate  Report problems in a policy file

CONFIGURATION:
  Loaded once per invocation by config.Load: config.yaml in the working
  directory, .env, then BUYBACK_* environment variables. The logger is
  initialized from the same configuration.

EXAMPLES:
  buyback serve --port 3000 --scenario multi-shop
  buyback quote --policy singles.yaml --market 24.99 --condition LP
  buyback validate singles.json

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: HTTP routes
*/
package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/buyback-engine/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:          "buyback",
	Short:        "Buy-back pricing engine for trading card shops",
	Long:         "Computes what a shop offers for a card from its market price, condition, policy and pricing rules.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if err := c.Validate(); err != nil {
			return err
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
