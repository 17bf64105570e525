package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/contentpipe/contentpipe/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "contentpipe",
	Short: "ContentPipe - AI content generation pipelines",
	Long: `ContentPipe - chain AI generation steps (text-to-image, image-to-video,
audio, upscaling) into declarative YAML pipelines with cost estimation.

Features:
  • Declarative chains: YAML/JSON configs with {{reference}} wiring between steps
  • Parallel groups: run independent steps concurrently, merge by strategy
  • Cost estimation before a single credit is spent
  • Run queue with retries, cron triggers and a REST API (serve mode)
  • Full run reports: per-step status, cost and timing

Quick Start:
  1. Write example configs:   contentpipe init-examples
  2. Estimate a chain:        contentpipe estimate examples/simple_chain.yaml
  3. Run it:                  contentpipe run examples/simple_chain.yaml --input "a red fox" --simulate
  4. Or start the daemon:     contentpipe serve

For chain config reference: contentpipe run --help`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		if cfgFile != "" {
			cfg, err = config.LoadConfigFrom(cfgFile)
		} else {
			cfg, err = config.LoadConfig()
		}
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.contentpipe/config.yaml)")
}
