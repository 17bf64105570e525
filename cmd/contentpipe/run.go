package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/contentpipe/contentpipe/internal/artifact"
	"github.com/contentpipe/contentpipe/internal/chain"
	"github.com/contentpipe/contentpipe/internal/pipeline"
	"github.com/contentpipe/contentpipe/internal/provider"
)

var runCmd = &cobra.Command{
	Use:   "run [chain-config]",
	Short: "Execute a chain locally",
	Long: `Execute a chain configuration file and write its artifacts and report.

Examples:
  # Run a chain against a text prompt
  contentpipe run examples/simple_chain.yaml --input "a red fox at dawn"

  # Dry run: execute without writing anything to disk
  contentpipe run examples/full_chain.yaml --input "storm over the sea" --simulate

  # Redirect artifacts
  contentpipe run chain.yaml --input "neon city" --output-dir ./renders

Chain configs are YAML or JSON:
  name: my_chain
  steps:
    - name: generate_image
      type: text_to_image
      model: flux_dev          # or "auto" to let the catalog pick
      params:
        aspect_ratio: "16:9"
    - name: animate
      type: image_to_video
      model: veo3
      input_from: "{{generate_image}}"
  output_dir: output
  cleanup_temp: true

Steps chain through {{references}}: a step's input_from can point at any
earlier step's output by name, or {{input}} for the original input.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		input, _ := cmd.Flags().GetString("input")
		simulate, _ := cmd.Flags().GetBool("simulate")
		outputDir, _ := cmd.Flags().GetString("output-dir")

		c, err := chain.Load(args[0])
		if err != nil {
			log.Fatalf("Failed to load chain: %v", err)
		}
		if outputDir != "" {
			c.OutputDir = outputDir
		}
		executeChain(c, input, simulate)
	},
}

var quickVideoCmd = &cobra.Command{
	Use:   "quick-video [prompt]",
	Short: "Generate a video from a text prompt",
	Long: `Run the built-in quick_video chain: text to image, then image to video.

Examples:
  contentpipe quick-video "a lighthouse in a storm"
  contentpipe quick-video "desert sunrise" --image-model imagen4 --video-model hailuo`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		imageModel, _ := cmd.Flags().GetString("image-model")
		videoModel, _ := cmd.Flags().GetString("video-model")
		simulate, _ := cmd.Flags().GetBool("simulate")

		c, err := chain.NewTemplates().Get("quick_video")
		if err != nil {
			log.Fatalf("Failed to load template: %v", err)
		}
		if imageModel != "" {
			c.Units[0].Step.Model = imageModel
		}
		if videoModel != "" {
			c.Units[1].Step.Model = videoModel
		}
		executeChain(c, args[0], simulate)
	},
}

var estimateCmd = &cobra.Command{
	Use:   "estimate [chain-config]",
	Short: "Estimate a chain's cost without running it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, err := chain.Load(args[0])
		if err != nil {
			log.Fatalf("Failed to load chain: %v", err)
		}

		catalog := chain.NewCatalog()
		c.Normalize(catalog)
		if err := c.Validate(catalog); err != nil {
			log.Fatalf("Invalid chain: %v", err)
		}

		est := chain.EstimateChain(c, catalog)

		fmt.Printf("Chain: %s\n\n", c.Name)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STEP\tTYPE\tMODEL\tCOST")
		for _, sc := range est.StepCosts {
			fmt.Fprintf(w, "%s\t%s\t%s\t$%.2f\n", sc.Step, sc.Type, sc.Model, sc.Cost)
		}
		w.Flush()

		fmt.Printf("\nTotal: $%.2f %s, about %s\n", est.TotalCost, est.Currency, est.Duration)
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available models per step type",
	Run: func(cmd *cobra.Command, args []string) {
		catalog := chain.NewCatalog()
		variants := catalog.Variants()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tMODEL\tCOST\tEST TIME")
		for _, t := range catalog.Types() {
			for i, m := range variants[t] {
				name := m.Name
				// The first model per type is what "auto" resolves to.
				if i == 0 {
					name += " (default)"
				}
				fmt.Fprintf(w, "%s\t%s\t$%.2f\t%s\n", t, name, m.Cost, m.Duration)
			}
		}
		w.Flush()
	},
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List built-in chain templates",
	Run: func(cmd *cobra.Command, args []string) {
		catalog := chain.NewCatalog()
		templates := chain.NewTemplates()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTEPS\tEST COST")
		for _, name := range templates.Names() {
			c, err := templates.Get(name)
			if err != nil {
				continue
			}
			c.Normalize(catalog)
			est := chain.EstimateChain(c, catalog)
			fmt.Fprintf(w, "%s\t%d\t$%.2f\n", name, c.TotalSteps(), est.TotalCost)
		}
		w.Flush()

		fmt.Println("\nRun a template with: contentpipe quick-video \"prompt\"")
	},
}

var initExamplesCmd = &cobra.Command{
	Use:   "init-examples [dir]",
	Short: "Write example chain configs",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir := "examples"
		if len(args) == 1 {
			dir = args[0]
		}

		if err := chain.WriteExamples(dir); err != nil {
			log.Fatalf("Failed to write examples: %v", err)
		}
		fmt.Printf("Example chain configs written to %s/\n", dir)
	},
}

func init() {
	runCmd.Flags().StringP("input", "i", "", "Input for the chain's first step (prompt text or file path)")
	runCmd.Flags().BoolP("simulate", "s", false, "Dry run: execute the chain without writing artifacts")
	runCmd.Flags().StringP("output-dir", "o", "", "Override the chain's output directory")

	quickVideoCmd.Flags().String("image-model", "", "Model for the image step (default: auto)")
	quickVideoCmd.Flags().String("video-model", "", "Model for the video step (default: auto)")
	quickVideoCmd.Flags().BoolP("simulate", "s", false, "Dry run: execute the chain without writing artifacts")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(quickVideoCmd)
	rootCmd.AddCommand(estimateCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(templatesCmd)
	rootCmd.AddCommand(initExamplesCmd)
}

// executeChain runs a chain in-process. All generation goes through the
// simulated operations; a dry run additionally skips every disk write.
func executeChain(c *chain.Chain, input string, simulate bool) {
	simulate = simulate || cfg.Pipeline.Simulate

	catalog := chain.NewCatalog()
	c.Normalize(catalog)
	c.CleanupTemp = c.CleanupTemp || cfg.Pipeline.CleanupTemp
	c.SaveIntermediates = c.SaveIntermediates || cfg.Pipeline.SaveIntermediates
	if err := c.Validate(catalog); err != nil {
		log.Fatalf("Invalid chain: %v", err)
	}

	est := chain.EstimateChain(c, catalog)
	fmt.Printf("Chain %s: %d steps, estimated $%.2f, about %s\n", c.Name, c.TotalSteps(), est.TotalCost, est.Duration)
	if simulate {
		fmt.Println("Dry run: no artifacts will be written")
	}
	fmt.Println()

	registry := provider.NewRegistry()
	provider.NewSimulator(catalog, 0).RegisterAll(registry)

	runID := uuid.New().String()

	var workspace *artifact.Workspace
	if !simulate {
		var err error
		workspace, err = artifact.NewManager(cfg.Storage.OutputDir, cfg.Storage.TempDir).ForRun(runID, c)
		if err != nil {
			log.Fatalf("Failed to prepare run directory: %v", err)
		}
	}

	executor := pipeline.NewExecutor(pipeline.Options{
		RunID:    runID,
		Registry: registry,
		Catalog:  catalog,
		Workers:  cfg.Pipeline.Workers,
	})

	ctx := context.Background()
	if cfg.Pipeline.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Pipeline.DefaultTimeout)
		defer cancel()
	}

	report, err := executor.Run(ctx, c, input)
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}

	reportPath := ""
	if workspace != nil {
		reportPath, err = workspace.WriteReport(report)
		if err != nil {
			log.Fatalf("Failed to write report: %v", err)
		}
		if err := workspace.Cleanup(); err != nil {
			log.Printf("Warning: cleanup failed: %v", err)
		}
	}

	printReport(report, reportPath)
	if !report.OverallSuccess {
		os.Exit(1)
	}
}

func printReport(report *pipeline.Report, reportPath string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tSTATUS\tCOST\tTIME\tOUTPUT")
	for _, o := range report.Outcomes {
		status := "ok"
		detail := fmt.Sprintf("%v", o.Output)
		if !o.Success {
			status = "failed"
			if o.Err != nil {
				detail = o.Err.Error()
			}
		}
		fmt.Fprintf(w, "%s\t%s\t$%.2f\t%s\t%s\n", o.StepName, status, o.Cost, o.Elapsed.Round(time.Millisecond), detail)
	}
	w.Flush()

	fmt.Println()
	if report.OverallSuccess {
		fmt.Printf("Run completed: %d/%d steps, $%.2f in %s\n",
			report.StepsCompleted, report.TotalSteps, report.TotalCost, report.TotalElapsed.Round(time.Millisecond))
	} else {
		fmt.Printf("Run failed after %d/%d steps: %s\n",
			report.StepsCompleted, report.TotalSteps, report.Error)
	}
	if reportPath != "" {
		fmt.Printf("Report: %s\n", reportPath)
	}
}
