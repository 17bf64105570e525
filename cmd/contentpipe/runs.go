package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/contentpipe/contentpipe/internal/api"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage runs on a ContentPipe daemon",
	Long:  "Commands for listing, inspecting, replaying and archiving runs on a running daemon",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		chainName, _ := cmd.Flags().GetString("chain")

		url := fmt.Sprintf("/runs?limit=%d", limit)
		if chainName != "" {
			url += "&chain=" + chainName
		}

		apiResp, err := apiRequest("GET", url, nil)
		if err != nil {
			fmt.Printf("Error listing runs: %v\n", err)
			os.Exit(1)
		}
		if !apiResp.Success {
			fmt.Printf("Failed to list runs: %s\n", apiResp.Message)
			os.Exit(1)
		}

		data, ok := apiResp.Data.(map[string]interface{})
		if !ok {
			fmt.Println("Unexpected response format")
			return
		}
		runs, _ := data["runs"].([]interface{})
		if len(runs) == 0 {
			fmt.Println("No runs found")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCHAIN\tSTATUS\tSOURCE\tCREATED")
		for _, item := range runs {
			if run, ok := item.(map[string]interface{}); ok {
				fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\n",
					run["id"],
					run["chain_name"],
					run["status"],
					run["source"],
					run["created_at"],
				)
			}
		}
		w.Flush()
	},
}

var runsGetCmd = &cobra.Command{
	Use:   "get [run-id]",
	Short: "Show one run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		apiResp, err := apiRequest("GET", "/runs/"+args[0], nil)
		if err != nil {
			fmt.Printf("Error getting run: %v\n", err)
			os.Exit(1)
		}
		if !apiResp.Success {
			fmt.Printf("Failed to get run: %s\n", apiResp.Message)
			os.Exit(1)
		}

		run, ok := apiResp.Data.(map[string]interface{})
		if !ok {
			fmt.Println("Unexpected response format")
			return
		}

		fmt.Printf("ID: %v\n", run["id"])
		fmt.Printf("Chain: %v\n", run["chain_name"])
		fmt.Printf("Status: %v\n", run["status"])
		if run["source"] != nil {
			fmt.Printf("Source: %v\n", run["source"])
		}
		fmt.Printf("Created: %v\n", run["created_at"])
		if run["started_at"] != nil {
			fmt.Printf("Started: %v\n", run["started_at"])
		}
		if run["finished_at"] != nil {
			fmt.Printf("Finished: %v\n", run["finished_at"])
		}
		if run["error"] != nil {
			fmt.Printf("Error: %v\n", run["error"])
		}
		if report, ok := run["report"].(map[string]interface{}); ok {
			fmt.Printf("Steps: %v/%v completed, total cost $%.2f\n",
				report["steps_completed"], report["total_steps"], toFloat(report["total_cost"]))
			fmt.Printf("Use 'contentpipe runs report %v' for step details\n", run["id"])
		}
	},
}

var runsReportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "Show a run's step-by-step report",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		apiResp, err := apiRequest("GET", fmt.Sprintf("/runs/%s/report", args[0]), nil)
		if err != nil {
			fmt.Printf("Error getting report: %v\n", err)
			os.Exit(1)
		}
		if !apiResp.Success {
			fmt.Printf("Failed to get report: %s\n", apiResp.Message)
			os.Exit(1)
		}

		report, ok := apiResp.Data.(map[string]interface{})
		if !ok {
			fmt.Println("Unexpected response format")
			return
		}

		fmt.Printf("Chain: %v\n\n", report["chain_name"])
		outcomes, _ := report["outcomes"].([]interface{})
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STEP\tSTATUS\tCOST\tTIME")
		for _, item := range outcomes {
			o, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			status := "ok"
			if success, _ := o["success"].(bool); !success {
				status = "failed"
			}
			// Durations arrive as nanosecond counts.
			elapsed := time.Duration(int64(toFloat(o["elapsed"]))).Round(time.Millisecond)
			fmt.Fprintf(w, "%v\t%s\t$%.2f\t%s\n", o["step_name"], status, toFloat(o["cost"]), elapsed)
		}
		w.Flush()

		elapsed := time.Duration(int64(toFloat(report["total_elapsed"]))).Round(time.Millisecond)
		fmt.Printf("\nTotal: $%.2f in %s", toFloat(report["total_cost"]), elapsed)
		if success, _ := report["overall_success"].(bool); success {
			fmt.Println(" (completed)")
		} else {
			fmt.Printf(" (failed: %v)\n", report["error"])
		}
	},
}

var runsReplayCmd = &cobra.Command{
	Use:   "replay [run-id]",
	Short: "Re-run a finished run's stored chain",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		apiResp, err := apiRequest("POST", fmt.Sprintf("/runs/%s/replay", args[0]), nil)
		if err != nil {
			fmt.Printf("Error replaying run: %v\n", err)
			os.Exit(1)
		}
		if !apiResp.Success {
			fmt.Printf("Failed to replay run: %s\n", apiResp.Message)
			os.Exit(1)
		}

		if data, ok := apiResp.Data.(map[string]interface{}); ok {
			fmt.Printf("Replay queued: new run %v (from %v)\n", data["run_id"], data["replayed_from"])
		}
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete [run-id]",
	Short: "Delete a run record",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		apiResp, err := apiRequest("DELETE", "/runs/"+args[0], nil)
		if err != nil {
			fmt.Printf("Error deleting run: %v\n", err)
			os.Exit(1)
		}
		if !apiResp.Success {
			fmt.Printf("Failed to delete run: %s\n", apiResp.Message)
			os.Exit(1)
		}
		fmt.Printf("Run %s deleted\n", args[0])
	},
}

var runsExportCmd = &cobra.Command{
	Use:   "export [run-id]",
	Short: "Download a run as a tar.gz archive",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runID := args[0]
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = fmt.Sprintf("run-%s.tar.gz", runID)
		}

		url := fmt.Sprintf("http://localhost:%d/runs/%s/export", cfg.Server.Port, runID)
		req, err := http.NewRequest("GET", url, nil)
		if err != nil {
			log.Fatalf("Failed to create request: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+cfg.Security.DefaultToken)

		client := &http.Client{Timeout: 60 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			log.Fatalf("Failed to export run: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			var apiResp api.Response
			if err := json.NewDecoder(resp.Body).Decode(&apiResp); err == nil && apiResp.Message != "" {
				log.Fatalf("Failed to export run: %s", apiResp.Message)
			}
			log.Fatalf("Failed to export run: HTTP %d", resp.StatusCode)
		}

		out, err := os.Create(output)
		if err != nil {
			log.Fatalf("Failed to create %s: %v", output, err)
		}
		defer out.Close()

		n, err := io.Copy(out, resp.Body)
		if err != nil {
			log.Fatalf("Failed to download archive: %v", err)
		}
		fmt.Printf("Run %s exported to %s (%d bytes)\n", runID, output, n)
	},
}

var runsImportCmd = &cobra.Command{
	Use:   "import [archive.tar.gz]",
	Short: "Import a previously exported run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		f, err := os.Open(args[0])
		if err != nil {
			log.Fatalf("Failed to open archive: %v", err)
		}
		defer f.Close()

		url := fmt.Sprintf("http://localhost:%d/runs/import", cfg.Server.Port)
		req, err := http.NewRequest("POST", url, f)
		if err != nil {
			log.Fatalf("Failed to create request: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+cfg.Security.DefaultToken)
		req.Header.Set("Content-Type", "application/gzip")

		client := &http.Client{Timeout: 60 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			log.Fatalf("Failed to import run: %v", err)
		}
		defer resp.Body.Close()

		var apiResp api.Response
		if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
			log.Fatalf("Failed to parse response: %v", err)
		}
		if !apiResp.Success {
			log.Fatalf("Failed to import run: %s", apiResp.Message)
		}

		if data, ok := apiResp.Data.(map[string]interface{}); ok {
			fmt.Printf("Run %v imported (chain %v, status %v)\n", data["run_id"], data["chain"], data["status"])
		}
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show queue depth and dead letters",
	Run: func(cmd *cobra.Command, args []string) {
		apiResp, err := apiRequest("GET", "/queue", nil)
		if err != nil {
			fmt.Printf("Error getting queue stats: %v\n", err)
			os.Exit(1)
		}
		if !apiResp.Success {
			fmt.Printf("Failed to get queue stats: %s\n", apiResp.Message)
			os.Exit(1)
		}

		data, ok := apiResp.Data.(map[string]interface{})
		if !ok {
			fmt.Println("Unexpected response format")
			return
		}

		fmt.Printf("Pending jobs: %d\n", int(toFloat(data["depth"])))

		deadLetters, _ := data["dead_letters"].([]interface{})
		if len(deadLetters) == 0 {
			fmt.Println("Dead letters: none")
			return
		}

		fmt.Printf("Dead letters: %d\n\n", len(deadLetters))
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCHAIN\tRETRIES\tERROR")
		for _, item := range deadLetters {
			if job, ok := item.(map[string]interface{}); ok {
				fmt.Fprintf(w, "%v\t%v\t%v\t%v\n",
					job["id"],
					job["chain_name"],
					job["retry_count"],
					job["error"],
				)
			}
		}
		w.Flush()
	},
}

var triggersCmd = &cobra.Command{
	Use:   "triggers",
	Short: "Manage cron triggers",
	Long:  "Commands for creating and managing scheduled chain triggers (requires scheduler.enabled)",
}

var triggersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List triggers",
	Run: func(cmd *cobra.Command, args []string) {
		apiResp, err := apiRequest("GET", "/triggers", nil)
		if err != nil {
			fmt.Printf("Error listing triggers: %v\n", err)
			os.Exit(1)
		}
		if !apiResp.Success {
			fmt.Printf("Failed to list triggers: %s\n", apiResp.Message)
			os.Exit(1)
		}

		data, ok := apiResp.Data.(map[string]interface{})
		if !ok {
			fmt.Println("Unexpected response format")
			return
		}
		triggers, _ := data["triggers"].([]interface{})
		if len(triggers) == 0 {
			fmt.Println("No triggers found")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCHAIN\tSCHEDULE\tENABLED\tRUNS")
		for _, item := range triggers {
			if t, ok := item.(map[string]interface{}); ok {
				fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\t%v\n",
					t["id"],
					t["name"],
					t["chain_name"],
					t["cron_expression"],
					t["enabled"],
					t["run_count"],
				)
			}
		}
		w.Flush()
	},
}

var triggersCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a cron trigger",
	Long: `Create a trigger that enqueues a chain on a cron schedule.

Examples:
  # Run a chain config every day at 09:00
  contentpipe triggers create --name daily-render --config chain.yaml --input "morning scene" --cron "0 9 * * *"

  # Run a built-in template every hour
  contentpipe triggers create --name hourly-clip --template quick_video --input "city timelapse" --cron "0 * * * *"`,
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		configPath, _ := cmd.Flags().GetString("config")
		template, _ := cmd.Flags().GetString("template")
		input, _ := cmd.Flags().GetString("input")
		cronExpr, _ := cmd.Flags().GetString("cron")

		if name == "" || cronExpr == "" {
			fmt.Println("Error: --name and --cron are required")
			os.Exit(1)
		}
		if configPath == "" && template == "" {
			fmt.Println("Error: one of --config or --template is required")
			os.Exit(1)
		}

		payload := map[string]interface{}{
			"name":            name,
			"input":           input,
			"cron_expression": cronExpr,
		}
		if configPath != "" {
			data, err := os.ReadFile(configPath)
			if err != nil {
				log.Fatalf("Failed to read chain config: %v", err)
			}
			payload["config"] = string(data)
		} else {
			payload["template"] = template
		}

		apiResp, err := apiRequest("POST", "/triggers", payload)
		if err != nil {
			fmt.Printf("Error creating trigger: %v\n", err)
			os.Exit(1)
		}
		if !apiResp.Success {
			fmt.Printf("Failed to create trigger: %s\n", apiResp.Message)
			os.Exit(1)
		}

		if t, ok := apiResp.Data.(map[string]interface{}); ok {
			fmt.Printf("Trigger created:\n")
			fmt.Printf("  ID: %v\n", t["id"])
			fmt.Printf("  Name: %v\n", t["name"])
			fmt.Printf("  Schedule: %v\n", t["cron_expression"])
		}
	},
}

var triggersDeleteCmd = &cobra.Command{
	Use:   "delete [trigger-id]",
	Short: "Delete a trigger",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		apiResp, err := apiRequest("DELETE", "/triggers/"+args[0], nil)
		if err != nil {
			fmt.Printf("Error deleting trigger: %v\n", err)
			os.Exit(1)
		}
		if !apiResp.Success {
			fmt.Printf("Failed to delete trigger: %s\n", apiResp.Message)
			os.Exit(1)
		}
		fmt.Printf("Trigger %s deleted\n", args[0])
	},
}

var triggersEnableCmd = &cobra.Command{
	Use:   "enable [trigger-id]",
	Short: "Enable a trigger",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setTrigger(args[0], "enable")
	},
}

var triggersDisableCmd = &cobra.Command{
	Use:   "disable [trigger-id]",
	Short: "Disable a trigger",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setTrigger(args[0], "disable")
	},
}

func setTrigger(triggerID, action string) {
	apiResp, err := apiRequest("POST", fmt.Sprintf("/triggers/%s/%s", triggerID, action), nil)
	if err != nil {
		fmt.Printf("Error updating trigger: %v\n", err)
		os.Exit(1)
	}
	if !apiResp.Success {
		fmt.Printf("Failed to %s trigger: %s\n", action, apiResp.Message)
		os.Exit(1)
	}
	fmt.Printf("Trigger %s %sd\n", triggerID, action)
}

func init() {
	runsListCmd.Flags().Int("limit", 50, "Maximum number of runs to list")
	runsListCmd.Flags().String("chain", "", "Only list runs of this chain")
	runsExportCmd.Flags().StringP("output", "o", "", "Output file (default run-<id>.tar.gz)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsGetCmd)
	runsCmd.AddCommand(runsReportCmd)
	runsCmd.AddCommand(runsReplayCmd)
	runsCmd.AddCommand(runsDeleteCmd)
	runsCmd.AddCommand(runsExportCmd)
	runsCmd.AddCommand(runsImportCmd)

	triggersCreateCmd.Flags().String("name", "", "Trigger name (required)")
	triggersCreateCmd.Flags().String("config", "", "Chain config file to run")
	triggersCreateCmd.Flags().String("template", "", "Built-in template to run")
	triggersCreateCmd.Flags().String("input", "", "Input passed to the chain")
	triggersCreateCmd.Flags().String("cron", "", "Cron schedule, e.g. \"0 9 * * *\" (required)")

	triggersCmd.AddCommand(triggersListCmd)
	triggersCmd.AddCommand(triggersCreateCmd)
	triggersCmd.AddCommand(triggersDeleteCmd)
	triggersCmd.AddCommand(triggersEnableCmd)
	triggersCmd.AddCommand(triggersDisableCmd)

	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(triggersCmd)
}

// apiRequest calls the local daemon and decodes the response envelope.
func apiRequest(method, path string, payload interface{}) (*api.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	url := fmt.Sprintf("http://localhost:%d%s", cfg.Server.Port, path)
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.Security.DefaultToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var apiResp api.Response
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &apiResp, nil
}

// toFloat pulls a number out of decoded JSON, where everything is float64.
func toFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}
