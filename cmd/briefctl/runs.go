package main

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/briefd/internal/budget"
	"github.com/fyrsmithlabs/briefd/internal/debate"
	"github.com/fyrsmithlabs/briefd/internal/pipeline"
)

// triggerCmd starts a new brief run
var triggerCmd = &cobra.Command{
	Use:   "trigger <subject>",
	Short: "Trigger a new brief run",
	Long: `Trigger a new analytical brief run on the briefd server.

The server accepts one run at a time; a second trigger while a run is
active returns a conflict.

Examples:
  # Start a run
  briefctl trigger "semiconductor export controls"`,
	Args: cobra.ExactArgs(1),
	RunE: runTrigger,
}

// runsCmd inspects persisted runs
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List and inspect brief runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all runs, newest first",
	RunE:  runRunsList,
}

var runsGetCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Show one run with per-pass gate results",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsGet,
}

var runsCostsCmd = &cobra.Command{
	Use:   "costs <run-id>",
	Short: "Show the per-task cost ledger for a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsCosts,
}

var runsTranscriptCmd = &cobra.Command{
	Use:   "transcript <run-id>",
	Short: "Show the debate transcript for a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsTranscript,
}

var runsDraftCmd = &cobra.Command{
	Use:   "draft <run-id>",
	Short: "Print the final draft of a run to stdout",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDraft,
}

func init() {
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsGetCmd)
	runsCmd.AddCommand(runsCostsCmd)
	runsCmd.AddCommand(runsTranscriptCmd)
	runsCmd.AddCommand(runsDraftCmd)
}

// TriggerResponse matches internal/server TriggerResponse
type TriggerResponse struct {
	RunID string `json:"run_id"`
}

func runTrigger(cmd *cobra.Command, args []string) error {
	var resp TriggerResponse
	if err := postJSON("/api/v1/runs", map[string]string{"subject": args[0]}, &resp); err != nil {
		return err
	}

	if outputJSONFlag {
		return printJSON(resp)
	}
	fmt.Printf("Run accepted: %s\n", resp.RunID)
	return nil
}

func runRunsList(cmd *cobra.Command, args []string) error {
	var runs []*pipeline.Run
	if err := getJSON("/api/v1/runs", &runs); err != nil {
		return err
	}

	if outputJSONFlag {
		return printJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPASSES\tCOST (USD)\tREVIEW\tSTARTED")
	for _, run := range runs {
		review := ""
		if run.RequiresHumanReview {
			review = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%.4f\t%s\t%s\n",
			truncate(run.ID, 12),
			run.Status,
			len(run.Passes),
			run.CumulativeCostUSD,
			review,
			run.StartedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runRunsGet(cmd *cobra.Command, args []string) error {
	var run pipeline.Run
	if err := getJSON("/api/v1/runs/"+url.PathEscape(args[0]), &run); err != nil {
		return err
	}

	if outputJSONFlag {
		return printJSON(run)
	}

	fmt.Printf("Run:     %s\n", run.ID)
	fmt.Printf("Status:  %s\n", run.Status)
	fmt.Printf("Cost:    $%.4f\n", run.CumulativeCostUSD)
	if run.RequiresHumanReview {
		fmt.Printf("Review:  required (escalation %s)\n", run.EscalationID)
	}
	if run.Error != "" {
		fmt.Printf("Error:   %s\n", run.Error)
	}

	if len(run.Passes) == 0 {
		return nil
	}
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PASS\tSCORE\tGATE\tATTEMPTS\tFLAGS")
	for _, pr := range run.Passes {
		score, gate := "-", "-"
		if pr.Gate != nil {
			score = fmt.Sprintf("%.2f", pr.Gate.Score)
			if pr.Gate.Pass {
				gate = "pass"
			} else {
				gate = "fail"
			}
		}
		flags := ""
		for i, f := range pr.Flags {
			if i > 0 {
				flags += ","
			}
			flags += f
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", pr.Pass, score, gate, pr.Attempts, flags)
	}
	return w.Flush()
}

func runRunsCosts(cmd *cobra.Command, args []string) error {
	var records []budget.Record
	if err := getJSON("/api/v1/runs/"+url.PathEscape(args[0])+"/costs", &records); err != nil {
		return err
	}

	if outputJSONFlag {
		return printJSON(records)
	}
	if len(records) == 0 {
		fmt.Println("No cost records found")
		return nil
	}

	var total float64
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tPROVIDER\tMODEL\tTIER\tIN\tOUT\tCOST (USD)")
	for _, rec := range records {
		total += rec.CostUSD
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%.4f\n",
			truncate(rec.TaskID, 30),
			rec.Provider,
			truncate(rec.Model, 24),
			rec.Tier,
			rec.InputTokens,
			rec.OutputTokens,
			rec.CostUSD)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nTotal: $%.4f\n", total)
	return nil
}

func runRunsTranscript(cmd *cobra.Command, args []string) error {
	var transcript debate.Transcript
	if err := getJSON("/api/v1/runs/"+url.PathEscape(args[0])+"/transcript", &transcript); err != nil {
		return err
	}
	// Transcripts are nested; raw JSON is the readable form.
	return printJSON(transcript)
}

func runRunsDraft(cmd *cobra.Command, args []string) error {
	var run pipeline.Run
	if err := getJSON("/api/v1/runs/"+url.PathEscape(args[0]), &run); err != nil {
		return err
	}
	if run.Draft == "" {
		return fmt.Errorf("run %s has no draft yet (status %s)", run.ID, run.Status)
	}
	fmt.Print(run.Draft)
	if run.Draft[len(run.Draft)-1] != '\n' {
		fmt.Println()
	}
	return nil
}
