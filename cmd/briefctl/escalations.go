package main

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/briefd/internal/escalation"
)

var (
	escStatus   string
	escPriority string

	resolveDecision string
	resolveReviewer string
	resolveNotes    string
)

// escalationsCmd manages human-review escalations
var escalationsCmd = &cobra.Command{
	Use:   "escalations",
	Short: "List and resolve human-review escalations",
}

var escalationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List escalation packages, newest first",
	Long: `List escalation packages awaiting or past human review.

Examples:
  # All escalations
  briefctl escalations list

  # Only pending critical ones
  briefctl escalations list --status pending --priority critical`,
	RunE: runEscalationsList,
}

var escalationsResolveCmd = &cobra.Command{
	Use:   "resolve <escalation-id>",
	Short: "Record a reviewer decision on an escalation",
	Long: `Record a reviewer decision on a pending escalation. A resolved
escalation keeps its first decision; resolving again is a conflict.

Examples:
  briefctl escalations resolve 4f1c... --decision approve --reviewer jmercer
  briefctl escalations resolve 4f1c... --decision reject --reviewer jmercer --notes "thesis unsupported"`,
	Args: cobra.ExactArgs(1),
	RunE: runEscalationsResolve,
}

func init() {
	escalationsListCmd.Flags().StringVar(&escStatus, "status", "", "filter by status (pending|resolved)")
	escalationsListCmd.Flags().StringVar(&escPriority, "priority", "", "filter by priority (low|medium|high|critical)")

	escalationsResolveCmd.Flags().StringVar(&resolveDecision, "decision", "", "reviewer decision (required)")
	escalationsResolveCmd.Flags().StringVar(&resolveReviewer, "reviewer", "", "reviewer identifier (required)")
	escalationsResolveCmd.Flags().StringVar(&resolveNotes, "notes", "", "free-form reviewer notes")

	escalationsCmd.AddCommand(escalationsListCmd)
	escalationsCmd.AddCommand(escalationsResolveCmd)
}

func runEscalationsList(cmd *cobra.Command, args []string) error {
	query := url.Values{}
	if escStatus != "" {
		query.Set("status", escStatus)
	}
	if escPriority != "" {
		query.Set("priority", escPriority)
	}
	path := "/api/v1/escalations"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var pkgs []*escalation.Package
	if err := getJSON(path, &pkgs); err != nil {
		return err
	}

	if outputJSONFlag {
		return printJSON(pkgs)
	}
	if len(pkgs) == 0 {
		fmt.Println("No escalations found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRUN\tPRIORITY\tSTATUS\tREASONS\tDEADLINE")
	for _, pkg := range pkgs {
		reasons := ""
		for i, r := range pkg.Reasons {
			if i > 0 {
				reasons += ","
			}
			reasons += r.Name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncate(pkg.ID, 12),
			truncate(pkg.RunID, 12),
			pkg.Priority,
			pkg.Status,
			truncate(reasons, 40),
			pkg.Deadline.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

// ResolveRequest matches internal/server ResolveRequest
type ResolveRequest struct {
	Decision string `json:"decision"`
	Reviewer string `json:"reviewer"`
	Notes    string `json:"notes,omitempty"`
}

func runEscalationsResolve(cmd *cobra.Command, args []string) error {
	if resolveDecision == "" {
		return fmt.Errorf("--decision is required")
	}
	if resolveReviewer == "" {
		return fmt.Errorf("--reviewer is required")
	}

	var pkg escalation.Package
	req := ResolveRequest{Decision: resolveDecision, Reviewer: resolveReviewer, Notes: resolveNotes}
	if err := postJSON("/api/v1/escalations/"+url.PathEscape(args[0])+"/resolve", req, &pkg); err != nil {
		return err
	}

	if outputJSONFlag {
		return printJSON(pkg)
	}
	fmt.Printf("Escalation %s resolved\n", pkg.ID)
	if pkg.Resolution != nil {
		fmt.Printf("Decision:  %s\n", pkg.Resolution.Decision)
		fmt.Printf("Reviewer:  %s\n", pkg.Resolution.Reviewer)
		if pkg.Resolution.Notes != "" {
			fmt.Printf("Notes:     %s\n", pkg.Resolution.Notes)
		}
	}
	return nil
}
