// Package main implements the briefctl CLI for manual operations
// against the briefd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the briefd HTTP server
	serverURL string
	// outputJSONFlag switches table output to raw JSON
	outputJSONFlag bool
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "briefctl",
	Short: "CLI for briefd HTTP server operations",
	Long: `briefctl is a command-line interface for interacting with the briefd
pipeline daemon. It triggers brief runs, inspects run state and cost
ledgers, and manages escalations awaiting human review.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9180", "briefd server URL")
	rootCmd.PersistentFlags().BoolVar(&outputJSONFlag, "json", false, "output raw JSON instead of tables")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(escalationsCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check briefd server health",
	Long: `Check the health status of the briefd HTTP server.

Examples:
  # Check health
  briefctl health

  # Check health on a different server
  briefctl health --server http://localhost:8080`,
	RunE: runHealth,
}

// HealthResponse matches internal/server HealthResponse
type HealthResponse struct {
	Status      string `json:"status"`
	ActiveRunID string `json:"active_run_id,omitempty"`
}

func runHealth(cmd *cobra.Command, args []string) error {
	var health HealthResponse
	if err := getJSON("/health", &health); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to reach %s: %v\n", serverURL, err)
		return err
	}

	fmt.Printf("Server Status: %s\n", health.Status)
	fmt.Printf("Server URL: %s\n", serverURL)
	if health.ActiveRunID != "" {
		fmt.Printf("Active Run: %s\n", health.ActiveRunID)
	}
	return nil
}

// getJSON issues a GET and decodes the response body into out.
func getJSON(path string, out any) error {
	client := &http.Client{Timeout: 30 * time.Second}

	resp, err := client.Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", serverURL+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// postJSON issues a POST with a JSON body and decodes the response.
func postJSON(path string, body, out any) error {
	reqJSON, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequest("POST", serverURL+path, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", serverURL+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// truncate shortens s to max characters for table display.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
