// Package verify wraps the external retrieval and claim-check services
// used by verification tasks. Both are black boxes behind HTTP: the
// retrieval service returns ranked passages for a query, the claim
// checker scores one claim against candidate sources.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/briefd/internal/config"
)

// Claim verification statuses.
const (
	StatusSupported    = "supported"
	StatusContradicted = "contradicted"
	StatusInsufficient = "insufficient"
)

// Document is one ranked passage from the retrieval service.
type Document struct {
	ID      string  `json:"id"`
	Title   string  `json:"title,omitempty"`
	Content string  `json:"content"`
	Source  string  `json:"source,omitempty"`
	Score   float64 `json:"score"`
}

// Evidence is one supporting or contradicting excerpt from the claim
// checker.
type Evidence struct {
	Source  string  `json:"source"`
	Excerpt string  `json:"excerpt"`
	Score   float64 `json:"score"`
}

// Verification is the claim checker's judgment of one claim.
type Verification struct {
	Status   string     `json:"status"`
	Score    float64    `json:"score"`
	Evidence []Evidence `json:"evidence,omitempty"`
}

// Disputed reports whether the claim needs human attention.
func (v *Verification) Disputed() bool {
	return v.Status == StatusContradicted || v.Status == StatusInsufficient
}

// Client talks to the retrieval and claim verification services.
type Client struct {
	retrievalURL  string
	claimCheckURL string
	httpClient    *http.Client
}

// NewClient creates a verification client from config.
func NewClient(cfg config.VerifyConfig) *Client {
	timeout := time.Duration(cfg.Timeout)
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		retrievalURL:  cfg.RetrievalURL,
		claimCheckURL: cfg.ClaimCheckURL,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

type searchRequest struct {
	Query string   `json:"query"`
	Zones []string `json:"zones,omitempty"`
	Limit int      `json:"limit"`
}

type searchResponse struct {
	Documents []Document `json:"documents"`
}

// HybridSearch returns ranked passages for query, optionally scoped to
// zones.
func (c *Client) HybridSearch(ctx context.Context, query string, zones []string, limit int) ([]Document, error) {
	if c.retrievalURL == "" {
		return nil, fmt.Errorf("retrieval service not configured")
	}
	if limit <= 0 {
		limit = 10
	}

	var resp searchResponse
	if err := c.post(ctx, c.retrievalURL, searchRequest{Query: query, Zones: zones, Limit: limit}, &resp); err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}
	return resp.Documents, nil
}

type verifyRequest struct {
	Claim   string     `json:"claim"`
	Sources []Document `json:"candidate_sources,omitempty"`
}

// VerifyClaim checks one claim against candidate sources.
func (c *Client) VerifyClaim(ctx context.Context, claim string, sources []Document) (*Verification, error) {
	if c.claimCheckURL == "" {
		return nil, fmt.Errorf("claim verification service not configured")
	}

	var resp Verification
	if err := c.post(ctx, c.claimCheckURL, verifyRequest{Claim: claim, Sources: sources}, &resp); err != nil {
		return nil, fmt.Errorf("verify claim: %w", err)
	}
	switch resp.Status {
	case StatusSupported, StatusContradicted, StatusInsufficient:
	default:
		return nil, fmt.Errorf("verify claim: unknown status %q", resp.Status)
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service error (%d): %s", resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
