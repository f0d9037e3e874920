package pipeline

import (
	"time"

	"github.com/fyrsmithlabs/briefd/internal/gates"
)

// Run statuses. A run is mutable while pending or running and frozen
// once it reaches a terminal status.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusEscalated = "escalated"
)

// FlagMaxRetriesReached marks a pass that exhausted its gate retries
// without passing. It never aborts the run by itself; the run proceeds
// to the escalation check carrying the flag.
const FlagMaxRetriesReached = "MAX_RETRIES_REACHED"

// PassResult is one pass's recorded outcome.
type PassResult struct {
	Pass        string               `json:"pass"`
	Output      *gates.OutputPackage `json:"output,omitempty"`
	Gate        *gates.Result        `json:"gate,omitempty"`
	Attempts    int                  `json:"attempts"`
	Flags       []string             `json:"flags,omitempty"`
	Error       string               `json:"error,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt time.Time            `json:"completed_at"`
}

// HasFlag reports whether the result carries flag.
func (r *PassResult) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Run is one end-to-end pipeline execution.
type Run struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Passes []PassResult `json:"passes"`

	// CumulativeCostUSD always equals the sum of the run's cost
	// records.
	CumulativeCostUSD float64 `json:"cumulative_cost_usd"`

	// Draft is the final artifact text.
	Draft string `json:"draft,omitempty"`

	RequiresHumanReview bool   `json:"requires_human_review"`
	EscalationID        string `json:"escalation_id,omitempty"`
	Error               string `json:"error,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the run reached a terminal status.
func (r *Run) Terminal() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusEscalated:
		return true
	}
	return false
}

// PassResultFor returns the named pass's result, if recorded.
func (r *Run) PassResultFor(name string) *PassResult {
	for i := range r.Passes {
		if r.Passes[i].Pass == name {
			return &r.Passes[i]
		}
	}
	return nil
}
