package debate

import "time"

// Challenge strategies the challenger attacks along. The set is fixed;
// prompts enumerate it and the parser validates against it.
const (
	StrategyLogicalFallacy         = "logical_fallacy"
	StrategyAlternativeExplanation = "alternative_explanation"
	StrategyHiddenAssumption       = "hidden_assumption"
	StrategyMissingEvidence        = "missing_evidence"
	StrategyOverconfidence         = "overconfidence"
	StrategySelectionBias          = "selection_bias"
)

// Strategies lists the challenge strategies in canonical order.
func Strategies() []string {
	return []string{
		StrategyLogicalFallacy,
		StrategyAlternativeExplanation,
		StrategyHiddenAssumption,
		StrategyMissingEvidence,
		StrategyOverconfidence,
		StrategySelectionBias,
	}
}

// Challenge is one attack on the analysis.
type Challenge struct {
	Strategy string `json:"strategy"`
	Content  string `json:"content"`
}

// Round is one defense/challenge/rebuttal exchange. Appended to the
// transcript as it completes; never mutated afterwards.
type Round struct {
	Number     int         `json:"number"`
	Defense    string      `json:"defense"`
	Challenges []Challenge `json:"challenges"`

	// Confidence is the challenger's reported confidence in the
	// analysis surviving its challenges.
	Confidence float64 `json:"confidence"`

	// Concedes is the challenger's explicit concession flag.
	Concedes bool `json:"concedes"`

	Rebuttal string `json:"rebuttal"`
}

// Termination reasons recorded on the transcript.
const (
	TerminationCompleted  = "completed"   // all K rounds ran
	TerminationConcession = "concession"  // challenger conceded
	TerminationConfidence = "confidence"  // challenger confidence above threshold
	TerminationRoleFailed = "role_failed" // a role's generation failed mid-debate
)

// Transcript is the append-only record of a debate.
type Transcript struct {
	RunID       string    `json:"run_id"`
	Rounds      []Round   `json:"rounds"`
	Termination string    `json:"termination"`
	FailedRole  string    `json:"failed_role,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Severity levels for unresolved issues.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// UnresolvedIssue is a judge-identified problem the debate did not settle.
type UnresolvedIssue struct {
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// Judgment is the judge's one-time review of the full transcript.
type Judgment struct {
	// Analysis is the adjudicated analysis, possibly unchanged.
	Analysis string `json:"analysis"`

	// Revised reports whether the judge modified the analysis.
	Revised bool `json:"revised"`

	// ConfidenceDelta adjusts the analysis confidence, in [-1, 1].
	ConfidenceDelta float64 `json:"confidence_delta"`

	// Unresolved lists issues the debate left open. CRITICAL entries
	// are never dropped; the escalation manager sees them.
	Unresolved []UnresolvedIssue `json:"unresolved"`
}

// Outcome is the full result of a debate.
type Outcome struct {
	// Analysis is the adjudicated analysis, or the input analysis when
	// the debate was inconclusive.
	Analysis string `json:"analysis"`

	Transcript *Transcript `json:"transcript"`

	// Judgment is nil when the debate terminated without adjudication.
	Judgment *Judgment `json:"judgment,omitempty"`

	// Inconclusive marks a role failure mid-debate. Callers must treat
	// this as an unresolved-critical outcome.
	Inconclusive bool `json:"inconclusive"`
}

// HasCriticalUnresolved reports whether the outcome carries an
// unresolved critical issue, counting inconclusive debates as critical.
func (o *Outcome) HasCriticalUnresolved() bool {
	if o.Inconclusive {
		return true
	}
	if o.Judgment == nil {
		return false
	}
	for _, issue := range o.Judgment.Unresolved {
		if issue.Severity == SeverityCritical {
			return true
		}
	}
	return false
}
