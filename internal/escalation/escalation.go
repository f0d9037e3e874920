// Package escalation decides when a run needs a human reviewer and
// builds the self-contained package that reviewer works from.
//
// The trigger table is data, not code: each trigger is a tagged
// predicate plus metadata, and one generic loop evaluates them all.
// Decide mutates nothing and is safe to call repeatedly over the same
// signals.
package escalation

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/briefd/internal/config"
	"github.com/fyrsmithlabs/briefd/internal/debate"
)

// Trigger predicate kinds.
const (
	KindMinScore  = "min_score"
	KindKeyword   = "keyword"
	KindZoneCount = "zone_count"
	KindDomain    = "domain"
	KindFlag      = "flag"
)

// Flag names recognized by flag-kind triggers.
const (
	FlagDebateInconclusive = "debate_inconclusive"
	FlagMaxRetriesReached  = "max_retries_reached"
	FlagDisputedClaims     = "disputed_claims"
	FlagSensitiveContent   = "sensitive_content"
)

// Escalation package statuses.
const (
	StatusPending  = "pending"
	StatusResolved = "resolved"
)

// StageQuality is one pass's gate outcome, carried into the review
// package as the per-stage quality breakdown.
type StageQuality struct {
	Pass              string  `json:"pass"`
	Score             float64 `json:"score"`
	Threshold         float64 `json:"threshold"`
	Passed            bool    `json:"passed"`
	Attempts          int     `json:"attempts"`
	MaxRetriesReached bool    `json:"max_retries_reached,omitempty"`
}

// Signals is the run state the manager decides over. The pipeline
// accumulates it; the manager only reads it.
type Signals struct {
	RunID          string
	Draft          string
	Stages         []StageQuality
	ZoneCount      int
	Domains        []string
	DisputedClaims []string
	Flags          map[string]bool
	Debate         *debate.Transcript
}

// MatchedTrigger records one trigger that fired.
type MatchedTrigger struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// Decision is the manager's verdict over a set of signals.
type Decision struct {
	Escalate bool             `json:"escalate"`
	Matched  []MatchedTrigger `json:"matched"`

	// Priority is the highest matched severity. Empty when nothing
	// matched.
	Priority string `json:"priority,omitempty"`
}

// Package is the self-contained review bundle handed to a human.
type Package struct {
	ID             string             `json:"id"`
	RunID          string             `json:"run_id"`
	Priority       string             `json:"priority"`
	Reasons        []MatchedTrigger   `json:"reasons"`
	Draft          string             `json:"draft"`
	Quality        []StageQuality     `json:"quality"`
	DisputedClaims []string           `json:"disputed_claims,omitempty"`
	Actions        []string           `json:"suggested_actions"`
	Debate         *debate.Transcript `json:"debate,omitempty"`
	Deadline       time.Time          `json:"deadline"`
	Status         string             `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
	Resolution     *Resolution        `json:"resolution,omitempty"`
}

// Resolution is a reviewer's terminal action on a package.
type Resolution struct {
	Decision   string    `json:"decision"`
	Reviewer   string    `json:"reviewer"`
	Notes      string    `json:"notes,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

var severityRank = map[string]int{
	debate.SeverityLow:      1,
	debate.SeverityMedium:   2,
	debate.SeverityHigh:     3,
	debate.SeverityCritical: 4,
}

// Manager evaluates the trigger table against run signals.
type Manager struct {
	cfg config.EscalationConfig
	now func() time.Time
}

// New creates an escalation manager.
func New(cfg config.EscalationConfig) *Manager {
	return &Manager{cfg: cfg, now: time.Now}
}

// Decide evaluates every configured trigger against the signals.
// Escalation happens when any matched trigger carries auto_escalate,
// or when the maximum matched severity is critical regardless of that
// trigger's auto flag.
func (m *Manager) Decide(signals Signals) Decision {
	var d Decision
	maxRank := 0

	for _, trigger := range m.cfg.Triggers {
		if !m.matches(trigger, signals) {
			continue
		}
		d.Matched = append(d.Matched, MatchedTrigger{
			Name:        trigger.Name,
			Description: trigger.Description,
			Severity:    trigger.Severity,
		})
		if trigger.AutoEscalate {
			d.Escalate = true
		}
		if rank := severityRank[trigger.Severity]; rank > maxRank {
			maxRank = rank
			d.Priority = trigger.Severity
		}
	}

	if d.Priority == debate.SeverityCritical {
		d.Escalate = true
	}
	return d
}

func (m *Manager) matches(t config.TriggerConfig, s Signals) bool {
	switch t.Kind {
	case KindMinScore:
		for _, stage := range s.Stages {
			if stage.Score < t.Threshold {
				return true
			}
		}
		return false
	case KindKeyword:
		keywords := t.Keywords
		if len(keywords) == 0 {
			keywords = m.cfg.SensitiveKeywords
		}
		draft := strings.ToLower(s.Draft)
		for _, kw := range keywords {
			if kw != "" && strings.Contains(draft, strings.ToLower(kw)) {
				return true
			}
		}
		return false
	case KindZoneCount:
		return float64(s.ZoneCount) >= t.Threshold
	case KindDomain:
		domains := t.Domains
		if len(domains) == 0 {
			domains = m.cfg.SensitiveDomains
		}
		for _, have := range s.Domains {
			for _, want := range domains {
				if strings.EqualFold(have, want) {
					return true
				}
			}
		}
		return false
	case KindFlag:
		return s.Flags[t.Flag]
	default:
		return false
	}
}

// Build assembles the review package for an escalating decision.
// Callers must only invoke it when decision.Escalate is true.
func (m *Manager) Build(signals Signals, decision Decision) *Package {
	now := m.now().UTC()
	priority := decision.Priority
	if priority == "" {
		priority = debate.SeverityMedium
	}

	pkg := &Package{
		ID:             uuid.NewString(),
		RunID:          signals.RunID,
		Priority:       priority,
		Reasons:        decision.Matched,
		Draft:          signals.Draft,
		Quality:        signals.Stages,
		DisputedClaims: signals.DisputedClaims,
		Actions:        suggestedActions(decision.Matched, signals),
		Debate:         signals.Debate,
		Status:         StatusPending,
		CreatedAt:      now,
	}

	deadline := m.cfg.Deadlines[priority]
	if deadline == 0 {
		deadline = config.Duration(72 * time.Hour)
	}
	pkg.Deadline = now.Add(time.Duration(deadline))

	return pkg
}

// suggestedActions maps what fired to concrete reviewer next steps.
func suggestedActions(matched []MatchedTrigger, signals Signals) []string {
	seen := make(map[string]bool)
	var actions []string
	add := func(a string) {
		if !seen[a] {
			seen[a] = true
			actions = append(actions, a)
		}
	}

	for _, stage := range signals.Stages {
		if stage.MaxRetriesReached {
			add("Review the " + stage.Pass + " pass output; automated revision could not reach the quality threshold.")
		}
	}
	if len(signals.DisputedClaims) > 0 {
		add("Verify or strike the disputed claims before release.")
	}
	if signals.Flags[FlagDebateInconclusive] {
		add("Adversarial review did not complete; assess the analysis conclusions manually.")
	}
	for _, t := range matched {
		if t.Severity == debate.SeverityCritical {
			add("Do not release without sign-off: a critical trigger matched (" + t.Name + ").")
			break
		}
	}
	if len(actions) == 0 {
		add("Review the draft and approve or reject.")
	}
	return actions
}
