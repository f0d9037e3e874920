package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/briefd/internal/config"
	"github.com/fyrsmithlabs/briefd/internal/debate"
)

func testConfig() config.EscalationConfig {
	return config.EscalationConfig{
		Triggers: []config.TriggerConfig{
			{
				Name:         "low_quality",
				Description:  "a pass scored below the review floor",
				Severity:     "high",
				AutoEscalate: true,
				Kind:         KindMinScore,
				Threshold:    0.6,
			},
			{
				Name:        "sensitive_keywords",
				Description: "draft mentions a sensitive topic",
				Severity:    "medium",
				Kind:        KindKeyword,
				Keywords:    []string{"sanctions", "export control"},
			},
			{
				Name:         "zone_sprawl",
				Description:  "analysis spans too many risk zones",
				Severity:     "critical",
				AutoEscalate: false,
				Kind:         KindZoneCount,
				Threshold:    4,
			},
			{
				Name:         "restricted_domain",
				Description:  "topic domain requires mandatory review",
				Severity:     "high",
				AutoEscalate: true,
				Kind:         KindDomain,
				Domains:      []string{"defense", "healthcare"},
			},
			{
				Name:         "debate_inconclusive",
				Description:  "adversarial review did not complete",
				Severity:     "critical",
				AutoEscalate: true,
				Kind:         KindFlag,
				Flag:         FlagDebateInconclusive,
			},
		},
		Deadlines: map[string]config.Duration{
			"critical": config.Duration(4 * time.Hour),
			"high":     config.Duration(24 * time.Hour),
			"medium":   config.Duration(72 * time.Hour),
		},
	}
}

func TestDecideNoSignalsNoEscalation(t *testing.T) {
	m := New(testConfig())
	d := m.Decide(Signals{
		Stages: []StageQuality{{Pass: "synthesis", Score: 0.9, Threshold: 0.8, Passed: true}},
		Draft:  "a quiet quarterly summary",
	})
	assert.False(t, d.Escalate)
	assert.Empty(t, d.Matched)
	assert.Empty(t, d.Priority)
}

func TestDecideMinScoreTrigger(t *testing.T) {
	m := New(testConfig())
	d := m.Decide(Signals{
		Stages: []StageQuality{
			{Pass: "research", Score: 0.85, Threshold: 0.75, Passed: true},
			{Pass: "analysis", Score: 0.55, Threshold: 0.8, Passed: false, MaxRetriesReached: true},
		},
	})
	assert.True(t, d.Escalate)
	require.Len(t, d.Matched, 1)
	assert.Equal(t, "low_quality", d.Matched[0].Name)
	assert.Equal(t, "high", d.Priority)
}

func TestDecideKeywordMatchAloneDoesNotEscalate(t *testing.T) {
	// Medium severity without auto_escalate matches but does not by
	// itself force review.
	m := New(testConfig())
	d := m.Decide(Signals{Draft: "the new Sanctions regime affects shipping"})
	assert.False(t, d.Escalate)
	require.Len(t, d.Matched, 1)
	assert.Equal(t, "sensitive_keywords", d.Matched[0].Name)
	assert.Equal(t, "medium", d.Priority)
}

func TestDecideCriticalOverridesAutoFlag(t *testing.T) {
	// zone_sprawl is critical but auto_escalate=false. Critical wins
	// regardless.
	m := New(testConfig())
	d := m.Decide(Signals{ZoneCount: 5})
	assert.True(t, d.Escalate)
	assert.Equal(t, "critical", d.Priority)
}

func TestDecideDomainTrigger(t *testing.T) {
	m := New(testConfig())
	d := m.Decide(Signals{Domains: []string{"logistics", "Defense"}})
	assert.True(t, d.Escalate)
	require.Len(t, d.Matched, 1)
	assert.Equal(t, "restricted_domain", d.Matched[0].Name)
}

func TestDecideFlagTrigger(t *testing.T) {
	m := New(testConfig())
	d := m.Decide(Signals{Flags: map[string]bool{FlagDebateInconclusive: true}})
	assert.True(t, d.Escalate)
	assert.Equal(t, "critical", d.Priority)
}

func TestDecidePriorityIsMaxSeverity(t *testing.T) {
	m := New(testConfig())
	d := m.Decide(Signals{
		Stages:    []StageQuality{{Pass: "analysis", Score: 0.4}},
		Draft:     "sanctions exposure",
		ZoneCount: 6,
	})
	assert.True(t, d.Escalate)
	assert.Len(t, d.Matched, 3)
	assert.Equal(t, "critical", d.Priority)
}

func TestDecideIsIdempotent(t *testing.T) {
	m := New(testConfig())
	signals := Signals{ZoneCount: 5, Draft: "sanctions"}
	first := m.Decide(signals)
	second := m.Decide(signals)
	assert.Equal(t, first, second)
}

func TestBuildPackage(t *testing.T) {
	m := New(testConfig())
	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	transcript := &debate.Transcript{RunID: "run-1", Termination: debate.TerminationRoleFailed}
	signals := Signals{
		RunID: "run-1",
		Draft: "draft body",
		Stages: []StageQuality{
			{Pass: "synthesis", Score: 0.5, Threshold: 0.8, Attempts: 3, MaxRetriesReached: true},
		},
		DisputedClaims: []string{"growth figure unsourced"},
		Flags:          map[string]bool{FlagDebateInconclusive: true},
		Debate:         transcript,
	}
	decision := m.Decide(signals)
	require.True(t, decision.Escalate)

	pkg := m.Build(signals, decision)
	assert.NotEmpty(t, pkg.ID)
	assert.Equal(t, "run-1", pkg.RunID)
	assert.Equal(t, "critical", pkg.Priority)
	assert.Equal(t, decision.Matched, pkg.Reasons)
	assert.Equal(t, "draft body", pkg.Draft)
	assert.Equal(t, signals.Stages, pkg.Quality)
	assert.Equal(t, signals.DisputedClaims, pkg.DisputedClaims)
	assert.Same(t, transcript, pkg.Debate)
	assert.Equal(t, StatusPending, pkg.Status)
	assert.Equal(t, fixed, pkg.CreatedAt)
	assert.Equal(t, fixed.Add(4*time.Hour), pkg.Deadline, "critical deadline applies")

	require.NotEmpty(t, pkg.Actions)
	assert.Contains(t, pkg.Actions[0], "synthesis")
}

func TestBuildPackageDefaultDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.Deadlines = nil
	m := New(cfg)
	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	d := m.Decide(Signals{Draft: "sanctions"})
	pkg := m.Build(Signals{Draft: "sanctions"}, d)
	assert.Equal(t, "medium", pkg.Priority)
	assert.Equal(t, fixed.Add(72*time.Hour), pkg.Deadline)
}

func TestSuggestedActionsFallback(t *testing.T) {
	actions := suggestedActions(nil, Signals{})
	require.Len(t, actions, 1)
	assert.Contains(t, actions[0], "approve or reject")
}
