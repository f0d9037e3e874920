package debate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRoles struct {
	responses map[string][]string
	failures  map[string]int // call index (1-based, per role) that errors
	calls     map[string]int
	prompts   map[string][]string
}

func newFakeRoles() *fakeRoles {
	return &fakeRoles{
		responses: make(map[string][]string),
		failures:  make(map[string]int),
		calls:     make(map[string]int),
		prompts:   make(map[string][]string),
	}
}

func (f *fakeRoles) Call(_ context.Context, role, _, prompt string) (string, error) {
	f.calls[role]++
	f.prompts[role] = append(f.prompts[role], prompt)
	if n := f.failures[role]; n > 0 && f.calls[role] == n {
		return "", fmt.Errorf("provider outage")
	}
	queue := f.responses[role]
	if len(queue) == 0 {
		return "", errors.New("fake: response queue exhausted for " + role)
	}
	resp := queue[0]
	f.responses[role] = queue[1:]
	return resp, nil
}

func challengerTurn(confidence float64, concedes bool, challenges ...string) string {
	out := ""
	for _, c := range challenges {
		out += c + "\n"
	}
	out += fmt.Sprintf("CONFIDENCE: %.2f\n", confidence)
	if concedes {
		out += "CONCEDES: yes\n"
	} else {
		out += "CONCEDES: no\n"
	}
	return out
}

func TestRunFullDebate(t *testing.T) {
	roles := newFakeRoles()
	roles.responses[RoleAdvocate] = []string{
		"initial defense", "rebuttal 1",
		"defense 2", "rebuttal 2",
		"defense 3", "rebuttal 3",
	}
	roles.responses[RoleChallenger] = []string{
		challengerTurn(0.3, false, "CHALLENGE(hidden_assumption): assumes stable demand"),
		challengerTurn(0.4, false, "CHALLENGE(missing_evidence): no source for the growth figure"),
		challengerTurn(0.5, false, "CHALLENGE(overconfidence): certainty overstated"),
	}
	roles.responses[RoleJudge] = []string{
		"VERDICT: revised\nCONFIDENCE_DELTA: -0.15\nUNRESOLVED(high): growth figure unsourced\nREVISED_ANALYSIS:\nrevised text here",
	}

	o := New(roles, Config{MaxRounds: 3, ConcedeConfidence: 0.8}, nil)
	outcome, err := o.Run(context.Background(), "original analysis")
	require.NoError(t, err)

	require.Len(t, outcome.Transcript.Rounds, 3)
	assert.Equal(t, TerminationCompleted, outcome.Transcript.Termination)
	assert.False(t, outcome.Inconclusive)

	require.NotNil(t, outcome.Judgment)
	assert.True(t, outcome.Judgment.Revised)
	assert.InDelta(t, -0.15, outcome.Judgment.ConfidenceDelta, 1e-9)
	require.Len(t, outcome.Judgment.Unresolved, 1)
	assert.Equal(t, SeverityHigh, outcome.Judgment.Unresolved[0].Severity)
	assert.Equal(t, "revised text here", outcome.Analysis)

	// Every round has a rebuttal when the debate runs to completion.
	for _, r := range outcome.Transcript.Rounds {
		assert.NotEmpty(t, r.Rebuttal, "round %d", r.Number)
	}
	// One judge call, regardless of round count.
	assert.Equal(t, 1, roles.calls[RoleJudge])
}

func TestRunConcessionTerminatesRoundOne(t *testing.T) {
	roles := newFakeRoles()
	roles.responses[RoleAdvocate] = []string{"initial defense"}
	roles.responses[RoleChallenger] = []string{
		// Low confidence alongside concession: the concession wins.
		challengerTurn(0.2, true),
	}
	roles.responses[RoleJudge] = []string{"VERDICT: unchanged\nCONFIDENCE_DELTA: 0.1"}

	o := New(roles, Config{MaxRounds: 3, ConcedeConfidence: 0.8}, nil)
	outcome, err := o.Run(context.Background(), "analysis")
	require.NoError(t, err)

	require.Len(t, outcome.Transcript.Rounds, 1)
	assert.Equal(t, TerminationConcession, outcome.Transcript.Termination)
	assert.Empty(t, outcome.Transcript.Rounds[0].Rebuttal, "no rebuttal after early termination")

	// The judge still adjudicates.
	require.NotNil(t, outcome.Judgment)
	assert.False(t, outcome.Judgment.Revised)
	assert.Equal(t, "analysis", outcome.Analysis)
	assert.InDelta(t, 0.1, outcome.Judgment.ConfidenceDelta, 1e-9)
}

func TestRunConfidenceThresholdTerminates(t *testing.T) {
	roles := newFakeRoles()
	roles.responses[RoleAdvocate] = []string{"initial defense", "rebuttal 1", "defense 2"}
	roles.responses[RoleChallenger] = []string{
		challengerTurn(0.5, false, "CHALLENGE(selection_bias): cherry-picked quarters"),
		challengerTurn(0.85, false),
	}
	roles.responses[RoleJudge] = []string{"VERDICT: unchanged\nCONFIDENCE_DELTA: 0"}

	o := New(roles, Config{MaxRounds: 3, ConcedeConfidence: 0.8}, nil)
	outcome, err := o.Run(context.Background(), "analysis")
	require.NoError(t, err)

	require.Len(t, outcome.Transcript.Rounds, 2)
	assert.Equal(t, TerminationConfidence, outcome.Transcript.Termination)
	assert.Empty(t, outcome.Transcript.Rounds[1].Rebuttal)
	assert.NotNil(t, outcome.Judgment)
}

func TestRunRoleFailureIsInconclusive(t *testing.T) {
	roles := newFakeRoles()
	roles.responses[RoleAdvocate] = []string{"initial defense", "rebuttal 1", "defense 2"}
	roles.responses[RoleChallenger] = []string{
		challengerTurn(0.3, false, "CHALLENGE(logical_fallacy): circular"),
	}
	roles.failures[RoleChallenger] = 2

	o := New(roles, Config{MaxRounds: 3, ConcedeConfidence: 0.8}, nil)
	outcome, err := o.Run(context.Background(), "analysis")
	require.NoError(t, err)

	assert.True(t, outcome.Inconclusive)
	assert.Nil(t, outcome.Judgment)
	assert.Equal(t, TerminationRoleFailed, outcome.Transcript.Termination)
	assert.Equal(t, RoleChallenger, outcome.Transcript.FailedRole)
	assert.Len(t, outcome.Transcript.Rounds, 1, "completed rounds are preserved")
	assert.Equal(t, "analysis", outcome.Analysis, "input analysis stands")
	assert.Equal(t, 0, roles.calls[RoleJudge], "no adjudication after role failure")
}

func TestRunJudgeFailureIsInconclusive(t *testing.T) {
	roles := newFakeRoles()
	roles.responses[RoleAdvocate] = []string{"defense"}
	roles.responses[RoleChallenger] = []string{challengerTurn(0.9, false)}
	roles.failures[RoleJudge] = 1

	o := New(roles, Config{}, nil)
	outcome, err := o.Run(context.Background(), "analysis")
	require.NoError(t, err)

	assert.True(t, outcome.Inconclusive)
	assert.Equal(t, RoleJudge, outcome.Transcript.FailedRole)
	assert.Nil(t, outcome.Judgment)
}

func TestRunRoundsAreBounded(t *testing.T) {
	roles := newFakeRoles()
	for i := 0; i < 2; i++ {
		roles.responses[RoleAdvocate] = append(roles.responses[RoleAdvocate], "defense", "rebuttal")
		roles.responses[RoleChallenger] = append(roles.responses[RoleChallenger],
			challengerTurn(0.1, false, "CHALLENGE(overconfidence): still overstated"))
	}
	roles.responses[RoleJudge] = []string{"VERDICT: unchanged\nCONFIDENCE_DELTA: -0.3"}

	o := New(roles, Config{MaxRounds: 2}, nil)
	outcome, err := o.Run(context.Background(), "analysis")
	require.NoError(t, err)

	assert.Len(t, outcome.Transcript.Rounds, 2)
	assert.Equal(t, TerminationCompleted, outcome.Transcript.Termination)
}

func TestRebuttalPromptCarriesChallenges(t *testing.T) {
	roles := newFakeRoles()
	roles.responses[RoleAdvocate] = []string{"defense", "rebuttal"}
	roles.responses[RoleChallenger] = []string{
		challengerTurn(0.3, false, "CHALLENGE(hidden_assumption): assumes flat costs"),
	}
	roles.responses[RoleJudge] = []string{"VERDICT: unchanged\nCONFIDENCE_DELTA: 0"}

	o := New(roles, Config{MaxRounds: 1}, nil)
	_, err := o.Run(context.Background(), "analysis")
	require.NoError(t, err)

	require.Len(t, roles.prompts[RoleAdvocate], 2)
	assert.Contains(t, roles.prompts[RoleAdvocate][1], "assumes flat costs")
}

func TestParseChallengerResponse(t *testing.T) {
	t.Run("drops unknown strategies", func(t *testing.T) {
		challenges, confidence, concedes := parseChallengerResponse(
			"CHALLENGE(hidden_assumption): a\nCHALLENGE(ad_hominem): b\nCONFIDENCE: 0.6\nCONCEDES: no")
		require.Len(t, challenges, 1)
		assert.Equal(t, StrategyHiddenAssumption, challenges[0].Strategy)
		assert.InDelta(t, 0.6, confidence, 1e-9)
		assert.False(t, concedes)
	})

	t.Run("missing trailers default to continue", func(t *testing.T) {
		challenges, confidence, concedes := parseChallengerResponse("just prose, no structure")
		assert.Empty(t, challenges)
		assert.Zero(t, confidence)
		assert.False(t, concedes)
	})

	t.Run("confidence clamped", func(t *testing.T) {
		_, confidence, _ := parseChallengerResponse("CONFIDENCE: 1.7")
		assert.Equal(t, 1.0, confidence)
	})

	t.Run("concedes accepts true", func(t *testing.T) {
		_, _, concedes := parseChallengerResponse("CONCEDES: true")
		assert.True(t, concedes)
	})
}

func TestParseJudgeResponse(t *testing.T) {
	t.Run("revised with body", func(t *testing.T) {
		j := parseJudgeResponse(
			"VERDICT: revised\nCONFIDENCE_DELTA: -0.2\nUNRESOLVED(critical): core claim unverifiable\nREVISED_ANALYSIS:\nnew version",
			"old version")
		assert.True(t, j.Revised)
		assert.Equal(t, "new version", j.Analysis)
		assert.InDelta(t, -0.2, j.ConfidenceDelta, 1e-9)
		require.Len(t, j.Unresolved, 1)
		assert.Equal(t, SeverityCritical, j.Unresolved[0].Severity)
	})

	t.Run("revised without body degrades to unchanged", func(t *testing.T) {
		j := parseJudgeResponse("VERDICT: revised\nCONFIDENCE_DELTA: 0", "old version")
		assert.False(t, j.Revised)
		assert.Equal(t, "old version", j.Analysis)
	})

	t.Run("delta clamped", func(t *testing.T) {
		j := parseJudgeResponse("VERDICT: unchanged\nCONFIDENCE_DELTA: -3.5", "a")
		assert.Equal(t, -1.0, j.ConfidenceDelta)
	})
}

func TestOutcomeHasCriticalUnresolved(t *testing.T) {
	assert.True(t, (&Outcome{Inconclusive: true}).HasCriticalUnresolved())
	assert.False(t, (&Outcome{}).HasCriticalUnresolved())
	assert.False(t, (&Outcome{Judgment: &Judgment{
		Unresolved: []UnresolvedIssue{{Severity: SeverityHigh}},
	}}).HasCriticalUnresolved())
	assert.True(t, (&Outcome{Judgment: &Judgment{
		Unresolved: []UnresolvedIssue{{Severity: SeverityLow}, {Severity: SeverityCritical}},
	}}).HasCriticalUnresolved())
}
