// Package debate runs a bounded adversarial exchange over a candidate
// analysis. An advocate defends, a challenger attacks along a fixed set
// of strategies, the advocate rebuts; after the last executed round a
// judge reviews the whole transcript once and issues a judgment.
//
// The exchange is strictly sequential: each role's turn depends on the
// prior turn's output. Explicit concession by the challenger is
// authoritative for early termination; its reported confidence is a
// secondary signal.
package debate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/briefd/internal/logging"
)

// Debate roles.
const (
	RoleAdvocate   = "advocate"
	RoleChallenger = "challenger"
	RoleJudge      = "judge"
)

// RoleCaller executes one role's generation turn.
type RoleCaller interface {
	Call(ctx context.Context, role, system, prompt string) (string, error)
}

// Config tunes the debate.
type Config struct {
	// MaxRounds bounds the exchange (default 3).
	MaxRounds int

	// ConcedeConfidence terminates early when the challenger reports
	// confidence in the analysis at or above this value (default 0.8).
	ConcedeConfidence float64
}

// Orchestrator drives debates.
type Orchestrator struct {
	roles  RoleCaller
	cfg    Config
	logger *logging.Logger
}

// New creates a debate orchestrator.
func New(roles RoleCaller, cfg Config, logger *logging.Logger) *Orchestrator {
	if cfg.MaxRounds == 0 {
		cfg.MaxRounds = 3
	}
	if cfg.ConcedeConfidence == 0 {
		cfg.ConcedeConfidence = 0.8
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{roles: roles, cfg: cfg, logger: logger.Named("debate")}
}

// Run executes the debate over analysis and returns the outcome.
//
// A role failure mid-debate terminates without a judgment and marks the
// outcome inconclusive; the transcript up to that point is preserved.
func (o *Orchestrator) Run(ctx context.Context, analysis string) (*Outcome, error) {
	transcript := &Transcript{
		RunID:     logging.RunIDFromContext(ctx),
		StartedAt: time.Now().UTC(),
	}
	outcome := &Outcome{Analysis: analysis, Transcript: transcript}

	fail := func(role string, err error) (*Outcome, error) {
		o.logger.Warn(ctx, "debate role failed, terminating without judgment",
			zap.String("role", role),
			zap.Error(err),
		)
		transcript.Termination = TerminationRoleFailed
		transcript.FailedRole = role
		transcript.CompletedAt = time.Now().UTC()
		outcome.Inconclusive = true
		return outcome, nil
	}

	transcript.Termination = TerminationCompleted
	var priorChallenges []Challenge

	for number := 1; number <= o.cfg.MaxRounds; number++ {
		round := Round{Number: number}

		defense, err := o.roles.Call(ctx, RoleAdvocate, advocateSystem, defensePrompt(analysis, number, priorChallenges))
		if err != nil {
			return fail(RoleAdvocate, err)
		}
		round.Defense = defense

		challengeText, err := o.roles.Call(ctx, RoleChallenger, challengerSystem, challengePrompt(analysis, defense))
		if err != nil {
			return fail(RoleChallenger, err)
		}
		round.Challenges, round.Confidence, round.Concedes = parseChallengerResponse(challengeText)

		// Explicit concession is authoritative; confidence is the
		// secondary heuristic. Either way there is nothing left to
		// rebut, so the round completes without a rebuttal turn.
		if round.Concedes {
			transcript.Termination = TerminationConcession
		} else if round.Confidence >= o.cfg.ConcedeConfidence {
			transcript.Termination = TerminationConfidence
		} else {
			rebuttal, err := o.roles.Call(ctx, RoleAdvocate, advocateSystem, rebuttalPrompt(analysis, round.Challenges))
			if err != nil {
				return fail(RoleAdvocate, err)
			}
			round.Rebuttal = rebuttal
		}

		transcript.Rounds = append(transcript.Rounds, round)
		priorChallenges = round.Challenges

		if transcript.Termination != TerminationCompleted {
			o.logger.Info(ctx, "debate terminated early",
				zap.Int("round", number),
				zap.String("reason", transcript.Termination),
			)
			break
		}
	}

	// The judge reviews the transcript exactly once, even after an
	// early termination.
	judgeText, err := o.roles.Call(ctx, RoleJudge, judgeSystem, judgePrompt(analysis, transcript))
	if err != nil {
		return fail(RoleJudge, err)
	}

	judgment := parseJudgeResponse(judgeText, analysis)
	transcript.CompletedAt = time.Now().UTC()
	outcome.Judgment = judgment
	outcome.Analysis = judgment.Analysis

	o.logger.Info(ctx, "debate adjudicated",
		zap.Int("rounds", len(transcript.Rounds)),
		zap.Bool("revised", judgment.Revised),
		zap.Float64("confidence_delta", judgment.ConfidenceDelta),
		zap.Int("unresolved", len(judgment.Unresolved)),
	)

	return outcome, nil
}

// Prompt construction. Content here is plumbing, not product: the wire
// format trailer lines are what the parsers depend on.

const advocateSystem = "You are the advocate. Defend the analysis on its merits. Be specific and cite the analysis itself."

const challengerSystem = "You are the challenger. Attack the analysis along the listed strategies. " +
	"End your response with exactly two trailer lines: CONFIDENCE: <0.0-1.0 that the analysis survives your challenges> and CONCEDES: <yes|no>."

const judgeSystem = "You are the judge. Review the full debate transcript once and adjudicate."

func defensePrompt(analysis string, round int, priorChallenges []Challenge) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analysis under debate:\n%s\n\n", analysis)
	if round == 1 {
		b.WriteString("Round 1. Present your initial defense of this analysis.")
		return b.String()
	}
	fmt.Fprintf(&b, "Round %d. Respond to the prior round's challenges:\n", round)
	for _, c := range priorChallenges {
		fmt.Fprintf(&b, "- (%s) %s\n", c.Strategy, c.Content)
	}
	return b.String()
}

func challengePrompt(analysis, defense string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analysis under debate:\n%s\n\nAdvocate's defense:\n%s\n\n", analysis, defense)
	b.WriteString("Attack the analysis. For each challenge, write one line in the form CHALLENGE(<strategy>): <attack>, using strategies from: ")
	b.WriteString(strings.Join(Strategies(), ", "))
	b.WriteString(".")
	return b.String()
}

func rebuttalPrompt(analysis string, challenges []Challenge) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analysis under debate:\n%s\n\nRebut these challenges:\n", analysis)
	for _, c := range challenges {
		fmt.Fprintf(&b, "- (%s) %s\n", c.Strategy, c.Content)
	}
	return b.String()
}

func judgePrompt(analysis string, transcript *Transcript) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analysis under debate:\n%s\n\nTranscript:\n", analysis)
	for _, r := range transcript.Rounds {
		fmt.Fprintf(&b, "--- Round %d ---\nDefense: %s\n", r.Number, r.Defense)
		for _, c := range r.Challenges {
			fmt.Fprintf(&b, "Challenge (%s): %s\n", c.Strategy, c.Content)
		}
		fmt.Fprintf(&b, "Challenger confidence: %.2f, concedes: %t\n", r.Confidence, r.Concedes)
		if r.Rebuttal != "" {
			fmt.Fprintf(&b, "Rebuttal: %s\n", r.Rebuttal)
		}
	}
	b.WriteString("\nAdjudicate. Respond with:\n")
	b.WriteString("VERDICT: <unchanged|revised>\n")
	b.WriteString("CONFIDENCE_DELTA: <-1.0 to 1.0>\n")
	b.WriteString("UNRESOLVED(<critical|high|medium|low>): <issue> (zero or more lines)\n")
	b.WriteString("REVISED_ANALYSIS:\n<full revised analysis, only if verdict is revised>")
	return b.String()
}
