// Package pipeline sequences the fixed pass chain that produces one
// analytical brief: research, analysis, verification, synthesis,
// review. Each pass is gated; the synthesis result may be contested in
// an adversarial debate; the escalation manager always has the last
// word on whether a human sees the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/briefd/internal/budget"
	"github.com/fyrsmithlabs/briefd/internal/config"
	"github.com/fyrsmithlabs/briefd/internal/debate"
	"github.com/fyrsmithlabs/briefd/internal/escalation"
	"github.com/fyrsmithlabs/briefd/internal/gates"
	"github.com/fyrsmithlabs/briefd/internal/logging"
	"github.com/fyrsmithlabs/briefd/internal/verify"
)

// ErrRunActive rejects a trigger while another run is executing.
var ErrRunActive = errors.New("a run is already active")

// Signal flags accumulated during a run, consumed by escalation
// triggers of kind "flag".
const (
	flagClaimsUnchecked = "claims_unchecked"
)

// Verifier is the slice of the claim verification surface the pipeline
// uses.
type Verifier interface {
	HybridSearch(ctx context.Context, query string, zones []string, limit int) ([]verify.Document, error)
	VerifyClaim(ctx context.Context, claim string, sources []verify.Document) (*verify.Verification, error)
}

// Debater runs the adversarial review over a candidate analysis.
type Debater interface {
	Run(ctx context.Context, analysis string) (*debate.Outcome, error)
}

// Persister stores run state as it evolves. Cost records reach storage
// through the budget controller's sink, not through this interface.
type Persister interface {
	SaveRun(ctx context.Context, run *Run) error
	SaveTranscript(ctx context.Context, runID string, t *debate.Transcript) error
	SaveEscalation(ctx context.Context, pkg *escalation.Package) error
}

// runSignals accumulates escalation inputs across a run. Parallel
// tasks write concurrently.
type runSignals struct {
	mu       sync.Mutex
	disputed []string
	flags    map[string]bool
	zones    []string
	domains  []string

	// criticalUnresolved forces human review regardless of the
	// escalation trigger table.
	criticalUnresolved bool
}

func newRunSignals() *runSignals {
	return &runSignals{flags: make(map[string]bool)}
}

func (s *runSignals) addDisputed(claim string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disputed = append(s.disputed, claim)
}

func (s *runSignals) addFlag(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[name] = true
}

// Pipeline is the run orchestrator. One run executes at a time.
type Pipeline struct {
	cfg        config.Config
	agent      Agent
	runner     *passRunner
	budget     *budget.Controller
	debater    Debater
	escalation *escalation.Manager
	verifier   Verifier
	store      Persister
	logger     *logging.Logger

	mu          sync.Mutex
	activeRunID string
}

// New assembles the pipeline from its collaborators.
func New(cfg config.Config, agent Agent, critic Critic, evaluator *gates.Evaluator, controller *budget.Controller, debater Debater, esc *escalation.Manager, verifier Verifier, store Persister, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("pipeline")
	return &Pipeline{
		cfg:        cfg,
		agent:      agent,
		runner:     &passRunner{agent: agent, critic: critic, evaluator: evaluator, logger: logger},
		budget:     controller,
		debater:    debater,
		escalation: esc,
		verifier:   verifier,
		store:      store,
		logger:     logger,
	}
}

// ActiveRunID returns the in-flight run's ID, or empty.
func (p *Pipeline) ActiveRunID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeRunID
}

func (p *Pipeline) acquire(runID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.activeRunID != "" {
		return ErrRunActive
	}
	p.activeRunID = runID
	return nil
}

func (p *Pipeline) release() {
	p.mu.Lock()
	p.activeRunID = ""
	p.mu.Unlock()
}

// Execute runs the full pass chain for subject and blocks until the
// run is terminal. It rejects with ErrRunActive while another run is
// in flight, and otherwise always returns a terminal run: gate
// exhaustion and debate failures route to escalation instead of
// erroring out.
func (p *Pipeline) Execute(ctx context.Context, subject string) (*Run, error) {
	run := &Run{ID: uuid.NewString(), Status: StatusRunning, StartedAt: time.Now().UTC()}
	if err := p.acquire(run.ID); err != nil {
		return nil, err
	}
	defer p.release()
	p.execute(ctx, run, subject)
	return run, nil
}

// Start launches a run in the background and returns its ID at once.
// The run detaches from the caller's context; cancellation happens
// through process shutdown, not the triggering request.
func (p *Pipeline) Start(subject string) (string, error) {
	run := &Run{ID: uuid.NewString(), Status: StatusRunning, StartedAt: time.Now().UTC()}
	if err := p.acquire(run.ID); err != nil {
		return "", err
	}
	go func() {
		defer p.release()
		p.execute(context.Background(), run, subject)
	}()
	return run.ID, nil
}

func (p *Pipeline) execute(ctx context.Context, run *Run, subject string) {
	ctx = logging.WithRunID(ctx, run.ID)
	p.budget.BeginRun()
	p.persist(ctx, run)
	p.logger.Info(ctx, "run started", zap.String("subject", subject))

	signals := newRunSignals()
	defs := p.buildPasses(subject, signals)
	shared := "Subject: " + subject
	var transcript *debate.Transcript
	failed := false

	for _, def := range defs {
		result, err := p.runner.Run(ctx, def, p.tuningFor(def.Name), shared)
		run.Passes = append(run.Passes, *result)
		run.CumulativeCostUSD = p.budget.Total()
		p.persist(ctx, run)

		if err != nil {
			run.Error = err.Error()
			failed = true
			p.logger.Error(ctx, "pass failed terminally", zap.String("pass", def.Name), zap.Error(err))
			break
		}
		if result.Output != nil {
			shared += "\n\n# " + def.Name + "\n" + result.Output.Text()
		}

		switch def.Name {
		case PassResearch:
			p.collectZones(result, signals)
		case PassSynthesis:
			run.Draft = draftFrom(result)
			if outcome := p.maybeDebate(ctx, run, result, signals); outcome != nil {
				transcript = outcome.Transcript
				if outcome.Judgment != nil && outcome.Judgment.Revised {
					run.Draft = outcome.Analysis
					shared += "\n\n# adjudicated revision\n" + outcome.Analysis
				}
			}
		}
	}

	p.finish(ctx, run, signals, transcript, failed)
}

// tuningFor returns the pass's configured tuning with defaults filled.
func (p *Pipeline) tuningFor(pass string) config.PassTuning {
	tuning := p.cfg.Passes[pass]
	if tuning.MaxRetries == 0 {
		tuning.MaxRetries = 2
	}
	if tuning.CritiqueThreshold == 0 {
		tuning.CritiqueThreshold = 0.5
	}
	if tuning.RevisionCap == 0 {
		tuning.RevisionCap = 2
	}
	return tuning
}

func (p *Pipeline) collectZones(result *PassResult, signals *runSignals) {
	if result.Output == nil {
		return
	}
	scan, _ := result.Output.Get("zone_scan")
	signals.mu.Lock()
	signals.zones = extractLines(zoneLine, scan)
	signals.domains = extractLines(domainLine, scan)
	signals.mu.Unlock()
}

// maybeDebate contests the synthesis result when its gate score lands
// in the configured band above the threshold, or when the draft trips
// the sensitive-content scan. Returns nil when no debate ran.
func (p *Pipeline) maybeDebate(ctx context.Context, run *Run, result *PassResult, signals *runSignals) *debate.Outcome {
	if p.debater == nil || result.Gate == nil {
		return nil
	}

	sensitive := p.scanSensitive(run.Draft, signals)
	threshold := p.synthesisThreshold()
	band := p.cfg.Debate.TriggerBand
	contestable := result.Gate.Score >= threshold && result.Gate.Score < threshold+band

	if !contestable && !sensitive {
		return nil
	}

	p.logger.Info(ctx, "contesting synthesis in debate",
		zap.Float64("gate_score", result.Gate.Score),
		zap.Bool("sensitive", sensitive),
	)
	outcome, err := p.debater.Run(ctx, run.Draft)
	if err != nil {
		// The debate orchestrator absorbs role failures itself; an
		// error here is infrastructural. Treat it like an inconclusive
		// debate.
		p.logger.Error(ctx, "debate failed", zap.Error(err))
		signals.addFlag(escalation.FlagDebateInconclusive)
		return nil
	}

	debatesTotal.WithLabelValues(outcome.Transcript.Termination).Inc()
	if outcome.Inconclusive {
		signals.addFlag(escalation.FlagDebateInconclusive)
	}
	if outcome.HasCriticalUnresolved() {
		signals.mu.Lock()
		signals.criticalUnresolved = true
		signals.mu.Unlock()
	}
	if outcome.Judgment != nil {
		for _, issue := range outcome.Judgment.Unresolved {
			if issue.Severity == debate.SeverityCritical {
				signals.addDisputed(issue.Description)
			}
		}
	}
	return outcome
}

func (p *Pipeline) synthesisThreshold() float64 {
	if tuning, ok := p.cfg.Passes[PassSynthesis]; ok && tuning.GateThreshold > 0 {
		return tuning.GateThreshold
	}
	return 0.8
}

// scanSensitive checks the draft and touched domains against the
// configured sensitive lists.
func (p *Pipeline) scanSensitive(draft string, signals *runSignals) bool {
	lower := strings.ToLower(draft)
	for _, kw := range p.cfg.Escalation.SensitiveKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			signals.addFlag(escalation.FlagSensitiveContent)
			return true
		}
	}
	signals.mu.Lock()
	domains := append([]string(nil), signals.domains...)
	signals.mu.Unlock()
	for _, have := range domains {
		for _, want := range p.cfg.Escalation.SensitiveDomains {
			if strings.EqualFold(have, want) {
				signals.addFlag(escalation.FlagSensitiveContent)
				return true
			}
		}
	}
	return false
}

// finish runs the escalation check and freezes the run.
func (p *Pipeline) finish(ctx context.Context, run *Run, signals *runSignals, transcript *debate.Transcript, failed bool) {
	for i := range run.Passes {
		if run.Passes[i].HasFlag(FlagMaxRetriesReached) {
			signals.addFlag(escalation.FlagMaxRetriesReached)
			break
		}
	}
	signals.mu.Lock()
	if len(signals.disputed) > 0 {
		signals.flags[escalation.FlagDisputedClaims] = true
	}
	escSignals := escalation.Signals{
		RunID:          run.ID,
		Draft:          run.Draft,
		Stages:         p.stageBreakdown(run),
		ZoneCount:      len(signals.zones),
		Domains:        append([]string(nil), signals.domains...),
		DisputedClaims: append([]string(nil), signals.disputed...),
		Flags:          signals.flags,
		Debate:         transcript,
	}
	signals.mu.Unlock()

	decision := p.escalation.Decide(escSignals)
	switch {
	case decision.Escalate:
		pkg := p.escalation.Build(escSignals, decision)
		if err := p.store.SaveEscalation(ctx, pkg); err != nil {
			p.logger.Error(ctx, "failed to persist escalation package", zap.Error(err))
		}
		escalationsTotal.WithLabelValues(pkg.Priority).Inc()
		run.EscalationID = pkg.ID
		run.RequiresHumanReview = true
		if failed {
			run.Status = StatusFailed
		} else {
			run.Status = StatusEscalated
		}
	case failed:
		run.Status = StatusFailed
	default:
		run.Status = StatusCompleted
	}

	// An unresolved critical condition always forces human review,
	// whatever the trigger table said.
	signals.mu.Lock()
	critical := signals.criticalUnresolved
	signals.mu.Unlock()
	if critical || escSignals.Flags[escalation.FlagDebateInconclusive] {
		run.RequiresHumanReview = true
	}

	if transcript != nil {
		if err := p.store.SaveTranscript(ctx, run.ID, transcript); err != nil {
			p.logger.Error(ctx, "failed to persist debate transcript", zap.Error(err))
		}
	}

	run.CumulativeCostUSD = p.budget.Total()
	run.CompletedAt = time.Now().UTC()
	runsTotal.WithLabelValues(run.Status).Inc()
	runCostUSD.Observe(run.CumulativeCostUSD)
	p.persist(ctx, run)

	p.logger.Info(ctx, "run finished",
		zap.String("status", run.Status),
		zap.Float64("cost_usd", run.CumulativeCostUSD),
		zap.Bool("requires_human_review", run.RequiresHumanReview),
	)
}

// stageBreakdown projects pass results into the escalation signal form.
func (p *Pipeline) stageBreakdown(run *Run) []escalation.StageQuality {
	stages := make([]escalation.StageQuality, 0, len(run.Passes))
	for _, pr := range run.Passes {
		stage := escalation.StageQuality{
			Pass:              pr.Pass,
			Attempts:          pr.Attempts,
			MaxRetriesReached: pr.HasFlag(FlagMaxRetriesReached),
		}
		if pr.Gate != nil {
			stage.Score = pr.Gate.Score
			stage.Passed = pr.Gate.Pass
		}
		if tuning, ok := p.cfg.Passes[pr.Pass]; ok {
			stage.Threshold = tuning.GateThreshold
		}
		stages = append(stages, stage)
	}
	return stages
}

func (p *Pipeline) checkClaim(ctx context.Context, claim string) (*verify.Verification, error) {
	docs, err := p.verifier.HybridSearch(ctx, claim, nil, 5)
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}
	return p.verifier.VerifyClaim(ctx, claim, docs)
}

// draftFrom extracts the final text from the synthesis output.
func draftFrom(result *PassResult) string {
	if result.Output == nil {
		return ""
	}
	if refined, ok := result.Output.Get("refine"); ok && refined != "" {
		return refined
	}
	return result.Output.Text()
}

func (p *Pipeline) persist(ctx context.Context, run *Run) {
	if err := p.store.SaveRun(ctx, run); err != nil {
		p.logger.Error(ctx, "failed to persist run", zap.Error(err))
	}
}
