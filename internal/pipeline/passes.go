package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/briefd/internal/gates"
)

// Pass names, in execution order.
const (
	PassResearch     = "research"
	PassAnalysis     = "analysis"
	PassVerification = "verification"
	PassSynthesis    = "synthesis"
	PassReview       = "review"
)

var passOrder = []string{PassResearch, PassAnalysis, PassVerification, PassSynthesis, PassReview}

// Structured lines the pipeline extracts from task outputs.
var (
	zoneLine   = regexp.MustCompile(`(?m)^\s*ZONE:\s*(.+)$`)
	domainLine = regexp.MustCompile(`(?m)^\s*DOMAIN:\s*(.+)$`)
	claimLine  = regexp.MustCompile(`(?m)^\s*CLAIM:\s*(.+)$`)
)

// maxAuditedClaims bounds claim-check fan-out per run.
const maxAuditedClaims = 8

const analystSystem = "You are a senior analyst producing a long-form analytical brief. Be precise, source-aware, and explicit about uncertainty."

// buildPasses returns the run's pass sequence. Verification closures
// write into signals so disputed claims reach the escalation check.
func (p *Pipeline) buildPasses(subject string, signals *runSignals) []PassDef {
	research := PassDef{
		Name: PassResearch,
		Mode: ModeParallel,
		Tasks: []TaskDef{
			{
				Name:         "source_survey",
				TaskID:       "research-source-survey",
				System:       analystSystem,
				Instructions: "Survey the available source landscape for the subject below. Name the source categories, their reliability, and known gaps.\n\nSubject: " + subject,
				Cacheable:    true,
			},
			{
				Name:         "zone_scan",
				TaskID:       "research-zone-scan",
				System:       analystSystem,
				Instructions: "Identify the geographic or thematic risk zones the subject touches. List each as a line ZONE: <name>, and each affected topic domain as a line DOMAIN: <name>, followed by a short assessment.\n\nSubject: " + subject,
				Cacheable:    true,
			},
			{
				Name:         "background",
				TaskID:       "research-background",
				System:       analystSystem,
				Instructions: "Write the background section: history, actors, and current state relevant to the subject.\n\nSubject: " + subject,
				Cacheable:    true,
			},
		},
		Rubric: gates.Rubric{
			Name:      PassResearch,
			Threshold: 0.75,
			Required: []gates.Component{
				{Field: "source_survey", MinLength: 80},
				{Field: "zone_scan", MinLength: 40},
				{Field: "background", MinLength: 120},
			},
			Dimensions: []gates.Dimension{
				{Name: "source_diversity", Weight: 0.5, Threshold: 0.6},
				{Name: "factual_accuracy", Weight: 0.5, Threshold: 0.6},
			},
		},
	}

	analysis := PassDef{
		Name: PassAnalysis,
		Mode: ModeSequential,
		Tasks: []TaskDef{
			{
				Name:         "thesis",
				TaskID:       "analysis-thesis",
				System:       analystSystem,
				Instructions: "State the central thesis of the brief in one tight paragraph, grounded in the research above.",
			},
			{
				Name:         "argument",
				TaskID:       "analysis-argument",
				System:       analystSystem,
				Instructions: "Develop the supporting argument for the thesis: evidence, causal chain, and confidence levels.",
			},
			{
				Name:         "counterargument",
				TaskID:       "analysis-counterargument",
				System:       analystSystem,
				Instructions: "Present the strongest counterargument to the thesis and assess how much it weakens the conclusion.",
			},
		},
		Rubric: gates.Rubric{
			Name:      PassAnalysis,
			Threshold: 0.8,
			Required: []gates.Component{
				{Field: "thesis", MinLength: 60},
				{Field: "argument", MinLength: 150},
				{Field: "counterargument", MinLength: 80},
			},
			Dimensions: []gates.Dimension{
				{Name: "analytical_depth", Weight: 0.4, Threshold: 0.65},
				{Name: "logical_coherence", Weight: 0.6, Threshold: 0.7},
			},
		},
	}

	verification := PassDef{
		Name: PassVerification,
		Mode: ModeParallel,
		Tasks: []TaskDef{
			{
				Name:   "claim_audit",
				TaskID: "verify-claim-audit",
				Custom: p.claimAudit(signals),
			},
			{
				Name:         "source_diversity",
				TaskID:       "verify-source-diversity",
				System:       analystSystem,
				Instructions: "Assess whether the argument rests on a diverse source base or a narrow one. Name concentration risks.",
			},
		},
		Rubric: gates.Rubric{
			Name:      PassVerification,
			Threshold: 0.7,
			Required: []gates.Component{
				{Field: "claim_audit", MinLength: 20},
				{Field: "source_diversity", MinLength: 60},
			},
			Dimensions: []gates.Dimension{
				{Name: "factual_accuracy", Weight: 1.0, Threshold: 0.6},
			},
		},
	}

	synthesis := PassDef{
		Name: PassSynthesis,
		Mode: ModeSequential,
		Tasks: []TaskDef{
			{
				Name:         "draft",
				TaskID:       "synthesis-draft",
				System:       analystSystem,
				Instructions: "Write the full brief: executive summary, background, analysis, counterpoints, and outlook, incorporating the verification findings.",
			},
			{
				Name:         "refine",
				TaskID:       "synthesis-refine",
				System:       analystSystem,
				Instructions: "Refine the draft above into the final text: tighten prose, reconcile any internal tension, keep every caveat.",
			},
		},
		Rubric: gates.Rubric{
			Name:      PassSynthesis,
			Threshold: 0.8,
			Required: []gates.Component{
				{Field: "draft", MinLength: 400},
				{Field: "refine", MinLength: 400},
			},
			Dimensions: []gates.Dimension{
				{Name: "logical_coherence", Weight: 0.5, Threshold: 0.7},
				{Name: "analytical_depth", Weight: 0.3, Threshold: 0.65},
				{Name: "factual_accuracy", Weight: 0.2, Threshold: 0.6},
			},
		},
	}

	review := PassDef{
		Name: PassReview,
		Mode: ModeParallel,
		Tasks: []TaskDef{
			{
				Name:         "final_review",
				TaskID:       "review-final",
				System:       analystSystem,
				Instructions: "Review the final text above as a skeptical editor. List residual weaknesses and state whether the brief is releasable.",
			},
		},
		Rubric: gates.Rubric{
			Name:      PassReview,
			Threshold: 0.75,
			Required: []gates.Component{
				{Field: "final_review", MinLength: 60},
			},
			Dimensions: []gates.Dimension{
				{Name: "logical_coherence", Weight: 1.0, Threshold: 0.7},
			},
		},
	}

	defs := []PassDef{research, analysis, verification, synthesis, review}
	for i := range defs {
		if tuning, ok := p.cfg.Passes[defs[i].Name]; ok && tuning.GateThreshold > 0 {
			defs[i].Rubric.Threshold = tuning.GateThreshold
		}
	}
	return defs
}

const claimExtractionInstructions = "Extract the load-bearing factual claims from the analysis above. List each as a line CLAIM: <one-sentence claim>. Only claims that, if wrong, would change the conclusion."

// claimAudit extracts load-bearing claims and checks each against the
// retrieval and claim verification services. Disputed claims feed the
// escalation signals; the returned report becomes the pass output
// field.
func (p *Pipeline) claimAudit(signals *runSignals) func(ctx context.Context, shared string) (string, error) {
	return func(ctx context.Context, shared string) (string, error) {
		extraction, err := p.agent.Generate(ctx, claimExtractionInstructions, TaskContext{
			TaskID: "verify-claim-extraction",
			Shared: shared,
		})
		if err != nil {
			return "", fmt.Errorf("claim extraction: %w", err)
		}

		claims := extractLines(claimLine, extraction)
		if len(claims) > maxAuditedClaims {
			claims = claims[:maxAuditedClaims]
		}
		if len(claims) == 0 {
			return "No load-bearing factual claims identified.", nil
		}
		if p.verifier == nil {
			signals.addFlag(flagClaimsUnchecked)
			return fmt.Sprintf("%d claims identified; verification service not configured, claims unchecked.", len(claims)), nil
		}

		var report strings.Builder
		for _, claim := range claims {
			verdict, err := p.checkClaim(ctx, claim)
			if err != nil {
				// A claim that cannot be checked is treated as disputed
				// rather than silently passed.
				signals.addDisputed(claim)
				fmt.Fprintf(&report, "UNCHECKED: %s (%v)\n", claim, err)
				continue
			}
			if verdict.Disputed() {
				signals.addDisputed(claim)
			}
			fmt.Fprintf(&report, "%s (%.2f): %s\n", strings.ToUpper(verdict.Status), verdict.Score, claim)
		}
		return strings.TrimSpace(report.String()), nil
	}
}

func extractLines(re *regexp.Regexp, text string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		if v := strings.TrimSpace(m[1]); v != "" {
			out = append(out, v)
		}
	}
	return out
}
