package gates

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/fyrsmithlabs/briefd/internal/router"
)

// dimensionPrompts describe each quality axis to the scoring task.
var dimensionPrompts = map[string]string{
	"factual_accuracy":  "How factually accurate are the claims? Penalize unsupported or contradicted statements.",
	"source_diversity":  "How diverse are the cited sources? Penalize reliance on a single source or viewpoint.",
	"analytical_depth":  "How deep is the analysis? Penalize surface-level restatement of inputs.",
	"logical_coherence": "How coherent is the argument structure? Penalize contradictions and non sequiturs.",
	"completeness":      "How completely does the output cover the stated scope? Penalize gaps.",
}

var scoreLine = regexp.MustCompile(`(?m)^\s*SCORE:\s*([01](?:\.\d+)?)\s*$`)

// TaskScorer scores dimensions with a dedicated generation task routed
// at a cheap tier. The scoring task responds with a strict "SCORE: x"
// line; anything else is a scoring failure surfaced to the evaluator.
type TaskScorer struct {
	router *router.Router

	// TaskID names the scoring task for routing; defaults to "gate-score".
	TaskID string
}

// NewTaskScorer creates a scorer backed by r.
func NewTaskScorer(r *router.Router) *TaskScorer {
	return &TaskScorer{router: r, TaskID: "gate-score"}
}

// Score implements Scorer.
func (s *TaskScorer) Score(ctx context.Context, dimension string, pkg *OutputPackage) (float64, error) {
	guidance, ok := dimensionPrompts[dimension]
	if !ok {
		guidance = fmt.Sprintf("Assess the quality dimension %q.", dimension)
	}

	prompt := fmt.Sprintf(
		"Rate the following output on one dimension.\n\nDimension: %s\n%s\n\nOutput:\n%s\n\nRespond with exactly one line: SCORE: <value between 0.0 and 1.0>",
		dimension, guidance, pkg.Text(),
	)

	res, err := s.router.Route(ctx, router.TaskSpec{
		TaskID:      s.TaskID,
		System:      "You are a strict quality rater. Respond only in the requested format.",
		Prompt:      prompt,
		MaxTokens:   16,
		Temperature: 0,
		Cacheable:   true,
	})
	if err != nil {
		return 0, fmt.Errorf("scoring %s: %w", dimension, err)
	}

	return ParseScore(res.Text)
}

// ParseScore extracts the SCORE line value from a rater response.
func ParseScore(text string) (float64, error) {
	m := scoreLine.FindStringSubmatch(text)
	if m == nil {
		return 0, fmt.Errorf("no SCORE line in rater response")
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("malformed score %q: %w", m[1], err)
	}
	return clamp01(v), nil
}
