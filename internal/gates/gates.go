// Package gates scores a pass's assembled output against a named rubric
// of weighted quality dimensions and required components.
//
// Rubrics are data, not code: changing weights, thresholds, or required
// components never requires touching evaluator logic. Structural checks
// (presence, minimum length, numeric ranges) run in-process; semantic
// dimension scores are delegated to a Scorer, typically a dedicated
// scoring task routed at a cheap tier.
package gates

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/briefd/internal/logging"
)

// Field is one named component of a pass output package.
type Field struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// OutputPackage is an ordered set of fields assembled by a pass.
// Order is declaration order of the pass's task specs, never
// completion order.
type OutputPackage struct {
	Fields []Field `json:"fields"`
}

// Get returns the named field's content.
func (p *OutputPackage) Get(name string) (string, bool) {
	for _, f := range p.Fields {
		if f.Name == name {
			return f.Content, true
		}
	}
	return "", false
}

// Add appends a field.
func (p *OutputPackage) Add(name, content string) {
	p.Fields = append(p.Fields, Field{Name: name, Content: content})
}

// Text concatenates all field contents, for whole-package consumers.
func (p *OutputPackage) Text() string {
	var b strings.Builder
	for _, f := range p.Fields {
		b.WriteString(f.Content)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

// Component is a structural requirement on the output package.
type Component struct {
	// Field names the required output field.
	Field string `json:"field"`

	// MinLength is the minimum content length in bytes (0 = non-empty).
	MinLength int `json:"min_length"`

	// Numeric requires the content to parse as a float within [Min, Max].
	Numeric bool    `json:"numeric"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// Dimension is one weighted semantic quality axis.
type Dimension struct {
	// Name identifies the axis (factual_accuracy, source_diversity, ...).
	Name string `json:"name"`

	// Weight is the dimension's share of the aggregate score.
	Weight float64 `json:"weight"`

	// Threshold flags the dimension as an itemized issue when its own
	// score falls below it.
	Threshold float64 `json:"threshold"`
}

// Rubric declares what a gate demands.
type Rubric struct {
	Name       string      `json:"name"`
	Threshold  float64     `json:"threshold"`
	Required   []Component `json:"required"`
	Dimensions []Dimension `json:"dimensions"`
}

// Issue is one itemized quality problem.
type Issue struct {
	Dimension string  `json:"dimension"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	Detail    string  `json:"detail"`
}

// Result is a gate evaluation outcome. Computed fresh each call; the
// draft content it depends on is mutable, so results are never cached.
type Result struct {
	Gate              string   `json:"gate"`
	Score             float64  `json:"score"`
	Pass              bool     `json:"pass"`
	MissingComponents []string `json:"missing_components"`
	Issues            []Issue  `json:"issues"`
}

// Scorer produces a semantic score in [0,1] for one dimension.
type Scorer interface {
	Score(ctx context.Context, dimension string, pkg *OutputPackage) (float64, error)
}

// Evaluator applies rubrics to output packages.
type Evaluator struct {
	scorer Scorer
	logger *logging.Logger
}

// NewEvaluator creates an evaluator delegating semantic scoring to scorer.
func NewEvaluator(scorer Scorer, logger *logging.Logger) *Evaluator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Evaluator{scorer: scorer, logger: logger.Named("gates")}
}

// Evaluate scores pkg against rubric.
//
// Pass requires the aggregate score to meet the rubric threshold AND
// every required component to be present; a missing component fails the
// gate regardless of score.
func (e *Evaluator) Evaluate(ctx context.Context, pkg *OutputPackage, rubric Rubric) *Result {
	result := &Result{Gate: rubric.Name}

	for _, comp := range rubric.Required {
		if detail, ok := checkComponent(pkg, comp); !ok {
			result.MissingComponents = append(result.MissingComponents, comp.Field)
			result.Issues = append(result.Issues, Issue{
				Dimension: comp.Field,
				Threshold: 1,
				Detail:    detail,
			})
		}
	}

	totalWeight := 0.0
	weighted := 0.0
	for _, dim := range rubric.Dimensions {
		score, err := e.scorer.Score(ctx, dim.Name, pkg)
		if err != nil {
			// A failed scoring call never silently passes: the
			// dimension scores zero and the failure is itemized.
			e.logger.Warn(ctx, "dimension scoring failed",
				zap.String("gate", rubric.Name),
				zap.String("dimension", dim.Name),
				zap.Error(err),
			)
			score = 0
			result.Issues = append(result.Issues, Issue{
				Dimension: dim.Name,
				Threshold: dim.Threshold,
				Detail:    fmt.Sprintf("scoring failed: %v", err),
			})
		}
		score = clamp01(score)
		totalWeight += dim.Weight
		weighted += score * dim.Weight

		if score < dim.Threshold {
			result.Issues = append(result.Issues, Issue{
				Dimension: dim.Name,
				Score:     score,
				Threshold: dim.Threshold,
				Detail:    fmt.Sprintf("%s scored %.2f, below %.2f", dim.Name, score, dim.Threshold),
			})
		}
	}

	if totalWeight > 0 {
		result.Score = weighted / totalWeight
	}
	result.Pass = result.Score >= rubric.Threshold && len(result.MissingComponents) == 0

	return result
}

// checkComponent runs the structural checks for one required component.
func checkComponent(pkg *OutputPackage, comp Component) (string, bool) {
	content, ok := pkg.Get(comp.Field)
	if !ok {
		return fmt.Sprintf("required field %q absent", comp.Field), false
	}
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return fmt.Sprintf("required field %q empty", comp.Field), false
	}
	if comp.MinLength > 0 && len(trimmed) < comp.MinLength {
		return fmt.Sprintf("required field %q shorter than %d bytes", comp.Field, comp.MinLength), false
	}
	if comp.Numeric {
		v, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return fmt.Sprintf("required field %q is not numeric", comp.Field), false
		}
		if v < comp.Min || v > comp.Max {
			return fmt.Sprintf("required field %q value %.3f outside [%.3f, %.3f]", comp.Field, v, comp.Min, comp.Max), false
		}
	}
	return "", true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
