package gates

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedScorer returns scripted per-dimension scores.
type fixedScorer struct {
	scores map[string]float64
	errs   map[string]error
}

func (s *fixedScorer) Score(_ context.Context, dimension string, _ *OutputPackage) (float64, error) {
	if err := s.errs[dimension]; err != nil {
		return 0, err
	}
	return s.scores[dimension], nil
}

func testRubric() Rubric {
	return Rubric{
		Name:      "analysis-gate",
		Threshold: 0.80,
		Required: []Component{
			{Field: "thesis", MinLength: 10},
			{Field: "argument"},
		},
		Dimensions: []Dimension{
			{Name: "factual_accuracy", Weight: 0.5, Threshold: 0.7},
			{Name: "logical_coherence", Weight: 0.5, Threshold: 0.6},
		},
	}
}

func fullPackage() *OutputPackage {
	pkg := &OutputPackage{}
	pkg.Add("thesis", "a sufficiently long thesis statement")
	pkg.Add("argument", "supporting argument")
	return pkg
}

func TestEvaluate_Pass(t *testing.T) {
	e := NewEvaluator(&fixedScorer{scores: map[string]float64{
		"factual_accuracy":  0.9,
		"logical_coherence": 0.8,
	}}, nil)

	result := e.Evaluate(context.Background(), fullPackage(), testRubric())

	assert.InDelta(t, 0.85, result.Score, 1e-9)
	assert.True(t, result.Pass)
	assert.Empty(t, result.MissingComponents)
	assert.Empty(t, result.Issues)
}

func TestEvaluate_ScoreJustBelowThreshold(t *testing.T) {
	e := NewEvaluator(&fixedScorer{scores: map[string]float64{
		"factual_accuracy":  0.79,
		"logical_coherence": 0.79,
	}}, nil)

	result := e.Evaluate(context.Background(), fullPackage(), testRubric())

	assert.InDelta(t, 0.79, result.Score, 1e-9)
	assert.False(t, result.Pass, "0.79 against threshold 0.80 must fail")
}

func TestEvaluate_MissingComponentFailsRegardlessOfScore(t *testing.T) {
	e := NewEvaluator(&fixedScorer{scores: map[string]float64{
		"factual_accuracy":  1.0,
		"logical_coherence": 1.0,
	}}, nil)

	pkg := &OutputPackage{}
	pkg.Add("thesis", "a sufficiently long thesis statement")
	// "argument" absent.

	result := e.Evaluate(context.Background(), pkg, testRubric())

	assert.InDelta(t, 1.0, result.Score, 1e-9)
	assert.False(t, result.Pass)
	assert.Equal(t, []string{"argument"}, result.MissingComponents)
}

func TestEvaluate_EmptyAndShortComponents(t *testing.T) {
	e := NewEvaluator(&fixedScorer{scores: map[string]float64{}}, nil)

	pkg := &OutputPackage{}
	pkg.Add("thesis", "short")
	pkg.Add("argument", "   ")

	result := e.Evaluate(context.Background(), pkg, testRubric())

	assert.ElementsMatch(t, []string{"thesis", "argument"}, result.MissingComponents)
	assert.False(t, result.Pass)
}

func TestEvaluate_NumericRange(t *testing.T) {
	rubric := Rubric{
		Name:      "verification-gate",
		Threshold: 0,
		Required: []Component{
			{Field: "verified_ratio", Numeric: true, Min: 0, Max: 1},
		},
	}
	e := NewEvaluator(&fixedScorer{}, nil)

	pkg := &OutputPackage{}
	pkg.Add("verified_ratio", "0.85")
	result := e.Evaluate(context.Background(), pkg, rubric)
	assert.True(t, result.Pass)

	pkg = &OutputPackage{}
	pkg.Add("verified_ratio", "1.4")
	result = e.Evaluate(context.Background(), pkg, rubric)
	assert.False(t, result.Pass)

	pkg = &OutputPackage{}
	pkg.Add("verified_ratio", "most of them")
	result = e.Evaluate(context.Background(), pkg, rubric)
	assert.False(t, result.Pass)
}

func TestEvaluate_ScorerErrorScoresZero(t *testing.T) {
	e := NewEvaluator(&fixedScorer{
		scores: map[string]float64{"logical_coherence": 1.0},
		errs:   map[string]error{"factual_accuracy": errors.New("provider down")},
	}, nil)

	result := e.Evaluate(context.Background(), fullPackage(), testRubric())

	assert.InDelta(t, 0.5, result.Score, 1e-9)
	assert.False(t, result.Pass)

	found := false
	for _, issue := range result.Issues {
		if issue.Dimension == "factual_accuracy" {
			found = true
			assert.Contains(t, issue.Detail, "scoring failed")
		}
	}
	assert.True(t, found)
}

func TestEvaluate_DimensionBelowOwnThresholdItemized(t *testing.T) {
	e := NewEvaluator(&fixedScorer{scores: map[string]float64{
		"factual_accuracy":  0.95,
		"logical_coherence": 0.5,
	}}, nil)

	result := e.Evaluate(context.Background(), fullPackage(), testRubric())

	require.Len(t, result.Issues, 1)
	assert.Equal(t, "logical_coherence", result.Issues[0].Dimension)
}

func TestEvaluate_Deterministic(t *testing.T) {
	scorer := &fixedScorer{scores: map[string]float64{
		"factual_accuracy":  0.82,
		"logical_coherence": 0.9,
	}}
	e := NewEvaluator(scorer, nil)

	first := e.Evaluate(context.Background(), fullPackage(), testRubric())
	second := e.Evaluate(context.Background(), fullPackage(), testRubric())
	assert.Equal(t, first, second)
}

func TestParseScore(t *testing.T) {
	v, err := ParseScore("SCORE: 0.85")
	require.NoError(t, err)
	assert.InDelta(t, 0.85, v, 1e-9)

	v, err = ParseScore("Some preamble\nSCORE: 1.0\n")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v, 1e-9)

	_, err = ParseScore("I think it deserves a 7/10")
	assert.Error(t, err)
}
