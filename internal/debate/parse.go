package debate

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	challengeLine  = regexp.MustCompile(`(?m)^\s*CHALLENGE\((\w+)\):\s*(.+)$`)
	confidenceLine = regexp.MustCompile(`(?m)^\s*CONFIDENCE:\s*(-?\d+(?:\.\d+)?)\s*$`)
	concedesLine   = regexp.MustCompile(`(?m)^\s*CONCEDES:\s*(yes|no|true|false)\s*$`)

	verdictLine    = regexp.MustCompile(`(?m)^\s*VERDICT:\s*(unchanged|revised)\s*$`)
	deltaLine      = regexp.MustCompile(`(?m)^\s*CONFIDENCE_DELTA:\s*(-?\d+(?:\.\d+)?)\s*$`)
	unresolvedLine = regexp.MustCompile(`(?m)^\s*UNRESOLVED\((critical|high|medium|low)\):\s*(.+)$`)
	revisedMarker  = regexp.MustCompile(`(?m)^\s*REVISED_ANALYSIS:\s*$`)
)

// parseChallengerResponse extracts challenges and the trailer signals
// from a challenger turn. Challenges with strategies outside the
// canonical set are dropped. A missing CONFIDENCE line parses as 0,
// which keeps the debate going rather than terminating it; a missing
// CONCEDES line parses as no.
func parseChallengerResponse(text string) ([]Challenge, float64, bool) {
	var challenges []Challenge
	for _, m := range challengeLine.FindAllStringSubmatch(text, -1) {
		strategy := strings.ToLower(m[1])
		if !validStrategy(strategy) {
			continue
		}
		challenges = append(challenges, Challenge{
			Strategy: strategy,
			Content:  strings.TrimSpace(m[2]),
		})
	}

	confidence := 0.0
	if m := confidenceLine.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			confidence = clamp01(v)
		}
	}

	concedes := false
	if m := concedesLine.FindStringSubmatch(text); m != nil {
		v := strings.ToLower(m[1])
		concedes = v == "yes" || v == "true"
	}

	return challenges, confidence, concedes
}

// parseJudgeResponse extracts the judgment from a judge turn. When the
// verdict is revised but no revised analysis follows the marker, the
// original analysis stands and the verdict degrades to unchanged.
func parseJudgeResponse(text, original string) *Judgment {
	j := &Judgment{Analysis: original}

	if m := verdictLine.FindStringSubmatch(text); m != nil {
		j.Revised = strings.EqualFold(m[1], "revised")
	}

	if m := deltaLine.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			j.ConfidenceDelta = clampDelta(v)
		}
	}

	for _, m := range unresolvedLine.FindAllStringSubmatch(text, -1) {
		j.Unresolved = append(j.Unresolved, UnresolvedIssue{
			Severity:    strings.ToLower(m[1]),
			Description: strings.TrimSpace(m[2]),
		})
	}

	if j.Revised {
		revised := ""
		if loc := revisedMarker.FindStringIndex(text); loc != nil {
			revised = strings.TrimSpace(text[loc[1]:])
		}
		if revised == "" {
			j.Revised = false
		} else {
			j.Analysis = revised
		}
	}

	return j
}

func validStrategy(s string) bool {
	for _, known := range Strategies() {
		if s == known {
			return true
		}
	}
	return false
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

func clampDelta(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
