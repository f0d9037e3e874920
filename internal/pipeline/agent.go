package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/fyrsmithlabs/briefd/internal/router"
)

// TaskContext carries what one generation task needs beyond its own
// instructions: the run's accumulated shared context and routing hints.
type TaskContext struct {
	TaskID    string
	System    string
	Shared    string
	Cacheable bool
}

// Agent is the single capability every specialized generation task
// shares: produce an output, and revise a prior output under critique.
// Specialization lives in task instructions and routing configuration,
// not in type hierarchies.
type Agent interface {
	Generate(ctx context.Context, instructions string, tc TaskContext) (string, error)
	Revise(ctx context.Context, prior, critique, instructions string, tc TaskContext) (string, error)
}

// Critic assigns a severity in [0,1] to a generated output; above the
// configured threshold the output is regenerated with the critique
// attached.
type Critic interface {
	Critique(ctx context.Context, output string, tc TaskContext) (severity float64, critique string, err error)
}

// RouterAgent backs the Agent capability with the model router.
type RouterAgent struct {
	Router *router.Router
}

func (a *RouterAgent) Generate(ctx context.Context, instructions string, tc TaskContext) (string, error) {
	prompt := instructions
	if tc.Shared != "" {
		prompt = "Context so far:\n" + tc.Shared + "\n\n" + instructions
	}
	result, err := a.Router.Route(ctx, router.TaskSpec{
		TaskID:    tc.TaskID,
		System:    tc.System,
		Prompt:    prompt,
		Cacheable: tc.Cacheable,
	})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

func (a *RouterAgent) Revise(ctx context.Context, prior, critique, instructions string, tc TaskContext) (string, error) {
	prompt := fmt.Sprintf(
		"Context so far:\n%s\n\n%s\n\nYour prior output:\n%s\n\nCritique to address:\n%s\n\nProduce a revised output that resolves the critique.",
		tc.Shared, instructions, prior, critique,
	)
	// Revisions are never cache-eligible: they depend on a critique of
	// a specific prior output.
	result, err := a.Router.Route(ctx, router.TaskSpec{
		TaskID: tc.TaskID,
		System: tc.System,
		Prompt: prompt,
	})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

var severityLine = regexp.MustCompile(`(?m)^\s*SEVERITY:\s*([01](?:\.\d+)?)\s*$`)

// RouterCritic backs the Critic capability with a dedicated critique
// task routed at a cheap tier.
type RouterCritic struct {
	Router *router.Router
}

func (c *RouterCritic) Critique(ctx context.Context, output string, tc TaskContext) (float64, string, error) {
	prompt := fmt.Sprintf(
		"Critique the following output for correctness, completeness, and internal consistency. "+
			"List concrete problems, then end with a line SEVERITY: <0.0-1.0> where 0 means flawless and 1 means unusable.\n\nOutput:\n%s",
		output,
	)
	result, err := c.Router.Route(ctx, router.TaskSpec{
		TaskID:      "critique-" + tc.TaskID,
		Prompt:      prompt,
		Temperature: 0,
		MaxTokens:   1024,
	})
	if err != nil {
		return 0, "", err
	}

	m := severityLine.FindStringSubmatch(result.Text)
	if m == nil {
		return 0, "", fmt.Errorf("critique response missing SEVERITY line")
	}
	severity, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed severity %q: %w", m[1], err)
	}
	return severity, result.Text, nil
}
