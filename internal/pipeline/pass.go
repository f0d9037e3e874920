package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/briefd/internal/config"
	"github.com/fyrsmithlabs/briefd/internal/gates"
	"github.com/fyrsmithlabs/briefd/internal/logging"
)

// Pass execution modes.
const (
	ModeParallel   = "parallel"
	ModeSequential = "sequential-with-critique"
)

// TaskDef is one generation task within a pass.
type TaskDef struct {
	// Name is the output package field the task fills.
	Name string

	// TaskID is the routing identifier.
	TaskID string

	// Instructions is the task prompt.
	Instructions string

	System    string
	Cacheable bool

	// Custom replaces agent generation for tasks backed by something
	// other than a model call (e.g. claim verification). Custom tasks
	// skip the critique loop.
	Custom func(ctx context.Context, shared string) (string, error)
}

// PassDef is one pass's fixed configuration: its tasks, execution mode,
// and quality rubric.
type PassDef struct {
	Name   string
	Mode   string
	Tasks  []TaskDef
	Rubric gates.Rubric
}

// passRunner executes one pass: run the task body, gate the assembled
// output, retry the whole body with enriched context on gate failure.
type passRunner struct {
	agent     Agent
	critic    Critic
	evaluator *gates.Evaluator
	logger    *logging.Logger
}

// Run executes def under tuning. The returned error is non-nil only
// for terminal failures (budget denial, provider exhaustion); gate
// failures and wall-clock expiry are recorded on the result and the
// run proceeds to the escalation check.
func (pr *passRunner) Run(ctx context.Context, def PassDef, tuning config.PassTuning, shared string) (*PassResult, error) {
	result := &PassResult{Pass: def.Name, StartedAt: time.Now().UTC()}
	defer func() { result.CompletedAt = time.Now().UTC() }()

	ctx = logging.WithPass(ctx, def.Name)
	if wc := time.Duration(tuning.WallClock); wc > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wc)
		defer cancel()
	}

	enriched := shared
	attempts := tuning.MaxRetries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		result.Attempts = attempt
		passAttempts.WithLabelValues(def.Name).Inc()

		pkg, err := pr.execute(ctx, def, tuning, enriched)
		if err != nil {
			result.Error = err.Error()
			// Wall-clock expiry is an exhausted-retries outcome, not a
			// hard abort: the run continues to the escalation check.
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
				result.Flags = append(result.Flags, FlagMaxRetriesReached)
				pr.logger.Warn(ctx, "pass wall clock exceeded",
					zap.String("pass", def.Name),
					zap.Int("attempt", attempt),
				)
				return result, nil
			}
			// Budget denial and provider exhaustion are terminal for
			// the run; the orchestrator decides failed vs escalated.
			return result, fmt.Errorf("pass %s: %w", def.Name, err)
		}

		gate := pr.evaluator.Evaluate(ctx, pkg, def.Rubric)
		result.Output = pkg
		result.Gate = gate
		gateScore.WithLabelValues(def.Name).Observe(gate.Score)

		if gate.Pass {
			return result, nil
		}
		if attempt < attempts {
			enriched = enrichContext(enriched, gate)
			pr.logger.Info(ctx, "gate failed, retrying pass with enriched context",
				zap.String("pass", def.Name),
				zap.Float64("score", gate.Score),
				zap.Int("attempt", attempt),
			)
		}
	}

	result.Flags = append(result.Flags, FlagMaxRetriesReached)
	pr.logger.Warn(ctx, "pass retries exhausted",
		zap.String("pass", def.Name),
		zap.Int("attempts", result.Attempts),
		zap.Float64("score", result.Gate.Score),
	)
	return result, nil
}

func (pr *passRunner) execute(ctx context.Context, def PassDef, tuning config.PassTuning, shared string) (*gates.OutputPackage, error) {
	switch def.Mode {
	case ModeParallel:
		return pr.executeParallel(ctx, def, shared)
	case ModeSequential:
		return pr.executeSequential(ctx, def, tuning, shared)
	default:
		return nil, fmt.Errorf("unknown pass mode %q", def.Mode)
	}
}

// executeParallel dispatches every task concurrently and assembles
// results in declaration order regardless of completion order. The
// group carries no shared cancellation: siblings of a failed task are
// allowed to finish rather than wasting already-committed spend.
func (pr *passRunner) executeParallel(ctx context.Context, def PassDef, shared string) (*gates.OutputPackage, error) {
	outputs := make([]string, len(def.Tasks))
	var g errgroup.Group
	for i, task := range def.Tasks {
		i, task := i, task
		g.Go(func() error {
			text, err := pr.runTask(ctx, task, shared)
			if err != nil {
				return fmt.Errorf("task %s: %w", task.Name, err)
			}
			outputs[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pkg := &gates.OutputPackage{}
	for i, task := range def.Tasks {
		pkg.Add(task.Name, outputs[i])
	}
	return pkg, nil
}

// executeSequential runs tasks strictly in order, critiquing each
// output and regenerating under the critique until the severity drops
// below the threshold or the revision cap is hit. Accepted outputs
// feed forward as context for the next task.
func (pr *passRunner) executeSequential(ctx context.Context, def PassDef, tuning config.PassTuning, shared string) (*gates.OutputPackage, error) {
	pkg := &gates.OutputPackage{}
	running := shared

	for _, task := range def.Tasks {
		text, err := pr.runTask(ctx, task, running)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", task.Name, err)
		}

		if task.Custom == nil && pr.critic != nil {
			tc := TaskContext{TaskID: task.TaskID, System: task.System, Shared: running}
			for revision := 0; revision < tuning.RevisionCap; revision++ {
				severity, critique, err := pr.critic.Critique(ctx, text, tc)
				if err != nil {
					return nil, fmt.Errorf("critique of %s: %w", task.Name, err)
				}
				if severity <= tuning.CritiqueThreshold {
					break
				}
				pr.logger.Debug(ctx, "revising under critique",
					zap.String("task", task.Name),
					zap.Float64("severity", severity),
					zap.Int("revision", revision+1),
				)
				text, err = pr.agent.Revise(ctx, text, critique, task.Instructions, tc)
				if err != nil {
					return nil, fmt.Errorf("revision of %s: %w", task.Name, err)
				}
			}
		}

		pkg.Add(task.Name, text)
		running += "\n\n## " + task.Name + "\n" + text
	}
	return pkg, nil
}

func (pr *passRunner) runTask(ctx context.Context, task TaskDef, shared string) (string, error) {
	ctx = logging.WithTaskID(ctx, task.TaskID)
	if task.Custom != nil {
		return task.Custom(ctx, shared)
	}
	return pr.agent.Generate(ctx, task.Instructions, TaskContext{
		TaskID:    task.TaskID,
		System:    task.System,
		Shared:    shared,
		Cacheable: task.Cacheable,
	})
}

// enrichContext appends a gate's itemized problems to the shared
// context so the retried pass body can address them.
func enrichContext(shared string, gate *gates.Result) string {
	var b strings.Builder
	b.WriteString(shared)
	b.WriteString("\n\nThe previous attempt failed its quality gate. Address the following before anything else:\n")
	for _, missing := range gate.MissingComponents {
		fmt.Fprintf(&b, "- required component %q was missing or inadequate\n", missing)
	}
	for _, issue := range gate.Issues {
		fmt.Fprintf(&b, "- %s scored %.2f (needs %.2f): %s\n", issue.Dimension, issue.Score, issue.Threshold, issue.Detail)
	}
	return b.String()
}
