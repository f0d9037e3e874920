package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/briefd/internal/budget"
	"github.com/fyrsmithlabs/briefd/internal/debate"
	"github.com/fyrsmithlabs/briefd/internal/escalation"
	"github.com/fyrsmithlabs/briefd/internal/pipeline"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestSaveAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &pipeline.Run{
		ID:        "run-1",
		Status:    pipeline.StatusRunning,
		StartedAt: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveRun(ctx, run))

	// Rewrites replace the record.
	run.Status = pipeline.StatusCompleted
	run.CumulativeCostUSD = 1.25
	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusCompleted, got.Status)
	assert.Equal(t, 1.25, got.CumulativeCostUSD)
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRejectsUnsafeIDs(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidID)

	err = s.SaveRun(context.Background(), &pipeline.Run{ID: "/abs"})
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, s.SaveRun(ctx, &pipeline.Run{ID: id, StartedAt: base.Add(time.Duration(i) * time.Hour)}))
	}

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-c", runs[0].ID)
	assert.Equal(t, "run-a", runs[2].ID)
}

func TestCostLedgerAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendCost(budget.Record{
			ID:      string(rune('a' + i)),
			RunID:   "run-1",
			TaskID:  "analysis-thesis",
			CostUSD: 0.1 * float64(i+1),
		}))
	}

	records, err := s.Costs(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "a", records[0].ID)
	assert.InDelta(t, 0.3, records[2].CostUSD, 1e-9)

	// The ledger file is plain JSONL.
	data, err := os.ReadFile(filepath.Join(s.dataDir, "runs", "run-1", "costs.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 3, len(splitLines(data)))
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	return lines
}

func TestCostsMissingLedgerIsEmpty(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveRun(context.Background(), &pipeline.Run{ID: "run-1"}))
	records, err := s.Costs(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAppendCostRequiresRunID(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendCost(budget.Record{ID: "x"})
	require.Error(t, err)
}

func TestTranscriptRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	transcript := &debate.Transcript{
		RunID:       "run-1",
		Termination: debate.TerminationConcession,
		Rounds:      []debate.Round{{Number: 1, Concedes: true}},
	}
	require.NoError(t, s.SaveTranscript(ctx, "run-1", transcript))

	got, err := s.GetTranscript(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, debate.TerminationConcession, got.Termination)
	require.Len(t, got.Rounds, 1)
	assert.True(t, got.Rounds[0].Concedes)
}

func TestEscalationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pkg := &escalation.Package{
		ID:        "esc-1",
		RunID:     "run-1",
		Priority:  "high",
		Status:    escalation.StatusPending,
		CreatedAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveEscalation(ctx, pkg))

	got, err := s.GetEscalation(ctx, "esc-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)

	resolved, err := s.ResolveEscalation(ctx, "esc-1", "approve", "rsmith", "verified manually")
	require.NoError(t, err)
	assert.Equal(t, escalation.StatusResolved, resolved.Status)
	require.NotNil(t, resolved.Resolution)
	assert.Equal(t, "approve", resolved.Resolution.Decision)
	assert.Equal(t, "rsmith", resolved.Resolution.Reviewer)

	// Resolution is terminal: a second resolve fails and keeps the
	// original.
	again, err := s.ResolveEscalation(ctx, "esc-1", "reject", "other", "")
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	assert.Equal(t, "approve", again.Resolution.Decision)
}

func TestListEscalationsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveEscalation(ctx, &escalation.Package{
		ID: "esc-1", RunID: "run-1", Priority: "high",
		Status: escalation.StatusPending, CreatedAt: base,
	}))
	require.NoError(t, s.SaveEscalation(ctx, &escalation.Package{
		ID: "esc-2", RunID: "run-2", Priority: "critical",
		Status: escalation.StatusPending, CreatedAt: base.Add(time.Hour),
	}))
	_, err := s.ResolveEscalation(ctx, "esc-1", "approve", "rsmith", "")
	require.NoError(t, err)

	all, err := s.ListEscalations(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "esc-2", all[0].ID, "newest first")

	pending, err := s.ListEscalations(ctx, escalation.StatusPending, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "esc-2", pending[0].ID)

	critical, err := s.ListEscalations(ctx, "", "critical")
	require.NoError(t, err)
	require.Len(t, critical, 1)
	assert.Equal(t, "esc-2", critical[0].ID)
}

func TestResolveMissingEscalation(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ResolveEscalation(context.Background(), "nope", "approve", "r", "")
	assert.ErrorIs(t, err, ErrNotFound)
}
