// Package store persists run state as JSON under a per-run directory:
//
//	<data_dir>/runs/<run_id>/
//	├── run.json          ← run record, rewritten as the run evolves
//	├── costs.jsonl       ← append-only cost ledger
//	├── transcript.json   ← debate transcript, if one ran
//	└── escalation.json   ← escalation package, if one was built
//
// Everything is keyed by run ID so a full run can be replayed for
// audit without touching the pipeline.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/briefd/internal/budget"
	"github.com/fyrsmithlabs/briefd/internal/debate"
	"github.com/fyrsmithlabs/briefd/internal/escalation"
	"github.com/fyrsmithlabs/briefd/internal/pipeline"
)

// Errors for store operations.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyResolved = errors.New("escalation already resolved")
	ErrInvalidID       = errors.New("invalid identifier")
)

// idPattern keeps identifiers filesystem-safe.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// FileStore is a JSON-file-backed run store.
type FileStore struct {
	mu      sync.Mutex
	dataDir string
}

// New creates a store rooted at dataDir.
func New(dataDir string) (*FileStore, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data dir is required")
	}
	if err := os.MkdirAll(filepath.Join(dataDir, "runs"), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

func (s *FileStore) runDir(runID string) (string, error) {
	if !idPattern.MatchString(runID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, runID)
	}
	return filepath.Join(s.dataDir, "runs", runID), nil
}

// SaveRun writes the run record, creating the run directory on first
// save.
func (s *FileStore) SaveRun(_ context.Context, run *pipeline.Run) error {
	dir, err := s.runDir(run.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create run dir: %w", err)
	}
	return writeJSON(filepath.Join(dir, "run.json"), run)
}

// GetRun reads one run record.
func (s *FileStore) GetRun(_ context.Context, runID string) (*pipeline.Run, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var run pipeline.Run
	if err := readJSON(filepath.Join(dir, "run.json"), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns all run records, most recently started first.
func (s *FileStore) ListRuns(ctx context.Context) ([]*pipeline.Run, error) {
	s.mu.Lock()
	entries, err := os.ReadDir(filepath.Join(s.dataDir, "runs"))
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	var runs []*pipeline.Run
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, err := s.GetRun(ctx, entry.Name())
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	return runs, nil
}

// AppendCost appends one cost record to the run's ledger. Shaped as a
// budget.RecordSink so the controller can write through directly.
func (s *FileStore) AppendCost(rec budget.Record) error {
	if rec.RunID == "" {
		return fmt.Errorf("cost record missing run ID")
	}
	dir, err := s.runDir(rec.RunID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create run dir: %w", err)
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal cost record: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "costs.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open cost ledger: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append cost record: %w", err)
	}
	return nil
}

// Costs reads the run's full cost ledger in append order.
func (s *FileStore) Costs(_ context.Context, runID string) ([]budget.Record, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(filepath.Join(dir, "costs.jsonl"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cost ledger: %w", err)
	}

	var records []budget.Record
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec budget.Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("corrupt cost ledger for run %s: %w", runID, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// SaveTranscript writes the run's debate transcript.
func (s *FileStore) SaveTranscript(_ context.Context, runID string, t *debate.Transcript) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create run dir: %w", err)
	}
	return writeJSON(filepath.Join(dir, "transcript.json"), t)
}

// GetTranscript reads the run's debate transcript.
func (s *FileStore) GetTranscript(_ context.Context, runID string) (*debate.Transcript, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var t debate.Transcript
	if err := readJSON(filepath.Join(dir, "transcript.json"), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveEscalation writes the run's escalation package.
func (s *FileStore) SaveEscalation(_ context.Context, pkg *escalation.Package) error {
	dir, err := s.runDir(pkg.RunID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create run dir: %w", err)
	}
	return writeJSON(filepath.Join(dir, "escalation.json"), pkg)
}

// ListEscalations returns escalation packages matching the filters,
// newest first. Empty filter values match everything.
func (s *FileStore) ListEscalations(ctx context.Context, status, priority string) ([]*escalation.Package, error) {
	s.mu.Lock()
	entries, err := os.ReadDir(filepath.Join(s.dataDir, "runs"))
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	var pkgs []*escalation.Package
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pkg, err := s.escalationForRun(entry.Name())
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if status != "" && pkg.Status != status {
			continue
		}
		if priority != "" && pkg.Priority != priority {
			continue
		}
		pkgs = append(pkgs, pkg)
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].CreatedAt.After(pkgs[j].CreatedAt) })
	return pkgs, nil
}

// GetEscalation finds one package by its own ID.
func (s *FileStore) GetEscalation(ctx context.Context, id string) (*escalation.Package, error) {
	pkgs, err := s.ListEscalations(ctx, "", "")
	if err != nil {
		return nil, err
	}
	for _, pkg := range pkgs {
		if pkg.ID == id {
			return pkg, nil
		}
	}
	return nil, fmt.Errorf("escalation %s: %w", id, ErrNotFound)
}

// ResolveEscalation records a reviewer's terminal decision on a
// package. Resolving an already-resolved package fails with
// ErrAlreadyResolved; the stored resolution is never overwritten.
func (s *FileStore) ResolveEscalation(ctx context.Context, id, decision, reviewer, notes string) (*escalation.Package, error) {
	pkg, err := s.GetEscalation(ctx, id)
	if err != nil {
		return nil, err
	}
	if pkg.Status == escalation.StatusResolved {
		return pkg, ErrAlreadyResolved
	}

	pkg.Status = escalation.StatusResolved
	pkg.Resolution = &escalation.Resolution{
		Decision:   decision,
		Reviewer:   reviewer,
		Notes:      notes,
		ResolvedAt: time.Now().UTC(),
	}
	if err := s.SaveEscalation(ctx, pkg); err != nil {
		return nil, err
	}
	return pkg, nil
}

func (s *FileStore) escalationForRun(runID string) (*escalation.Package, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var pkg escalation.Package
	if err := readJSON(filepath.Join(dir, "escalation.json"), &pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}

// writeJSON writes v atomically via a temp file and rename.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", filepath.Base(path), ErrNotFound)
		}
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("corrupt %s: %w", filepath.Base(path), err)
	}
	return nil
}
