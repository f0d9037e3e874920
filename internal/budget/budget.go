// Package budget enforces spend ceilings for generation calls.
//
// The controller serializes authorize/commit pairs from concurrently
// executing tasks: an authorization atomically reserves the estimated
// amount against both the run ceiling and the daily ceiling, so two
// sibling tasks can never both pass a check their sum would violate.
// Commit reconciles a reservation against the true cost once known and
// appends an immutable cost record to the ledger.
package budget

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrBudgetExceeded indicates no reservation fits the remaining budget.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Record is one immutable ledger entry of actual spend.
type Record struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	TaskID       string    `json:"task_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Tier         string    `json:"tier"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// RecordSink receives committed cost records, e.g. for durable append.
type RecordSink func(Record) error

// Controller tracks cumulative spend against configured ceilings.
type Controller struct {
	mu sync.Mutex

	runCeiling   float64
	dailyCeiling float64

	committed float64            // spend committed for the current run
	reserved  map[string]float64 // outstanding reservations by ID

	day        string  // UTC day the daily counters cover
	dailySpent float64 // committed spend across runs today

	records []Record
	sink    RecordSink
}

// New creates a controller with the given ceilings.
// sink may be nil.
func New(runCeilingUSD, dailyCeilingUSD float64, sink RecordSink) *Controller {
	return &Controller{
		runCeiling:   runCeilingUSD,
		dailyCeiling: dailyCeilingUSD,
		reserved:     make(map[string]float64),
		day:          utcDay(time.Now()),
		sink:         sink,
	}
}

// BeginRun resets per-run accounting. Daily totals carry over.
func (c *Controller) BeginRun() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed = 0
	c.reserved = make(map[string]float64)
	c.records = nil
}

// Authorize atomically checks whether amount fits under both ceilings
// and, if so, reserves it. Returns a reservation ID to pass to Commit
// or Release. Fails with ErrBudgetExceeded otherwise.
func (c *Controller) Authorize(amount float64) (string, error) {
	if amount < 0 {
		return "", fmt.Errorf("authorization amount cannot be negative: %f", amount)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollDayLocked()

	outstanding := 0.0
	for _, r := range c.reserved {
		outstanding += r
	}

	if c.committed+outstanding+amount > c.runCeiling {
		return "", fmt.Errorf("%w: run spend %.4f + reserved %.4f + requested %.4f exceeds ceiling %.2f",
			ErrBudgetExceeded, c.committed, outstanding, amount, c.runCeiling)
	}
	if c.dailySpent+outstanding+amount > c.dailyCeiling {
		return "", fmt.Errorf("%w: daily spend %.4f + reserved %.4f + requested %.4f exceeds ceiling %.2f",
			ErrBudgetExceeded, c.dailySpent, outstanding, amount, c.dailyCeiling)
	}

	id := uuid.NewString()
	c.reserved[id] = amount
	return id, nil
}

// Commit reconciles a reservation against the true cost and appends the
// record to the ledger. Over-reservations are released; an actual cost
// above the reservation is still committed, since the spend has already
// been incurred.
func (c *Controller) Commit(reservationID string, rec Record) error {
	c.mu.Lock()

	if _, ok := c.reserved[reservationID]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("unknown reservation %q", reservationID)
	}
	delete(c.reserved, reservationID)

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	c.rollDayLocked()
	c.committed += rec.CostUSD
	c.dailySpent += rec.CostUSD
	c.records = append(c.records, rec)
	sink := c.sink
	c.mu.Unlock()

	if sink != nil {
		if err := sink(rec); err != nil {
			return fmt.Errorf("cost record sink: %w", err)
		}
	}
	return nil
}

// Release drops a reservation without committing spend. No-op for
// unknown IDs so failure paths can release unconditionally.
func (c *Controller) Release(reservationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.reserved, reservationID)
}

// Total returns the run's committed spend.
func (c *Controller) Total() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committed
}

// Remaining returns the amount still authorizable for this run,
// accounting for outstanding reservations.
func (c *Controller) Remaining() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	outstanding := 0.0
	for _, r := range c.reserved {
		outstanding += r
	}
	remaining := c.runCeiling - c.committed - outstanding
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Records returns a copy of the run's ledger.
func (c *Controller) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// rollDayLocked resets daily counters when the UTC day changes.
// Caller must hold the lock.
func (c *Controller) rollDayLocked() {
	today := utcDay(time.Now())
	if today != c.day {
		c.day = today
		c.dailySpent = 0
	}
}

func utcDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
