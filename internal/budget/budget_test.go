package budget

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorize_WithinCeiling(t *testing.T) {
	c := New(10.0, 100.0, nil)

	id, err := c.Authorize(5.0)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestAuthorize_ExceedsCeiling(t *testing.T) {
	c := New(10.0, 100.0, nil)

	_, err := c.Authorize(10.5)
	require.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestAuthorize_ReservationsCount(t *testing.T) {
	c := New(10.0, 100.0, nil)

	// Reserve 9.50 committed.
	id, err := c.Authorize(9.50)
	require.NoError(t, err)
	require.NoError(t, c.Commit(id, Record{TaskID: "setup", CostUSD: 9.50}))

	// Two concurrent 0.60 requests: exactly one must be denied.
	id1, err1 := c.Authorize(0.60)
	_, err2 := c.Authorize(0.60)

	require.NoError(t, err1)
	require.ErrorIs(t, err2, ErrBudgetExceeded)
	c.Release(id1)
}

func TestAuthorize_NoOverAuthorizationRace(t *testing.T) {
	c := New(10.0, 100.0, nil)
	id, err := c.Authorize(9.50)
	require.NoError(t, err)
	require.NoError(t, c.Commit(id, Record{CostUSD: 9.50}))

	var wg sync.WaitGroup
	granted := make([]bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := c.Authorize(0.60); err == nil {
				granted[i] = true
			}
		}(i)
	}
	wg.Wait()

	count := 0
	for _, g := range granted {
		if g {
			count++
		}
	}
	// 0.50 headroom fits no 0.60 reservation beyond zero... except none fit.
	assert.Equal(t, 0, count)
}

func TestCommit_ReleasesOverReservation(t *testing.T) {
	c := New(10.0, 100.0, nil)

	id, err := c.Authorize(8.0)
	require.NoError(t, err)
	require.NoError(t, c.Commit(id, Record{TaskID: "draft", CostUSD: 2.0}))

	assert.InDelta(t, 2.0, c.Total(), 1e-9)
	assert.InDelta(t, 8.0, c.Remaining(), 1e-9)
}

func TestCommit_UnknownReservation(t *testing.T) {
	c := New(10.0, 100.0, nil)
	err := c.Commit("nope", Record{CostUSD: 1.0})
	require.Error(t, err)
}

func TestRelease_FreesHeadroom(t *testing.T) {
	c := New(10.0, 100.0, nil)

	id, err := c.Authorize(9.0)
	require.NoError(t, err)

	_, err = c.Authorize(2.0)
	require.ErrorIs(t, err, ErrBudgetExceeded)

	c.Release(id)

	_, err = c.Authorize(2.0)
	assert.NoError(t, err)
}

func TestLedgerConsistency(t *testing.T) {
	c := New(100.0, 1000.0, nil)

	costs := []float64{1.25, 0.75, 3.5, 0.01}
	for _, cost := range costs {
		id, err := c.Authorize(cost)
		require.NoError(t, err)
		require.NoError(t, c.Commit(id, Record{CostUSD: cost}))

		sum := 0.0
		for _, rec := range c.Records() {
			sum += rec.CostUSD
		}
		assert.InDelta(t, c.Total(), sum, 1e-9, "ledger sum must equal running total at every point")
	}
}

func TestDailyCeiling(t *testing.T) {
	c := New(50.0, 60.0, nil)

	id, err := c.Authorize(45.0)
	require.NoError(t, err)
	require.NoError(t, c.Commit(id, Record{CostUSD: 45.0}))

	// New run resets per-run accounting but daily spend carries.
	c.BeginRun()
	assert.InDelta(t, 0.0, c.Total(), 1e-9)

	_, err = c.Authorize(20.0)
	require.ErrorIs(t, err, ErrBudgetExceeded)

	_, err = c.Authorize(10.0)
	assert.NoError(t, err)
}

func TestSink_ReceivesRecords(t *testing.T) {
	var got []Record
	c := New(10.0, 100.0, func(r Record) error {
		got = append(got, r)
		return nil
	})

	id, err := c.Authorize(1.0)
	require.NoError(t, err)
	require.NoError(t, c.Commit(id, Record{TaskID: "thesis", CostUSD: 0.8}))

	require.Len(t, got, 1)
	assert.Equal(t, "thesis", got[0].TaskID)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].RecordedAt.IsZero())
}
