package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setClock(t *testing.T, at time.Time) {
	t.Helper()
	orig := timeNow
	timeNow = func() time.Time { return at }
	t.Cleanup(func() { timeNow = orig })
}

func advanceClock(at *time.Time, d time.Duration) {
	*at = at.Add(d)
}

func TestLedgerMinuteLimit(t *testing.T) {
	setClock(t, time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC))
	ledger := NewLedger(NewMemoryStore(), nil)
	ctx := context.Background()
	limits := Limits{PerMinute: 5, PerDay: 100, PerSession: 200}

	for i := 0; i < 5; i++ {
		status, err := ledger.Check(ctx, "session:s1", limits)
		require.NoError(t, err)
		assert.True(t, status.Allowed, "request %d should be allowed", i+1)
		require.NoError(t, ledger.Record(ctx, "session:s1"))
	}

	status, err := ledger.Check(ctx, "session:s1", limits)
	require.NoError(t, err)
	assert.False(t, status.Allowed)
	require.Len(t, status.Exceeded, 1)
	assert.Equal(t, WindowMinute, status.Exceeded[0].Window)
	assert.Equal(t, 5, status.Exceeded[0].Current)
	assert.Equal(t, 5, status.Exceeded[0].Limit)
}

func TestLedgerCheckIsReadOnly(t *testing.T) {
	setClock(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ledger := NewLedger(NewMemoryStore(), nil)
	ctx := context.Background()
	limits := Limits{PerMinute: 1}

	for i := 0; i < 10; i++ {
		status, err := ledger.Check(ctx, "session:s1", limits)
		require.NoError(t, err)
		assert.True(t, status.Allowed)
	}
}

func TestLedgerMinuteWindowResets(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 59, 0, time.UTC)
	orig := timeNow
	timeNow = func() time.Time { return now }
	t.Cleanup(func() { timeNow = orig })

	ledger := NewLedger(NewMemoryStore(), nil)
	ctx := context.Background()
	limits := Limits{PerMinute: 2}

	require.NoError(t, ledger.Record(ctx, "session:s1"))
	require.NoError(t, ledger.Record(ctx, "session:s1"))

	status, err := ledger.Check(ctx, "session:s1", limits)
	require.NoError(t, err)
	assert.False(t, status.Allowed)

	// One second later a new fixed minute window begins.
	advanceClock(&now, time.Second)
	status, err = ledger.Check(ctx, "session:s1", limits)
	require.NoError(t, err)
	assert.True(t, status.Allowed)
}

func TestLedgerDayWindowPersistsAcrossMinutes(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orig := timeNow
	timeNow = func() time.Time { return now }
	t.Cleanup(func() { timeNow = orig })

	ledger := NewLedger(NewMemoryStore(), nil)
	ctx := context.Background()
	limits := Limits{PerDay: 3}

	for i := 0; i < 3; i++ {
		require.NoError(t, ledger.Record(ctx, "session:s1"))
		advanceClock(&now, 2*time.Minute)
	}

	status, err := ledger.Check(ctx, "session:s1", limits)
	require.NoError(t, err)
	assert.False(t, status.Allowed)
	assert.Equal(t, WindowDay, status.Exceeded[0].Window)

	// The UTC day boundary clears it.
	now = time.Date(2026, 3, 2, 0, 0, 1, 0, time.UTC)
	status, err = ledger.Check(ctx, "session:s1", limits)
	require.NoError(t, err)
	assert.True(t, status.Allowed)
}

func TestLedgerSessionCounterNeverResets(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orig := timeNow
	timeNow = func() time.Time { return now }
	t.Cleanup(func() { timeNow = orig })

	ledger := NewLedger(NewMemoryStore(), nil)
	ctx := context.Background()
	limits := Limits{PerSession: 2}

	require.NoError(t, ledger.Record(ctx, "session:s1"))
	advanceClock(&now, 48*time.Hour)
	require.NoError(t, ledger.Record(ctx, "session:s1"))

	status, err := ledger.Check(ctx, "session:s1", limits)
	require.NoError(t, err)
	assert.False(t, status.Allowed)
	assert.Equal(t, WindowSession, status.Exceeded[0].Window)
}

func TestLedgerNoHistoryAllowed(t *testing.T) {
	ledger := NewLedger(NewMemoryStore(), nil)

	status, err := ledger.Check(context.Background(), "session:fresh", Limits{PerMinute: 1, PerDay: 1, PerSession: 1})
	require.NoError(t, err)
	assert.True(t, status.Allowed)
	assert.Empty(t, status.Exceeded)
}

func TestLedgerZeroLimitsUnlimited(t *testing.T) {
	ledger := NewLedger(NewMemoryStore(), nil)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, ledger.Record(ctx, "session:s1"))
	}
	status, err := ledger.Check(ctx, "session:s1", Limits{})
	require.NoError(t, err)
	assert.True(t, status.Allowed)
	assert.Empty(t, status.Usage)
}

func TestLedgerRevoke(t *testing.T) {
	ledger := NewLedger(NewMemoryStore(), nil)
	ctx := context.Background()

	require.NoError(t, ledger.Revoke(ctx, "session:bad"))

	status, err := ledger.Check(ctx, "session:bad", Limits{})
	require.NoError(t, err)
	assert.False(t, status.Allowed)
	assert.True(t, status.Revoked)

	// Other identities are unaffected.
	status, err = ledger.Check(ctx, "session:good", Limits{})
	require.NoError(t, err)
	assert.True(t, status.Allowed)
}

func TestLedgerIdentitiesIndependent(t *testing.T) {
	setClock(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ledger := NewLedger(NewMemoryStore(), nil)
	ctx := context.Background()
	limits := Limits{PerMinute: 1}

	require.NoError(t, ledger.Record(ctx, "session:s1"))

	status, err := ledger.Check(ctx, "session:s1", limits)
	require.NoError(t, err)
	assert.False(t, status.Allowed)

	status, err = ledger.Check(ctx, "session:s2", limits)
	require.NoError(t, err)
	assert.True(t, status.Allowed)
}

func TestLedgerAdmitChargesOnAdmission(t *testing.T) {
	setClock(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ledger := NewLedger(NewMemoryStore(), nil)
	ctx := context.Background()
	limits := Limits{PerMinute: 2, PerDay: 100}

	for i := 0; i < 2; i++ {
		status, err := ledger.Admit(ctx, "session:s1", limits)
		require.NoError(t, err)
		assert.True(t, status.Allowed, "request %d should be admitted", i+1)
	}

	status, err := ledger.Admit(ctx, "session:s1", limits)
	require.NoError(t, err)
	assert.False(t, status.Allowed)
	require.Len(t, status.Exceeded, 1)
	assert.Equal(t, WindowMinute, status.Exceeded[0].Window)
	assert.Equal(t, 2, status.Exceeded[0].Current)

	// A denied Admit charges nothing: the day counter stays at 2.
	minuteStart, dayStart := windowStarts(timeNow())
	counts, err := ledger.store.Counts(ctx, "session:s1", minuteStart, dayStart)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Day)
}

func TestLedgerAdmitLastSlotGoesToOneCaller(t *testing.T) {
	setClock(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ledger := NewLedger(NewMemoryStore(), nil)
	ctx := context.Background()
	limits := Limits{PerMinute: 1}

	const workers = 16

	var wg sync.WaitGroup
	admitted := make(chan struct{}, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, err := ledger.Admit(ctx, "session:s1", limits)
			assert.NoError(t, err)
			if err == nil && status.Allowed {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	assert.Len(t, admitted, 1, "exactly one concurrent caller may take the last slot")
}

func TestLedgerAdmitRevoked(t *testing.T) {
	setClock(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ledger := NewLedger(NewMemoryStore(), nil)
	ctx := context.Background()

	require.NoError(t, ledger.Revoke(ctx, "session:s1"))
	status, err := ledger.Admit(ctx, "session:s1", Limits{PerMinute: 100})
	require.NoError(t, err)
	assert.False(t, status.Allowed)
	assert.True(t, status.Revoked)
}

func TestLedgerForget(t *testing.T) {
	setClock(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ledger := NewLedger(NewMemoryStore(), nil)
	ctx := context.Background()
	limits := Limits{PerSession: 1}

	status, err := ledger.Admit(ctx, "session:s1", limits)
	require.NoError(t, err)
	require.True(t, status.Allowed)
	status, err = ledger.Admit(ctx, "session:s1", limits)
	require.NoError(t, err)
	require.False(t, status.Allowed)

	require.NoError(t, ledger.Forget(ctx, "session:s1"))

	status, err = ledger.Admit(ctx, "session:s1", limits)
	require.NoError(t, err)
	assert.True(t, status.Allowed)
}

func TestMemoryStoreConcurrentIncrements(t *testing.T) {
	setClock(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	ctx := context.Background()
	minuteStart, dayStart := windowStarts(timeNow())

	const workers = 20
	const perWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_ = store.Increment(ctx, "session:s1", minuteStart, dayStart)
			}
		}()
	}
	wg.Wait()

	counts, err := store.Counts(ctx, "session:s1", minuteStart, dayStart)
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, counts.Minute)
	assert.Equal(t, workers*perWorker, counts.Day)
	assert.Equal(t, workers*perWorker, counts.Session)
}

func TestWindowStarts(t *testing.T) {
	minuteStart, dayStart := windowStarts(time.Date(2026, 3, 1, 12, 34, 56, 789, time.UTC))
	assert.Equal(t, time.Date(2026, 3, 1, 12, 34, 0, 0, time.UTC), minuteStart)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), dayStart)
}
