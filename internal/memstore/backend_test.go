package memstore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neofinancial/chrono/internal/chrono"
	"github.com/neofinancial/chrono/internal/memstore"
)

func TestScheduleAndClaimRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := memstore.New()

	now := time.Now()
	scheduled, err := b.Schedule(ctx, chrono.ScheduleInput{Kind: "email", Data: []byte("hello"), When: now})
	require.NoError(t, err)
	require.Equal(t, chrono.StatusPending, scheduled.Status)
	require.NotEmpty(t, scheduled.ID)

	claimed, err := b.Claim(ctx, chrono.ClaimInput{Kind: "email", ClaimStaleTimeout: time.Minute})
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, scheduled.ID, claimed.ID)
	assert.Equal(t, chrono.StatusClaimed, claimed.Status)
	assert.NotNil(t, claimed.ClaimedAt)

	completed, err := b.Complete(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, chrono.StatusCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)
}

func TestGetReturnsCurrentState(t *testing.T) {
	ctx := context.Background()
	b := memstore.New()

	scheduled, err := b.Schedule(ctx, chrono.ScheduleInput{Kind: "email", When: time.Now()})
	require.NoError(t, err)

	fetched, err := b.Get(ctx, scheduled.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduled.ID, fetched.ID)
	assert.Equal(t, chrono.StatusPending, fetched.Status)

	_, err = b.Get(ctx, "does-not-exist")
	assert.ErrorIs(t, err, chrono.ErrTaskNotFound)
}

func TestScheduleIdempotencyDedupesNonTerminalTasks(t *testing.T) {
	ctx := context.Background()
	b := memstore.New()

	first, err := b.Schedule(ctx, chrono.ScheduleInput{Kind: "email", When: time.Now(), IdempotencyKey: "welcome-42"})
	require.NoError(t, err)

	second, err := b.Schedule(ctx, chrono.ScheduleInput{Kind: "email", When: time.Now(), IdempotencyKey: "welcome-42"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "scheduling with a duplicate idempotency key must return the existing task")

	claimed, err := b.Claim(ctx, chrono.ClaimInput{Kind: "email", ClaimStaleTimeout: time.Minute})
	require.NoError(t, err)
	_, err = b.Complete(ctx, claimed.ID)
	require.NoError(t, err)

	// Once terminal, the idempotency key is free again.
	third, err := b.Schedule(ctx, chrono.ScheduleInput{Kind: "email", When: time.Now(), IdempotencyKey: "welcome-42"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestClaimOrdersByPriorityThenScheduledAt(t *testing.T) {
	ctx := context.Background()
	b := memstore.New()
	base := time.Now().Add(-time.Hour)

	low, err := b.Schedule(ctx, chrono.ScheduleInput{Kind: "k", When: base, Priority: 5})
	require.NoError(t, err)
	_ = low
	high, err := b.Schedule(ctx, chrono.ScheduleInput{Kind: "k", When: base.Add(time.Minute), Priority: 1})
	require.NoError(t, err)

	claimed, err := b.Claim(ctx, chrono.ClaimInput{Kind: "k", ClaimStaleTimeout: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, high.ID, claimed.ID, "lower Priority value must claim first regardless of scheduling order")
}

func TestClaimReclaimsStaleClaimsWithoutIncrementingRetryCount(t *testing.T) {
	ctx := context.Background()
	current := time.Now()
	b := memstore.New().WithClock(func() time.Time { return current })

	scheduled, err := b.Schedule(ctx, chrono.ScheduleInput{Kind: "k", When: current})
	require.NoError(t, err)

	claimed, err := b.Claim(ctx, chrono.ClaimInput{Kind: "k", ClaimStaleTimeout: time.Minute})
	require.NoError(t, err)
	require.Equal(t, scheduled.ID, claimed.ID)

	// Advance time past the staleness window without completing/unclaiming.
	current = current.Add(2 * time.Minute)

	reclaimed, err := b.Claim(ctx, chrono.ClaimInput{Kind: "k", ClaimStaleTimeout: time.Minute})
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, scheduled.ID, reclaimed.ID)
	assert.Equal(t, 0, reclaimed.RetryCount, "reclaiming a stale claim must not touch RetryCount")
}

func TestUnclaimReturnsTaskToPendingAndIncrementsRetryCount(t *testing.T) {
	ctx := context.Background()
	b := memstore.New()

	scheduled, err := b.Schedule(ctx, chrono.ScheduleInput{Kind: "k", When: time.Now()})
	require.NoError(t, err)
	claimed, err := b.Claim(ctx, chrono.ClaimInput{Kind: "k", ClaimStaleTimeout: time.Minute})
	require.NoError(t, err)
	require.Equal(t, scheduled.ID, claimed.ID)

	next := time.Now().Add(5 * time.Minute)
	unclaimed, err := b.Unclaim(ctx, claimed.ID, next)
	require.NoError(t, err)
	assert.Equal(t, chrono.StatusPending, unclaimed.Status)
	assert.Equal(t, 1, unclaimed.RetryCount)
	assert.True(t, unclaimed.ScheduledAt.Equal(next))
	assert.Nil(t, unclaimed.ClaimedAt)
}

func TestFailRequiresNonTerminalTask(t *testing.T) {
	ctx := context.Background()
	b := memstore.New()

	scheduled, err := b.Schedule(ctx, chrono.ScheduleInput{Kind: "k", When: time.Now()})
	require.NoError(t, err)
	claimed, err := b.Claim(ctx, chrono.ClaimInput{Kind: "k", ClaimStaleTimeout: time.Minute})
	require.NoError(t, err)

	failed, err := b.Fail(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, chrono.StatusFailed, failed.Status)

	_, err = b.Fail(ctx, claimed.ID)
	require.ErrorIs(t, err, chrono.ErrInvalidTransition)
}

func TestDeleteRequiresPendingUnlessForced(t *testing.T) {
	ctx := context.Background()
	b := memstore.New()

	scheduled, err := b.Schedule(ctx, chrono.ScheduleInput{Kind: "k", When: time.Now()})
	require.NoError(t, err)
	claimed, err := b.Claim(ctx, chrono.ClaimInput{Kind: "k", ClaimStaleTimeout: time.Minute})
	require.NoError(t, err)

	_, err = b.Delete(ctx, chrono.DeleteKey{ID: claimed.ID}, false)
	require.ErrorIs(t, err, chrono.ErrDeleteNotPending)

	deleted, err := b.Delete(ctx, chrono.DeleteKey{ID: claimed.ID}, true)
	require.NoError(t, err)
	assert.Equal(t, claimed.ID, deleted.ID)

	_, err = b.Delete(ctx, chrono.DeleteKey{ID: scheduled.ID}, true)
	require.NoError(t, err, "force delete of a missing task must not error")
}

func TestDeleteByIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	b := memstore.New()

	scheduled, err := b.Schedule(ctx, chrono.ScheduleInput{Kind: "k", When: time.Now(), IdempotencyKey: "dedupe-me"})
	require.NoError(t, err)

	deleted, err := b.Delete(ctx, chrono.DeleteKey{Kind: "k", IdempotencyKey: "dedupe-me"}, false)
	require.NoError(t, err)
	assert.Equal(t, scheduled.ID, deleted.ID)
}

func TestCollectStatistics(t *testing.T) {
	ctx := context.Background()
	b := memstore.New()

	_, err := b.Schedule(ctx, chrono.ScheduleInput{Kind: "email", When: time.Now()})
	require.NoError(t, err)
	_, err = b.Schedule(ctx, chrono.ScheduleInput{Kind: "email", When: time.Now()})
	require.NoError(t, err)
	claimed, err := b.Claim(ctx, chrono.ClaimInput{Kind: "email", ClaimStaleTimeout: time.Minute})
	require.NoError(t, err)
	_, err = b.Fail(ctx, claimed.ID)
	require.NoError(t, err)

	stats, err := b.CollectStatistics(ctx, []string{"email"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats["email"].PendingCount)
	assert.Equal(t, 0, stats["email"].ClaimedCount)
	assert.Equal(t, 1, stats["email"].FailedCount)
}

func TestClaimIsExclusiveUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	b := memstore.New()

	const n = 25
	for i := 0; i < n; i++ {
		_, err := b.Schedule(ctx, chrono.ScheduleInput{Kind: "k", When: time.Now()})
		require.NoError(t, err)
	}

	claimedIDs := make(chan string, n*2)
	var wg sync.WaitGroup
	for i := 0; i < n*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := b.Claim(ctx, chrono.ClaimInput{Kind: "k", ClaimStaleTimeout: time.Minute})
			require.NoError(t, err)
			if task != nil {
				claimedIDs <- task.ID
			}
		}()
	}
	wg.Wait()
	close(claimedIDs)

	seen := make(map[string]bool)
	for id := range claimedIDs {
		assert.False(t, seen[id], "the same task must never be claimed twice concurrently")
		seen[id] = true
	}
	assert.Len(t, seen, n)
}
