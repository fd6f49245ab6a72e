package tier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/muninn/pkg/pattern"
	"github.com/orneryd/muninn/pkg/storage"
)

// backdate rewrites a stored record's last access so recency decay can
// be exercised without waiting.
func backdate(t *testing.T, store storage.Store, id string, last time.Time) {
	t.Helper()
	ctx := context.Background()
	rec, err := store.Get(ctx, id)
	require.NoError(t, err)
	rec.Access.LastAccessed = last
	require.NoError(t, store.Put(ctx, rec))
}

func TestMigrationStablePatternStays(t *testing.T) {
	r := newTestRouter(t, memStores(), nil, Config{})
	ctx := context.Background()

	out, err := r.Store(ctx, mkPattern("p", "steady", 0.95, 5, 50))
	require.NoError(t, err)
	require.Equal(t, pattern.TierPremium, out.Tier)

	for i := 0; i < 3; i++ {
		sum, err := r.RunMigrationCycle(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Evaluated)
		assert.Zero(t, sum.Promoted)
		assert.Zero(t, sum.Demoted)
	}
	_, tier, err := r.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, pattern.TierPremium, tier)
}

func TestMigrationDemotesIdlePattern(t *testing.T) {
	stores := memStores()
	r := newTestRouter(t, stores, nil, Config{})
	ctx := context.Background()

	out, err := r.Store(ctx, mkPattern("p", "once hot", 0.95, 5, 50))
	require.NoError(t, err)
	require.Equal(t, pattern.TierPremium, out.Tier)

	// Fresh pattern survives the first cycle untouched.
	sum, err := r.RunMigrationCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Demoted)

	// A month idle drops the raw score to the recency floor. The filter
	// does not chase the collapse in one step: the smoothed score lands
	// around 0.69, one band down.
	backdate(t, stores.Premium, "p", time.Now().Add(-30*24*time.Hour))
	sum, err = r.RunMigrationCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Demoted)

	_, tier, err := r.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, pattern.TierStandard, tier)

	audit := r.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, pattern.TierPremium, audit[0].From)
	assert.Equal(t, pattern.TierStandard, audit[0].To)
	assert.Equal(t, "demotion", audit[0].Reason)
	assert.InDelta(t, 0.686, audit[0].Score, 0.01)

	// Still idle, the smoothed score keeps converging toward the floor
	// and the pattern steps down band by band.
	for i := 0; i < 12; i++ {
		_, err := r.RunMigrationCycle(ctx)
		require.NoError(t, err)
	}
	_, tier, err = r.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, pattern.TierRejected, tier)

	_, ok := r.index.Lookup("p")
	assert.False(t, ok, "rejected patterns leave the index")

	counts := r.TierCounts(ctx)
	assert.Zero(t, counts[pattern.TierPremium])
	assert.Zero(t, counts[pattern.TierStandard])
	assert.Zero(t, counts[pattern.TierArchive])
	assert.Equal(t, 1, counts[pattern.TierRejected])

	audit = r.Audit()
	require.Len(t, audit, 3, "one audit record per band crossed")
	assert.Equal(t, pattern.TierArchive, audit[1].To)
	assert.Equal(t, pattern.TierRejected, audit[2].To)
}

func TestMigrationPromotesRecoveredPattern(t *testing.T) {
	r := newTestRouter(t, memStores(), nil, Config{})
	ctx := context.Background()

	// Ten days stale at ingestion, the pattern scores into archive.
	p := mkPattern("p", "revived", 0.95, 5, 50)
	p.Access.CreatedAt = time.Now().Add(-10 * 24 * time.Hour)
	out, err := r.Store(ctx, p)
	require.NoError(t, err)
	require.Equal(t, pattern.TierArchive, out.Tier)

	// One access restores recency; the next cycle promotes straight to
	// premium. Promotions are never deferred.
	require.NoError(t, r.Touch(ctx, "p", time.Now()))
	sum, err := r.RunMigrationCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Promoted)
	assert.Zero(t, sum.Deferred)

	_, tier, err := r.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, pattern.TierPremium, tier)

	audit := r.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, "promotion", audit[0].Reason)
	assert.Equal(t, pattern.TierArchive, audit[0].From)
	assert.Equal(t, pattern.TierPremium, audit[0].To)
}

func TestMigrationDefersRecoveringPattern(t *testing.T) {
	stores := memStores()
	r := newTestRouter(t, stores, nil, Config{})
	ctx := context.Background()

	out, err := r.Store(ctx, mkPattern("p", "recovering", 0.7, 10, 20))
	require.NoError(t, err)
	require.Equal(t, pattern.TierStandard, out.Tier)

	// Cycle 1 seeds the trend at the fresh score.
	_, err = r.RunMigrationCycle(ctx)
	require.NoError(t, err)

	// Two weeks idle starts a decline; the smoothed score is still above
	// the standard floor, so nothing moves yet.
	backdate(t, stores.Standard, "p", time.Now().Add(-14*24*time.Hour))
	sum, err := r.RunMigrationCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Demoted)

	// A recent access turns the trend around in the same cycle the
	// smoothed score dips under the floor. Rising velocity defers the
	// demotion instead of bouncing the pattern down and back.
	backdate(t, stores.Standard, "p", time.Now().Add(-84*time.Hour))
	sum, err = r.RunMigrationCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Deferred)
	assert.Zero(t, sum.Demoted)

	_, tier, err := r.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, pattern.TierStandard, tier)
	assert.Empty(t, r.Audit(), "deferred moves are not audited")
}

func TestMigrationCycleCounting(t *testing.T) {
	r := newTestRouter(t, memStores(), nil, Config{})
	ctx := context.Background()

	sum, err := r.RunMigrationCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Evaluated)
	assert.Equal(t, int64(1), sum.Cycles)

	sum, err = r.RunMigrationCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.Cycles)
	assert.Equal(t, int64(2), r.Cycles())
}

func TestMigrationCycleHonorsContext(t *testing.T) {
	r := newTestRouter(t, memStores(), nil, Config{})
	_, err := r.Store(context.Background(), mkPattern("p", "p", 0.7, 10, 20))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.RunMigrationCycle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMigrationFlushesRetriesFirst(t *testing.T) {
	stores := memStores()
	prem := &flakyStore{Store: stores.Premium}
	stores.Premium = prem
	r := newTestRouter(t, stores, nil, Config{RetryBackoff: time.Millisecond})
	ctx := context.Background()

	prem.setFail(true, false)
	_, err := r.Store(ctx, mkPattern("p", "queued", 0.95, 5, 50))
	require.Error(t, err)
	require.Equal(t, 1, r.RetryQueueLen())

	prem.setFail(false, false)
	time.Sleep(5 * time.Millisecond)

	// The cycle drains the retry queue before scoring, so the healed
	// write is already resident and gets evaluated in the same pass.
	sum, err := r.RunMigrationCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, r.RetryQueueLen())
	assert.Equal(t, 1, sum.Evaluated)

	_, tier, err := r.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, pattern.TierPremium, tier)
}

func TestAuditWindowBounded(t *testing.T) {
	r := newTestRouter(t, memStores(), nil, Config{AuditWindow: 2})
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := r.Store(ctx, mkPattern(id, id, 0.7, 10, 20))
		require.NoError(t, err)
		moved, err := r.Promote(ctx, id)
		require.NoError(t, err)
		require.True(t, moved)
	}

	audit := r.Audit()
	require.Len(t, audit, 2, "window keeps only the newest records")
	assert.Equal(t, "b", audit[0].PatternID)
	assert.Equal(t, "c", audit[1].PatternID)
}
