package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-scribe/verification-service/internal/verification"
)

func seed(t *testing.T, s *MemoryStore, kind verification.Kind, n int) []string {
	t.Helper()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		sub := &verification.Submission{
			ID:        fmt.Sprintf("%s-%02d", kind, i),
			Kind:      kind,
			OwnerID:   "user-1",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.Create(context.Background(), sub))
		ids = append(ids, sub.ID)
	}
	return ids
}

func verifiedResult() *verification.VerificationResult {
	return &verification.VerificationResult{
		FinalStatus:    verification.StatusVerified,
		OverallScore:   85,
		RewardQuantity: 2.16,
	}
}

func TestMemoryStore_ClaimOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ids := seed(t, s, verification.KindComplaint, 4)
	seed(t, s, verification.KindPlantation, 2)

	claimed, err := s.ClaimPending(ctx, verification.KindComplaint, 3)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	for i, sub := range claimed {
		assert.Equal(t, ids[i], sub.ID)
		assert.Equal(t, verification.StatusInProgress, sub.Status)
		assert.NotNil(t, sub.ClaimedAt)
	}

	rest, err := s.ClaimPending(ctx, verification.KindComplaint, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, ids[3], rest[0].ID)

	none, err := s.ClaimPending(ctx, verification.KindComplaint, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_ConcurrentClaimsNeverOverlap(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s, verification.KindPlantation, 50)

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := s.ClaimPending(ctx, verification.KindPlantation, 5)
				if err != nil || len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, sub := range batch {
					seen[sub.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 50)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func TestMemoryStore_Complete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ids := seed(t, s, verification.KindPlantation, 2)

	err := s.Complete(ctx, ids[0], verifiedResult(), verification.MarketplaceListed)
	assert.ErrorIs(t, err, ErrStatusConflict)

	_, err = s.ClaimPending(ctx, verification.KindPlantation, 1)
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, ids[0], verifiedResult(), verification.MarketplaceListed))

	got, err := s.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, verification.StatusVerified, got.Status)
	assert.Equal(t, verification.MarketplaceListed, got.MarketplaceStatus)
	require.NotNil(t, got.Result)
	assert.Equal(t, 2.16, got.Result.RewardQuantity)
	assert.NotNil(t, got.VerifiedAt)

	// a second completion is refused
	err = s.Complete(ctx, ids[0], verifiedResult(), "")
	assert.ErrorIs(t, err, ErrStatusConflict)

	err = s.Complete(ctx, "missing", verifiedResult(), "")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.Complete(ctx, ids[1], &verification.VerificationResult{FinalStatus: verification.StatusPending}, "")
	assert.Error(t, err)
}

func TestMemoryStore_ReleaseRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ids := seed(t, s, verification.KindComplaint, 1)

	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := s.ClaimPending(ctx, verification.KindComplaint, 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1, "attempt %d", attempt)

		status, err := s.Release(ctx, ids[0], "mongo write timeout", 3)
		require.NoError(t, err)
		if attempt < 3 {
			assert.Equal(t, verification.StatusPending, status)
		} else {
			assert.Equal(t, verification.StatusFailed, status)
		}
	}

	got, err := s.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, verification.StatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, "mongo write timeout", got.LastError)
	assert.Nil(t, got.Result)
	assert.Nil(t, got.ClaimedAt)

	claimed, err := s.ClaimPending(ctx, verification.KindComplaint, 1)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	_, err = s.Release(ctx, ids[0], "again", 3)
	assert.ErrorIs(t, err, ErrStatusConflict)
}

func TestMemoryStore_Reconciliation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ids := seed(t, s, verification.KindPlantation, 3)

	_, err := s.ClaimPending(ctx, verification.KindPlantation, 3)
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, ids[0], verifiedResult(), ""))
	require.NoError(t, s.Complete(ctx, ids[1], verifiedResult(), ""))
	require.NoError(t, s.Complete(ctx, ids[2], &verification.VerificationResult{FinalStatus: verification.StatusRejected}, ""))

	unrewarded, err := s.FindUnrewarded(ctx, verification.KindPlantation, 10)
	require.NoError(t, err)
	require.Len(t, unrewarded, 2)

	require.NoError(t, s.MarkRewarded(ctx, ids[0]))
	assert.ErrorIs(t, s.MarkRewarded(ctx, ids[2]), ErrStatusConflict)

	unrewarded, err = s.FindUnrewarded(ctx, verification.KindPlantation, 10)
	require.NoError(t, err)
	require.Len(t, unrewarded, 1)
	assert.Equal(t, ids[1], unrewarded[0].ID)

	counts, err := s.CountByStatus(ctx, verification.KindPlantation)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[verification.StatusVerified])
	assert.Equal(t, int64(1), counts[verification.StatusRejected])
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ids := seed(t, s, verification.KindComplaint, 1)

	got, err := s.Get(ctx, ids[0])
	require.NoError(t, err)
	got.Status = verification.StatusVerified

	again, err := s.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, verification.StatusPending, again.Status)

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.Create(ctx, &verification.Submission{ID: ids[0], Kind: verification.KindComplaint}))
}

func TestMemoryStore_UnclaimKeepsAttempts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ids := seed(t, s, verification.KindPlantation, 1)

	_, err := s.ClaimPending(ctx, verification.KindPlantation, 1)
	require.NoError(t, err)
	require.NoError(t, s.Unclaim(ctx, ids[0]))

	sub, err := s.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, verification.StatusPending, sub.Status)
	assert.Zero(t, sub.Attempts)
	assert.Nil(t, sub.ClaimedAt)

	assert.ErrorIs(t, s.Unclaim(ctx, ids[0]), ErrStatusConflict)
	assert.ErrorIs(t, s.Unclaim(ctx, "missing"), ErrNotFound)
}

func TestMemoryStore_FindStale(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	claimedAt := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return claimedAt }
	ids := seed(t, s, verification.KindComplaint, 3)

	_, err := s.ClaimPending(ctx, verification.KindComplaint, 2)
	require.NoError(t, err)

	stale, err := s.FindStale(ctx, verification.KindComplaint, claimedAt, 10)
	require.NoError(t, err)
	assert.Empty(t, stale, "claims at the cutoff are still live")

	stale, err = s.FindStale(ctx, verification.KindComplaint, claimedAt.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, ids[0], stale[0].ID)
	assert.Equal(t, ids[1], stale[1].ID)

	stale, err = s.FindStale(ctx, verification.KindPlantation, claimedAt.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestMemoryStore_ReviewRouting(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ids := seed(t, s, verification.KindPlantation, 2)
	_, err := s.ClaimPending(ctx, verification.KindPlantation, 2)
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, ids[0], &verification.VerificationResult{FinalStatus: verification.StatusNeedsReview}, ""))
	require.NoError(t, s.Complete(ctx, ids[1], verifiedResult(), verification.MarketplaceListed))

	unrouted, err := s.FindUnrouted(ctx, verification.KindPlantation, 10)
	require.NoError(t, err)
	require.Len(t, unrouted, 1)
	assert.Equal(t, ids[0], unrouted[0].ID)

	require.NoError(t, s.MarkReviewRouted(ctx, ids[0]))
	assert.ErrorIs(t, s.MarkReviewRouted(ctx, ids[1]), ErrStatusConflict)

	unrouted, err = s.FindUnrouted(ctx, verification.KindPlantation, 10)
	require.NoError(t, err)
	assert.Empty(t, unrouted)
}
