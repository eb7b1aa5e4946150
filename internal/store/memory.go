package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"carbon-scribe/verification-service/internal/verification"
	"carbon-scribe/verification-service/pkg/workflows"
)

// MemoryStore is an in-process Store used by tests and the local tick command
type MemoryStore struct {
	mu          sync.Mutex
	submissions map[string]*verification.Submission
	transitions *workflows.StateMachine
	now         func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		submissions: make(map[string]*verification.Submission),
		transitions: workflows.NewStateMachine(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(ctx context.Context, sub *verification.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if _, exists := s.submissions[sub.ID]; exists {
		return fmt.Errorf("submission %s already exists", sub.ID)
	}
	if sub.Status == "" {
		sub.Status = verification.StatusPending
	}
	now := s.now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	s.submissions[sub.ID] = clone(sub)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*verification.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(sub), nil
}

func (s *MemoryStore) ClaimPending(ctx context.Context, kind verification.Kind, limit int) ([]*verification.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := s.filter(func(sub *verification.Submission) bool {
		return sub.Kind == kind && sub.Status == verification.StatusPending
	}, limit)

	now := s.now()
	claimed := make([]*verification.Submission, 0, len(candidates))
	for _, sub := range candidates {
		if err := s.transition(sub, verification.StatusInProgress); err != nil {
			return claimed, err
		}
		sub.ClaimedAt = &now
		sub.UpdatedAt = now
		claimed = append(claimed, clone(sub))
	}
	return claimed, nil
}

func (s *MemoryStore) Complete(ctx context.Context, id string, result *verification.VerificationResult, marketplaceStatus string) error {
	if result == nil || !result.FinalStatus.HasResult() {
		return fmt.Errorf("complete %s: result must carry a terminal status", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[id]
	if !ok {
		return ErrNotFound
	}
	if sub.Status != verification.StatusInProgress {
		return fmt.Errorf("%w: %s is %s", ErrStatusConflict, id, sub.Status)
	}
	if err := s.transition(sub, result.FinalStatus); err != nil {
		return err
	}

	now := s.now()
	sub.Result = result
	sub.VerifiedAt = &now
	sub.UpdatedAt = now
	sub.LastError = ""
	if marketplaceStatus != "" {
		sub.MarketplaceStatus = marketplaceStatus
	}
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, id string, cause string, maxAttempts int) (verification.Status, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[id]
	if !ok {
		return "", ErrNotFound
	}
	if sub.Status != verification.StatusInProgress {
		return sub.Status, fmt.Errorf("%w: %s is %s", ErrStatusConflict, id, sub.Status)
	}

	sub.Attempts++
	sub.LastError = cause
	next := verification.StatusPending
	if sub.Attempts >= maxAttempts {
		next = verification.StatusFailed
	}
	if err := s.transition(sub, next); err != nil {
		return sub.Status, err
	}
	sub.ClaimedAt = nil
	sub.UpdatedAt = s.now()
	return next, nil
}

func (s *MemoryStore) Unclaim(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[id]
	if !ok {
		return ErrNotFound
	}
	if sub.Status != verification.StatusInProgress {
		return fmt.Errorf("%w: %s is %s", ErrStatusConflict, id, sub.Status)
	}
	if err := s.transition(sub, verification.StatusPending); err != nil {
		return err
	}
	sub.ClaimedAt = nil
	sub.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) FindStale(ctx context.Context, kind verification.Kind, cutoff time.Time, limit int) ([]*verification.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := s.filter(func(sub *verification.Submission) bool {
		return sub.Kind == kind && sub.Status == verification.StatusInProgress &&
			(sub.ClaimedAt == nil || sub.ClaimedAt.Before(cutoff))
	}, limit)
	out := make([]*verification.Submission, 0, len(found))
	for _, sub := range found {
		out = append(out, clone(sub))
	}
	return out, nil
}

func (s *MemoryStore) MarkRewarded(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[id]
	if !ok {
		return ErrNotFound
	}
	if sub.Status != verification.StatusVerified {
		return fmt.Errorf("%w: %s is %s", ErrStatusConflict, id, sub.Status)
	}
	sub.RewardApplied = true
	sub.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) FindUnrewarded(ctx context.Context, kind verification.Kind, limit int) ([]*verification.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := s.filter(func(sub *verification.Submission) bool {
		return sub.Kind == kind && sub.Status == verification.StatusVerified && !sub.RewardApplied
	}, limit)
	out := make([]*verification.Submission, 0, len(found))
	for _, sub := range found {
		out = append(out, clone(sub))
	}
	return out, nil
}

func (s *MemoryStore) MarkReviewRouted(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[id]
	if !ok {
		return ErrNotFound
	}
	if sub.Status != verification.StatusNeedsReview {
		return fmt.Errorf("%w: %s is %s", ErrStatusConflict, id, sub.Status)
	}
	sub.ReviewRouted = true
	sub.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) FindUnrouted(ctx context.Context, kind verification.Kind, limit int) ([]*verification.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := s.filter(func(sub *verification.Submission) bool {
		return sub.Kind == kind && sub.Status == verification.StatusNeedsReview && !sub.ReviewRouted
	}, limit)
	out := make([]*verification.Submission, 0, len(found))
	for _, sub := range found {
		out = append(out, clone(sub))
	}
	return out, nil
}

func (s *MemoryStore) CountByStatus(ctx context.Context, kind verification.Kind) (map[verification.Status]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[verification.Status]int64)
	for _, sub := range s.submissions {
		if sub.Kind == kind {
			counts[sub.Status]++
		}
	}
	return counts, nil
}

// filter returns matching submissions oldest first; limit <= 0 means no limit
func (s *MemoryStore) filter(match func(*verification.Submission) bool, limit int) []*verification.Submission {
	var out []*verification.Submission
	for _, sub := range s.submissions {
		if match(sub) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryStore) transition(sub *verification.Submission, to verification.Status) error {
	if !s.transitions.CanTransition(string(sub.Status), string(to)) {
		return fmt.Errorf("%w: %s cannot move from %s to %s", ErrStatusConflict, sub.ID, sub.Status, to)
	}
	sub.Status = to
	return nil
}

func clone(sub *verification.Submission) *verification.Submission {
	c := *sub
	return &c
}
