package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sitaurs/pterodactyl-claim/custom_errors"
	"github.com/sitaurs/pterodactyl-claim/internal/state"
	"github.com/sitaurs/pterodactyl-claim/internal/store"
	"github.com/sitaurs/pterodactyl-claim/types"
)

// MemoryClaimStore keeps claims in a map behind one mutex. It does not survive a
// restart and is meant for tests and local development.
type MemoryClaimStore struct {
	mu     sync.Mutex
	claims map[string]*types.ClaimRecord
	now    func() time.Time
}

func NewMemoryClaimStore() *MemoryClaimStore {
	return &MemoryClaimStore{
		claims: make(map[string]*types.ClaimRecord),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryClaimStore) Create(ctx context.Context, input types.NewClaimInput) (*types.ClaimRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.claims {
		if c.WAJID == input.WAJID && c.Status.IsActive() {
			return nil, fmt.Errorf("create claim for %s: %w", input.WAJID, custom_errors.ErrConflict)
		}
	}

	now := s.now()
	claim := &types.ClaimRecord{
		ClaimID:   uuid.NewString(),
		WAJID:     input.WAJID,
		Status:    state.ClaimCreating,
		Template:  input.Template,
		Username:  input.Username,
		PanelURL:  input.PanelURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.claims[claim.ClaimID] = claim
	return claim.Clone(), nil
}

func (s *MemoryClaimStore) FindByID(ctx context.Context, id string) (*types.ClaimRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims[id].Clone(), nil
}

func (s *MemoryClaimStore) FindActiveByJID(ctx context.Context, jid string) (*types.ClaimRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.claims {
		if c.WAJID == jid && c.Status.IsActive() {
			return c.Clone(), nil
		}
	}
	return nil, nil
}

func (s *MemoryClaimStore) FindLatestByJID(ctx context.Context, jid string) (*types.ClaimRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *types.ClaimRecord
	for _, c := range s.claims {
		if c.WAJID != jid {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	return latest.Clone(), nil
}

func (s *MemoryClaimStore) Update(ctx context.Context, id string, fn store.MutateFunc) (*types.ClaimRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.claims[id]
	if !ok {
		return nil, nil
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ClaimID = id
	if next.Status.IsActive() {
		for otherID, c := range s.claims {
			if otherID != id && c.WAJID == next.WAJID && c.Status.IsActive() {
				return nil, fmt.Errorf("update claim %s: %w", id, custom_errors.ErrConflict)
			}
		}
	}
	next.UpdatedAt = s.now()
	s.claims[id] = next
	return next.Clone(), nil
}

func (s *MemoryClaimStore) ListByStatus(ctx context.Context, status state.ClaimStatus, page, pageSize int) (*types.PaginationResult[types.ClaimRecord], error) {
	s.mu.Lock()
	var matched []types.ClaimRecord
	for _, c := range s.claims {
		if c.Status == status {
			matched = append(matched, *c.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return store.Paginate(matched, page, pageSize), nil
}

func (s *MemoryClaimStore) CountByStatus(ctx context.Context) (map[state.ClaimStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[state.ClaimStatus]int, len(state.AllClaimStatuses))
	for _, st := range state.AllClaimStatuses {
		counts[st] = 0
	}
	for _, c := range s.claims {
		counts[c.Status]++
	}
	return counts, nil
}

func (s *MemoryClaimStore) PurgeTerminal(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, c := range s.claims {
		if c.Status.IsTerminal() && c.UpdatedAt.Before(olderThan) {
			delete(s.claims, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryClaimStore) Close() error { return nil }
