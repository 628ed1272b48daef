package store

import (
	"context"
	"time"

	"github.com/sitaurs/pterodactyl-claim/internal/state"
	"github.com/sitaurs/pterodactyl-claim/types"
)

// MutateFunc edits a claim in place inside the store's critical section.
// Returning an error aborts the update and leaves the stored record untouched.
type MutateFunc func(claim *types.ClaimRecord) error

// ClaimStore is the single source of truth for claim records.
// Every mutation is atomic with respect to every other mutation.
type ClaimStore interface {
	// Create assigns an ID and timestamps and persists the record with status creating.
	// It fails with custom_errors.ErrConflict if the JID already holds an active claim.
	Create(ctx context.Context, input types.NewClaimInput) (*types.ClaimRecord, error)

	// FindByID returns nil, nil when no record exists.
	FindByID(ctx context.Context, id string) (*types.ClaimRecord, error)

	// FindActiveByJID returns the creating or active claim for jid, or nil.
	FindActiveByJID(ctx context.Context, jid string) (*types.ClaimRecord, error)

	// FindLatestByJID returns the newest claim for jid regardless of status, or nil.
	FindLatestByJID(ctx context.Context, jid string) (*types.ClaimRecord, error)

	// Update applies fn to the current record, bumps updated_at and persists it.
	// It returns nil, nil if the record does not exist.
	Update(ctx context.Context, id string, fn MutateFunc) (*types.ClaimRecord, error)

	ListByStatus(ctx context.Context, status state.ClaimStatus, page, pageSize int) (*types.PaginationResult[types.ClaimRecord], error)

	CountByStatus(ctx context.Context) (map[state.ClaimStatus]int, error)

	// PurgeTerminal removes failed and deleted claims last updated before olderThan.
	PurgeTerminal(ctx context.Context, olderThan time.Time) (int, error)

	Close() error
}
