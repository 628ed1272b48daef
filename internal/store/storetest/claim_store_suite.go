// Package storetest holds behaviour checks shared by every ClaimStore driver.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sitaurs/pterodactyl-claim/custom_errors"
	"github.com/sitaurs/pterodactyl-claim/internal/state"
	"github.com/sitaurs/pterodactyl-claim/internal/store"
	"github.com/sitaurs/pterodactyl-claim/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jid = "6281234567890@s.whatsapp.net"

func RunClaimStoreSuite(t *testing.T, newStore func(t *testing.T) store.ClaimStore) {
	t.Run("create and find", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		claim, err := s.Create(ctx, types.NewClaimInput{WAJID: jid, Template: "nodejs", Username: "alice"})
		require.NoError(t, err)
		assert.Equal(t, state.ClaimCreating, claim.Status)
		assert.NotEmpty(t, claim.ClaimID)

		found, err := s.FindByID(ctx, claim.ClaimID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "alice", found.Username)

		active, err := s.FindActiveByJID(ctx, jid)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, claim.ClaimID, active.ClaimID)

		missing, err := s.FindByID(ctx, "does-not-exist")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("second active claim conflicts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Create(ctx, types.NewClaimInput{WAJID: jid, Template: "nodejs"})
		require.NoError(t, err)
		_, err = s.Create(ctx, types.NewClaimInput{WAJID: jid, Template: "python"})
		assert.ErrorIs(t, err, custom_errors.ErrConflict)

		_, err = s.Create(ctx, types.NewClaimInput{WAJID: "628999@s.whatsapp.net", Template: "nodejs"})
		assert.NoError(t, err)
	})

	t.Run("concurrent creates yield exactly one claim", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const workers = 16
		var wg sync.WaitGroup
		var mu sync.Mutex
		successes, conflicts := 0, 0
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Create(ctx, types.NewClaimInput{WAJID: jid, Template: "nodejs"})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, custom_errors.ErrConflict):
					conflicts++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, workers-1, conflicts)
	})

	t.Run("update mutates and bumps updated_at", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		claim, err := s.Create(ctx, types.NewClaimInput{WAJID: jid, Template: "nodejs"})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)

		updated, err := s.Update(ctx, claim.ClaimID, func(c *types.ClaimRecord) error {
			c.UserID = types.Ptr(int64(1))
			c.ServerID = types.Ptr(int64(2))
			c.AllocationID = types.Ptr(int64(3))
			return c.TransitionTo(state.ClaimActive)
		})
		require.NoError(t, err)
		assert.Equal(t, state.ClaimActive, updated.Status)
		assert.True(t, updated.UpdatedAt.After(claim.UpdatedAt))

		reloaded, err := s.FindByID(ctx, claim.ClaimID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), *reloaded.ServerID)
	})

	t.Run("update error leaves record untouched", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		claim, err := s.Create(ctx, types.NewClaimInput{WAJID: jid, Template: "nodejs"})
		require.NoError(t, err)

		_, err = s.Update(ctx, claim.ClaimID, func(c *types.ClaimRecord) error {
			c.Template = "changed"
			return c.TransitionTo(state.ClaimDeleted)
		})
		assert.ErrorIs(t, err, custom_errors.ErrInvalidTransition)

		reloaded, err := s.FindByID(ctx, claim.ClaimID)
		require.NoError(t, err)
		assert.Equal(t, "nodejs", reloaded.Template)
		assert.Equal(t, state.ClaimCreating, reloaded.Status)
	})

	t.Run("update of missing record returns nil", func(t *testing.T) {
		s := newStore(t)
		claim, err := s.Update(context.Background(), "missing", func(c *types.ClaimRecord) error { return nil })
		require.NoError(t, err)
		assert.Nil(t, claim)
	})

	t.Run("failed claim frees the jid", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, err := s.Create(ctx, types.NewClaimInput{WAJID: jid, Template: "nodejs"})
		require.NoError(t, err)
		_, err = s.Update(ctx, first.ClaimID, func(c *types.ClaimRecord) error {
			return c.Fail(custom_errors.FailureNoAlloc)
		})
		require.NoError(t, err)

		active, err := s.FindActiveByJID(ctx, jid)
		require.NoError(t, err)
		assert.Nil(t, active)

		time.Sleep(2 * time.Millisecond)
		second, err := s.Create(ctx, types.NewClaimInput{WAJID: jid, Template: "nodejs"})
		require.NoError(t, err)

		latest, err := s.FindLatestByJID(ctx, jid)
		require.NoError(t, err)
		assert.Equal(t, second.ClaimID, latest.ClaimID)

		failed, err := s.FindByID(ctx, first.ClaimID)
		require.NoError(t, err)
		require.NotNil(t, failed.FailureCode)
		assert.Equal(t, custom_errors.FailureNoAlloc, *failed.FailureCode)
	})

	t.Run("list count and purge", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a, err := s.Create(ctx, types.NewClaimInput{WAJID: "a@s.whatsapp.net", Template: "nodejs"})
		require.NoError(t, err)
		_, err = s.Create(ctx, types.NewClaimInput{WAJID: "b@s.whatsapp.net", Template: "nodejs"})
		require.NoError(t, err)
		_, err = s.Update(ctx, a.ClaimID, func(c *types.ClaimRecord) error {
			return c.Fail(custom_errors.FailureAPIDown)
		})
		require.NoError(t, err)

		counts, err := s.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[state.ClaimFailed])
		assert.Equal(t, 1, counts[state.ClaimCreating])
		assert.Equal(t, 0, counts[state.ClaimDeleted])

		page, err := s.ListByStatus(ctx, state.ClaimCreating, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, page.TotalItems)

		n, err := s.PurgeTerminal(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		n, err = s.PurgeTerminal(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		gone, err := s.FindByID(ctx, a.ClaimID)
		require.NoError(t, err)
		assert.Nil(t, gone)
	})
}
