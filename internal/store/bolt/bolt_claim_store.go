package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sitaurs/pterodactyl-claim/custom_errors"
	"github.com/sitaurs/pterodactyl-claim/internal/state"
	"github.com/sitaurs/pterodactyl-claim/internal/store"
	"github.com/sitaurs/pterodactyl-claim/types"
	bolt "go.etcd.io/bbolt"
)

var (
	claimsBucket      = []byte("claims")
	activeByJIDBucket = []byte("active_by_jid")
)

// BoltClaimStore keeps claims as JSON documents in a single bbolt file.
// bbolt allows one writer at a time, which gives Update its atomicity; the
// active_by_jid bucket enforces one creating/active claim per JID.
type BoltClaimStore struct {
	db  *bolt.DB
	now func() time.Time
}

func NewBoltClaimStore(path string) (*BoltClaimStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create bolt dir: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{claimsBucket, activeByJIDBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init bolt buckets: %w", err)
	}
	return &BoltClaimStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *BoltClaimStore) Create(ctx context.Context, input types.NewClaimInput) (*types.ClaimRecord, error) {
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

	err := s.db.Update(func(tx *bolt.Tx) error {
		index := tx.Bucket(activeByJIDBucket)
		if index.Get([]byte(claim.WAJID)) != nil {
			return fmt.Errorf("create claim for %s: %w", claim.WAJID, custom_errors.ErrConflict)
		}
		if err := putClaim(tx, claim); err != nil {
			return err
		}
		return index.Put([]byte(claim.WAJID), []byte(claim.ClaimID))
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

func (s *BoltClaimStore) FindByID(ctx context.Context, id string) (*types.ClaimRecord, error) {
	var claim *types.ClaimRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		claim, err = getClaim(tx, id)
		return err
	})
	return claim, err
}

func (s *BoltClaimStore) FindActiveByJID(ctx context.Context, jid string) (*types.ClaimRecord, error) {
	var claim *types.ClaimRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(activeByJIDBucket).Get([]byte(jid))
		if id == nil {
			return nil
		}
		var err error
		claim, err = getClaim(tx, string(id))
		return err
	})
	return claim, err
}

func (s *BoltClaimStore) FindLatestByJID(ctx context.Context, jid string) (*types.ClaimRecord, error) {
	var latest *types.ClaimRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(claimsBucket).ForEach(func(_, v []byte) error {
			var c types.ClaimRecord
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if c.WAJID == jid && (latest == nil || c.CreatedAt.After(latest.CreatedAt)) {
				latest = &c
			}
			return nil
		})
	})
	return latest, err
}

func (s *BoltClaimStore) Update(ctx context.Context, id string, fn store.MutateFunc) (*types.ClaimRecord, error) {
	var updated *types.ClaimRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		claim, err := getClaim(tx, id)
		if err != nil || claim == nil {
			return err
		}
		wasActive := claim.Status.IsActive()

		if err := fn(claim); err != nil {
			return err
		}
		claim.ClaimID = id
		claim.UpdatedAt = s.now()

		index := tx.Bucket(activeByJIDBucket)
		switch isActive := claim.Status.IsActive(); {
		case isActive && !wasActive:
			if owner := index.Get([]byte(claim.WAJID)); owner != nil && string(owner) != id {
				return fmt.Errorf("update claim %s: %w", id, custom_errors.ErrConflict)
			}
			if err := index.Put([]byte(claim.WAJID), []byte(id)); err != nil {
				return err
			}
		case !isActive && wasActive:
			if err := index.Delete([]byte(claim.WAJID)); err != nil {
				return err
			}
		}

		if err := putClaim(tx, claim); err != nil {
			return err
		}
		updated = claim
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *BoltClaimStore) ListByStatus(ctx context.Context, status state.ClaimStatus, page, pageSize int) (*types.PaginationResult[types.ClaimRecord], error) {
	var matched []types.ClaimRecord
	err := s.forEach(func(c *types.ClaimRecord) error {
		if c.Status == status {
			matched = append(matched, *c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return store.Paginate(matched, page, pageSize), nil
}

func (s *BoltClaimStore) CountByStatus(ctx context.Context) (map[state.ClaimStatus]int, error) {
	counts := make(map[state.ClaimStatus]int, len(state.AllClaimStatuses))
	for _, st := range state.AllClaimStatuses {
		counts[st] = 0
	}
	err := s.forEach(func(c *types.ClaimRecord) error {
		counts[c.Status]++
		return nil
	})
	return counts, err
}

func (s *BoltClaimStore) PurgeTerminal(ctx context.Context, olderThan time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(claimsBucket)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var c types.ClaimRecord
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if c.Status.IsTerminal() && c.UpdatedAt.Before(olderThan) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		// keys are deleted after ForEach: bbolt forbids mutating a bucket mid-iteration
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

func (s *BoltClaimStore) Close() error {
	return s.db.Close()
}

func (s *BoltClaimStore) forEach(fn func(c *types.ClaimRecord) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(claimsBucket).ForEach(func(_, v []byte) error {
			var c types.ClaimRecord
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			return fn(&c)
		})
	})
}

func getClaim(tx *bolt.Tx, id string) (*types.ClaimRecord, error) {
	raw := tx.Bucket(claimsBucket).Get([]byte(id))
	if raw == nil {
		return nil, nil
	}
	var c types.ClaimRecord
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode claim %s: %w", id, err)
	}
	return &c, nil
}

func putClaim(tx *bolt.Tx, c *types.ClaimRecord) error {
	if c.ClaimID == "" {
		return errors.New("claim id is required")
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode claim %s: %w", c.ClaimID, err)
	}
	return tx.Bucket(claimsBucket).Put([]byte(c.ClaimID), raw)
}
