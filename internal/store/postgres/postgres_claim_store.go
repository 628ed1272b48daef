package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sitaurs/pterodactyl-claim/custom_errors"
	"github.com/sitaurs/pterodactyl-claim/internal/state"
	"github.com/sitaurs/pterodactyl-claim/internal/store"
	"github.com/sitaurs/pterodactyl-claim/types"
)

const uniqueViolation = "23505"

const claimColumns = `claim_id, wa_jid, status, template, ptero_username, panel_url,
		       user_id, server_id, allocation_id, node_id,
		       allocation_ip, allocation_alias, allocation_port,
		       delete_job_id, deletion_scheduled_at, failure_code, failure_reason,
		       created_at, updated_at, last_event_at, last_healthcheck_at`

// PostgresClaimStore keeps claims in claim_schema.claims. The one-active-claim
// rule is a partial unique index, so concurrent creates race at the database.
type PostgresClaimStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresClaimStore(db *sql.DB) *PostgresClaimStore {
	return &PostgresClaimStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *PostgresClaimStore) Create(ctx context.Context, input types.NewClaimInput) (*types.ClaimRecord, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO claim_schema.claims (
			claim_id, wa_jid, status, template, ptero_username, panel_url, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, claim.ClaimID, claim.WAJID, claim.Status, claim.Template, claim.Username, claim.PanelURL, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create claim for %s: %w", input.WAJID, custom_errors.ErrConflict)
		}
		return nil, fmt.Errorf("create claim: %w", err)
	}
	return claim, nil
}

func (s *PostgresClaimStore) FindByID(ctx context.Context, id string) (*types.ClaimRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claim_schema.claims WHERE claim_id = $1`, id)
	return scanClaimOrNil(row)
}

func (s *PostgresClaimStore) FindActiveByJID(ctx context.Context, jid string) (*types.ClaimRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+claimColumns+`
		FROM claim_schema.claims
		WHERE wa_jid = $1 AND status IN ($2, $3)
		LIMIT 1
	`, jid, state.ClaimCreating, state.ClaimActive)
	return scanClaimOrNil(row)
}

func (s *PostgresClaimStore) FindLatestByJID(ctx context.Context, jid string) (*types.ClaimRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+claimColumns+`
		FROM claim_schema.claims
		WHERE wa_jid = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, jid)
	return scanClaimOrNil(row)
}

// Update locks the row for the duration of fn, so concurrent updates of the
// same claim serialize on the row lock.
func (s *PostgresClaimStore) Update(ctx context.Context, id string, fn store.MutateFunc) (*types.ClaimRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim update: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claim_schema.claims WHERE claim_id = $1 FOR UPDATE`, id)
	claim, err := scanClaimOrNil(row)
	if err != nil || claim == nil {
		return nil, err
	}

	if err := fn(claim); err != nil {
		return nil, err
	}
	claim.ClaimID = id
	claim.UpdatedAt = s.now()

	_, err = tx.ExecContext(ctx, `
		UPDATE claim_schema.claims
		SET status = $2,
		    user_id = $3,
		    server_id = $4,
		    allocation_id = $5,
		    node_id = $6,
		    allocation_ip = $7,
		    allocation_alias = $8,
		    allocation_port = $9,
		    delete_job_id = $10,
		    deletion_scheduled_at = $11,
		    failure_code = $12,
		    failure_reason = $13,
		    updated_at = $14,
		    last_event_at = $15,
		    last_healthcheck_at = $16
		WHERE claim_id = $1
	`,
		id,
		claim.Status,
		claim.UserID,
		claim.ServerID,
		claim.AllocationID,
		claim.NodeID,
		claim.AllocationIP,
		claim.AllocationAlias,
		claim.AllocationPort,
		claim.DeleteJobID,
		claim.DeletionScheduledAt,
		claim.FailureCode,
		claim.FailureReason,
		claim.UpdatedAt,
		claim.LastEventAt,
		claim.LastHealthcheckAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("update claim %s: %w", id, custom_errors.ErrConflict)
		}
		return nil, fmt.Errorf("update claim %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim update: %w", err)
	}
	return claim, nil
}

func (s *PostgresClaimStore) ListByStatus(ctx context.Context, status state.ClaimStatus, page, pageSize int) (*types.PaginationResult[types.ClaimRecord], error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM claim_schema.claims WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+claimColumns+`
		FROM claim_schema.claims
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, status, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []types.ClaimRecord
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, *claim)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return types.NewPaginationResult(claims, total, page, pageSize), nil
}

func (s *PostgresClaimStore) CountByStatus(ctx context.Context) (map[state.ClaimStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) AS count
		FROM claim_schema.claims
		GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[state.ClaimStatus]int)
	for rows.Next() {
		var status state.ClaimStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		result[status] = count
	}
	for _, status := range state.AllClaimStatuses {
		if _, ok := result[status]; !ok {
			result[status] = 0
		}
	}
	return result, rows.Err()
}

func (s *PostgresClaimStore) PurgeTerminal(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM claim_schema.claims
		WHERE status IN ($1, $2) AND updated_at < $3
	`, state.ClaimFailed, state.ClaimDeleted, olderThan)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (s *PostgresClaimStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func scanClaimOrNil(row rowScanner) (*types.ClaimRecord, error) {
	claim, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return claim, err
}

func scanClaim(row rowScanner) (*types.ClaimRecord, error) {
	var c types.ClaimRecord
	if err := row.Scan(
		&c.ClaimID,
		&c.WAJID,
		&c.Status,
		&c.Template,
		&c.Username,
		&c.PanelURL,
		&c.UserID,
		&c.ServerID,
		&c.AllocationID,
		&c.NodeID,
		&c.AllocationIP,
		&c.AllocationAlias,
		&c.AllocationPort,
		&c.DeleteJobID,
		&c.DeletionScheduledAt,
		&c.FailureCode,
		&c.FailureReason,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.LastEventAt,
		&c.LastHealthcheckAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}
