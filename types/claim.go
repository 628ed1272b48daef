package types

import (
	"time"

	"github.com/sitaurs/pterodactyl-claim/custom_errors"
	"github.com/sitaurs/pterodactyl-claim/internal/state"
)

// ClaimRecord is one claim attempt. Records are never removed by the lifecycle;
// only the retention purge drops old terminal ones.
type ClaimRecord struct {
	ClaimID  string            `json:"claim_id"`
	WAJID    string            `json:"wa_jid"`
	Status   state.ClaimStatus `json:"status"`
	Template string            `json:"template"`
	Username string            `json:"ptero_username"`
	PanelURL string            `json:"panel_url,omitempty"`

	UserID       *int64 `json:"user_id,omitempty"`
	ServerID     *int64 `json:"server_id,omitempty"`
	AllocationID *int64 `json:"allocation_id,omitempty"`
	NodeID       *int64 `json:"node_id,omitempty"`

	AllocationIP    string `json:"allocation_ip,omitempty"`
	AllocationAlias string `json:"allocation_alias,omitempty"`
	AllocationPort  int    `json:"allocation_port,omitempty"`

	DeleteJobID         *string    `json:"delete_job_id,omitempty"`
	DeletionScheduledAt *time.Time `json:"deletion_scheduled_at,omitempty"`

	FailureCode   *custom_errors.FailureCode `json:"failure_code,omitempty"`
	FailureReason *string                    `json:"failure_reason,omitempty"`

	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	LastEventAt       *time.Time `json:"last_event_at,omitempty"`
	LastHealthcheckAt *time.Time `json:"last_healthcheck_at,omitempty"`
}

// NewClaimInput carries what the orchestrator knows at submission time.
type NewClaimInput struct {
	WAJID    string
	Template string
	Username string
	PanelURL string
}

// HasAllocation reports whether the hosting checkpoint has been persisted.
func (c *ClaimRecord) HasAllocation() bool {
	return c.ServerID != nil && c.UserID != nil && c.AllocationID != nil
}

// TransitionTo moves the record along the claim state machine.
func (c *ClaimRecord) TransitionTo(next state.ClaimStatus) error {
	if !state.IsValidClaimTransition(c.Status, next) {
		return &custom_errors.TransitionError{From: c.Status.String(), To: next.String()}
	}
	if next == state.ClaimActive && c.ServerID == nil {
		return &custom_errors.TransitionError{From: c.Status.String(), To: next.String()}
	}
	c.Status = next
	if next != state.ClaimDeleting {
		c.DeleteJobID = nil
		c.DeletionScheduledAt = nil
	}
	return nil
}

// Fail records a failure classification and moves the record to failed.
func (c *ClaimRecord) Fail(code custom_errors.FailureCode) error {
	if err := c.TransitionTo(state.ClaimFailed); err != nil {
		return err
	}
	reason := custom_errors.FailureMessage(code)
	c.FailureCode = &code
	c.FailureReason = &reason
	return nil
}

// Clone returns a deep copy so stores never hand out their internal pointers.
func (c *ClaimRecord) Clone() *ClaimRecord {
	if c == nil {
		return nil
	}
	cp := *c
	cp.UserID = clonePtr(c.UserID)
	cp.ServerID = clonePtr(c.ServerID)
	cp.AllocationID = clonePtr(c.AllocationID)
	cp.NodeID = clonePtr(c.NodeID)
	cp.DeleteJobID = clonePtr(c.DeleteJobID)
	cp.DeletionScheduledAt = clonePtr(c.DeletionScheduledAt)
	cp.FailureCode = clonePtr(c.FailureCode)
	cp.FailureReason = clonePtr(c.FailureReason)
	cp.LastEventAt = clonePtr(c.LastEventAt)
	cp.LastHealthcheckAt = clonePtr(c.LastHealthcheckAt)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr is a small helper for optional fields.
func Ptr[T any](v T) *T {
	return &v
}
