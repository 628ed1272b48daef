package state

type ClaimStatus string

const (
	ClaimCreating ClaimStatus = "creating"
	ClaimActive   ClaimStatus = "active"
	ClaimFailed   ClaimStatus = "failed"
	ClaimDeleting ClaimStatus = "deleting"
	ClaimDeleted  ClaimStatus = "deleted"
)

func (s ClaimStatus) String() string {
	return string(s)
}

var AllClaimStatuses = []ClaimStatus{
	ClaimCreating,
	ClaimActive,
	ClaimFailed,
	ClaimDeleting,
	ClaimDeleted,
}

type ClaimTransition struct {
	From ClaimStatus
	To   ClaimStatus
}

// ValidClaimTransitions is the whole claim lifecycle; failed and deleted are terminal.
var ValidClaimTransitions = []ClaimTransition{
	{From: ClaimCreating, To: ClaimActive},
	{From: ClaimCreating, To: ClaimFailed},
	{From: ClaimActive, To: ClaimDeleting},
	{From: ClaimDeleting, To: ClaimDeleted},
	{From: ClaimDeleting, To: ClaimActive},
}

func IsValidClaimTransition(from, to ClaimStatus) bool {
	for _, t := range ValidClaimTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// IsActive reports whether the status holds the one-claim-per-JID slot.
func (s ClaimStatus) IsActive() bool {
	return s == ClaimCreating || s == ClaimActive
}

func (s ClaimStatus) IsTerminal() bool {
	return s == ClaimFailed || s == ClaimDeleted
}

func (s ClaimStatus) IsValid() bool {
	for _, c := range AllClaimStatuses {
		if c == s {
			return true
		}
	}
	return false
}
