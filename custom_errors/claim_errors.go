package custom_errors

import (
	"errors"
	"fmt"
)

var (
	ErrValidation            = errors.New("validation failed")
	ErrNotAMember            = errors.New("not a member of the target group")
	ErrMembershipUnavailable = errors.New("membership check unavailable")
	ErrDuplicateActiveClaim  = errors.New("an active claim already exists for this identity")
	ErrConflict              = errors.New("active claim conflict")
	ErrClaimNotFound         = errors.New("claim not found")
	ErrInvalidTransition     = errors.New("invalid claim status transition")
	ErrInvalidToken          = errors.New("invalid claim token")

	ErrNoAllocationAvailable = errors.New("NO_ALLOC: all nodes are full or unavailable")
	ErrEggInvalid            = errors.New("template not found")
	ErrHostingAPI            = errors.New("hosting api error")
	ErrHealthcheckTimeout    = errors.New("health check failed")
	ErrBotTimeout            = errors.New("BOT_TIMEOUT: bot service unavailable")
)

// HostingAPIError carries the failing panel operation and the HTTP status, if any.
// A zero StatusCode means the request never got a response.
type HostingAPIError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *HostingAPIError) Error() string {
	msg := fmt.Sprintf("hosting api %s", e.Op)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *HostingAPIError) Unwrap() error { return e.Err }

func (e *HostingAPIError) Is(target error) bool { return target == ErrHostingAPI }

// IsNotFound reports whether the panel answered 404.
func IsNotFound(err error) bool {
	var apiErr *HostingAPIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
