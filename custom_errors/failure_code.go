package custom_errors

import "errors"

type FailureCode string

const (
	FailureNoAlloc            FailureCode = "NO_ALLOC"
	FailureEggInvalid         FailureCode = "EGG_INVALID"
	FailureAPIDown            FailureCode = "API_DOWN"
	FailureHealthcheckTimeout FailureCode = "HEALTHCHECK_TIMEOUT"
	FailureBotTimeout         FailureCode = "BOT_TIMEOUT"
	FailureUnknown            FailureCode = "UNKNOWN"
)

func (c FailureCode) String() string {
	return string(c)
}

// Classify maps an error raised while processing a claim onto its failure code.
// Order matters: a node-exhaustion error may wrap the last hosting error it saw.
func Classify(err error) FailureCode {
	switch {
	case err == nil:
		return FailureUnknown
	case errors.Is(err, ErrNoAllocationAvailable):
		return FailureNoAlloc
	case errors.Is(err, ErrEggInvalid):
		return FailureEggInvalid
	case errors.Is(err, ErrBotTimeout), errors.Is(err, ErrMembershipUnavailable):
		return FailureBotTimeout
	case errors.Is(err, ErrHealthcheckTimeout):
		return FailureHealthcheckTimeout
	case errors.Is(err, ErrHostingAPI):
		return FailureAPIDown
	default:
		return FailureUnknown
	}
}

// FailureMessage is the human readable reason stored on a failed claim and shown to the user.
func FailureMessage(code FailureCode) string {
	switch code {
	case FailureNoAlloc:
		return "All hosting nodes are currently full. Please try again later."
	case FailureEggInvalid:
		return "The selected server template is not available."
	case FailureAPIDown:
		return "The hosting panel is unreachable right now. Please try again later."
	case FailureHealthcheckTimeout:
		return "The server was created but did not become reachable in time."
	case FailureBotTimeout:
		return "Group membership could not be verified. Please try again later."
	default:
		return "Server creation failed. Please try again."
	}
}
