package rules

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig marks malformed auction rules. It is only ever returned while
// loading or starting a session.
var ErrInvalidConfig = errors.New("invalid auction configuration")

// Reason is a machine-readable rejection code sent back to the caller.
type Reason string

const (
	ReasonStaleAmount       Reason = "stale_amount"
	ReasonSameTeamRepeat    Reason = "same_team_repeat"
	ReasonBidLimitExceeded  Reason = "bid_limit_exceeded"
	ReasonInsufficientFunds Reason = "insufficient_funds"
	ReasonRosterFull        Reason = "roster_full"
	ReasonNotInBidding      Reason = "not_in_bidding_stage"
	ReasonTeamNotRecognized Reason = "team_not_recognized"
)

// Rejection is a business refusal. It is a value, not a failure of the system.
type Rejection struct {
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
}

func (r *Rejection) Error() string {
	if r.Message == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}

// Reject builds a Rejection with a formatted message.
func Reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// AsRejection unwraps err into a Rejection if it is one.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
