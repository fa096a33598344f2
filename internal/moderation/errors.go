package moderation

import (
	"errors"
	"fmt"
)

// ErrInsufficientRank rejects a manual action against a target whose highest
// role position is equal to or above the actor's.
var ErrInsufficientRank = errors.New("target has an equal or higher rank")

// ActionError reports a failed platform call. No moderation state is written
// for the attempt that produced it.
type ActionError struct {
	Action string
	Cause  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("apply %s: %v", e.Action, e.Cause)
}

func (e *ActionError) Unwrap() error {
	return e.Cause
}
