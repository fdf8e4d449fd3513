package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition  = errors.New("transition not allowed from current status")
	ErrAlreadySubmitted   = errors.New("verification already submitted")
	ErrLinkExpired        = errors.New("verification link expired")
	ErrAlreadyTerminal    = errors.New("verification is closed")
	ErrNoEligibleReviewer = errors.New("no eligible reviewer")
	ErrFieldLocked        = errors.New("field was verified in an earlier round and cannot be changed")
)

// ValidationError reports every unmet requirement at once.
type ValidationError struct {
	Message string
	Missing []MissingItem
}

func (e *ValidationError) Error() string {
	if len(e.Missing) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%d requirement(s) missing", len(e.Missing))
}

// Details renders the missing items for display.
func (e *ValidationError) Details() []string {
	out := make([]string, 0, len(e.Missing))
	for _, item := range e.Missing {
		out = append(out, item.String())
	}
	return out
}

// AsValidation unwraps a *ValidationError from err.
func AsValidation(err error) (*ValidationError, bool) {
	var v *ValidationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
