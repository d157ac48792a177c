package story

import (
	"errors"
	"fmt"

	"github.com/ent0n29/storyquest/internal/safety"
)

var (
	// ErrNotFound reports an unknown session ID.
	ErrNotFound = errors.New("story session not found")
	// ErrInvalidState reports a session that cannot accept another turn.
	ErrInvalidState = errors.New("story session cannot continue")
)

// ValidationError rejects a request before any generation happens.
type ValidationError struct {
	Field     string
	Reason    string
	Violation *safety.Violation
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
