package trickle

import (
	"fmt"
	"strings"
)

// Request is one outgoing chat turn.
type Request struct {
	Message   string
	ThreadID  string
	SessionID string
}

// Validate checks the constraints every transport relies on.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("message must not be empty: %w", ErrValidation)
	}
	if r.ThreadID == "" {
		return fmt.Errorf("thread id must not be empty: %w", ErrValidation)
	}
	return nil
}
