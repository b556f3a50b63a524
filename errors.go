package trickle

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	// ErrValidation indicates a request failed validation.
	ErrValidation = errors.New("validation error")

	// ErrUnauthenticated indicates no credential was available when a
	// session was started. Nothing is sent to the transport.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrSessionBusy indicates a non-terminal session already exists for
	// the conversation.
	ErrSessionBusy = errors.New("session busy")

	// ErrMalformedFrame indicates a data line that could not be decoded.
	// It is recovered locally by the Decoder and never terminates a stream.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrNoMessage indicates Message() was called on a session that did not
	// complete successfully.
	ErrNoMessage = errors.New("no message: stream did not complete")

	// ErrNotPromotable indicates a segment that cannot become an Artifact.
	ErrNotPromotable = errors.New("segment is not promotable")
)

// TransportError reports a failed HTTP exchange: a non-success status, a
// connection failure or a body that ended without a completion frame.
type TransportError struct {
	StatusCode int    // 0 when no response was received
	Body       string // response body for non-success statuses, if any
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("transport: HTTP %d: %s", e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("transport: HTTP %d", e.StatusCode)
	case e.Err != nil:
		return "transport: " + e.Err.Error()
	default:
		return "transport: unknown error"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteError carries the error_message reported by the server in a frame.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// MalformedFrameError describes a data line that failed JSON decoding.
type MalformedFrameError struct {
	Line string
	Err  error
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("%s: %v", ErrMalformedFrame, e.Err)
}

// Is reports ErrMalformedFrame so callers can match with errors.Is.
func (e *MalformedFrameError) Is(target error) bool { return target == ErrMalformedFrame }

func (e *MalformedFrameError) Unwrap() error { return e.Err }
