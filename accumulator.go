package trickle

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Accumulator is the state machine for one in-flight response. It appends
// delta content while Streaming and finalizes exactly once. Every method
// returns the Event describing the transition it made, or nil when the call
// was a no-op (in particular, any call after a terminal state).
//
// An Accumulator is not safe for concurrent use.
type Accumulator struct {
	state       StreamState
	buf         strings.Builder
	threadID    string
	sessionID   string
	hasArtifact bool
	msg         Message
	err         error

	now   func() time.Time
	newID func() string
}

// AccumulatorOption configures an [Accumulator].
type AccumulatorOption func(*Accumulator)

// WithAccumulatorClock sets the clock used to timestamp the final message.
func WithAccumulatorClock(now func() time.Time) AccumulatorOption {
	return func(a *Accumulator) { a.now = now }
}

// WithAccumulatorIDs sets the generator for the final message ID.
func WithAccumulatorIDs(newID func() string) AccumulatorOption {
	return func(a *Accumulator) { a.newID = newID }
}

// WithAccumulatorThread sets the thread and session IDs the final message
// carries when frames leave them empty. Non-empty frame values override them.
func WithAccumulatorThread(threadID, sessionID string) AccumulatorOption {
	return func(a *Accumulator) {
		a.threadID = threadID
		a.sessionID = sessionID
	}
}

// NewAccumulator creates an Accumulator in the Idle state.
func NewAccumulator(opts ...AccumulatorOption) *Accumulator {
	a := &Accumulator{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Start moves Idle to Streaming.
func (a *Accumulator) Start() Event {
	if a.state != StreamIdle {
		return nil
	}
	a.state = StreamStreaming
	return EventStarted{}
}

// Apply folds one frame into the state. A frame arriving while Idle starts
// the stream implicitly. An ErrorMessage overrides every other field.
func (a *Accumulator) Apply(f Frame) Event {
	if a.state == StreamIdle {
		a.state = StreamStreaming
	}
	if a.state != StreamStreaming {
		return nil
	}

	if f.ErrorMessage != "" {
		return a.Fail(&RemoteError{Message: f.ErrorMessage})
	}

	if f.ThreadID != "" {
		a.threadID = f.ThreadID
	}
	if f.SessionID != "" {
		a.sessionID = f.SessionID
	}
	a.hasArtifact = a.hasArtifact || f.HasArtifact

	switch f.Kind {
	case FrameDelta:
		if f.Content == "" {
			return nil
		}
		a.buf.WriteString(f.Content)
		return EventUpdated{Delta: f.Content, Text: a.buf.String()}
	case FrameCompletion:
		// The completion marker's own content is not part of the message.
		a.state = StreamCompleted
		a.msg = Message{
			ID:          a.newID(),
			Role:        RoleAssistant,
			Content:     a.buf.String(),
			ThreadID:    a.threadID,
			SessionID:   a.sessionID,
			HasArtifact: a.hasArtifact,
			Timestamp:   a.now(),
		}
		return EventCompleted{Message: a.msg}
	default:
		return nil
	}
}

// Fail moves a non-terminal state to Errored with err as the reason.
func (a *Accumulator) Fail(err error) Event {
	if a.state.Terminal() {
		return nil
	}
	a.state = StreamErrored
	a.err = err
	return EventFailed{Err: err, Text: a.buf.String()}
}

// Cancel moves a non-terminal state to Aborted. The partial text is kept
// but no Message is produced.
func (a *Accumulator) Cancel() Event {
	if a.state.Terminal() {
		return nil
	}
	a.state = StreamAborted
	return EventAborted{Text: a.buf.String()}
}

// State returns the current state.
func (a *Accumulator) State() StreamState { return a.state }

// Text returns the text accumulated so far.
func (a *Accumulator) Text() string { return a.buf.String() }

// Err returns the failure reason once Errored.
func (a *Accumulator) Err() error { return a.err }

// Message returns the finalized message once Completed.
func (a *Accumulator) Message() (Message, error) {
	if a.state != StreamCompleted {
		return Message{}, ErrNoMessage
	}
	return a.msg, nil
}
