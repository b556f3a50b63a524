package trickle

// Event is a sealed interface representing an observation emitted by a
// stream as it moves through its states. Terminal events (EventCompleted,
// EventFailed, EventAborted) are emitted exactly once per stream and nothing
// follows them.
// The unexported marker method prevents external implementations.
type Event interface {
	event()
}

// EventStarted signals the Idle to Streaming transition.
type EventStarted struct{}

func (EventStarted) event() {}

// EventUpdated carries the full accumulated text after a delta.
type EventUpdated struct {
	Delta string
	Text  string
}

func (EventUpdated) event() {}

// EventCompleted carries the finalized assistant message.
type EventCompleted struct {
	Message Message
}

func (EventCompleted) event() {}

// EventFailed carries the failure reason: a *TransportError or *RemoteError.
type EventFailed struct {
	Err  error
	Text string // partial text received before the failure
}

func (EventFailed) event() {}

// EventAborted signals user cancellation. It is not a failure.
type EventAborted struct {
	Text string // partial text received before cancellation
}

func (EventAborted) event() {}

// Interface compliance checks.
var (
	_ Event = EventStarted{}
	_ Event = EventUpdated{}
	_ Event = EventCompleted{}
	_ Event = EventFailed{}
	_ Event = EventAborted{}
)
