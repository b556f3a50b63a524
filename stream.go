package trickle

// StreamState indicates the lifecycle position of one streamed response.
type StreamState int

const (
	StreamIdle      StreamState = iota // Before the first frame or Start.
	StreamStreaming                    // Receiving deltas.
	StreamCompleted                    // A completion frame arrived.
	StreamAborted                      // Cancelled by the caller.
	StreamErrored                      // Transport or remote failure.
)

// Terminal reports whether no further transition is possible.
func (s StreamState) Terminal() bool {
	return s == StreamCompleted || s == StreamAborted || s == StreamErrored
}

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamStreaming:
		return "streaming"
	case StreamCompleted:
		return "completed"
	case StreamAborted:
		return "aborted"
	case StreamErrored:
		return "errored"
	default:
		return "unknown"
	}
}
