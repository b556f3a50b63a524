package trickle

// FrameKind identifies the type of a decoded protocol frame.
type FrameKind string

const (
	FrameDelta      FrameKind = "delta"
	FrameCompletion FrameKind = "completion"
)

// Frame is one decoded `data:` line of the streaming protocol.
// ErrorMessage is empty when the server sent null.
type Frame struct {
	Kind         FrameKind
	Content      string
	ThreadID     string
	SessionID    string
	HasArtifact  bool
	ErrorMessage string
}

// frameDTO is the wire representation of a Frame.
type frameDTO struct {
	Type         string  `json:"type"`
	Content      string  `json:"content"`
	ThreadID     string  `json:"thread_id"`
	SessionID    string  `json:"session_id"`
	HasArtifact  bool    `json:"has_artifact"`
	ErrorMessage *string `json:"error_message"`
}

func (d frameDTO) frame() Frame {
	f := Frame{
		Kind:        FrameKind(d.Type),
		Content:     d.Content,
		ThreadID:    d.ThreadID,
		SessionID:   d.SessionID,
		HasArtifact: d.HasArtifact,
	}
	if d.ErrorMessage != nil {
		f.ErrorMessage = *d.ErrorMessage
	}
	return f
}
