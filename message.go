package trickle

import (
	"time"

	"github.com/google/uuid"
)

// Message is one finalized conversation entry. It is never mutated after
// construction. An assistant Message only comes out of a Completed stream.
type Message struct {
	ID          string
	Role        Role
	Content     string
	ThreadID    string
	SessionID   string
	HasArtifact bool
	Timestamp   time.Time
}

// NewUserMessage builds the user-side Message for a request.
func NewUserMessage(req Request) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   req.Message,
		ThreadID:  req.ThreadID,
		SessionID: req.SessionID,
		Timestamp: time.Now(),
	}
}
