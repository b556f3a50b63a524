// Package json persists conversation transcripts as versioned JSON files.
package json

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fwojciec/trickle"
)

// Transcript is the ordered message history of one thread.
type Transcript struct {
	ThreadID  string
	UpdatedAt time.Time
	Messages  []trickle.Message
}

// envelope is the v1 wire format for a persisted transcript.
type envelope struct {
	Version   int          `json:"version"`
	ThreadID  string       `json:"thread_id"`
	UpdatedAt time.Time    `json:"updated_at"`
	Messages  []messageDTO `json:"messages"`
}

type messageDTO struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	ThreadID    string    `json:"thread_id"`
	SessionID   string    `json:"session_id,omitempty"`
	HasArtifact bool      `json:"has_artifact,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// MarshalTranscript serializes a Transcript to JSON in v1 envelope format.
func MarshalTranscript(t Transcript) ([]byte, error) {
	env := envelope{
		Version:   1,
		ThreadID:  t.ThreadID,
		UpdatedAt: t.UpdatedAt,
		Messages:  make([]messageDTO, len(t.Messages)),
	}
	for i, m := range t.Messages {
		env.Messages[i] = messageDTO{
			ID:          m.ID,
			Role:        string(m.Role),
			Content:     m.Content,
			ThreadID:    m.ThreadID,
			SessionID:   m.SessionID,
			HasArtifact: m.HasArtifact,
			Timestamp:   m.Timestamp,
		}
	}
	return json.MarshalIndent(env, "", "  ")
}

// UnmarshalTranscript deserializes a Transcript from JSON in v1 envelope format.
func UnmarshalTranscript(data []byte) (Transcript, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Transcript{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Version != 1 {
		return Transcript{}, fmt.Errorf("unsupported envelope version: %d", env.Version)
	}
	msgs := make([]trickle.Message, len(env.Messages))
	for i, dto := range env.Messages {
		role, err := parseRole(dto.Role)
		if err != nil {
			return Transcript{}, fmt.Errorf("message %d: %w", i, err)
		}
		msgs[i] = trickle.Message{
			ID:          dto.ID,
			Role:        role,
			Content:     dto.Content,
			ThreadID:    dto.ThreadID,
			SessionID:   dto.SessionID,
			HasArtifact: dto.HasArtifact,
			Timestamp:   dto.Timestamp,
		}
	}
	return Transcript{
		ThreadID:  env.ThreadID,
		UpdatedAt: env.UpdatedAt,
		Messages:  msgs,
	}, nil
}

func parseRole(s string) (trickle.Role, error) {
	switch trickle.Role(s) {
	case trickle.RoleUser, trickle.RoleAssistant:
		return trickle.Role(s), nil
	default:
		return "", fmt.Errorf("unknown role: %q", s)
	}
}
