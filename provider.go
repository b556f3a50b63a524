package trickle

import (
	"context"
	"io"
)

// Transport opens the streaming response for a request. Implementations
// return a *TransportError for non-success statuses and connection failures.
// The returned body is read incrementally and closed by the caller.
type Transport interface {
	Open(ctx context.Context, req Request, token string) (io.ReadCloser, error)
}

// CredentialProvider supplies the bearer credential for a request. It
// returns an empty token or an error when the user is not signed in.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// ConversationStore receives finalized assistant messages. The stream never
// touches conversation history beyond this call.
type ConversationStore interface {
	MessageComplete(ctx context.Context, msg Message) error
}

// StaticToken is a CredentialProvider holding a fixed token.
type StaticToken string

// Token returns the token, or ErrUnauthenticated when it is empty.
func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrUnauthenticated
	}
	return string(t), nil
}

// Interface compliance check.
var _ CredentialProvider = StaticToken("")
