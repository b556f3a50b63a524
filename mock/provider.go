// Package mock provides test doubles for trickle interfaces using function fields.
package mock

import (
	"context"
	"io"

	"github.com/fwojciec/trickle"
)

// Interface compliance checks.
var (
	_ trickle.Transport          = (*Transport)(nil)
	_ trickle.CredentialProvider = (*CredentialProvider)(nil)
	_ trickle.ConversationStore  = (*ConversationStore)(nil)
)

// Transport is a test double for trickle.Transport.
// Set OpenFn before calling Open.
type Transport struct {
	OpenFn func(ctx context.Context, req trickle.Request, token string) (io.ReadCloser, error)
}

// Open delegates to OpenFn.
func (t *Transport) Open(ctx context.Context, req trickle.Request, token string) (io.ReadCloser, error) {
	return t.OpenFn(ctx, req, token)
}

// CredentialProvider is a test double for trickle.CredentialProvider.
// Set TokenFn before calling Token.
type CredentialProvider struct {
	TokenFn func(ctx context.Context) (string, error)
}

// Token delegates to TokenFn.
func (c *CredentialProvider) Token(ctx context.Context) (string, error) {
	return c.TokenFn(ctx)
}

// ConversationStore is a test double for trickle.ConversationStore.
// Set MessageCompleteFn before calling MessageComplete.
type ConversationStore struct {
	MessageCompleteFn func(ctx context.Context, msg trickle.Message) error
}

// MessageComplete delegates to MessageCompleteFn.
func (s *ConversationStore) MessageComplete(ctx context.Context, msg trickle.Message) error {
	return s.MessageCompleteFn(ctx, msg)
}
