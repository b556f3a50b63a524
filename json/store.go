package json

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fwojciec/trickle"
)

var _ trickle.ConversationStore = (*Store)(nil)

// Store is a file-backed transcript for a single thread. Every append
// rewrites the whole file atomically.
type Store struct {
	path string
	now  func() time.Time

	mu sync.Mutex
	t  Transcript
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreClock overrides the clock used for UpdatedAt.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// Open returns a Store backed by path, loading the existing transcript if the
// file exists. A missing file starts an empty transcript; it is created on the
// first append.
func Open(path string, opts ...StoreOption) (*Store, error) {
	s := &Store{path: path, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	t, err := Load(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		s.t = t
	}
	return s, nil
}

// MessageComplete appends a finished assistant message and saves.
func (s *Store) MessageComplete(_ context.Context, msg trickle.Message) error {
	return s.Append(msg)
}

// Append adds msg to the transcript and saves. The first message fixes the
// transcript's thread; messages for other threads are rejected.
func (s *Store) Append(msg trickle.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.t.ThreadID == "" {
		s.t.ThreadID = msg.ThreadID
	} else if msg.ThreadID != s.t.ThreadID {
		return fmt.Errorf("json: message for thread %q appended to transcript of thread %q", msg.ThreadID, s.t.ThreadID)
	}

	next := s.t
	next.Messages = append(append([]trickle.Message(nil), s.t.Messages...), msg)
	next.UpdatedAt = s.now()
	if err := Save(s.path, next); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	s.t = next
	return nil
}

// Transcript returns a copy of the current transcript.
func (s *Store) Transcript() Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.t
	t.Messages = append([]trickle.Message(nil), s.t.Messages...)
	return t
}

// Save writes a Transcript to a JSON file, creating parent directories as needed.
func Save(path string, t Transcript) error {
	data, err := MarshalTranscript(t)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Load reads a Transcript from a JSON file.
func Load(path string) (Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Transcript{}, fmt.Errorf("read file: %w", err)
	}
	return UnmarshalTranscript(data)
}
