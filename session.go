package trickle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultChunkSize = 4096

var errUnexpectedEOF = errors.New("unexpected end of stream")

// Streamer starts streamed chat turns and enforces at most one active
// Session per thread.
type Streamer struct {
	transport Transport
	creds     CredentialProvider
	store     ConversationStore
	logger    zerolog.Logger
	chunkSize int
	now       func() time.Time
	newID     func() string

	mu     sync.Mutex
	active map[string]*Session
}

// Option configures a [Streamer].
type Option func(*Streamer)

// WithLogger sets the logger for stream diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Streamer) { s.logger = l }
}

// WithChunkSize sets the read buffer size used for each transport read.
func WithChunkSize(n int) Option {
	return func(s *Streamer) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithClock sets the clock used to timestamp finalized messages.
func WithClock(now func() time.Time) Option {
	return func(s *Streamer) { s.now = now }
}

// WithIDGenerator sets the generator for finalized message IDs.
func WithIDGenerator(newID func() string) Option {
	return func(s *Streamer) { s.newID = newID }
}

// NewStreamer creates a Streamer. The credential provider is consulted on
// every Start; finalized messages go to store.
func NewStreamer(transport Transport, creds CredentialProvider, store ConversationStore, opts ...Option) *Streamer {
	s := &Streamer{
		transport: transport,
		creds:     creds,
		store:     store,
		logger:    zerolog.Nop(),
		chunkSize: defaultChunkSize,
		now:       time.Now,
		newID:     uuid.NewString,
		active:    make(map[string]*Session),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// StartOption configures a single Start invocation.
type StartOption func(*startConfig)

type startConfig struct {
	onEvent    func(Event)
	onUpdate   func(string)
	onSegments func([]Segment)
}

// WithEventHandler sets a callback that receives every Event of the session.
func WithEventHandler(h func(Event)) StartOption {
	return func(c *startConfig) { c.onEvent = h }
}

// WithUpdateHandler sets a callback that receives the accumulated text after
// every delta that adds text. Empty deltas are skipped.
func WithUpdateHandler(h func(text string)) StartOption {
	return func(c *startConfig) { c.onUpdate = h }
}

// WithSegmentsHandler sets a callback that receives the segments of the
// accumulated text after every delta that adds text.
func WithSegmentsHandler(h func([]Segment)) StartOption {
	return func(c *startConfig) { c.onSegments = h }
}

// Start validates req, obtains a credential and begins streaming on a new
// goroutine. It fails with ErrUnauthenticated, without touching the
// transport, when no credential is available, and with ErrSessionBusy when
// the thread already has a session that is neither terminal nor cancelled.
//
// Callbacks run on the session goroutine, in order, and never after the
// terminal event.
func (s *Streamer) Start(ctx context.Context, req Request, opts ...StartOption) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var cfg startConfig
	for _, o := range opts {
		o(&cfg)
	}

	token, err := s.creds.Token(ctx)
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	case token == "":
		return nil, ErrUnauthenticated
	}

	s.mu.Lock()
	if prev, ok := s.active[req.ThreadID]; ok && prev.busy() {
		s.mu.Unlock()
		return nil, fmt.Errorf("thread %q: %w", req.ThreadID, ErrSessionBusy)
	}
	sess := s.newSession(ctx, req, cfg)
	s.active[req.ThreadID] = sess
	s.mu.Unlock()

	sess.log.Debug().Msg("stream started")
	go sess.run(token)
	return sess, nil
}

// Active returns the session registered for threadID, if any.
func (s *Streamer) Active(threadID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.active[threadID]
	return sess, ok
}

func (s *Streamer) release(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[sess.req.ThreadID] == sess {
		delete(s.active, sess.req.ThreadID)
	}
}

func (s *Streamer) newSession(ctx context.Context, req Request, cfg startConfig) *Session {
	ctx, cancel := context.WithCancel(ctx)
	sess := &Session{
		streamer: s,
		req:      req,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		log: s.logger.With().
			Str("thread_id", req.ThreadID).
			Str("session_id", req.SessionID).
			Logger(),
		acc: NewAccumulator(
			WithAccumulatorClock(s.now),
			WithAccumulatorIDs(s.newID),
			WithAccumulatorThread(req.ThreadID, req.SessionID),
		),
	}
	sess.dec = NewDecoder(WithMalformedHandler(func(e *MalformedFrameError) {
		sess.log.Warn().Err(e.Err).Str("line", truncate(e.Line, 200)).Msg("skipping malformed frame")
	}))
	return sess
}

// Session is one streamed request. It reaches exactly one of Completed,
// Aborted or Errored.
type Session struct {
	streamer  *Streamer
	req       Request
	cfg       startConfig
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}
	log       zerolog.Logger

	// Owned by the run goroutine.
	dec *Decoder
	seg Segmenter

	mu  sync.Mutex
	acc *Accumulator
	err error
}

// Cancel asks the session to stop. The read loop observes it before the
// next chunk or frame and ends in Aborted. Cancelling a finished session
// has no effect.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
	s.cancel()
}

// Done is closed once the session has reached its terminal state and
// released its resources.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session ends. It returns nil for Completed and
// Aborted, the *TransportError or *RemoteError for Errored, and a wrapped
// store error when the completed message could not be delivered.
func (s *Session) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Request returns the request the session was started with.
func (s *Session) Request() Request { return s.req }

// State returns the current stream state.
func (s *Session) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acc.State()
}

// Text returns the text accumulated so far.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acc.Text()
}

// Message returns the finalized assistant message, or ErrNoMessage unless
// the session completed.
func (s *Session) Message() (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acc.Message()
}

// Err returns the failure reason once Errored.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acc.Err()
}

func (s *Session) busy() bool {
	return !s.cancelled.Load() && !s.State().Terminal()
}

func (s *Session) run(token string) {
	defer close(s.done)
	defer s.streamer.release(s)
	defer s.cancel()

	s.transition(func(a *Accumulator) Event { return a.Start() })

	body, err := s.streamer.transport.Open(s.ctx, s.req, token)
	if err != nil {
		if s.ctx.Err() != nil {
			s.transition(func(a *Accumulator) Event { return a.Cancel() })
			return
		}
		s.transition(func(a *Accumulator) Event { return a.Fail(asTransportError(err)) })
		return
	}
	defer body.Close()

	buf := make([]byte, s.streamer.chunkSize)
	for {
		if s.ctx.Err() != nil {
			s.transition(func(a *Accumulator) Event { return a.Cancel() })
			return
		}
		n, err := body.Read(buf)
		if n > 0 && s.feed(s.dec.Feed(buf[:n])) {
			return
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			if s.feed(s.dec.Flush()) {
				return
			}
			if s.ctx.Err() != nil {
				s.transition(func(a *Accumulator) Event { return a.Cancel() })
				return
			}
			s.transition(func(a *Accumulator) Event { return a.Fail(&TransportError{Err: errUnexpectedEOF}) })
			return
		case s.ctx.Err() != nil:
			s.transition(func(a *Accumulator) Event { return a.Cancel() })
			return
		default:
			s.transition(func(a *Accumulator) Event { return a.Fail(&TransportError{Err: err}) })
			return
		}
	}
}

// feed applies frames in arrival order and reports whether the session
// reached a terminal state.
func (s *Session) feed(frames []Frame) bool {
	for _, f := range frames {
		if s.ctx.Err() != nil {
			s.transition(func(a *Accumulator) Event { return a.Cancel() })
			return true
		}
		if s.transition(func(a *Accumulator) Event { return a.Apply(f) }) {
			return true
		}
	}
	return false
}

// transition runs fn against the accumulator, handles the resulting event
// and reports whether the state is now terminal.
func (s *Session) transition(fn func(*Accumulator) Event) bool {
	s.mu.Lock()
	evt := fn(s.acc)
	s.mu.Unlock()

	switch e := evt.(type) {
	case nil:
	case EventUpdated:
		s.emit(e)
		if s.cfg.onUpdate != nil {
			s.cfg.onUpdate(e.Text)
		}
		if s.cfg.onSegments != nil {
			s.cfg.onSegments(s.seg.Update(e.Text))
		}
	case EventCompleted:
		s.log.Info().Str("message_id", e.Message.ID).Int("length", len(e.Message.Content)).Msg("stream completed")
		// The store must see the message even if the caller cancels now.
		if err := s.streamer.store.MessageComplete(context.WithoutCancel(s.ctx), e.Message); err != nil {
			s.log.Error().Err(err).Msg("failed to deliver completed message")
			s.setErr(fmt.Errorf("store message: %w", err))
		}
		s.emit(e)
	case EventFailed:
		s.log.Info().Err(e.Err).Msg("stream failed")
		s.setErr(e.Err)
		s.emit(e)
	case EventAborted:
		s.log.Debug().Int("length", len(e.Text)).Msg("stream aborted")
		s.emit(e)
	default:
		s.emit(e)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acc.State().Terminal()
}

func (s *Session) emit(evt Event) {
	if s.cfg.onEvent != nil {
		s.cfg.onEvent(evt)
	}
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func asTransportError(err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	return &TransportError{Err: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
