package trickle_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fwojciec/trickle"
	thttp "github.com/fwojciec/trickle/http"
	tjson "github.com/fwojciec/trickle/json"
	"github.com/fwojciec/trickle/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dataLine encodes one wire frame as a `data:` line.
func dataLine(kind, content string, errMsg *string) string {
	b, _ := json.Marshal(map[string]any{
		"type":          kind,
		"content":       content,
		"thread_id":     "1",
		"session_id":    "session_1",
		"has_artifact":  false,
		"error_message": errMsg,
	})
	return "data: " + string(b) + "\n"
}

// chunkBody returns each chunk from a separate Read call.
type chunkBody struct {
	chunks []string
	closed bool
}

func (b *chunkBody) Read(p []byte) (int, error) {
	if len(b.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, b.chunks[0])
	b.chunks[0] = b.chunks[0][n:]
	if b.chunks[0] == "" {
		b.chunks = b.chunks[1:]
	}
	return n, nil
}

func (b *chunkBody) Close() error {
	b.closed = true
	return nil
}

func chunkTransport(chunks ...string) *mock.Transport {
	return &mock.Transport{
		OpenFn: func(ctx context.Context, req trickle.Request, token string) (io.ReadCloser, error) {
			return &chunkBody{chunks: chunks}, nil
		},
	}
}

// pipeTransport hands out a body fed by the returned writer channel. Like an
// HTTP body, reads fail once the request context is cancelled.
func pipeTransport() (*mock.Transport, chan *io.PipeWriter) {
	writers := make(chan *io.PipeWriter, 1)
	tr := &mock.Transport{
		OpenFn: func(ctx context.Context, req trickle.Request, token string) (io.ReadCloser, error) {
			pr, pw := io.Pipe()
			go func() {
				<-ctx.Done()
				pw.CloseWithError(ctx.Err())
			}()
			writers <- pw
			return pr, nil
		},
	}
	return tr, writers
}

type recordingStore struct {
	mu   sync.Mutex
	msgs []trickle.Message
	err  error
}

func (s *recordingStore) MessageComplete(ctx context.Context, msg trickle.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return s.err
}

func (s *recordingStore) messages() []trickle.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]trickle.Message(nil), s.msgs...)
}

func newTestStreamer(tr trickle.Transport, store trickle.ConversationStore, opts ...trickle.Option) *trickle.Streamer {
	opts = append([]trickle.Option{
		trickle.WithClock(func() time.Time { return fixedTime }),
		trickle.WithIDGenerator(func() string { return "msg-1" }),
	}, opts...)
	return trickle.NewStreamer(tr, trickle.StaticToken("tok"), store, opts...)
}

var testRequest = trickle.Request{Message: "hi", ThreadID: "1", SessionID: "session_1"}

func TestSession_Completes(t *testing.T) {
	t.Parallel()
	store := &recordingStore{}
	s := newTestStreamer(chunkTransport(
		dataLine("delta", "Hel", nil),
		dataLine("delta", "lo", nil),
		dataLine("completion", "", nil),
	), store)

	var updates []string
	var events []trickle.Event
	sess, err := s.Start(context.Background(), testRequest,
		trickle.WithUpdateHandler(func(text string) { updates = append(updates, text) }),
		trickle.WithEventHandler(func(e trickle.Event) { events = append(events, e) }),
	)
	require.NoError(t, err)
	require.NoError(t, sess.Wait())

	assert.Equal(t, trickle.StreamCompleted, sess.State())
	assert.Equal(t, []string{"Hel", "Hello"}, updates)

	want := trickle.Message{
		ID:        "msg-1",
		Role:      trickle.RoleAssistant,
		Content:   "Hello",
		ThreadID:  "1",
		SessionID: "session_1",
		Timestamp: fixedTime,
	}
	msg, err := sess.Message()
	require.NoError(t, err)
	assert.Equal(t, want, msg)
	assert.Equal(t, []trickle.Message{want}, store.messages())

	require.Len(t, events, 4)
	assert.Equal(t, trickle.EventStarted{}, events[0])
	assert.Equal(t, trickle.EventCompleted{Message: want}, events[3])

	_, active := s.Active("1")
	assert.False(t, active)
}

func TestSession_SplitFrame(t *testing.T) {
	t.Parallel()
	line := dataLine("delta", "x", nil)
	store := &recordingStore{}
	s := newTestStreamer(chunkTransport(
		`data: {"typ`,
		line[len(`data: {"typ`):],
		dataLine("completion", "", nil),
	), store)

	var updates []string
	sess, err := s.Start(context.Background(), testRequest,
		trickle.WithUpdateHandler(func(text string) { updates = append(updates, text) }))
	require.NoError(t, err)
	require.NoError(t, sess.Wait())

	assert.Equal(t, []string{"x"}, updates)
	assert.Equal(t, "x", sess.Text())
}

func TestSession_SmallReads(t *testing.T) {
	t.Parallel()
	store := &recordingStore{}
	s := newTestStreamer(chunkTransport(
		dataLine("delta", "one ", nil)+dataLine("delta", "two", nil)+dataLine("completion", "", nil),
	), store, trickle.WithChunkSize(3))

	sess, err := s.Start(context.Background(), testRequest)
	require.NoError(t, err)
	require.NoError(t, sess.Wait())

	msgs := store.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "one two", msgs[0].Content)
}

func TestSession_FinalLineWithoutNewline(t *testing.T) {
	t.Parallel()
	store := &recordingStore{}
	last := dataLine("completion", "", nil)
	s := newTestStreamer(chunkTransport(
		dataLine("delta", "done", nil),
		last[:len(last)-1],
	), store)

	sess, err := s.Start(context.Background(), testRequest)
	require.NoError(t, err)
	require.NoError(t, sess.Wait())
	assert.Equal(t, trickle.StreamCompleted, sess.State())
}

func TestSession_MalformedFramesSkipped(t *testing.T) {
	t.Parallel()
	store := &recordingStore{}
	s := newTestStreamer(chunkTransport(
		"data: {oops\n",
		dataLine("delta", "fine", nil),
		"data: \n",
		dataLine("completion", "", nil),
	), store)

	sess, err := s.Start(context.Background(), testRequest)
	require.NoError(t, err)
	require.NoError(t, sess.Wait())
	assert.Equal(t, "fine", store.messages()[0].Content)
}

func TestSession_Unauthenticated(t *testing.T) {
	t.Parallel()

	opened := false
	tr := &mock.Transport{
		OpenFn: func(ctx context.Context, req trickle.Request, token string) (io.ReadCloser, error) {
			opened = true
			return nil, errors.New("unexpected")
		},
	}

	t.Run("empty token", func(t *testing.T) {
		s := trickle.NewStreamer(tr, trickle.StaticToken(""), &recordingStore{})
		_, err := s.Start(context.Background(), testRequest)
		assert.ErrorIs(t, err, trickle.ErrUnauthenticated)
	})

	t.Run("provider error", func(t *testing.T) {
		creds := &mock.CredentialProvider{
			TokenFn: func(ctx context.Context) (string, error) { return "", errors.New("keychain locked") },
		}
		s := trickle.NewStreamer(tr, creds, &recordingStore{})
		_, err := s.Start(context.Background(), testRequest)
		assert.ErrorIs(t, err, trickle.ErrUnauthenticated)
		assert.Contains(t, err.Error(), "keychain locked")
	})

	assert.False(t, opened)
}

func TestSession_Validation(t *testing.T) {
	t.Parallel()
	s := newTestStreamer(chunkTransport(), &recordingStore{})
	_, err := s.Start(context.Background(), trickle.Request{Message: "  ", ThreadID: "1"})
	assert.ErrorIs(t, err, trickle.ErrValidation)
}

func TestSession_TransportError(t *testing.T) {
	t.Parallel()
	store := &recordingStore{}
	tr := &mock.Transport{
		OpenFn: func(ctx context.Context, req trickle.Request, token string) (io.ReadCloser, error) {
			return nil, &trickle.TransportError{StatusCode: http.StatusInternalServerError}
		},
	}
	s := newTestStreamer(tr, store)

	sess, err := s.Start(context.Background(), testRequest)
	require.NoError(t, err)

	err = sess.Wait()
	var te *trickle.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
	assert.Equal(t, trickle.StreamErrored, sess.State())
	assert.Empty(t, store.messages())
}

func TestSession_ConnectionErrorWrapped(t *testing.T) {
	t.Parallel()
	tr := &mock.Transport{
		OpenFn: func(ctx context.Context, req trickle.Request, token string) (io.ReadCloser, error) {
			return nil, errors.New("dial tcp: refused")
		},
	}
	sess, err := newTestStreamer(tr, &recordingStore{}).Start(context.Background(), testRequest)
	require.NoError(t, err)

	var te *trickle.TransportError
	require.ErrorAs(t, sess.Wait(), &te)
	assert.Zero(t, te.StatusCode)
}

func TestSession_UnexpectedEOF(t *testing.T) {
	t.Parallel()
	store := &recordingStore{}
	s := newTestStreamer(chunkTransport(dataLine("delta", "cut", nil)), store)

	sess, err := s.Start(context.Background(), testRequest)
	require.NoError(t, err)

	var te *trickle.TransportError
	require.ErrorAs(t, sess.Wait(), &te)
	assert.Contains(t, te.Error(), "unexpected end of stream")
	assert.Equal(t, "cut", sess.Text())
	assert.Empty(t, store.messages())
}

func TestSession_RemoteError(t *testing.T) {
	t.Parallel()
	store := &recordingStore{}
	rateLimited := "rate limited"
	body := &chunkBody{chunks: []string{
		dataLine("delta", "partial", nil),
		dataLine("delta", "", &rateLimited),
		dataLine("delta", "after", nil),
		dataLine("completion", "", nil),
	}}
	tr := &mock.Transport{
		OpenFn: func(ctx context.Context, req trickle.Request, token string) (io.ReadCloser, error) {
			return body, nil
		},
	}
	s := newTestStreamer(tr, store)

	var updates []string
	sess, err := s.Start(context.Background(), testRequest,
		trickle.WithUpdateHandler(func(text string) { updates = append(updates, text) }))
	require.NoError(t, err)

	err = sess.Wait()
	assert.Equal(t, &trickle.RemoteError{Message: "rate limited"}, err)
	assert.Equal(t, trickle.StreamErrored, sess.State())
	assert.Equal(t, []string{"partial"}, updates)
	assert.Empty(t, store.messages())
	assert.True(t, body.closed)
	assert.Len(t, body.chunks, 2, "reading stops at the error frame")

	_, err = sess.Message()
	assert.ErrorIs(t, err, trickle.ErrNoMessage)
}

func TestSession_CancelMidStream(t *testing.T) {
	t.Parallel()
	store := &recordingStore{}
	tr, writers := pipeTransport()
	s := newTestStreamer(tr, store)

	updated := make(chan string, 10)
	var mu sync.Mutex
	var events []trickle.Event
	sess, err := s.Start(context.Background(), testRequest,
		trickle.WithUpdateHandler(func(text string) { updated <- text }),
		trickle.WithEventHandler(func(e trickle.Event) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		}),
	)
	require.NoError(t, err)

	pw := <-writers
	_, err = io.WriteString(pw, dataLine("delta", "one ", nil))
	require.NoError(t, err)
	assert.Equal(t, "one ", <-updated)
	_, err = io.WriteString(pw, dataLine("delta", "two", nil))
	require.NoError(t, err)
	assert.Equal(t, "one two", <-updated)

	sess.Cancel()
	require.NoError(t, sess.Wait())

	_, err = io.WriteString(pw, dataLine("delta", "ignored", nil))
	assert.Error(t, err)

	assert.Equal(t, trickle.StreamAborted, sess.State())
	assert.Equal(t, "one two", sess.Text())
	assert.Nil(t, sess.Err())
	assert.Empty(t, store.messages())
	_, err = sess.Message()
	assert.ErrorIs(t, err, trickle.ErrNoMessage)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	assert.Equal(t, trickle.EventAborted{Text: "one two"}, events[len(events)-1])
	assert.Len(t, updated, 0)
}

func TestSession_CancelFromHandlerStopsWithinChunk(t *testing.T) {
	t.Parallel()
	store := &recordingStore{}
	s := newTestStreamer(chunkTransport(
		dataLine("delta", "a", nil)+
			dataLine("delta", "b", nil)+
			dataLine("delta", "c", nil)+
			dataLine("completion", "", nil),
	), store)

	var sess *trickle.Session
	started := make(chan struct{})
	var updates []string
	var last trickle.Event
	sess, err := s.Start(context.Background(), testRequest,
		trickle.WithUpdateHandler(func(text string) {
			<-started
			updates = append(updates, text)
			if len(updates) == 2 {
				sess.Cancel()
			}
		}),
		trickle.WithEventHandler(func(e trickle.Event) { last = e }),
	)
	require.NoError(t, err)
	close(started)
	require.NoError(t, sess.Wait())

	assert.Equal(t, []string{"a", "ab"}, updates)
	assert.Equal(t, trickle.EventAborted{Text: "ab"}, last)
	assert.Empty(t, store.messages())
}

func TestSession_ParentContextCancelled(t *testing.T) {
	t.Parallel()
	tr, writers := pipeTransport()
	s := newTestStreamer(tr, &recordingStore{})

	ctx, cancel := context.WithCancel(context.Background())
	sess, err := s.Start(ctx, testRequest)
	require.NoError(t, err)
	<-writers
	cancel()

	require.NoError(t, sess.Wait())
	assert.Equal(t, trickle.StreamAborted, sess.State())
}

func TestSession_CancelBeforeOpenReturns(t *testing.T) {
	t.Parallel()
	tr := &mock.Transport{
		OpenFn: func(ctx context.Context, req trickle.Request, token string) (io.ReadCloser, error) {
			<-ctx.Done()
			return nil, fmt.Errorf("dial: %w", ctx.Err())
		},
	}
	sess, err := newTestStreamer(tr, &recordingStore{}).Start(context.Background(), testRequest)
	require.NoError(t, err)

	sess.Cancel()
	require.NoError(t, sess.Wait())
	assert.Equal(t, trickle.StreamAborted, sess.State())
}

func TestSession_Busy(t *testing.T) {
	t.Parallel()
	tr, writers := pipeTransport()
	s := newTestStreamer(tr, &recordingStore{})

	first, err := s.Start(context.Background(), testRequest)
	require.NoError(t, err)
	<-writers

	_, err = s.Start(context.Background(), testRequest)
	assert.ErrorIs(t, err, trickle.ErrSessionBusy)

	active, ok := s.Active("1")
	require.True(t, ok)
	assert.Same(t, first, active)

	// A different thread is unaffected.
	other := testRequest
	other.ThreadID = "2"
	otherSess, err := s.Start(context.Background(), other)
	require.NoError(t, err)
	<-writers

	// Cancelling frees the thread immediately.
	first.Cancel()
	second, err := s.Start(context.Background(), testRequest)
	require.NoError(t, err)
	<-writers

	require.NoError(t, first.Wait())
	active, ok = s.Active("1")
	require.True(t, ok)
	assert.Same(t, second, active, "the finished first session must not evict its successor")

	second.Cancel()
	otherSess.Cancel()
	require.NoError(t, second.Wait())
	require.NoError(t, otherSess.Wait())
	_, ok = s.Active("1")
	assert.False(t, ok)
}

func TestSession_SegmentsHandler(t *testing.T) {
	t.Parallel()
	s := newTestStreamer(chunkTransport(
		dataLine("delta", "see ```bash\nls", nil),
		dataLine("delta", " -la\n``` done", nil),
		dataLine("completion", "", nil),
	), &recordingStore{})

	var passes [][]trickle.Segment
	sess, err := s.Start(context.Background(), testRequest,
		trickle.WithSegmentsHandler(func(segs []trickle.Segment) { passes = append(passes, segs) }))
	require.NoError(t, err)
	require.NoError(t, sess.Wait())

	require.Len(t, passes, 2)
	require.Len(t, passes[0], 1)
	assert.Equal(t, trickle.SegmentText, passes[0][0].Kind)

	final := passes[1]
	require.Len(t, final, 3)
	assert.Equal(t, "see ", final[0].Content)
	assert.Equal(t, "ls -la", final[1].Content)
	assert.True(t, final[1].CopyOnly())
	assert.Equal(t, " done", final[2].Content)
}

func TestSession_StoreError(t *testing.T) {
	t.Parallel()
	store := &recordingStore{err: errors.New("disk full")}
	s := newTestStreamer(chunkTransport(
		dataLine("delta", "x", nil),
		dataLine("completion", "", nil),
	), store)

	sess, err := s.Start(context.Background(), testRequest)
	require.NoError(t, err)

	err = sess.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, trickle.StreamCompleted, sess.State())
	_, err = sess.Message()
	assert.NoError(t, err)
}

func TestSession_OverHTTP(t *testing.T) {
	t.Parallel()
	payload := dataLine("delta", "Hel", nil) + dataLine("delta", "lo", nil) + dataLine("completion", "", nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		// Write in odd-sized pieces so frames straddle network writes.
		for i := 0; i < len(payload); i += 7 {
			end := min(i+7, len(payload))
			_, _ = io.WriteString(w, payload[i:end])
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer srv.Close()

	store := &recordingStore{}
	s := newTestStreamer(thttp.New(thttp.WithBaseURL(srv.URL)), store)
	sess, err := s.Start(context.Background(), testRequest)
	require.NoError(t, err)
	require.NoError(t, sess.Wait())

	msgs := store.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello", msgs[0].Content)
}

func TestSession_OverHTTPUnauthorized(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Not authenticated"}`))
	}))
	defer srv.Close()

	s := newTestStreamer(thttp.New(thttp.WithBaseURL(srv.URL)), &recordingStore{})
	sess, err := s.Start(context.Background(), testRequest)
	require.NoError(t, err)

	var te *trickle.TransportError
	require.ErrorAs(t, sess.Wait(), &te)
	assert.Equal(t, http.StatusUnauthorized, te.StatusCode)
	assert.Equal(t, "Not authenticated", te.Body)
}

func TestSession_MessageTakesThreadFromRequest(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "thread.json")
	store, err := tjson.Open(path)
	require.NoError(t, err)

	req := trickle.Request{Message: "hi", ThreadID: "7", SessionID: "session_7"}
	require.NoError(t, store.Append(trickle.NewUserMessage(req)))

	s := newTestStreamer(chunkTransport(
		`data: {"type":"delta","content":"Hello"}`+"\n",
		`data: {"type":"completion","content":""}`+"\n",
	), store)
	sess, err := s.Start(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, sess.Wait())
	assert.Equal(t, req, sess.Request())

	msg, err := sess.Message()
	require.NoError(t, err)
	assert.Equal(t, "7", msg.ThreadID)
	assert.Equal(t, "session_7", msg.SessionID)

	msgs := store.Transcript().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, trickle.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "7", msgs[1].ThreadID)
}

func TestSession_FrameIDsOverrideRequest(t *testing.T) {
	t.Parallel()
	store := &recordingStore{}
	s := newTestStreamer(chunkTransport(
		`data: {"type":"delta","content":"a","thread_id":"9","session_id":""}`+"\n",
		`data: {"type":"completion","content":"","thread_id":"","session_id":"session_server"}`+"\n",
	), store)

	req := trickle.Request{Message: "hi", ThreadID: "7", SessionID: "session_7"}
	sess, err := s.Start(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, sess.Wait())

	msg, err := sess.Message()
	require.NoError(t, err)
	assert.Equal(t, "9", msg.ThreadID)
	assert.Equal(t, "session_server", msg.SessionID)
	assert.Equal(t, []trickle.Message{msg}, store.messages())
}
