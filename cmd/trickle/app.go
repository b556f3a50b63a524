package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/fwojciec/trickle"
	thttp "github.com/fwojciec/trickle/http"
	tjson "github.com/fwojciec/trickle/json"
	"github.com/fwojciec/trickle/terminal"
	"github.com/rs/zerolog"
)

const maxLineSize = 1 << 20

// app is the read-send-render loop behind the command.
type app struct {
	cfg       Config
	out       io.Writer
	log       zerolog.Logger
	streamer  *trickle.Streamer
	store     *transcriptStore
	render    *terminal.Renderer
	artifacts *trickle.Artifacts

	// Segments of the last completed reply, for :open.
	last []trickle.Segment
}

// newApp wires the transport, credentials and transcript store. A nil
// httpClient uses http.DefaultClient.
func newApp(cfg Config, logger zerolog.Logger, out io.Writer, httpClient *http.Client) (*app, error) {
	opts := []thttp.Option{thttp.WithBaseURL(cfg.BaseURL)}
	if httpClient != nil {
		opts = append(opts, thttp.WithHTTPClient(httpClient))
	}
	client := thttp.New(opts...)

	store := &transcriptStore{log: logger}
	if cfg.Transcript != "" {
		s, err := tjson.Open(cfg.Transcript)
		if err != nil {
			return nil, fmt.Errorf("open transcript: %w", err)
		}
		store.file = s
	}

	return &app{
		cfg:       cfg,
		out:       out,
		log:       logger,
		streamer:  trickle.NewStreamer(client, trickle.StaticToken(cfg.Token), store, trickle.WithLogger(logger)),
		store:     store,
		render:    terminal.New(trickle.DefaultTheme()),
		artifacts: trickle.NewArtifacts(),
	}, nil
}

// run reads prompts from in until EOF, :quit, ctx cancellation, or an
// interrupt at the prompt.
func (a *app) run(ctx context.Context, in io.Reader, interrupts <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		fmt.Fprint(a.out, a.render.Prompt("> "))
		select {
		case <-ctx.Done():
			return nil
		case <-interrupts:
			fmt.Fprintln(a.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(a.out)
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if a.handle(ctx, line, interrupts) {
				return nil
			}
		}
	}
}

// handle executes one input line and reports whether the loop should stop.
func (a *app) handle(ctx context.Context, line string, interrupts <-chan os.Signal) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
	case line == ":quit" || line == ":q":
		return true
	case line == ":close":
		a.artifacts.Close()
	case line == ":open" || strings.HasPrefix(line, ":open "):
		a.open(strings.TrimSpace(strings.TrimPrefix(line, ":open")))
	default:
		a.send(ctx, line, interrupts)
	}
	return false
}

func (a *app) send(ctx context.Context, text string, interrupts <-chan os.Signal) {
	req := trickle.Request{Message: text, ThreadID: a.cfg.ThreadID, SessionID: a.cfg.SessionID}

	var segs []trickle.Segment
	opts := []trickle.StartOption{
		trickle.WithSegmentsHandler(func(s []trickle.Segment) { segs = s }),
		trickle.WithEventHandler(func(evt trickle.Event) {
			if _, ok := evt.(trickle.EventStarted); ok {
				a.store.recordPrompt(req)
			}
		}),
	}
	if a.cfg.Live {
		opts = append(opts, trickle.WithUpdateHandler(liveWriter(a.out)))
	}
	sess, err := a.streamer.Start(ctx, req, opts...)
	if err != nil {
		fmt.Fprintln(a.out, a.render.Error(describe(err)))
		return
	}

	select {
	case <-sess.Done():
	case <-interrupts:
		sess.Cancel()
		<-sess.Done()
	}

	err = sess.Wait()
	streamed := a.cfg.Live && sess.Text() != ""
	if streamed {
		fmt.Fprintln(a.out)
	}

	switch sess.State() {
	case trickle.StreamCompleted:
		a.last = segs
		if a.cfg.Live {
			fmt.Fprint(a.out, a.render.Index(segs))
		} else {
			fmt.Fprintln(a.out, strings.TrimRight(a.render.Segments(segs, a.cfg.Width), "\n"))
		}
		switch {
		case err != nil:
			fmt.Fprintln(a.out, a.render.Error(err))
		case a.store.file != nil:
			fmt.Fprintln(a.out, a.render.Done("[saved]"))
		}
	case trickle.StreamAborted:
		fmt.Fprintln(a.out, a.render.Status("[cancelled]"))
	case trickle.StreamErrored:
		fmt.Fprintln(a.out, a.render.Error(describe(err)))
	}
}

func (a *app) open(arg string) {
	promotable := terminal.Promotables(a.last)
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(promotable) {
		fmt.Fprintln(a.out, a.render.Error(fmt.Errorf("no code block %q (last reply has %d)", arg, len(promotable))))
		return
	}
	art, err := a.artifacts.Show(promotable[n-1])
	if err != nil {
		fmt.Fprintln(a.out, a.render.Error(err))
		return
	}
	fmt.Fprint(a.out, a.render.Artifact(art))
}

// liveWriter prints accumulated text as it grows. The whole text is
// sanitized on every update so an escape sequence split across deltas is
// stripped once it completes; only the new sanitized suffix is written.
func liveWriter(w io.Writer) func(string) {
	var printed string
	return func(text string) {
		clean := terminal.Sanitize(text)
		n := len(printed)
		if !strings.HasPrefix(clean, printed) {
			// Text already on screen cannot be rewritten.
			n = commonPrefix(clean, printed)
		}
		if n < len(clean) {
			fmt.Fprint(w, clean[n:])
		}
		printed = clean
	}
}

func commonPrefix(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

// describe turns session errors into user-facing text.
func describe(err error) error {
	var remote *trickle.RemoteError
	var transport *trickle.TransportError
	switch {
	case errors.Is(err, trickle.ErrUnauthenticated):
		return errors.New("not signed in: set TRICKLE_TOKEN or pass -token")
	case errors.Is(err, trickle.ErrSessionBusy):
		return errors.New("a reply is still streaming on this thread")
	case errors.As(err, &remote):
		return fmt.Errorf("server: %s", remote.Message)
	case errors.As(err, &transport) && transport.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("token rejected: %w", err)
	default:
		return err
	}
}

// transcriptStore records completed replies, and the prompts that produced
// them, to an optional JSON transcript.
type transcriptStore struct {
	log  zerolog.Logger
	file *tjson.Store
}

var _ trickle.ConversationStore = (*transcriptStore)(nil)

func (s *transcriptStore) MessageComplete(ctx context.Context, msg trickle.Message) error {
	s.log.Debug().Str("message_id", msg.ID).Str("thread_id", msg.ThreadID).Msg("reply completed")
	if s.file == nil {
		return nil
	}
	return s.file.MessageComplete(ctx, msg)
}

func (s *transcriptStore) recordPrompt(req trickle.Request) {
	if s.file == nil {
		return
	}
	if err := s.file.Append(trickle.NewUserMessage(req)); err != nil {
		s.log.Error().Err(err).Msg("failed to record prompt")
	}
}
