package conversation

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrEmptyMessage   = errors.New("conversation: message is empty")
	ErrNoSession      = errors.New("conversation: no session")
	ErrStreamInFlight = errors.New("conversation: a reply is already streaming")
	ErrStreamTimeout  = errors.New("conversation: reply stream timed out")
	ErrCancelled      = errors.New("conversation: reply cancelled")
)

type StreamOpener interface {
	OpenStream(ctx context.Context, sessionID, message string, isCoaching bool) (io.ReadCloser, error)
}

type EventType int

const (
	EventChunk EventType = iota
	EventComplete
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventChunk:
		return "chunk"
	case EventComplete:
		return "complete"
	case EventError:
		return "error"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Event is one step of a reply stream. Chunk events carry the new Delta and
// the accumulated Text so far.
type Event struct {
	Type    EventType
	Delta   string
	Text    string
	Message Message
	Err     error
}

// StreamingClient runs at most one reply stream at a time.
type StreamingClient struct {
	opener  StreamOpener
	timeout time.Duration
	log     *slog.Logger
	busy    atomic.Bool
}

// NewStreamingClient returns a client; timeout <= 0 disables the per-send deadline.
func NewStreamingClient(opener StreamOpener, timeout time.Duration, log *slog.Logger) *StreamingClient {
	if log == nil {
		log = slog.Default()
	}
	return &StreamingClient{opener: opener, timeout: timeout, log: log}
}

func (c *StreamingClient) Streaming() bool {
	return c.busy.Load()
}

// Stream is a single in-flight reply. Events yields chunks followed by exactly
// one Complete or Error event, then closes. A cancelled stream closes without
// a terminal event.
type Stream struct {
	events    chan Event
	stop      chan struct{}
	done      chan struct{}
	cancel    context.CancelCauseFunc
	once      sync.Once
	cancelled atomic.Bool
}

func (s *Stream) Events() <-chan Event { return s.events }

// Done is closed once the reader goroutine has exited.
func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) Cancelled() bool { return s.cancelled.Load() }

// Cancel stops the stream and waits for the reader to exit. It is safe to
// call more than once and after completion.
func (s *Stream) Cancel() {
	s.once.Do(func() {
		s.cancelled.Store(true)
		close(s.stop)
		s.cancel(ErrCancelled)
	})
	<-s.done
}

func (s *Stream) emit(ctx context.Context, ev Event) bool {
	if s.cancelled.Load() {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

// finish delivers the terminal event even if ctx has already ended.
func (s *Stream) finish(ev Event) {
	if s.cancelled.Load() {
		return
	}
	select {
	case s.events <- ev:
	case <-s.stop:
	}
}

// Send opens a reply stream for text. It rejects, never queues, a send while
// another stream from this client is still running.
func (c *StreamingClient) Send(ctx context.Context, sessionID, text string, isCoaching bool) (*Stream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if sessionID == "" {
		return nil, ErrNoSession
	}
	if !c.busy.CompareAndSwap(false, true) {
		return nil, ErrStreamInFlight
	}

	sctx, cancel := context.WithCancelCause(ctx)
	stopTimer := context.CancelFunc(func() {})
	if c.timeout > 0 {
		sctx, stopTimer = context.WithTimeoutCause(sctx, c.timeout, ErrStreamTimeout)
	}

	s := &Stream{
		events: make(chan Event, 16),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		defer close(s.done)
		defer close(s.events)
		defer cancel(nil)
		defer stopTimer()
		c.run(sctx, s, sessionID, text, isCoaching)
	}()
	return s, nil
}

func (c *StreamingClient) run(ctx context.Context, s *Stream, sessionID, text string, isCoaching bool) {
	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { c.busy.Store(false) }) }
	defer release()

	start := time.Now()
	fail := func(err error) {
		if s.cancelled.Load() {
			return
		}
		c.log.Warn("reply stream failed", "session_id", sessionID, "cost", time.Since(start).String(), "error", err)
		release()
		s.finish(Event{Type: EventError, Err: err})
	}
	// ended reports whether ctx ending explains the stop, emitting a timeout
	// error when the deadline (ours or the caller's) fired.
	ended := func() bool {
		if ctx.Err() == nil {
			return false
		}
		cause := context.Cause(ctx)
		if errors.Is(cause, ErrStreamTimeout) || errors.Is(cause, context.DeadlineExceeded) {
			fail(ErrStreamTimeout)
		}
		return true
	}

	body, err := c.opener.OpenStream(ctx, sessionID, text, isCoaching)
	if err != nil {
		if !ended() {
			fail(err)
		}
		return
	}
	defer body.Close()
	// unblock a pending read when ctx ends
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	var acc strings.Builder
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

read:
	for sc.Scan() {
		kind, payload := parseLine(sc.Text())
		switch kind {
		case lineMalformed:
			c.log.Debug("skipping malformed stream line", "session_id", sessionID, "data", payload)
		case lineError:
			fail(fmt.Errorf("conversation: server reported: %s", payload))
			return
		case lineDone:
			break read
		case lineContent:
			acc.WriteString(payload)
			if !s.emit(ctx, Event{Type: EventChunk, Delta: payload, Text: acc.String()}) {
				ended()
				return
			}
		}
	}
	if ended() {
		return
	}
	if err := sc.Err(); err != nil {
		fail(err)
		return
	}

	release()
	s.finish(Event{Type: EventComplete, Message: Message{Sender: SenderAI, Text: acc.String()}})
}
