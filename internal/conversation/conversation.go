package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/suPer8Hu/qupid/internal/analysis"
)

var ErrConversationEnded = errors.New("conversation: already ended")

// Backend is everything a conversation needs from the chat API.
type Backend interface {
	SessionAPI
	StreamOpener
	Analyze(ctx context.Context, turns []analysis.Turn) (*analysis.Report, error)
	EndCoachingSession(ctx context.Context, sessionID string) (*analysis.Report, error)
}

type Options struct {
	Partner     Partner
	Instruction string
	UserID      string

	Tutorial bool
	// Steps defaults to DefaultSteps when Tutorial is set.
	Steps []Step

	StepDelay       time.Duration
	CompletionDelay time.Duration
	// MaxTurns ends the conversation after that many replies; 0 means no limit.
	MaxTurns      int
	StreamTimeout time.Duration

	Scheduler Scheduler
	Logger    *slog.Logger
	// OnMessage sees every transcript append in order. It runs with no
	// conversation lock held, so it may call any method, Submit included;
	// messages appended from inside it are delivered after it returns.
	OnMessage func(Message)
}

// Reply is the assistant message appended for one Submit. Fallback is set
// when the text was generated locally, and Cause holds the stream error.
type Reply struct {
	Message  Message
	Fallback bool
	Cause    error
}

type Conversation struct {
	backend   Backend
	opts      Options
	log       *slog.Logger
	sched     Scheduler
	initiator *Initiator
	client    *StreamingClient
	tutorial  *Tracker

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	transcript  []Message
	outbox      []Message
	dispatching bool
	submitting  bool
	timers      []Timer
	current     *Stream
	replies     int

	endOnce sync.Once
	done    chan struct{}
	report  *analysis.Report
}

func New(backend Backend, opts Options) *Conversation {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	sched := opts.Scheduler
	if sched == nil {
		sched = clockScheduler{}
	}
	steps := opts.Steps
	if opts.Tutorial && steps == nil {
		steps = DefaultSteps()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Conversation{
		backend:   backend,
		opts:      opts,
		log:       log,
		sched:     sched,
		initiator: NewInitiator(backend, opts.UserID, log),
		client:    NewStreamingClient(backend, opts.StreamTimeout, log),
		tutorial:  NewTracker(steps, opts.Tutorial),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start creates the session and, in tutorial mode, announces the first step.
func (c *Conversation) Start(ctx context.Context) Session {
	s := c.initiator.Create(ctx, c.opts.Partner, c.opts.Instruction)
	if step, ok := c.tutorial.Current(); ok && c.tutorial.Cursor() == 0 && len(c.Transcript()) == 0 {
		c.append(Message{Sender: SenderSystem, Text: fmt.Sprintf("Step %d: %s. %s", step.Step, step.Title, step.Description)})
	}
	return s
}

func (c *Conversation) Session() (Session, bool) { return c.initiator.Session() }

// Tutorial exposes the step tracker; it is inactive outside tutorial mode.
func (c *Conversation) Tutorial() *Tracker { return c.tutorial }

func (c *Conversation) Done() <-chan struct{} { return c.done }

// Analysis is the report End produced, nil before End or when it failed.
func (c *Conversation) Analysis() *analysis.Report {
	select {
	case <-c.done:
		return c.report
	default:
		return nil
	}
}

func (c *Conversation) Transcript() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.transcript...)
}

// Streaming reports whether a Submit is between its send and its reply
// landing in the transcript.
func (c *Conversation) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitting
}

// recordLocked appends m and queues it for OnMessage. c.mu must be held.
func (c *Conversation) recordLocked(m Message) {
	c.transcript = append(c.transcript, m)
	if c.opts.OnMessage != nil {
		c.outbox = append(c.outbox, m)
	}
}

func (c *Conversation) append(m Message) []Message {
	c.mu.Lock()
	c.recordLocked(m)
	snapshot := append([]Message(nil), c.transcript...)
	c.mu.Unlock()

	c.dispatch()
	return snapshot
}

// dispatch hands queued messages to OnMessage in transcript order. One
// goroutine delivers at a time; others leave their messages in the outbox.
func (c *Conversation) dispatch() {
	c.mu.Lock()
	if c.dispatching {
		c.mu.Unlock()
		return
	}
	c.dispatching = true
	for len(c.outbox) > 0 {
		m := c.outbox[0]
		c.outbox = c.outbox[1:]
		c.mu.Unlock()
		c.opts.OnMessage(m)
		c.mu.Lock()
	}
	c.dispatching = false
	c.mu.Unlock()
}

func (c *Conversation) schedule(d time.Duration, f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return
	}
	t := c.sched.AfterFunc(d, func() {
		if c.ctx.Err() != nil {
			return
		}
		f()
	})
	c.timers = append(c.timers, t)
}

// Submit sends text and blocks until the reply is in the transcript. onChunk
// sees each streamed delta. A rejected send leaves the transcript untouched,
// and a Submit made before the previous reply has landed is rejected with
// ErrStreamInFlight.
func (c *Conversation) Submit(ctx context.Context, text string, onChunk func(delta string)) (Reply, error) {
	select {
	case <-c.done:
		return Reply{}, ErrConversationEnded
	default:
	}
	if strings.TrimSpace(text) == "" {
		return Reply{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return Reply{}, ErrStreamInFlight
	}
	c.submitting = true
	c.mu.Unlock()
	landed := false
	defer func() {
		if !landed {
			c.mu.Lock()
			c.submitting = false
			c.mu.Unlock()
		}
	}()

	sess := c.initiator.Create(ctx, c.opts.Partner, c.opts.Instruction)
	stream, err := c.client.Send(ctx, sess.ID, text, sess.IsCoaching)
	if err != nil {
		return Reply{}, err
	}
	c.mu.Lock()
	c.current = stream
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.current == stream {
			c.current = nil
		}
		c.mu.Unlock()
	}()

	transcript := c.append(Message{Sender: SenderUser, Text: text})
	c.advanceTutorial(text, transcript)

	var (
		reply    Reply
		terminal bool
	)
	for ev := range stream.Events() {
		if stream.Cancelled() {
			break
		}
		switch ev.Type {
		case EventChunk:
			if onChunk != nil {
				onChunk(ev.Delta)
			}
		case EventComplete:
			reply.Message = ev.Message
			terminal = true
		case EventError:
			reply.Cause = ev.Err
			terminal = true
		}
	}
	if !terminal {
		return Reply{}, ErrCancelled
	}

	if reply.Cause != nil || strings.TrimSpace(reply.Message.Text) == "" {
		c.log.Warn("using fallback reply",
			"session_id", sess.ID,
			"coaching", sess.IsCoaching,
			"error", reply.Cause,
		)
		reply.Message = Message{Sender: SenderAI, Text: FallbackReply(text, sess.IsCoaching)}
		reply.Fallback = true
	}

	// the reply lands and the next Submit is allowed in one step
	c.mu.Lock()
	c.recordLocked(reply.Message)
	c.submitting = false
	landed = true
	c.replies++
	limit := c.opts.MaxTurns > 0 && c.replies == c.opts.MaxTurns
	c.mu.Unlock()
	c.dispatch()

	if limit {
		c.log.Info("turn limit reached", "session_id", sess.ID, "turns", c.opts.MaxTurns)
		c.schedule(c.opts.CompletionDelay, func() { c.End(c.ctx) })
	}
	return reply, nil
}

func (c *Conversation) advanceTutorial(text string, transcript []Message) {
	out := c.tutorial.Evaluate(text, transcript)
	if !out.Advanced {
		return
	}
	if out.Announcement != nil {
		ann := *out.Announcement
		c.schedule(c.opts.StepDelay, func() { c.append(ann) })
	}
	if out.Completed {
		c.schedule(c.opts.CompletionDelay, func() { c.End(c.ctx) })
	}
}

// Cancel stops the in-flight reply, if any. The pending Submit returns
// ErrCancelled and appends nothing.
func (c *Conversation) Cancel() {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s != nil {
		s.Cancel()
	}
}

// End finishes the conversation and returns its analysis. Only the first
// call does any work; later calls return the same report.
func (c *Conversation) End(ctx context.Context) *analysis.Report {
	c.endOnce.Do(func() {
		c.report = c.analyze(ctx)
		close(c.done)
	})
	<-c.done
	return c.report
}

func (c *Conversation) analyze(ctx context.Context) *analysis.Report {
	var turns []analysis.Turn
	for _, t := range toTurns(c.Transcript()) {
		if t.Sender != string(SenderSystem) {
			turns = append(turns, t)
		}
	}

	sess, ok := c.initiator.Session()
	if !ok || sess.Local {
		return analysis.Analyze(turns)
	}

	var (
		report *analysis.Report
		err    error
	)
	if sess.IsCoaching {
		report, err = c.backend.EndCoachingSession(ctx, sess.ID)
	} else {
		report, err = c.backend.Analyze(ctx, turns)
	}
	if err == nil && report == nil {
		err = errors.New("empty analysis response")
	}
	if err != nil {
		c.log.Warn("conversation analysis failed", "session_id", sess.ID, "coaching", sess.IsCoaching, "error", err)
		return nil
	}
	c.log.Info("conversation analysed", "session_id", sess.ID, "overall_score", report.OverallScore)
	return report
}

// Close cancels any reply in flight and drops pending announcements. It does
// not end the conversation.
func (c *Conversation) Close() {
	c.Cancel()
	c.mu.Lock()
	c.cancel()
	timers := c.timers
	c.timers = nil
	c.mu.Unlock()
	for _, t := range timers {
		t.Stop()
	}
}
