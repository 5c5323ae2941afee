package conversation

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/suPer8Hu/qupid/internal/analysis"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// idle keep-alive connections from httptest-backed tests
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// fakeBackend serves sessions and streams from memory.
type fakeBackend struct {
	sessionErr error
	open       func(ctx context.Context, sessionID, message string, coaching bool) (io.ReadCloser, error)

	report     *analysis.Report
	analyzeErr error

	sessionCalls atomic.Int32
	openCalls    atomic.Int32
	analyzeCalls atomic.Int32
	endCalls     atomic.Int32

	mu          sync.Mutex
	lastSession string
	lastTurns   []analysis.Turn
}

func (b *fakeBackend) CreatePersonaSession(ctx context.Context, personaID, instruction string) (string, error) {
	b.sessionCalls.Add(1)
	if b.sessionErr != nil {
		return "", b.sessionErr
	}
	return "sess-" + personaID, nil
}

func (b *fakeBackend) CreateCoachSession(ctx context.Context, coachID, userID string) (string, error) {
	b.sessionCalls.Add(1)
	if b.sessionErr != nil {
		return "", b.sessionErr
	}
	return "coach-" + coachID, nil
}

func (b *fakeBackend) OpenStream(ctx context.Context, sessionID, message string, coaching bool) (io.ReadCloser, error) {
	b.openCalls.Add(1)
	b.mu.Lock()
	b.lastSession = sessionID
	b.mu.Unlock()
	if b.open == nil {
		return nil, errors.New("no stream configured")
	}
	return b.open(ctx, sessionID, message, coaching)
}

func (b *fakeBackend) Analyze(ctx context.Context, turns []analysis.Turn) (*analysis.Report, error) {
	b.analyzeCalls.Add(1)
	b.mu.Lock()
	b.lastTurns = append([]analysis.Turn(nil), turns...)
	b.mu.Unlock()
	if b.analyzeErr != nil {
		return nil, b.analyzeErr
	}
	return b.report, nil
}

func (b *fakeBackend) EndCoachingSession(ctx context.Context, sessionID string) (*analysis.Report, error) {
	b.endCalls.Add(1)
	b.mu.Lock()
	b.lastSession = sessionID
	b.mu.Unlock()
	if b.analyzeErr != nil {
		return nil, b.analyzeErr
	}
	return b.report, nil
}

func (b *fakeBackend) session() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSession
}

// replyWith returns an opener that streams body verbatim.
func replyWith(body string) func(context.Context, string, string, bool) (io.ReadCloser, error) {
	return func(context.Context, string, string, bool) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}
}

func sse(chunks ...string) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(`data: {"content":"` + c + `"}` + "\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

// pipeOpener hands out the read side of a pipe the test writes to.
type pipeOpener struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newPipeOpener() *pipeOpener {
	r, w := io.Pipe()
	return &pipeOpener{r: r, w: w}
}

func (p *pipeOpener) open(context.Context, string, string, bool) (io.ReadCloser, error) {
	return p.r, nil
}

func (p *pipeOpener) write(t *testing.T, s string) {
	t.Helper()
	if _, err := io.WriteString(p.w, s); err != nil {
		t.Fatalf("pipe write: %v", err)
	}
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

// fakeScheduler queues callbacks until the test fires them.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) pending() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fire runs every pending timer with delay d, in scheduling order.
func (s *fakeScheduler) fire(d time.Duration) int {
	n := 0
	for _, t := range s.pending() {
		if t.d != d {
			continue
		}
		s.mu.Lock()
		t.fired = true
		s.mu.Unlock()
		t.f()
		n++
	}
	return n
}

func collect(t *testing.T, s *Stream) []Event {
	t.Helper()
	var evs []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return evs
			}
			evs = append(evs, ev)
		case <-timeout:
			t.Fatal("stream did not close")
			return nil
		}
	}
}

func messagesFrom(msgs []Message, sender Sender) []Message {
	var out []Message
	for _, m := range msgs {
		if m.Sender == sender {
			out = append(out, m)
		}
	}
	return out
}
