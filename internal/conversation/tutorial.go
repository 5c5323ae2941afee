package conversation

import (
	"fmt"
	"sync"
)

// Criteria decides whether a user message completes a step. It must be pure.
type Criteria func(message string, transcript []Message) bool

type Step struct {
	Step         int
	Title        string
	Description  string
	QuickReplies []string
	Criteria     Criteria
}

// Outcome reports what one evaluation changed. Announcement is the system
// message to show (after a short delay) when the cursor moved.
type Outcome struct {
	Advanced     bool
	Completed    bool
	Cursor       int
	Announcement *Message
}

// Tracker walks a fixed table of steps: state i moves to i+1 when step i's
// criteria hold, and state len(steps) is terminal.
type Tracker struct {
	mu        sync.Mutex
	steps     []Step
	active    bool
	cursor    int
	completed bool
}

// NewTracker returns a tracker over steps; an inactive tracker never advances.
func NewTracker(steps []Step, active bool) *Tracker {
	return &Tracker{steps: steps, active: active && len(steps) > 0}
}

func (t *Tracker) Active() bool { return t.active }

func (t *Tracker) Cursor() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursor
}

func (t *Tracker) Completed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// Current returns the step awaiting completion.
func (t *Tracker) Current() (Step, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active || t.completed {
		return Step{}, false
	}
	return t.steps[t.cursor], true
}

func (t *Tracker) Steps() []Step {
	return append([]Step(nil), t.steps...)
}

// Evaluate checks message against the current step. A false criteria leaves
// the tracker untouched; there is no timeout or attempt limit.
func (t *Tracker) Evaluate(message string, transcript []Message) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active || t.completed {
		return Outcome{Cursor: t.cursor}
	}

	step := t.steps[t.cursor]
	if step.Criteria == nil || !step.Criteria(message, transcript) {
		return Outcome{Cursor: t.cursor}
	}

	t.cursor++
	if t.cursor >= len(t.steps) {
		t.completed = true
		return Outcome{
			Advanced:  true,
			Completed: true,
			Cursor:    t.cursor,
			Announcement: &Message{
				Sender: SenderSystem,
				Text:   "Tutorial complete! You've got the basics down. Let's see how you did.",
			},
		}
	}

	next := t.steps[t.cursor]
	return Outcome{
		Advanced: true,
		Cursor:   t.cursor,
		Announcement: &Message{
			Sender: SenderSystem,
			Text:   fmt.Sprintf("Step %d complete! Next up: %s", step.Step, next.Title),
		},
	}
}
